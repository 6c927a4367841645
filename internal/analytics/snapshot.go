package analytics

import (
	"trade-journal-go/internal/journal"
	"trade-journal-go/internal/models"
)

// Summary holds the aggregate metrics of a trade set.
type Summary struct {
	TotalTrades       int     `json:"totalTrades"`
	WinRate           float64 `json:"winRate"`
	TotalPnL          float64 `json:"totalPnL"`
	AvgTrade          float64 `json:"avgTrade"`
	AvgWin            float64 `json:"avgWin"`
	AvgLoss           float64 `json:"avgLoss"` // absolute value
	Expectancy        float64 `json:"expectancy"`
	ProfitFactor      float64 `json:"profitFactor"`
	MaxDrawdown       float64 `json:"maxDrawdown"`
	LongestWinStreak  int     `json:"longestWinStreak"`
	LongestLossStreak int     `json:"longestLossStreak"`
	Consistency       float64 `json:"consistency"`
}

// Snapshot is the full derived view over one trade sequence. It is always a
// pure function of the trades it was computed from: recomputed on demand,
// never independently mutated or persisted.
type Snapshot struct {
	Summary    Summary             `json:"summary"`
	Patterns   []Pattern           `json:"patterns"`
	Risk       RiskProfile         `json:"riskProfile"`
	Predictive PredictiveMetrics   `json:"predictiveMetrics"`
	Themes     journal.ThemeReport `json:"themes"`
}

// ComputeSnapshot assembles the snapshot for a chronologically ordered trade
// sequence using the given theme extractor.
func ComputeSnapshot(trades []models.Trade, extractor *journal.Extractor) Snapshot {
	if extractor == nil {
		extractor = journal.NewExtractor(nil)
	}
	return Snapshot{
		Summary:    ComputeSummary(trades),
		Patterns:   DetectPatterns(trades),
		Risk:       ComputeRiskProfile(trades),
		Predictive: ComputePredictiveMetrics(trades),
		Themes:     extractor.Extract(trades),
	}
}

// ComputeSummary aggregates the basic performance metrics.
func ComputeSummary(trades []models.Trade) Summary {
	s := Summary{TotalTrades: len(trades)}
	if len(trades) == 0 {
		return s
	}

	wins, losses := 0, 0
	winSum, lossSum := 0.0, 0.0
	for _, t := range trades {
		s.TotalPnL += t.PnL
		switch t.Outcome {
		case models.OutcomeWin:
			wins++
			winSum += t.PnL
		case models.OutcomeLoss:
			losses++
			lossSum += -t.PnL
		}
	}

	s.WinRate = float64(wins) / float64(len(trades))
	s.AvgTrade = s.TotalPnL / float64(len(trades))
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}
	s.Expectancy = s.WinRate*s.AvgWin - (1-s.WinRate)*s.AvgLoss
	s.ProfitFactor = ProfitFactor(trades)
	s.MaxDrawdown = MaxDrawdown(trades)

	streaks := ComputeStreaks(Outcomes(trades))
	s.LongestWinStreak = streaks.LongestWinStreak
	s.LongestLossStreak = streaks.LongestLossStreak
	s.Consistency = ComputeConsistency(trades)

	return s
}
