// Package analytics derives performance and behavioral metrics from an
// ordered trade sequence. Every function is pure: same input, same output,
// no stored state. Callers must supply trades in chronological order; the
// engine never re-sorts, and drawdown on unsorted input is meaningless.
package analytics

import (
	"math"

	"trade-journal-go/internal/models"
)

// Contract constants for pattern detection and fallbacks. These are fixed,
// not runtime-configurable.
const (
	winStreakThreshold  = 5
	lossStreakThreshold = 3
	consistentThreshold = 0.7
	volatileThreshold   = 0.4

	// Profit factor fallbacks when there are no losing trades, so downstream
	// math never sees NaN or Inf.
	profitFactorNoLossGain = 3.0
	profitFactorNoTrades   = 0.5

	recentWindow     = 20
	recentWeight     = 0.7
	confidenceDenom  = 50.0
	confidenceCeil   = 0.9
	minPatternTrades = 5
)

// Streaks holds the longest runs of consecutive same-outcome trades.
type Streaks struct {
	LongestWinStreak  int `json:"longestWinStreak"`
	LongestLossStreak int `json:"longestLossStreak"`
}

// ComputeStreaks scans the outcome sequence once; a breakeven resets neither
// counter, a win resets the loss counter and vice versa.
func ComputeStreaks(outcomes []models.Outcome) Streaks {
	var s Streaks
	currentWin, currentLoss := 0, 0
	for _, outcome := range outcomes {
		switch outcome {
		case models.OutcomeWin:
			currentWin++
			currentLoss = 0
			if currentWin > s.LongestWinStreak {
				s.LongestWinStreak = currentWin
			}
		case models.OutcomeLoss:
			currentLoss++
			currentWin = 0
			if currentLoss > s.LongestLossStreak {
				s.LongestLossStreak = currentLoss
			}
		}
	}
	return s
}

// Outcomes extracts the outcome sequence from a trade slice.
func Outcomes(trades []models.Trade) []models.Outcome {
	out := make([]models.Outcome, len(trades))
	for i, t := range trades {
		out[i] = t.Outcome
	}
	return out
}

// WinRate is the fraction of trades with a Win outcome, in [0,1].
func WinRate(trades []models.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.Outcome == models.OutcomeWin {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ComputeConsistency blends win rate (0.6) with inverse P&L volatility (0.4).
// Fewer than five trades yields the neutral 0.5. A zero mean substitutes 1 in
// the volatility normalizer to avoid dividing by zero.
func ComputeConsistency(trades []models.Trade) float64 {
	if len(trades) < minPatternTrades {
		return 0.5
	}

	winRate := WinRate(trades)

	mean := 0.0
	for _, t := range trades {
		mean += t.PnL
	}
	mean /= float64(len(trades))

	variance := 0.0
	for _, t := range trades {
		d := t.PnL - mean
		variance += d * d
	}
	variance /= float64(len(trades))
	stdDev := math.Sqrt(variance)

	denom := math.Abs(mean)
	if denom == 0 {
		denom = 1
	}
	volScore := math.Max(0, 1-stdDev/denom)

	return winRate*0.6 + volScore*0.4
}

// MaxDrawdown is the largest observed gap between the running peak of
// cumulative P&L and the running total, i.e. peak-to-trough drawdown.
func MaxDrawdown(trades []models.Trade) float64 {
	peak, maxDD, running := 0.0, 0.0, 0.0
	for _, t := range trades {
		running += t.PnL
		if running > peak {
			peak = running
		}
		if dd := peak - running; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ProfitFactor is summed winning P&L over absolute summed losing P&L. With no
// losing trades it returns a fixed fallback instead of Inf.
func ProfitFactor(trades []models.Trade) float64 {
	gains, losses := 0.0, 0.0
	for _, t := range trades {
		if t.PnL > 0 {
			gains += t.PnL
		} else if t.PnL < 0 {
			losses += -t.PnL
		}
	}
	if losses > 0 {
		return gains / losses
	}
	if gains > 0 {
		return profitFactorNoLossGain
	}
	return profitFactorNoTrades
}

// PredictiveMetrics is a deliberately simple blended heuristic, not a trained
// model: recent window weighted against full history, confidence growing with
// sample size and capped below certainty.
type PredictiveMetrics struct {
	ExpectedWinRate      float64 `json:"expectedWinRate"`
	ExpectedProfitFactor float64 `json:"expectedProfitFactor"`
	Confidence           float64 `json:"confidence"`
}

// ComputePredictiveMetrics blends the last 20 trades (weight 0.7) with the
// full history (weight 0.3). Fewer than ten trades returns neutral defaults.
func ComputePredictiveMetrics(trades []models.Trade) PredictiveMetrics {
	if len(trades) < 10 {
		return PredictiveMetrics{ExpectedWinRate: 0.5, ExpectedProfitFactor: 1.0, Confidence: 0.3}
	}

	recent := trades
	if len(trades) > recentWindow {
		recent = trades[len(trades)-recentWindow:]
	}

	recentWinRate := WinRate(recent)
	overallWinRate := WinRate(trades)

	recentGains, recentLosses := 0.0, 0.0
	for _, t := range recent {
		if t.PnL > 0 {
			recentGains += t.PnL
		} else if t.PnL < 0 {
			recentLosses += -t.PnL
		}
	}
	recentPF := profitFactorNoTrades
	if recentLosses > 0 {
		recentPF = recentGains / recentLosses
	} else if recentGains > 0 {
		recentPF = 2.0
	}

	overallPF := ProfitFactor(trades)

	return PredictiveMetrics{
		ExpectedWinRate:      recentWinRate*recentWeight + overallWinRate*(1-recentWeight),
		ExpectedProfitFactor: recentPF*recentWeight + overallPF*(1-recentWeight),
		Confidence:           math.Min(confidenceCeil, float64(len(trades))/confidenceDenom),
	}
}
