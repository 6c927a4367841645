package analytics

import (
	"math"

	"trade-journal-go/internal/models"
)

// RiskTolerance classifies a risk score band.
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// RiskProfile is the scored risk assessment with banded recommendations.
type RiskProfile struct {
	Tolerance       RiskTolerance `json:"riskTolerance"`
	Score           float64       `json:"riskScore"`
	Recommendations []string      `json:"recommendations"`
}

// ComputeRiskProfile scores risk 0-100 from loss rate, average loss size,
// drawdown and inconsistency. Higher is riskier. The score is monotonically
// non-decreasing in each factor with the others held fixed.
func ComputeRiskProfile(trades []models.Trade) RiskProfile {
	winRate := WinRate(trades)

	lossSum, lossCount := 0.0, 0
	for _, t := range trades {
		if t.PnL < 0 {
			lossSum += -t.PnL
			lossCount++
		}
	}
	avgLoss := 0.0
	if lossCount > 0 {
		avgLoss = lossSum / float64(lossCount)
	}

	drawdown := MaxDrawdown(trades)
	consistency := ComputeConsistency(trades)

	avgLossBucket := 10.0
	switch {
	case avgLoss > 100:
		avgLossBucket = 30
	case avgLoss > 50:
		avgLossBucket = 20
	}

	drawdownBucket := 0.0
	switch {
	case drawdown > 20:
		drawdownBucket = 20
	case drawdown > 10:
		drawdownBucket = 10
	}

	score := (1-winRate)*40 + avgLossBucket + drawdownBucket + (1-consistency)*20
	score = math.Min(100, math.Max(0, score))

	var tolerance RiskTolerance
	switch {
	case score < 30:
		tolerance = RiskConservative
	case score < 60:
		tolerance = RiskModerate
	default:
		tolerance = RiskAggressive
	}

	var recommendations []string
	switch {
	case score > 60:
		recommendations = []string{
			"Reduce position sizes to lower risk exposure",
			"Implement stricter stop loss rules",
			"Focus on high-probability setups only",
		}
	case score > 30:
		recommendations = []string{
			"Consider position size adjustments",
			"Review risk management rules",
		}
	default:
		recommendations = []string{
			"Your risk management is solid",
			"Consider gradual position size increases",
		}
	}

	return RiskProfile{Tolerance: tolerance, Score: score, Recommendations: recommendations}
}
