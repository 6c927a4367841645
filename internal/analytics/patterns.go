package analytics

import (
	"fmt"
	"math"

	"trade-journal-go/internal/models"
)

// PatternType tags a detected behavioral pattern.
type PatternType string

const (
	PatternWinningStreak  PatternType = "winning_streak"
	PatternLosingStreak   PatternType = "losing_streak"
	PatternConsistent     PatternType = "consistent"
	PatternVolatile       PatternType = "volatile"
	PatternTrendFollowing PatternType = "trend_following"
)

// Impact is the polarity of a pattern's effect on performance.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

// Pattern is one tagged observation with a confidence in [0,1].
type Pattern struct {
	Type        PatternType `json:"type"`
	Confidence  float64     `json:"confidence"`
	Description string      `json:"description"`
	Impact      Impact      `json:"impact"`
}

// DetectPatterns tags streak, consistency and trend observations. The
// thresholds are fixed contract constants. Fewer than five trades yields a
// single neutral marker.
func DetectPatterns(trades []models.Trade) []Pattern {
	if len(trades) < minPatternTrades {
		return []Pattern{{
			Type:        PatternConsistent,
			Confidence:  0.5,
			Description: "Insufficient data for pattern analysis",
			Impact:      ImpactNeutral,
		}}
	}

	var patterns []Pattern

	streaks := ComputeStreaks(Outcomes(trades))
	if streaks.LongestWinStreak >= winStreakThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternWinningStreak,
			Confidence:  math.Min(0.9, float64(streaks.LongestWinStreak)/10),
			Description: fmt.Sprintf("Strong winning streak of %d trades", streaks.LongestWinStreak),
			Impact:      ImpactPositive,
		})
	}
	if streaks.LongestLossStreak >= lossStreakThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternLosingStreak,
			Confidence:  math.Min(0.8, float64(streaks.LongestLossStreak)/5),
			Description: fmt.Sprintf("Concerning losing streak of %d trades", streaks.LongestLossStreak),
			Impact:      ImpactNegative,
		})
	}

	consistency := ComputeConsistency(trades)
	if consistency > consistentThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternConsistent,
			Confidence:  consistency,
			Description: "Highly consistent trading performance",
			Impact:      ImpactPositive,
		})
	} else if consistency < volatileThreshold {
		patterns = append(patterns, Pattern{
			Type:        PatternVolatile,
			Confidence:  1 - consistency,
			Description: "High volatility in trading results",
			Impact:      ImpactNegative,
		})
	}

	if ok, confidence := trendFollowing(trades); ok {
		patterns = append(patterns, Pattern{
			Type:        PatternTrendFollowing,
			Confidence:  confidence,
			Description: "Successfully following market trends",
			Impact:      ImpactPositive,
		})
	}

	return patterns
}

// trendFollowing is a crude alignment heuristic: at least 60% of profitable
// trades are assumed trend-aligned, with confidence capped at 0.9. Fewer than
// three profitable trades is not enough signal.
func trendFollowing(trades []models.Trade) (bool, float64) {
	profitable := 0
	for _, t := range trades {
		if t.PnL > 0 {
			profitable++
		}
	}
	if profitable < 3 {
		return false, 0.3
	}
	confidence := math.Min(0.9, 0.6)
	return confidence >= 0.6, confidence
}
