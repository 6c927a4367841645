// Package journal extracts behavioral themes from free-text journal notes and
// cross-tabulates strategy/emotion tags against outcomes. The keyword scanner
// is a heuristic text classifier, not language understanding; it sits behind
// the Classifier interface so a statistical model can replace it without
// touching callers.
package journal

import (
	"regexp"
	"sort"
	"strings"

	"trade-journal-go/internal/models"
)

// Classifier maps one free-text note to the theme families it touches.
type Classifier interface {
	Classify(text string) []string
}

// keywordClassifier matches fixed keyword-family regular expressions.
type keywordClassifier struct {
	families []family
}

type family struct {
	name    string
	pattern *regexp.Regexp
}

// NewKeywordClassifier builds the default keyword-family classifier.
func NewKeywordClassifier() Classifier {
	return &keywordClassifier{families: []family{
		{"discipline", regexp.MustCompile(`(?i)disciplin|follow|plan|rules|process`)},
		{"impatience", regexp.MustCompile(`(?i)impatien|early|premature|rush|too soon`)},
		{"fear", regexp.MustCompile(`(?i)fear|scared|afraid|nervous|hesitat`)},
		{"greed", regexp.MustCompile(`(?i)greed|more profit|hold longer|let run`)},
		{"revenge", regexp.MustCompile(`(?i)revenge|get back|make up|recover`)},
		{"overconfidence", regexp.MustCompile(`(?i)overconfiden|too sure|complacent`)},
		{"learning", regexp.MustCompile(`(?i)learn|improve|better|mistake|next time`)},
		{"execution", regexp.MustCompile(`(?i)execut|entry|exit|timing|perfect`)},
	}}
}

func (c *keywordClassifier) Classify(text string) []string {
	var matched []string
	for _, f := range c.families {
		if f.pattern.MatchString(text) {
			matched = append(matched, f.name)
		}
	}
	return matched
}

// ThemeCount is one theme family with its relative frequency across notes.
type ThemeCount struct {
	Theme   string  `json:"theme"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// TagStats is the effectiveness table row for one strategy or emotion tag.
type TagStats struct {
	Total         int     `json:"total"`
	Wins          int     `json:"wins"`
	PnL           float64 `json:"pnl"`
	WinRate       float64 `json:"winRate"` // percent
	AvgPnL        float64 `json:"avgPnL"`
	Effectiveness string  `json:"effectiveness"` // High, Medium, Low
}

// ThemeReport is the full qualitative analysis of a trade set.
type ThemeReport struct {
	TopThemes             []ThemeCount        `json:"topThemes"`
	StrategyEffectiveness map[string]TagStats `json:"strategyEffectiveness"`
	EmotionImpact         map[string]TagStats `json:"emotionImpact"`
	Tendencies            []string            `json:"tendencies"`
}

// Extractor runs the theme scan and cross-tabulations.
type Extractor struct {
	classifier Classifier
}

// NewExtractor builds an extractor; a nil classifier gets the keyword default.
func NewExtractor(c Classifier) *Extractor {
	if c == nil {
		c = NewKeywordClassifier()
	}
	return &Extractor{classifier: c}
}

// Extract computes the theme report for a trade set.
func (e *Extractor) Extract(trades []models.Trade) ThemeReport {
	return ThemeReport{
		TopThemes:             e.topThemes(trades),
		StrategyEffectiveness: strategyEffectiveness(trades),
		EmotionImpact:         emotionImpact(trades),
		Tendencies:            tendencies(trades),
	}
}

func (e *Extractor) topThemes(trades []models.Trade) []ThemeCount {
	var notes []string
	for _, t := range trades {
		if t.JournalNotes != "" {
			notes = append(notes, t.JournalNotes)
		}
	}
	if len(notes) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, note := range notes {
		for _, theme := range e.classifier.Classify(note) {
			counts[theme]++
		}
	}

	themes := make([]ThemeCount, 0, len(counts))
	for theme, count := range counts {
		themes = append(themes, ThemeCount{
			Theme:   theme,
			Count:   count,
			Percent: float64(count) / float64(len(notes)) * 100,
		})
	}
	sort.Slice(themes, func(i, j int) bool {
		if themes[i].Count != themes[j].Count {
			return themes[i].Count > themes[j].Count
		}
		return themes[i].Theme < themes[j].Theme
	})
	if len(themes) > 3 {
		themes = themes[:3]
	}
	return themes
}

// strategyTag is the declared strategy for a trade: the stated reason first,
// falling back to the strategy field.
func strategyTag(t models.Trade) string {
	tag := t.ReasonForTrade
	if tag == "" {
		tag = t.Strategy
	}
	return strings.ToLower(strings.TrimSpace(tag))
}

func strategyEffectiveness(trades []models.Trade) map[string]TagStats {
	stats := make(map[string]TagStats)
	for _, t := range trades {
		tag := strategyTag(t)
		if tag == "" {
			tag = "no strategy"
		}
		s := stats[tag]
		s.Total++
		s.PnL += t.PnL
		if t.Outcome == models.OutcomeWin {
			s.Wins++
		}
		stats[tag] = s
	}
	finalize(stats)
	return stats
}

func emotionImpact(trades []models.Trade) map[string]TagStats {
	stats := make(map[string]TagStats)
	for _, t := range trades {
		tag := strings.ToLower(strings.TrimSpace(t.Emotion))
		if tag == "" {
			tag = "neutral"
		}
		s := stats[tag]
		s.Total++
		s.PnL += t.PnL
		if t.Outcome == models.OutcomeWin {
			s.Wins++
		}
		stats[tag] = s
	}
	finalize(stats)
	return stats
}

func finalize(stats map[string]TagStats) {
	for tag, s := range stats {
		s.WinRate = float64(s.Wins) / float64(s.Total) * 100
		s.AvgPnL = s.PnL / float64(s.Total)
		switch {
		case s.WinRate > 50 && s.AvgPnL > 0:
			s.Effectiveness = "High"
		case s.WinRate > 40 && s.AvgPnL > 0:
			s.Effectiveness = "Medium"
		default:
			s.Effectiveness = "Low"
		}
		stats[tag] = s
	}
}

// tendencies flags threshold heuristics over the trade set.
func tendencies(trades []models.Trade) []string {
	var flags []string

	if longestLossStreak(trades) > 2 {
		flags = append(flags, "Revenge trading after losses")
	}

	emotional := 0
	for _, t := range trades {
		if strings.TrimSpace(t.Emotion) != "" {
			emotional++
		}
	}
	if len(trades) > 0 && float64(emotional) > float64(len(trades))*0.3 {
		flags = append(flags, "Emotion-driven position sizing")
	}

	tagged := 0
	distinct := make(map[string]struct{})
	for _, t := range trades {
		if tag := strategyTag(t); tag != "" {
			tagged++
			distinct[tag] = struct{}{}
		}
	}
	if tagged > 0 && float64(len(distinct)) > float64(tagged)*0.5 {
		flags = append(flags, "Frequent strategy switching")
	}

	journaled := 0
	for _, t := range trades {
		if strings.TrimSpace(t.JournalNotes) != "" {
			journaled++
		}
	}
	if len(trades) > 0 && float64(journaled) < float64(len(trades))*0.5 {
		flags = append(flags, "Inconsistent journaling")
	}

	return flags
}

func longestLossStreak(trades []models.Trade) int {
	longest, current := 0, 0
	for _, t := range trades {
		if t.Outcome == models.OutcomeLoss {
			current++
			if current > longest {
				longest = current
			}
		} else if t.Outcome == models.OutcomeWin {
			current = 0
		}
	}
	return longest
}
