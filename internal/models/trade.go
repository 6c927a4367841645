package models

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "Buy"
	DirectionSell Direction = "Sell"
	// DirectionUnknown is the empty value used when the source record does
	// not carry a recognizable side.
	DirectionUnknown Direction = ""
)

// Outcome is the result of a closed trade. It is always derived from the sign
// of the P&L, never trusted from the source record.
type Outcome string

const (
	OutcomeWin       Outcome = "Win"
	OutcomeLoss      Outcome = "Loss"
	OutcomeBreakeven Outcome = "Breakeven"
)

// OutcomeFromPnL maps a P&L value to its outcome.
func OutcomeFromPnL(pnl float64) Outcome {
	switch {
	case pnl > 0:
		return OutcomeWin
	case pnl < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

// Trade is the canonical, broker-agnostic representation of a single trade.
// Timestamps are ISO-8601 UTC strings; the empty string is the explicit
// "unknown" sentinel. Numeric fields are always finite (coerced to 0 when the
// source value cannot be parsed).
type Trade struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Direction       Direction `json:"direction"`
	OrderType       string    `json:"orderType"`
	OpenTime        string    `json:"openTime"`
	CloseTime       string    `json:"closeTime"`
	LotSize         float64   `json:"lotSize"`
	EntryPrice      float64   `json:"entryPrice"`
	ExitPrice       float64   `json:"exitPrice"`
	StopLossPrice   float64   `json:"stopLossPrice"`
	TakeProfitPrice float64   `json:"takeProfitPrice"`
	PnL             float64   `json:"pnl"`
	Outcome         Outcome   `json:"outcome"`
	ResultRR        float64   `json:"resultRR"`
	Duration        string    `json:"duration"`
	ReasonForTrade  string    `json:"reasonForTrade"`
	Strategy        string    `json:"strategy"`
	Emotion         string    `json:"emotion"`
	JournalNotes    string    `json:"journalNotes"`
	Reviewed        bool      `json:"reviewed"`

	// Provenance and accounting pass-through fields.
	Source     string  `json:"source,omitempty"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
}
