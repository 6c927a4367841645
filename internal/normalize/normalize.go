// Package normalize turns arbitrary-shaped, untrusted trade records into the
// canonical Trade model. Decoding never fails hard: every malformed field is
// absorbed into a safe default so one bad record can never abort a batch.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"trade-journal-go/internal/models"
)

// Field identifies a logical field of the canonical Trade. The decoded
// presence set is keyed by Field and drives the right-biased merge.
type Field string

const (
	FieldID              Field = "id"
	FieldSymbol          Field = "symbol"
	FieldDirection       Field = "direction"
	FieldOrderType       Field = "orderType"
	FieldOpenTime        Field = "openTime"
	FieldCloseTime       Field = "closeTime"
	FieldLotSize         Field = "lotSize"
	FieldEntryPrice      Field = "entryPrice"
	FieldExitPrice       Field = "exitPrice"
	FieldStopLossPrice   Field = "stopLossPrice"
	FieldTakeProfitPrice Field = "takeProfitPrice"
	FieldPnL             Field = "pnl"
	FieldResultRR        Field = "resultRR"
	FieldDuration        Field = "duration"
	FieldReasonForTrade  Field = "reasonForTrade"
	FieldStrategy        Field = "strategy"
	FieldEmotion         Field = "emotion"
	FieldJournalNotes    Field = "journalNotes"
	FieldReviewed        Field = "reviewed"
	FieldSource          Field = "source"
	FieldCommission      Field = "commission"
	FieldSwap            Field = "swap"
)

// aliases maps each logical field to the source keys brokers and importers
// have been seen using, in priority order.
var aliases = map[Field][]string{
	FieldID:              {"id", "deal_id", "dealId", "ticket"},
	FieldSymbol:          {"symbol"},
	FieldDirection:       {"direction", "type", "side"},
	FieldOrderType:       {"orderType", "order_type", "ordertype"},
	FieldOpenTime:        {"openTime", "open_time", "opentime", "entry_time", "time_open", "time"},
	FieldCloseTime:       {"closeTime", "close_time", "closetime", "exit_time", "time_close"},
	FieldLotSize:         {"lotSize", "lot_size", "lotsize", "volume", "lots", "size", "quantity"},
	FieldEntryPrice:      {"entryPrice", "entry_price", "entryprice", "price_open", "open_price"},
	FieldExitPrice:       {"exitPrice", "exit_price", "exitprice", "price_close", "close_price", "price"},
	FieldStopLossPrice:   {"stopLossPrice", "stop_loss_price", "stoplossprice", "sl"},
	FieldTakeProfitPrice: {"takeProfitPrice", "take_profit_price", "takeprofitprice", "tp"},
	FieldPnL:             {"pnl", "profit", "profitLoss", "profit_loss", "profitloss", "netProfit", "net_profit"},
	FieldResultRR:        {"resultRR", "result_rr", "resultrr", "rr"},
	FieldDuration:        {"duration"},
	FieldReasonForTrade:  {"reasonForTrade", "reason_for_trade", "reasonfortrade"},
	FieldStrategy:        {"strategy"},
	FieldEmotion:         {"emotion", "emotion_label"},
	FieldJournalNotes:    {"journalNotes", "journal_notes", "journalnotes", "notes", "comment", "client_comment"},
	FieldReviewed:        {"reviewed"},
	FieldSource:          {"source"},
	FieldCommission:      {"commission"},
	FieldSwap:            {"swap"},
}

// Record is the decode-then-narrow result: the canonical trade plus the set
// of logical fields the source record actually carried. Fields absent from
// the source are preserved from the existing trade during a merge.
type Record struct {
	Trade   models.Trade
	Present map[Field]bool
}

// Has reports whether the source record carried the given field.
func (r *Record) Has(f Field) bool { return r.Present[f] }

// Decode narrows an arbitrary value into a Record. The only error it can
// return is "not an object"; individual field failures degrade to defaults.
func Decode(raw any) (*Record, error) {
	m, err := asObject(raw)
	if err != nil {
		return nil, err
	}

	rec := &Record{Present: make(map[Field]bool)}
	t := &rec.Trade

	if v, ok := pick(m, FieldID); ok {
		t.ID = coerceString(v)
		rec.Present[FieldID] = true
	}
	if v, ok := pick(m, FieldSymbol); ok {
		t.Symbol = strings.ToUpper(strings.TrimSpace(coerceString(v)))
		rec.Present[FieldSymbol] = true
	}
	if v, ok := pick(m, FieldDirection); ok {
		t.Direction = coerceDirection(v)
		rec.Present[FieldDirection] = true
	}
	if v, ok := pick(m, FieldOrderType); ok {
		t.OrderType = coerceString(v)
		rec.Present[FieldOrderType] = true
	}
	if t.OrderType == "" {
		t.OrderType = "Market Execution"
	}
	if v, ok := pick(m, FieldOpenTime); ok {
		t.OpenTime = coerceTime(v)
		rec.Present[FieldOpenTime] = true
	}
	if v, ok := pick(m, FieldCloseTime); ok {
		t.CloseTime = coerceTime(v)
		rec.Present[FieldCloseTime] = true
	}

	for _, nf := range [...]struct {
		field Field
		dst   *float64
	}{
		{FieldLotSize, &t.LotSize},
		{FieldEntryPrice, &t.EntryPrice},
		{FieldExitPrice, &t.ExitPrice},
		{FieldStopLossPrice, &t.StopLossPrice},
		{FieldTakeProfitPrice, &t.TakeProfitPrice},
		{FieldPnL, &t.PnL},
		{FieldResultRR, &t.ResultRR},
		{FieldCommission, &t.Commission},
		{FieldSwap, &t.Swap},
	} {
		if v, ok := pick(m, nf.field); ok {
			*nf.dst = coerceNumber(v)
			rec.Present[nf.field] = true
		}
	}

	for _, sf := range [...]struct {
		field Field
		dst   *string
	}{
		{FieldDuration, &t.Duration},
		{FieldReasonForTrade, &t.ReasonForTrade},
		{FieldStrategy, &t.Strategy},
		{FieldEmotion, &t.Emotion},
		{FieldJournalNotes, &t.JournalNotes},
		{FieldSource, &t.Source},
	} {
		if v, ok := pick(m, sf.field); ok {
			*sf.dst = coerceString(v)
			rec.Present[sf.field] = true
		}
	}

	if v, ok := pick(m, FieldReviewed); ok {
		t.Reviewed = coerceBool(v)
		rec.Present[FieldReviewed] = true
	}

	// The outcome is a pure function of pnl. A broker-supplied outcome is
	// ignored even when it disagrees on commission-only breakeven trades.
	t.Outcome = models.OutcomeFromPnL(t.PnL)

	if t.Duration == "" {
		t.Duration = deriveDuration(t.OpenTime, t.CloseTime)
	}
	if !rec.Present[FieldResultRR] {
		t.ResultRR = deriveResultRR(t)
	}

	return rec, nil
}

// Normalize decodes raw into a canonical Trade. It never fails: input that is
// not even an object yields a zero-valued breakeven trade.
func Normalize(raw any) models.Trade {
	rec, err := Decode(raw)
	if err != nil {
		return models.Trade{
			OrderType: "Market Execution",
			Outcome:   models.OutcomeBreakeven,
		}
	}
	return rec.Trade
}

// EnsureID keeps a broker-supplied id when it is not already taken, otherwise
// assigns a fresh collision-checked random id.
func EnsureID(t *models.Trade, inUse func(string) bool) {
	if t.ID != "" && (inUse == nil || !inUse(t.ID)) {
		return
	}
	for {
		id := uuid.NewString()
		if inUse == nil || !inUse(id) {
			t.ID = id
			return
		}
	}
}

// Merge applies a decoded record on top of an existing trade: fields present
// in the record overwrite, everything else is preserved (right-biased shallow
// merge). The outcome is recomputed from the merged pnl.
func Merge(existing models.Trade, rec *Record) models.Trade {
	out := existing
	t := rec.Trade

	if rec.Has(FieldSymbol) {
		out.Symbol = t.Symbol
	}
	if rec.Has(FieldDirection) {
		out.Direction = t.Direction
	}
	if rec.Has(FieldOrderType) {
		out.OrderType = t.OrderType
	}
	if rec.Has(FieldOpenTime) {
		out.OpenTime = t.OpenTime
	}
	if rec.Has(FieldCloseTime) {
		out.CloseTime = t.CloseTime
	}
	if rec.Has(FieldLotSize) {
		out.LotSize = t.LotSize
	}
	if rec.Has(FieldEntryPrice) {
		out.EntryPrice = t.EntryPrice
	}
	if rec.Has(FieldExitPrice) {
		out.ExitPrice = t.ExitPrice
	}
	if rec.Has(FieldStopLossPrice) {
		out.StopLossPrice = t.StopLossPrice
	}
	if rec.Has(FieldTakeProfitPrice) {
		out.TakeProfitPrice = t.TakeProfitPrice
	}
	if rec.Has(FieldPnL) {
		out.PnL = t.PnL
	}
	if rec.Has(FieldResultRR) {
		out.ResultRR = t.ResultRR
	}
	if rec.Has(FieldDuration) {
		out.Duration = t.Duration
	}
	if rec.Has(FieldReasonForTrade) {
		out.ReasonForTrade = t.ReasonForTrade
	}
	if rec.Has(FieldStrategy) {
		out.Strategy = t.Strategy
	}
	if rec.Has(FieldEmotion) {
		out.Emotion = t.Emotion
	}
	if rec.Has(FieldJournalNotes) {
		out.JournalNotes = t.JournalNotes
	}
	if rec.Has(FieldReviewed) {
		out.Reviewed = t.Reviewed
	}
	if rec.Has(FieldSource) {
		out.Source = t.Source
	}
	if rec.Has(FieldCommission) {
		out.Commission = t.Commission
	}
	if rec.Has(FieldSwap) {
		out.Swap = t.Swap
	}

	out.Outcome = models.OutcomeFromPnL(out.PnL)
	return out
}

func pick(m map[string]any, f Field) (any, bool) {
	for _, key := range aliases[f] {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// asObject coerces raw into a string-keyed map. Structs (including an already
// canonical Trade) are round-tripped through JSON, which also makes
// Normalize(Normalize(x)) stable.
func asObject(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("nil record")
	case map[string]any:
		return v, nil
	case []byte:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("record is not a JSON object: %w", err)
		}
		return m, nil
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("record is not a JSON object: %w", err)
		}
		return m, nil
	default:
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("record is not encodable: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("record is not an object: %w", err)
		}
		return m, nil
	}
}

var numericJunk = regexp.MustCompile(`[^0-9eE.+-]`)

// coerceNumber parses anything resembling a number. "150.25 USD" becomes
// 150.25; NaN, Infinity and garbage collapse to 0.
func coerceNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		f, _ = n.Float64()
	case bool:
		if n {
			f = 1
		}
	case string:
		cleaned := numericJunk.ReplaceAllString(n, "")
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode as float64; integral ids come through here.
		if s == math.Trunc(s) && math.Abs(s) < 1e15 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(b)))
		return err == nil && parsed
	case float64:
		return b != 0
	default:
		return false
	}
}

func coerceDirection(v any) models.Direction {
	switch d := v.(type) {
	case float64:
		// MT5 numeric deal types: 0 buy, 1 sell.
		if d == 1 {
			return models.DirectionSell
		}
		if d == 0 {
			return models.DirectionBuy
		}
		return models.DirectionUnknown
	case string:
		lower := strings.ToLower(strings.TrimSpace(d))
		switch {
		case strings.Contains(lower, "buy"), strings.Contains(lower, "long"):
			return models.DirectionBuy
		case strings.Contains(lower, "sell"), strings.Contains(lower, "short"):
			return models.DirectionSell
		}
	}
	return models.DirectionUnknown
}

var digitsOnly = regexp.MustCompile(`^\d+$`)

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// coerceTime converts a timestamp of any common shape into an ISO-8601 UTC
// string. A 10-digit value is unix seconds, a 13-digit value unix millis.
// Unparseable input yields the empty-string sentinel.
func coerceTime(v any) string {
	switch ts := v.(type) {
	case time.Time:
		if ts.IsZero() {
			return ""
		}
		return ts.UTC().Format(time.RFC3339)
	case float64:
		return unixToISO(int64(ts))
	case int:
		return unixToISO(int64(ts))
	case int64:
		return unixToISO(ts)
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return unixToISO(n)
		}
		return coerceTime(ts.String())
	case string:
		s := strings.TrimSpace(ts)
		if s == "" {
			return ""
		}
		if digitsOnly.MatchString(s) {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return ""
			}
			return unixToISO(n)
		}
		for _, layout := range stringLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
		}
		return ""
	default:
		return ""
	}
}

func unixToISO(n int64) string {
	if n <= 0 {
		return ""
	}
	// Values below 1e11 are unix seconds (10 digits through 2286), above are
	// milliseconds (13 digits).
	if n < 1e11 {
		return time.Unix(n, 0).UTC().Format(time.RFC3339)
	}
	return time.UnixMilli(n).UTC().Format(time.RFC3339)
}

func deriveDuration(openTime, closeTime string) string {
	if openTime == "" || closeTime == "" {
		return ""
	}
	open, err := time.Parse(time.RFC3339, openTime)
	if err != nil {
		return ""
	}
	closed, err := time.Parse(time.RFC3339, closeTime)
	if err != nil {
		return ""
	}
	minutes := int(closed.Sub(open).Minutes())
	if minutes < 0 {
		return ""
	}
	return fmt.Sprintf("%d min", minutes)
}

// deriveResultRR estimates the realized risk/reward multiple when the source
// record did not carry one: -1 for losses, 0 for breakeven, reward over risk
// for wins (stop-loss distance, or a 2% default risk when no stop was set).
func deriveResultRR(t *models.Trade) float64 {
	switch t.Outcome {
	case models.OutcomeLoss:
		return -1
	case models.OutcomeBreakeven:
		return 0
	}
	if t.EntryPrice == 0 || t.ExitPrice == 0 {
		return 1
	}
	risk := math.Abs(t.EntryPrice) * 0.02
	if t.StopLossPrice != 0 {
		risk = math.Abs(t.EntryPrice - t.StopLossPrice)
	}
	if risk == 0 {
		return 1
	}
	return math.Abs(t.ExitPrice-t.EntryPrice) / risk
}
