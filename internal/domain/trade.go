package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusActive    TradeStatus = "active"
	TradeStatusFilled    TradeStatus = "filled" // legacy alias of active
	TradeStatusCancelled TradeStatus = "cancelled"
	TradeStatusStopped   TradeStatus = "stopped"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusClosed    TradeStatus = "closed"
)

// OpenTradeStatuses are the statuses the monitor still owns.
var OpenTradeStatuses = []TradeStatus{TradeStatusPending, TradeStatusActive, TradeStatusFilled}

// ParseTradeStatus converts a stored value into a TradeStatus.
func ParseTradeStatus(v string) (TradeStatus, error) {
	s := TradeStatus(v)
	switch s {
	case TradeStatusPending, TradeStatusActive, TradeStatusFilled,
		TradeStatusCancelled, TradeStatusStopped, TradeStatusCompleted, TradeStatusClosed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown trade status %q", v)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusCancelled, TradeStatusStopped, TradeStatusCompleted, TradeStatusClosed:
		return true
	default:
		return false
	}
}

// Trade is one sized position derived from one signal message.
type Trade struct {
	ID             int64
	MessageID      string
	Channel        string
	TradingPair    string
	Leverage       float64
	EntryPrice     float64
	StopLoss       float64
	TakeProfits    []float64
	RiskPercentage float64
	Quantity       float64
	Direction      Direction

	Exchange       string
	AccountName    string
	OrderID        string // entry order id on the exchange
	OrderLinkID    string // client id sent with the entry order
	PositionID     string
	EntryOrderType EntryOrderType

	Status            TradeStatus
	EntryFilledAt     time.Time
	ExitPrice         float64
	ExitFilledAt      time.Time
	PnL               float64
	PnLPercentage     float64
	StopLossBreakeven bool

	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// ResolvedDirection returns the stored direction, inferring it only for
// legacy rows that were written without one.
func (t *Trade) ResolvedDirection() Direction {
	if t.Direction.Valid() {
		return t.Direction
	}
	return InferDirection(t.EntryPrice, t.TakeProfits)
}

// IsLong is shorthand for ResolvedDirection() == DirectionLong.
func (t *Trade) IsLong() bool {
	return t.ResolvedDirection() == DirectionLong
}

// NearestTakeProfit returns the first take-profit level, or 0 if none.
func (t *Trade) NearestTakeProfit() float64 {
	if len(t.TakeProfits) == 0 {
		return 0
	}
	return t.TakeProfits[0]
}

// StopCrossed reports whether price is at or beyond the stop loss.
func (t *Trade) StopCrossed(price float64) bool {
	if t.StopLoss <= 0 || price <= 0 {
		return false
	}
	if t.IsLong() {
		return price <= t.StopLoss
	}
	return price >= t.StopLoss
}

// TakeProfitCrossed reports whether price has reached the nearest take profit.
func (t *Trade) TakeProfitCrossed(price float64) bool {
	tp := t.NearestTakeProfit()
	if tp <= 0 || price <= 0 {
		return false
	}
	if t.IsLong() {
		return price >= tp
	}
	return price <= tp
}

// Expired reports whether the entry timeout has passed at now.
func (t *Trade) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Apply merges a partial update into t.
func (t *Trade) Apply(u TradeUpdate) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Leverage != nil {
		t.Leverage = *u.Leverage
	}
	if u.EntryPrice != nil {
		t.EntryPrice = *u.EntryPrice
	}
	if u.StopLoss != nil {
		t.StopLoss = *u.StopLoss
	}
	if u.Quantity != nil {
		t.Quantity = *u.Quantity
	}
	if u.OrderID != nil {
		t.OrderID = *u.OrderID
	}
	if u.PositionID != nil {
		t.PositionID = *u.PositionID
	}
	if u.EntryFilledAt != nil {
		t.EntryFilledAt = *u.EntryFilledAt
	}
	if u.ExitPrice != nil {
		t.ExitPrice = *u.ExitPrice
	}
	if u.ExitFilledAt != nil {
		t.ExitFilledAt = *u.ExitFilledAt
	}
	if u.PnL != nil {
		t.PnL = *u.PnL
	}
	if u.PnLPercentage != nil {
		t.PnLPercentage = *u.PnLPercentage
	}
	if u.StopLossBreakeven != nil {
		t.StopLossBreakeven = *u.StopLossBreakeven
	}
}

// TradeUpdate is a partial update; nil fields are left untouched.
type TradeUpdate struct {
	Status            *TradeStatus
	Leverage          *float64
	EntryPrice        *float64
	StopLoss          *float64
	Quantity          *float64
	OrderID           *string
	PositionID        *string
	EntryFilledAt     *time.Time
	ExitPrice         *float64
	ExitFilledAt      *time.Time
	PnL               *float64
	PnLPercentage     *float64
	StopLossBreakeven *bool
}

// InferDirection guesses a direction from the first take profit relative to
// entry. Only meant for stored trades that predate the direction column.
func InferDirection(entry float64, takeProfits []float64) Direction {
	if entry <= 0 || len(takeProfits) == 0 {
		return ""
	}
	if takeProfits[0] > entry {
		return DirectionLong
	}
	return DirectionShort
}

// NormalizeTakeProfits drops duplicates and levels on the losing side of
// entry, then orders the rest moving away from entry in the profit direction.
func NormalizeTakeProfits(dir Direction, entry float64, tps []float64) []float64 {
	seen := make(map[float64]bool, len(tps))
	out := make([]float64, 0, len(tps))
	for _, tp := range tps {
		if tp <= 0 || math.IsNaN(tp) || seen[tp] {
			continue
		}
		if entry > 0 && ((dir == DirectionLong && tp <= entry) || (dir == DirectionShort && tp >= entry)) {
			continue
		}
		seen[tp] = true
		out = append(out, tp)
	}
	sort.Float64s(out)
	if dir == DirectionShort {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// EncodeTakeProfits renders the take-profit list as a JSON array for storage.
func EncodeTakeProfits(tps []float64) (string, error) {
	if tps == nil {
		tps = []float64{}
	}
	b, err := json.Marshal(tps)
	if err != nil {
		return "", fmt.Errorf("encode take profits: %w", err)
	}
	return string(b), nil
}

// DecodeTakeProfits parses a stored JSON take-profit list.
func DecodeTakeProfits(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	var tps []float64
	if err := json.Unmarshal([]byte(raw), &tps); err != nil {
		return nil, fmt.Errorf("decode take profits %q: %w", raw, err)
	}
	return tps, nil
}

// PnLPercent is the leveraged percentage move from entry to exit, signed by direction.
func PnLPercent(dir Direction, entry, exit, leverage float64) float64 {
	if entry <= 0 || exit <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return (exit - entry) / entry * 100 * dir.Sign() * leverage
}
