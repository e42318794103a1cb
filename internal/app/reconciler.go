package app

import (
	"context"
	"fmt"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"
)

const historyScanLimit = 50

// EntryFill is the reconciler's answer to "has the entry filled?".
type EntryFill struct {
	Filled     bool
	Price      float64 // 0 when the venue did not report one
	PositionID string
	Quantity   float64 // position size when the fill was read from a position, else 0
	Source     string
}

// OrderFill is the answer for a stop or take-profit order.
type OrderFill struct {
	Filled    bool
	Cancelled bool // venue reports it cancelled or expired with nothing executed
	Price     float64
}

// PositionClose is the answer to "has the position gone flat?".
type PositionClose struct {
	Closed    bool
	ExitPrice float64
	PnL       float64
	HasPnL    bool // PnL came from venue records rather than an estimate
	ClosedAt  time.Time
	Source    string
}

// Reconciler answers fill and closure questions by trying several venue
// queries in priority order. It never writes and never fails: missing or
// unusable data means "not determined yet".
type Reconciler struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger ports.Logger, exchange ports.ExchangeClient) *Reconciler {
	return &Reconciler{logger: logger, exchange: exchange}
}

func positionID(p *domain.Position) string {
	return fmt.Sprintf("%s:%d", p.Symbol, p.PositionIdx)
}

// openPosition returns the open position on the trade's side. ok is false when
// the venue could not be queried.
func (r *Reconciler) openPosition(ctx context.Context, t *domain.Trade) (pos *domain.Position, ok bool) {
	positions, err := r.exchange.GetPositions(ctx, t.TradingPair)
	if err != nil {
		r.logger.Debug(ctx, "Position query failed", tradeFields(t, map[string]interface{}{"error": err.Error()}))
		return nil, false
	}
	side := t.ResolvedDirection().EntrySide()
	for _, p := range positions {
		if p.IsOpen() && p.Side == side {
			return p, true
		}
	}
	return nil, true
}

func (r *Reconciler) history(ctx context.Context, q ports.OrderQuery) []*ports.ExchangeOrder {
	orders, err := r.exchange.GetOrderHistory(ctx, q)
	if err != nil {
		r.logger.Debug(ctx, "Order history query failed", map[string]interface{}{
			"symbol": q.Symbol, "orderID": q.OrderID, "linkID": q.LinkID, "error": err.Error(),
		})
		return nil
	}
	return orders
}

// EntryFilled checks, in order: an open position, the order in history by id,
// the open-orders list, history by link id, and finally a recent-history scan.
func (r *Reconciler) EntryFilled(ctx context.Context, t *domain.Trade) EntryFill {
	if pos, _ := r.openPosition(ctx, t); pos != nil {
		return EntryFill{Filled: true, Price: pos.EntryPrice, PositionID: positionID(pos), Quantity: pos.Size, Source: "position"}
	}

	if t.OrderID != "" {
		for _, o := range r.history(ctx, ports.OrderQuery{Symbol: t.TradingPair, OrderID: t.OrderID}) {
			if o.OrderID == t.OrderID && o.Status.HasFill() {
				return EntryFill{Filled: true, Price: o.FillPrice(), Source: "history"}
			}
		}

		open, err := r.exchange.GetOpenOrders(ctx, t.TradingPair, t.OrderID)
		if err == nil {
			var found *ports.ExchangeOrder
			for _, o := range open {
				if o.OrderID == t.OrderID {
					found = o
					break
				}
			}
			switch {
			case found != nil && found.Status == ports.ExchangeStatusFilled:
				return EntryFill{Filled: true, Price: found.FillPrice(), Source: "open_orders"}
			case found == nil:
				// Filled orders leave the open set; only a position confirms it.
				if pos, _ := r.openPosition(ctx, t); pos != nil {
					return EntryFill{Filled: true, Price: pos.EntryPrice, PositionID: positionID(pos), Quantity: pos.Size, Source: "open_orders"}
				}
			}
		}
	}

	if t.OrderLinkID != "" {
		for _, o := range r.history(ctx, ports.OrderQuery{Symbol: t.TradingPair, LinkID: t.OrderLinkID}) {
			if o.LinkID == t.OrderLinkID && o.Status.HasFill() {
				return EntryFill{Filled: true, Price: o.FillPrice(), Source: "history_link"}
			}
		}
	}

	for _, o := range r.history(ctx, ports.OrderQuery{Symbol: t.TradingPair, Limit: historyScanLimit}) {
		matches := (t.OrderID != "" && o.OrderID == t.OrderID) || (t.OrderLinkID != "" && o.LinkID == t.OrderLinkID)
		if matches && o.Status.HasFill() {
			return EntryFill{Filled: true, Price: o.FillPrice(), Source: "history_scan"}
		}
	}
	return EntryFill{}
}

// OrderFilled treats an order that left the open set as filled, at the venue's
// fill price when history still has it and at the recorded price otherwise.
func (r *Reconciler) OrderFilled(ctx context.Context, symbol string, o *domain.Order) OrderFill {
	if o.OrderID == "" {
		return OrderFill{}
	}
	open, err := r.exchange.GetOpenOrders(ctx, symbol, o.OrderID)
	if err != nil {
		r.logger.Debug(ctx, "Open orders query failed", map[string]interface{}{"symbol": symbol, "orderID": o.OrderID, "error": err.Error()})
		return OrderFill{}
	}
	for _, eo := range open {
		if eo.OrderID != o.OrderID {
			continue
		}
		if eo.Status == ports.ExchangeStatusFilled {
			return OrderFill{Filled: true, Price: eo.FillPrice()}
		}
		return OrderFill{}
	}

	for _, eo := range r.history(ctx, ports.OrderQuery{Symbol: symbol, OrderID: o.OrderID}) {
		if eo.OrderID != o.OrderID {
			continue
		}
		switch eo.Status {
		case ports.ExchangeStatusFilled, ports.ExchangeStatusPartiallyFilled:
			return OrderFill{Filled: true, Price: eo.FillPrice()}
		case ports.ExchangeStatusCancelled, ports.ExchangeStatusExpired, ports.ExchangeStatusRejected:
			if eo.ExecutedQty <= 0 {
				return OrderFill{Cancelled: true}
			}
			return OrderFill{Filled: true, Price: eo.FillPrice()}
		}
	}
	return OrderFill{Filled: true, Price: o.Price}
}

// PositionClosed reports whether the trade's position is flat and, if so,
// sources the exit from closed PnL, then executions, then markPrice.
func (r *Reconciler) PositionClosed(ctx context.Context, t *domain.Trade, markPrice float64) PositionClose {
	pos, ok := r.openPosition(ctx, t)
	if !ok || pos != nil {
		return PositionClose{}
	}

	res := PositionClose{Closed: true}
	since := t.EntryFilledAt
	if since.IsZero() {
		since = t.CreatedAt
	}

	if records, err := r.exchange.GetClosedPnL(ctx, t.TradingPair, since); err == nil && len(records) > 0 {
		var qty, notional float64
		for _, c := range records {
			res.PnL += c.PnL
			if c.AvgExitPrice > 0 && c.Quantity > 0 {
				qty += c.Quantity
				notional += c.AvgExitPrice * c.Quantity
			}
			if c.ClosedAt.After(res.ClosedAt) {
				res.ClosedAt = c.ClosedAt
			}
		}
		res.HasPnL = true
		res.Source = "closed_pnl"
		if qty > 0 {
			res.ExitPrice = notional / qty
			return res
		}
	}

	exitSide := t.ResolvedDirection().ExitSide()
	if execs, err := r.exchange.GetExecutions(ctx, t.TradingPair, since); err == nil {
		var qty, notional, realised float64
		for _, x := range execs {
			if x.Side != exitSide || x.ExecutedAt.Before(since) {
				continue
			}
			qty += x.Quantity
			notional += x.Price * x.Quantity
			realised += x.RealisedPnL
			if x.ExecutedAt.After(res.ClosedAt) {
				res.ClosedAt = x.ExecutedAt
			}
		}
		if qty > 0 {
			res.ExitPrice = notional / qty
			if !res.HasPnL && realised != 0 {
				res.PnL = realised
				res.HasPnL = true
			}
			if res.Source == "" {
				res.Source = "executions"
			}
			return res
		}
	}

	res.ExitPrice = markPrice
	if !res.HasPnL {
		res.PnL = estimatePnL(t.ResolvedDirection(), t.EntryPrice, markPrice, t.Quantity)
		res.Source = "estimate"
	}
	return res
}
