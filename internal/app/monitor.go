package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"

	"github.com/jpillora/backoff"
)

const minErrorBackoff = 100 * time.Millisecond

// MonitorConfig holds the settings of one channel's monitor.
type MonitorConfig struct {
	Channel              string
	PollInterval         time.Duration
	ErrorBackoffMax      time.Duration
	Accelerated          bool // run cycles back to back
	BreakevenAfterTPs    int  // 0 disables
	SymbolFailureLimit   int
	SymbolCooldownCycles int
}

// TradeMonitor drives the open trades of one channel to a terminal status.
type TradeMonitor struct {
	cfg        MonitorConfig
	logger     ports.Logger
	exchange   ports.ExchangeClient
	trades     ports.TradeRepository
	orders     ports.OrderRepository
	metrics    *metrics.Metrics
	now        func() time.Time
	reconciler *Reconciler
	takeProfit *TakeProfitPlacer
	stops      *stopKeeper

	cycleMu sync.Mutex
	breaker *symbolBreaker
}

// NewTradeMonitor creates a monitor for cfg.Channel.
func NewTradeMonitor(cfg MonitorConfig, deps Deps, reconciler *Reconciler, takeProfit *TakeProfitPlacer) (*TradeMonitor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if reconciler == nil || takeProfit == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for TradeMonitor", ports.ErrConfigurationError)
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("%w: monitor channel is required", ports.ErrConfigurationError)
	}
	if cfg.PollInterval <= 0 && !cfg.Accelerated {
		return nil, fmt.Errorf("%w: poll interval must be positive", ports.ErrConfigurationError)
	}
	if cfg.ErrorBackoffMax < cfg.PollInterval {
		cfg.ErrorBackoffMax = cfg.PollInterval
	}
	return &TradeMonitor{
		cfg:        cfg,
		logger:     deps.Logger,
		exchange:   deps.Exchange,
		trades:     deps.Trades,
		orders:     deps.Orders,
		metrics:    deps.Metrics,
		now:        deps.Now,
		reconciler: reconciler,
		takeProfit: takeProfit,
		stops:      newStopKeeper(deps),
		breaker:    newSymbolBreaker(cfg.SymbolFailureLimit, cfg.SymbolCooldownCycles),
	}, nil
}

// Channel returns the channel this monitor owns.
func (m *TradeMonitor) Channel() string { return m.cfg.Channel }

// Run polls until stop is closed or ctx is done. A cycle that fails waits
// with exponential backoff before the next one.
func (m *TradeMonitor) Run(ctx context.Context, stop <-chan struct{}) error {
	minWait := m.cfg.PollInterval
	if minWait < minErrorBackoff {
		minWait = minErrorBackoff
	}
	maxWait := m.cfg.ErrorBackoffMax
	if maxWait < minWait {
		maxWait = minWait
	}
	b := &backoff.Backoff{Min: minWait, Max: maxWait, Factor: 2, Jitter: true}
	fields := map[string]interface{}{"channel": m.cfg.Channel}

	m.logger.Info(ctx, "Trade monitor started", fields)
	defer m.logger.Info(ctx, "Trade monitor stopped", fields)

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		wait := m.cfg.PollInterval
		if m.cfg.Accelerated {
			wait = 0
		}
		if err := m.RunCycle(ctx); err != nil {
			wait = b.Duration()
			m.logger.Warn(ctx, "Monitor cycle failed, backing off", map[string]interface{}{
				"channel": m.cfg.Channel, "error": err.Error(), "wait": wait.String(),
			})
		} else {
			b.Reset()
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle evaluates every open trade of the channel once, sequentially.
func (m *TradeMonitor) RunCycle(ctx context.Context) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := time.Now()
	trades, err := m.trades.GetActiveTrades(ctx)
	if err != nil {
		m.metrics.CycleError(m.cfg.Channel)
		return fmt.Errorf("load open trades: %w", err)
	}

	var lastErr error
	failed, seen := 0, 0
	for _, t := range trades {
		if t.Channel != m.cfg.Channel {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		seen++
		if !m.breaker.allow(t.TradingPair) {
			m.logger.Debug(ctx, "Symbol cooling down, skipped", tradeFields(t))
			continue
		}
		if err := m.processTrade(ctx, t); err != nil {
			failed++
			lastErr = err
			m.metrics.CycleError(m.cfg.Channel)
			m.logger.Error(ctx, err, "Trade evaluation failed", tradeFields(t))
			if m.breaker.failure(t.TradingPair) {
				m.logger.Warn(ctx, "Symbol failing repeatedly, pausing it", tradeFields(t, map[string]interface{}{
					"cooldownCycles": m.cfg.SymbolCooldownCycles,
				}))
			}
			continue
		}
		m.breaker.success(t.TradingPair)
	}
	m.breaker.nextCycle()
	m.metrics.CycleDone(m.cfg.Channel, time.Since(start).Seconds(), seen)

	if failed > 0 {
		return fmt.Errorf("%d of %d trades failed: %w", failed, seen, lastErr)
	}
	return nil
}

func (m *TradeMonitor) processTrade(ctx context.Context, t *domain.Trade) error {
	if !t.ResolvedDirection().Valid() {
		m.logger.Warn(ctx, "Trade direction unknown, skipped", tradeFields(t))
		return nil
	}
	switch t.Status {
	case domain.TradeStatusPending:
		return m.processPending(ctx, t)
	case domain.TradeStatusActive, domain.TradeStatusFilled:
		return m.processActive(ctx, t)
	case domain.TradeStatusCancelled, domain.TradeStatusStopped, domain.TradeStatusCompleted, domain.TradeStatusClosed:
		return nil
	default:
		return fmt.Errorf("trade %d has unknown status %q", t.ID, t.Status)
	}
}

func (m *TradeMonitor) processPending(ctx context.Context, t *domain.Trade) error {
	if t.Expired(m.now()) {
		m.logger.Info(ctx, "Entry order expired", tradeFields(t, map[string]interface{}{"expiresAt": t.ExpiresAt}))
		return m.cancelPending(ctx, t)
	}

	price, err := m.exchange.GetTickerPrice(ctx, t.TradingPair)
	if err != nil {
		return err
	}
	if t.StopCrossed(price) {
		m.logger.Info(ctx, "Price crossed stop before entry filled", tradeFields(t, map[string]interface{}{
			"price": price, "stopLoss": t.StopLoss,
		}))
		return m.cancelPending(ctx, t)
	}
	if t.TakeProfitCrossed(price) {
		m.logger.Info(ctx, "Price reached first take-profit before entry fill, waiting for fill", tradeFields(t, map[string]interface{}{"price": price}))
	}

	if fill := m.reconciler.EntryFilled(ctx, t); fill.Filled {
		return m.onEntryFilled(ctx, t, fill)
	}
	return nil
}

// cancelPending cancels the entry and moves the trade to cancelled. An entry
// the venue no longer knows may have just filled, and a cancelled one may
// have filled in part; either leaves a position, so the fill is re-checked.
func (m *TradeMonitor) cancelPending(ctx context.Context, t *domain.Trade) error {
	if t.OrderID != "" {
		err := m.exchange.CancelOrder(ctx, t.TradingPair, t.OrderID)
		switch {
		case isNotFound(err):
			if fill := m.reconciler.EntryFilled(ctx, t); fill.Filled {
				m.logger.Warn(ctx, "Entry filled before it could be cancelled", tradeFields(t))
				return m.onEntryFilled(ctx, t, fill)
			}
		case err != nil:
			return err
		default:
			if fill := m.reconciler.EntryFilled(ctx, t); fill.Filled {
				m.logger.Warn(ctx, "Entry partially filled before cancel, keeping the position", tradeFields(t, map[string]interface{}{
					"filledQty": fill.Quantity,
				}))
				return m.onEntryFilled(ctx, t, fill)
			}
		}
	}
	return m.finish(ctx, t, domain.TradeUpdate{Status: domain.Ptr(domain.TradeStatusCancelled)}, true)
}

func (m *TradeMonitor) onEntryFilled(ctx context.Context, t *domain.Trade, fill EntryFill) error {
	now := m.now()
	upd := domain.TradeUpdate{
		Status:        domain.Ptr(domain.TradeStatusActive),
		EntryFilledAt: domain.Ptr(now),
	}
	if fill.PositionID != "" {
		upd.PositionID = domain.Ptr(fill.PositionID)
	}
	if fill.Price > 0 {
		upd.EntryPrice = domain.Ptr(fill.Price)
	}
	if fill.Quantity > 0 && fill.Quantity < t.Quantity-1e-12 {
		upd.Quantity = domain.Ptr(fill.Quantity)
	}
	if err := m.trades.UpdateTrade(ctx, t.ID, upd); err != nil {
		return fmt.Errorf("activate trade %d: %w", t.ID, err)
	}
	t.Apply(upd)
	m.logger.Info(ctx, "Entry filled", tradeFields(t, map[string]interface{}{"source": fill.Source, "fillPrice": fill.Price}))

	orders, err := m.orders.GetOrdersByTradeID(ctx, t.ID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.OrderType == domain.OrderTypeEntry && o.Status == domain.OrderStatusPending {
			price := fill.Price
			if price <= 0 {
				price = o.Price
			}
			if err := m.orders.UpdateOrder(ctx, o.ID, domain.OrderUpdate{
				Status: domain.Ptr(domain.OrderStatusFilled), FilledAt: domain.Ptr(now), FilledPrice: domain.Ptr(price),
			}); err != nil {
				m.logger.Error(ctx, err, "Failed to mark entry order filled", tradeFields(t))
			}
		}
	}

	if err := m.stops.ensure(ctx, t); err != nil {
		m.logger.Error(ctx, err, "Position open without a recorded stop-loss", tradeFields(t))
	}
	if _, err := m.takeProfit.Place(ctx, t, t.EntryPrice); err != nil && !errors.Is(err, ports.ErrNoTakeProfits) {
		m.logger.Error(ctx, err, "Deferred take-profit placement failed", tradeFields(t))
	}
	return nil
}

func (m *TradeMonitor) processActive(ctx context.Context, t *domain.Trade) error {
	orders, err := m.orders.GetOrdersByTradeID(ctx, t.ID)
	if err != nil {
		return err
	}

	// Order-fill sweep.
	var stopFill *domain.Order
	for _, o := range orders {
		if o.Status != domain.OrderStatusPending || o.OrderType == domain.OrderTypeEntry {
			continue
		}
		res := m.reconciler.OrderFilled(ctx, t.TradingPair, o)
		switch {
		case res.Cancelled:
			if err := m.orders.UpdateOrder(ctx, o.ID, domain.OrderUpdate{Status: domain.Ptr(domain.OrderStatusCancelled)}); err != nil {
				return err
			}
			o.Status = domain.OrderStatusCancelled
		case res.Filled:
			now := m.now()
			if err := m.orders.UpdateOrder(ctx, o.ID, domain.OrderUpdate{
				Status: domain.Ptr(domain.OrderStatusFilled), FilledAt: domain.Ptr(now), FilledPrice: domain.Ptr(res.Price),
			}); err != nil {
				return err
			}
			o.Status, o.FilledAt, o.FilledPrice = domain.OrderStatusFilled, now, res.Price
			m.logger.Info(ctx, "Order filled", tradeFields(t, map[string]interface{}{
				"orderID": o.OrderID, "type": o.OrderType, "tpIndex": o.TPIndex, "price": res.Price,
			}))
			if o.OrderType.ProtectsPosition() {
				stopFill = o
			}
		}
	}

	price, err := m.exchange.GetTickerPrice(ctx, t.TradingPair)
	if err != nil {
		return err
	}

	if stopFill != nil {
		closure := m.reconciler.PositionClosed(ctx, t, stopFill.FilledPrice)
		// The stop covers the whole position, so its fill leaves it flat.
		closure.Closed = true
		return m.close(ctx, t, domain.TradeStatusStopped, closure, stopFill.FilledPrice)
	}

	// The venue position is authoritative for whether capital is at risk.
	if closure := m.reconciler.PositionClosed(ctx, t, price); closure.Closed {
		return m.close(ctx, t, closedStatus(t, orders, price), closure, price)
	}

	if filled := countFilledTakeProfits(orders); m.cfg.BreakevenAfterTPs > 0 && !t.StopLossBreakeven && filled >= m.cfg.BreakevenAfterTPs {
		if err := m.moveToBreakeven(ctx, t, orders); err != nil {
			return err
		}
	}

	if t.StopCrossed(price) {
		m.logger.Warn(ctx, "Price crossed stop but position still open, marking stopped", tradeFields(t, map[string]interface{}{"price": price}))
		return m.close(ctx, t, domain.TradeStatusStopped, PositionClose{}, t.StopLoss)
	}

	if err := m.stops.ensure(ctx, t); err != nil {
		m.logger.Warn(ctx, "Stop-loss check failed", tradeFields(t, map[string]interface{}{"error": err.Error()}))
	}
	return nil
}

func countFilledTakeProfits(orders []*domain.Order) int {
	n := 0
	for _, o := range orders {
		if o.OrderType == domain.OrderTypeTakeProfit && o.Status == domain.OrderStatusFilled {
			n++
		}
	}
	return n
}

// closedStatus is completed when every placed take-profit filled, stopped when
// price is beyond the stop, and closed otherwise.
func closedStatus(t *domain.Trade, orders []*domain.Order, price float64) domain.TradeStatus {
	placed, filled := 0, 0
	for _, o := range orders {
		if o.OrderType != domain.OrderTypeTakeProfit {
			continue
		}
		placed++
		if o.Status == domain.OrderStatusFilled {
			filled++
		}
	}
	switch {
	case placed > 0 && filled == placed:
		return domain.TradeStatusCompleted
	case t.StopCrossed(price):
		return domain.TradeStatusStopped
	default:
		return domain.TradeStatusClosed
	}
}

// moveToBreakeven sets a new stop at entry, then retires the old one.
func (m *TradeMonitor) moveToBreakeven(ctx context.Context, t *domain.Trade, orders []*domain.Order) error {
	entry := t.EntryPrice
	hasBreakeven := false
	for _, o := range orders {
		if o.OrderType == domain.OrderTypeBreakevenLimit && o.Status == domain.OrderStatusPending {
			hasBreakeven = true
		}
	}
	if !hasBreakeven {
		if _, err := m.stops.placeAt(ctx, t, entry, domain.OrderTypeBreakevenLimit); err != nil {
			return err
		}
	}
	for _, o := range orders {
		if o.OrderType != domain.OrderTypeStopLoss || o.Status != domain.OrderStatusPending {
			continue
		}
		m.cancelOrder(ctx, t, o)
	}

	upd := domain.TradeUpdate{StopLoss: domain.Ptr(entry), StopLossBreakeven: domain.Ptr(true)}
	if err := m.trades.UpdateTrade(ctx, t.ID, upd); err != nil {
		return fmt.Errorf("record breakeven for trade %d: %w", t.ID, err)
	}
	t.Apply(upd)
	m.logger.Info(ctx, "Stop-loss moved to breakeven", tradeFields(t, map[string]interface{}{"stopLoss": entry}))
	return nil
}

// cancelOrder cancels o on the venue (best effort) and marks the row cancelled.
func (m *TradeMonitor) cancelOrder(ctx context.Context, t *domain.Trade, o *domain.Order) {
	if o.OrderID != "" {
		if err := m.exchange.CancelOrder(ctx, t.TradingPair, o.OrderID); err != nil && !isNotFound(err) {
			m.logger.Warn(ctx, "Failed to cancel order", tradeFields(t, map[string]interface{}{"orderID": o.OrderID, "error": err.Error()}))
			return
		}
	}
	if err := m.orders.UpdateOrder(ctx, o.ID, domain.OrderUpdate{Status: domain.Ptr(domain.OrderStatusCancelled)}); err != nil {
		m.logger.Warn(ctx, "Failed to mark order cancelled", tradeFields(t, map[string]interface{}{"orderID": o.OrderID, "error": err.Error()}))
		return
	}
	o.Status = domain.OrderStatusCancelled
}

// close records the exit and moves the trade to a terminal status.
func (m *TradeMonitor) close(ctx context.Context, t *domain.Trade, status domain.TradeStatus, c PositionClose, fallbackPrice float64) error {
	exit := c.ExitPrice
	if exit <= 0 {
		exit = fallbackPrice
	}
	exitAt := c.ClosedAt
	if exitAt.IsZero() {
		exitAt = m.now()
	}
	dir := t.ResolvedDirection()
	pnl := c.PnL
	if !c.HasPnL {
		pnl = estimatePnL(dir, t.EntryPrice, exit, t.Quantity)
	}
	upd := domain.TradeUpdate{
		Status:        domain.Ptr(status),
		ExitPrice:     domain.Ptr(exit),
		ExitFilledAt:  domain.Ptr(exitAt),
		PnL:           domain.Ptr(pnl),
		PnLPercentage: domain.Ptr(domain.PnLPercent(dir, t.EntryPrice, exit, t.Leverage)),
	}
	m.logger.Info(ctx, "Trade closed", tradeFields(t, map[string]interface{}{
		"newStatus": status, "exitPrice": exit, "pnl": pnl, "source": c.Source,
	}))
	return m.finish(ctx, t, upd, c.Closed)
}

// finish writes the terminal update. With cleanup set it then cancels any
// orders still resting; without it the venue orders stay in place because
// the position may still be open.
func (m *TradeMonitor) finish(ctx context.Context, t *domain.Trade, upd domain.TradeUpdate, cleanup bool) error {
	if err := m.trades.UpdateTrade(ctx, t.ID, upd); err != nil {
		if errors.Is(err, ports.ErrTradeTerminal) {
			m.logger.Warn(ctx, "Trade already terminal, update skipped", tradeFields(t))
			return nil
		}
		return fmt.Errorf("finish trade %d: %w", t.ID, err)
	}
	t.Apply(upd)
	m.metrics.TradeClosed(string(t.Status))
	if !cleanup {
		m.logger.Warn(ctx, "Close not confirmed by the venue, leaving protective orders in place", tradeFields(t))
		return nil
	}

	orders, err := m.orders.GetOrdersByTradeID(ctx, t.ID)
	if err != nil {
		m.logger.Warn(ctx, "Could not load orders for cleanup", tradeFields(t, map[string]interface{}{"error": err.Error()}))
		return nil
	}
	for _, o := range orders {
		if o.Status == domain.OrderStatusPending {
			m.cancelOrder(ctx, t, o)
		}
	}
	return nil
}
