package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"
	"signalTradeBot/internal/precision"
	"signalTradeBot/internal/risk"

	"github.com/google/uuid"
)

// PlacerConfig holds the intake settings.
type PlacerConfig struct {
	QuoteCoin             string
	AccountName           string
	DefaultRiskPercentage float64
	EntryTimeout          time.Duration
}

// OrderPlacer turns a validated signal into a sized, placed and persisted trade.
type OrderPlacer struct {
	cfg        PlacerConfig
	logger     ports.Logger
	exchange   ports.ExchangeClient
	trades     ports.TradeRepository
	orders     ports.OrderRepository
	metrics    *metrics.Metrics
	now        func() time.Time
	sizer      *risk.PositionSizer
	guard      *risk.ExposureGuard
	precision  *precision.Adapter
	takeProfit *TakeProfitPlacer
	stops      *stopKeeper
}

// NewOrderPlacer creates an OrderPlacer.
func NewOrderPlacer(
	cfg PlacerConfig,
	deps Deps,
	sizer *risk.PositionSizer,
	guard *risk.ExposureGuard,
	prec *precision.Adapter,
	takeProfit *TakeProfitPlacer,
) (*OrderPlacer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if sizer == nil || guard == nil || prec == nil || takeProfit == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for OrderPlacer", ports.ErrConfigurationError)
	}
	if cfg.QuoteCoin == "" {
		return nil, fmt.Errorf("%w: quote coin is required", ports.ErrConfigurationError)
	}
	if cfg.EntryTimeout <= 0 {
		return nil, fmt.Errorf("%w: entry timeout must be positive", ports.ErrConfigurationError)
	}
	return &OrderPlacer{
		cfg:        cfg,
		logger:     deps.Logger,
		exchange:   deps.Exchange,
		trades:     deps.Trades,
		orders:     deps.Orders,
		metrics:    deps.Metrics,
		now:        deps.Now,
		sizer:      sizer,
		guard:      guard,
		precision:  prec,
		takeProfit: takeProfit,
		stops:      newStopKeeper(deps),
	}, nil
}

// Initiate opens a trade for sig. The returned trade is pending, active when
// the entry filled at once, or cancelled when an immediate-or-cancel entry
// found no liquidity.
func (p *OrderPlacer) Initiate(ctx context.Context, sig domain.Signal) (*domain.Trade, error) {
	op := "Initiate"
	fields := map[string]interface{}{"channel": sig.Channel, "messageID": sig.MessageID, "symbol": sig.TradingPair}

	if err := sig.Validate(); err != nil {
		p.logger.Warn(ctx, op+": invalid signal", fields)
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	open, err := p.trades.FindOpenByPair(ctx, sig.TradingPair)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if open != nil {
		fields["openTradeID"] = open.ID
		p.logger.Warn(ctx, op+": pair already has an open trade, signal rejected", fields)
		return nil, fmt.Errorf("%s failed: %w: trade %d", op, ports.ErrPairBusy, open.ID)
	}

	entryType := sig.EntryOrderType
	if entryType == "" {
		entryType = domain.EntryLimit
	}
	entry := sig.EntryPrice
	if entryType == domain.EntryMarket {
		// Market entries go out as IOC limits at the current price.
		entry, err = p.exchange.GetTickerPrice(ctx, sig.TradingPair)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		if (sig.Direction == domain.DirectionLong && sig.StopLoss >= entry) ||
			(sig.Direction == domain.DirectionShort && sig.StopLoss <= entry) {
			return nil, fmt.Errorf("%s failed: %w: market price %v already beyond stop %v", op, ports.ErrInvalidRequest, entry, sig.StopLoss)
		}
	}

	balance, err := p.exchange.GetWalletBalance(ctx, p.cfg.QuoteCoin)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	riskPct := sig.RiskPercentage
	if riskPct <= 0 {
		riskPct = p.cfg.DefaultRiskPercentage
	}
	sizing, err := p.sizer.Size(risk.SizingInput{
		Balance:           balance,
		RiskPercentage:    riskPct,
		EntryPrice:        entry,
		StopPrice:         sig.StopLoss,
		RequestedLeverage: sig.Leverage,
	})
	if err != nil {
		p.logger.Warn(ctx, op+": sizing failed", fields)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	rules := p.precision.Resolve(ctx, sig.TradingPair, entry, sizing.Notional)
	entry = rules.RoundPrice(entry)
	stop := rules.RoundPrice(sig.StopLoss)
	if entry == stop {
		return nil, fmt.Errorf("%s failed: %w: entry equals stop after rounding", op, ports.ErrSizing)
	}
	tps := make([]float64, 0, len(sig.TakeProfits))
	for _, tp := range sig.TakeProfits {
		tps = append(tps, rules.RoundPrice(tp))
	}
	tps = domain.NormalizeTakeProfits(sig.Direction, entry, tps)

	qty := rules.FloorQty(sizing.Quantity)
	if rules.MinQty > 0 && qty < rules.MinQty {
		p.logger.Warn(ctx, op+": quantity raised to venue minimum", map[string]interface{}{
			"symbol": sig.TradingPair, "quantity": qty, "minQty": rules.MinQty,
		})
		qty = rules.MinQty
	}
	if rules.MaxQty > 0 && qty > rules.MaxQty {
		qty = rules.MaxQty
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%s failed: %w: quantity rounds to zero", op, ports.ErrSizing)
	}

	lev := p.guardLeverage(ctx, sig, sizing.Leverage, balance, qty*entry)

	req := ports.OrderRequest{
		Symbol:      sig.TradingPair,
		Side:        sig.Direction.EntrySide(),
		Type:        ports.OrderTypeLimit,
		Quantity:    qty,
		Price:       entry,
		TimeInForce: ports.TimeInForceGTC,
		LinkID:      uuid.NewString(),
	}
	if entryType == domain.EntryMarket {
		req.TimeInForce = ports.TimeInForceIOC
	}
	if p.exchange.SupportsEmbeddedStopLoss() {
		req.StopLoss = stop
	}

	placed, lev, err := p.submitEntry(ctx, req, lev)
	if err != nil {
		p.logger.Error(ctx, err, op+": entry order failed", fields)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	p.metrics.OrderPlaced(string(domain.OrderTypeEntry))

	now := p.now()
	trade := &domain.Trade{
		MessageID:      sig.MessageID,
		Channel:        sig.Channel,
		TradingPair:    sig.TradingPair,
		Leverage:       lev,
		EntryPrice:     entry,
		StopLoss:       stop,
		TakeProfits:    tps,
		RiskPercentage: riskPct,
		Quantity:       qty,
		Direction:      sig.Direction,
		Exchange:       p.exchange.Name(),
		AccountName:    p.cfg.AccountName,
		OrderID:        placed.OrderID,
		OrderLinkID:    req.LinkID,
		EntryOrderType: entryType,
		Status:         domain.TradeStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.cfg.EntryTimeout),
	}
	entryOrder := &domain.Order{
		OrderType: domain.OrderTypeEntry,
		OrderID:   placed.OrderID,
		Price:     entry,
		Quantity:  qty,
		Status:    domain.OrderStatusPending,
	}
	if err := p.persist(ctx, trade, entryOrder); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	p.metrics.TradeOpened(trade.Channel)
	p.logger.Info(ctx, op+": trade opened", tradeFields(trade, map[string]interface{}{
		"orderID": placed.OrderID, "quantity": qty, "entry": entry, "stopLoss": stop, "leverage": lev,
	}))

	status := p.entryStatus(ctx, trade, placed)
	if status.HasFill() {
		return trade, p.onImmediateFill(ctx, trade, entryOrder, placed)
	}
	if status == ports.ExchangeStatusCancelled || status == ports.ExchangeStatusExpired || status == ports.ExchangeStatusRejected {
		p.logger.Warn(ctx, op+": entry not filled, trade cancelled", tradeFields(trade, map[string]interface{}{"orderStatus": status}))
		return trade, p.cancelUnfilled(ctx, trade, entryOrder)
	}

	// Resting entry: protect the position as soon as it opens.
	if !p.exchange.SupportsEmbeddedStopLoss() {
		if err := p.stops.place(ctx, trade); err != nil {
			p.logger.Error(ctx, err, op+": stop-loss deferred to monitor", tradeFields(trade))
		}
	}
	return trade, nil
}

// guardLeverage lowers leverage when combined same-side exposure is likely to
// breach the venue limit.
func (p *OrderPlacer) guardLeverage(ctx context.Context, sig domain.Signal, lev, balance, notional float64) float64 {
	in := risk.ExposureInput{Balance: balance, Leverage: lev, NewNotional: notional}
	side := sig.Direction.EntrySide()
	if positions, err := p.exchange.GetPositions(ctx, sig.TradingPair); err == nil {
		for _, pos := range positions {
			if pos.IsOpen() && pos.Side == side {
				in.PositionNotional += pos.Notional()
			}
			if pos.MaxNotionalValue > 0 {
				in.VenueMaxNotional = pos.MaxNotionalValue
			}
		}
	}
	if open, err := p.exchange.GetOpenOrders(ctx, sig.TradingPair, ""); err == nil {
		for _, o := range open {
			if o.Side == side && !o.ReduceOnly && o.StopPrice == 0 {
				in.PendingNotional += (o.Quantity - o.ExecutedQty) * o.Price
			}
		}
	}
	adjusted, reduced := p.guard.Adjust(in)
	if reduced {
		p.metrics.LeverageReduced()
		p.logger.Warn(ctx, "Leverage reduced by exposure guard", map[string]interface{}{
			"symbol": sig.TradingPair, "from": lev, "to": adjusted,
			"combinedNotional": in.PositionNotional + in.PendingNotional + in.NewNotional, "limit": p.guard.Limit(in),
		})
	}
	return adjusted
}

func (p *OrderPlacer) applyLeverage(ctx context.Context, symbol string, lev float64) {
	if err := p.exchange.SetLeverage(ctx, symbol, lev); err != nil {
		p.logger.Warn(ctx, "SetLeverage failed, submitting anyway", map[string]interface{}{"symbol": symbol, "leverage": lev, "error": err.Error()})
	}
}

// submitEntry submits req at lev and, on a position-limit rejection carrying a
// lower suggested leverage, retries exactly once at that leverage.
func (p *OrderPlacer) submitEntry(ctx context.Context, req ports.OrderRequest, lev float64) (*ports.ExchangeOrder, float64, error) {
	p.applyLeverage(ctx, req.Symbol, lev)
	placed, err := p.exchange.SubmitOrder(ctx, req)
	if err == nil {
		return placed, lev, nil
	}
	if !errors.Is(err, ports.ErrPositionLimit) {
		return nil, lev, err
	}

	suggested, ok := risk.ParseSuggestedLeverage(err.Error())
	if !ok || suggested >= lev {
		p.metrics.LeverageRetry(false)
		return nil, lev, fmt.Errorf("no lower leverage to retry with (current %v): %w", lev, err)
	}
	p.metrics.LeverageRetry(true)
	p.logger.Warn(ctx, "Position limit hit, retrying with suggested leverage", map[string]interface{}{
		"symbol": req.Symbol, "from": lev, "to": suggested,
	})
	lev = suggested
	p.applyLeverage(ctx, req.Symbol, lev)
	placed, err = p.exchange.SubmitOrder(ctx, req)
	if err != nil {
		return nil, lev, fmt.Errorf("retry at leverage %v: %w", lev, err)
	}
	return placed, lev, nil
}

// persist stores the trade with its entry order. The exchange order already
// exists, so a failed entry-row insert is logged rather than returned.
func (p *OrderPlacer) persist(ctx context.Context, t *domain.Trade, entry *domain.Order) error {
	id, err := p.trades.InsertTradeWithEntry(ctx, t, entry)
	if err == nil {
		t.ID = id
		entry.TradeID = id
		return nil
	}
	if errors.Is(err, ports.ErrPairBusy) {
		// Another trade claimed the pair after the duplicate check; withdraw the entry.
		fields := map[string]interface{}{"symbol": t.TradingPair, "orderID": t.OrderID}
		if cerr := p.exchange.CancelOrder(ctx, t.TradingPair, t.OrderID); cerr != nil {
			p.logger.Error(ctx, cerr, "Entry placed but pair became busy, cancel failed and order left untracked", fields)
			return err
		}
		p.logger.Warn(ctx, "Entry placed but pair became busy, entry cancelled", fields)
		return err
	}
	p.logger.Warn(ctx, "Atomic trade insert failed, inserting trade alone", map[string]interface{}{"symbol": t.TradingPair, "error": err.Error()})
	id, err = p.trades.InsertTrade(ctx, t)
	if err != nil {
		p.logger.Error(ctx, err, "Entry placed but trade could not be stored", map[string]interface{}{
			"symbol": t.TradingPair, "orderID": t.OrderID,
		})
		return err
	}
	t.ID = id
	entry.TradeID = id
	if entry.ID, err = p.orders.InsertOrder(ctx, entry); err != nil {
		p.logger.Error(ctx, err, "Failed to record entry order", tradeFields(t, map[string]interface{}{"orderID": t.OrderID}))
	}
	return nil
}

// entryStatus returns the submitted status, refreshed from order history
// when the submission response did not show a fill.
func (p *OrderPlacer) entryStatus(ctx context.Context, t *domain.Trade, placed *ports.ExchangeOrder) ports.ExchangeOrderStatus {
	if placed.Status.HasFill() || placed.ExecutedQty > 0 {
		return ports.ExchangeStatusFilled
	}
	hist, err := p.exchange.GetOrderHistory(ctx, ports.OrderQuery{Symbol: t.TradingPair, OrderID: placed.OrderID})
	if err != nil {
		p.logger.Debug(ctx, "Entry status query failed", tradeFields(t, map[string]interface{}{"error": err.Error()}))
		return placed.Status
	}
	for _, o := range hist {
		if o.OrderID != placed.OrderID {
			continue
		}
		if o.ExecutedQty > 0 {
			placed.Status, placed.ExecutedQty, placed.AvgPrice = ports.ExchangeStatusFilled, o.ExecutedQty, o.AvgPrice
			return ports.ExchangeStatusFilled
		}
		placed.Status = o.Status
		return o.Status
	}
	return placed.Status
}

// onImmediateFill activates the trade, sets the position stop and places
// take-profits against the actual fill price.
func (p *OrderPlacer) onImmediateFill(ctx context.Context, t *domain.Trade, entry *domain.Order, placed *ports.ExchangeOrder) error {
	now := p.now()
	fillPrice := placed.FillPrice()
	if fillPrice <= 0 {
		fillPrice = t.EntryPrice
	}
	upd := domain.TradeUpdate{
		Status:        domain.Ptr(domain.TradeStatusActive),
		EntryPrice:    domain.Ptr(fillPrice),
		EntryFilledAt: domain.Ptr(now),
	}
	if placed.ExecutedQty > 0 && placed.ExecutedQty < t.Quantity-1e-12 {
		upd.Quantity = domain.Ptr(placed.ExecutedQty)
	}
	if err := p.trades.UpdateTrade(ctx, t.ID, upd); err != nil {
		p.logger.Error(ctx, err, "Failed to mark trade active", tradeFields(t))
	}
	t.Apply(upd)
	if entry.ID > 0 {
		if err := p.orders.UpdateOrder(ctx, entry.ID, domain.OrderUpdate{
			Status: domain.Ptr(domain.OrderStatusFilled), FilledAt: domain.Ptr(now), FilledPrice: domain.Ptr(fillPrice),
		}); err != nil {
			p.logger.Error(ctx, err, "Failed to mark entry order filled", tradeFields(t))
		}
	}

	if err := p.stops.ensure(ctx, t); err != nil {
		p.logger.Error(ctx, err, "Stop-loss not set after fill, monitor will retry", tradeFields(t))
	}
	if _, err := p.takeProfit.Place(ctx, t, fillPrice); err != nil && !errors.Is(err, ports.ErrNoTakeProfits) {
		p.logger.Error(ctx, err, "Take-profit placement failed after fill", tradeFields(t))
	}
	return nil
}

// cancelUnfilled marks a trade whose entry never filled as cancelled.
func (p *OrderPlacer) cancelUnfilled(ctx context.Context, t *domain.Trade, entry *domain.Order) error {
	upd := domain.TradeUpdate{Status: domain.Ptr(domain.TradeStatusCancelled)}
	if err := p.trades.UpdateTrade(ctx, t.ID, upd); err != nil {
		return fmt.Errorf("cancel unfilled trade %d: %w", t.ID, err)
	}
	t.Apply(upd)
	if entry.ID > 0 {
		if err := p.orders.UpdateOrder(ctx, entry.ID, domain.OrderUpdate{Status: domain.Ptr(domain.OrderStatusCancelled)}); err != nil {
			p.logger.Warn(ctx, "Failed to mark entry order cancelled", tradeFields(t, map[string]interface{}{"error": err.Error()}))
		}
	}
	p.metrics.TradeClosed(string(domain.TradeStatusCancelled))
	return nil
}
