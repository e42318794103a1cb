package app

import (
	"context"
	"errors"
	"fmt"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"
	"signalTradeBot/internal/precision"

	"github.com/google/uuid"
)

// TakeProfitPlacer places the reduce-only take-profit orders of an entered trade.
type TakeProfitPlacer struct {
	logger    ports.Logger
	exchange  ports.ExchangeClient
	orders    ports.OrderRepository
	precision *precision.Adapter
	metrics   *metrics.Metrics
	batch     bool
}

// NewTakeProfitPlacer creates a TakeProfitPlacer. With batch set, multiple
// levels go out in one SubmitBatchOrders call, falling back to single orders.
func NewTakeProfitPlacer(deps Deps, prec *precision.Adapter, batch bool) (*TakeProfitPlacer, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if prec == nil {
		return nil, fmt.Errorf("%w: precision adapter is required", ports.ErrConfigurationError)
	}
	return &TakeProfitPlacer{
		logger:    deps.Logger,
		exchange:  deps.Exchange,
		orders:    deps.Orders,
		precision: prec,
		metrics:   deps.Metrics,
		batch:     batch,
	}, nil
}

type tpPlan struct {
	index int // 1-based position in trade.TakeProfits
	price float64
	qty   float64
}

// Place places every take-profit level not yet recorded for the trade and
// returns how many orders were placed. fillPrice is the actual entry fill;
// levels it leaves on the losing side are dropped. When every level is
// dropped this way the position is closed at market and ErrNoTakeProfits is
// returned.
func (p *TakeProfitPlacer) Place(ctx context.Context, t *domain.Trade, fillPrice float64) (int, error) {
	op := "PlaceTakeProfits"
	if len(t.TakeProfits) == 0 {
		p.logger.Warn(ctx, op+": trade has no take-profit levels", tradeFields(t))
		return 0, nil
	}

	existing, err := p.orders.GetOrdersByTradeID(ctx, t.ID)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", op, err)
	}
	placed := make(map[int]bool)
	for _, o := range existing {
		if o.OrderType == domain.OrderTypeTakeProfit {
			placed[o.TPIndex] = true
		}
	}
	if len(placed) > 0 {
		p.logger.Debug(ctx, op+": take-profits already recorded", tradeFields(t, map[string]interface{}{"recorded": len(placed)}))
	}

	dir := t.ResolvedDirection()
	ref := fillPrice
	if ref <= 0 {
		ref = t.EntryPrice
	}
	var prices []float64
	var indexes []int
	for i, tp := range t.TakeProfits {
		if (dir == domain.DirectionLong && tp > ref) || (dir == domain.DirectionShort && tp < ref) {
			prices = append(prices, tp)
			indexes = append(indexes, i+1)
		}
	}
	if len(prices) == 0 {
		p.logger.Error(ctx, ports.ErrNoTakeProfits, op+": slippage invalidated every take-profit, closing position", tradeFields(t, map[string]interface{}{
			"fillPrice": ref, "takeProfits": t.TakeProfits,
		}))
		if err := p.closePosition(ctx, t); err != nil {
			return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrNoTakeProfits, err)
		}
		return 0, ports.ErrNoTakeProfits
	}
	if dropped := len(t.TakeProfits) - len(prices); dropped > 0 {
		p.logger.Warn(ctx, op+": take-profits invalidated by entry slippage", tradeFields(t, map[string]interface{}{"dropped": dropped, "fillPrice": ref}))
	}

	rules := p.precision.Resolve(ctx, t.TradingPair, ref, t.Quantity*ref)
	levels := precision.Distribute(t.Quantity, prices, rules)
	if len(levels) == 0 {
		p.logger.Warn(ctx, op+": no take-profit level meets the minimum order size", tradeFields(t, map[string]interface{}{
			"quantity": t.Quantity, "minQty": rules.MinQty, "levels": len(prices),
		}))
		return 0, nil
	}

	var plans []tpPlan
	for _, lvl := range levels {
		idx := indexes[lvl.Index-1]
		if placed[idx] {
			continue
		}
		plans = append(plans, tpPlan{index: idx, price: lvl.Price, qty: lvl.Quantity})
	}
	if len(plans) == 0 {
		return 0, nil
	}

	reqs := make([]ports.OrderRequest, len(plans))
	for i, pl := range plans {
		reqs[i] = ports.OrderRequest{
			Symbol:      t.TradingPair,
			Side:        dir.ExitSide(),
			Type:        ports.OrderTypeLimit,
			Quantity:    pl.qty,
			Price:       pl.price,
			TimeInForce: ports.TimeInForceGTC,
			ReduceOnly:  true,
			LinkID:      uuid.NewString(),
		}
	}

	results := p.submit(ctx, reqs)
	count := 0
	for i, res := range results {
		pl := plans[i]
		fields := tradeFields(t, map[string]interface{}{"tpIndex": pl.index, "price": pl.price, "quantity": pl.qty})
		if res.Err != nil || res.Order == nil {
			p.logger.Warn(ctx, op+": take-profit rejected", fields)
			continue
		}
		fields["orderID"] = res.Order.OrderID
		_, err := p.orders.InsertOrder(ctx, &domain.Order{
			TradeID:   t.ID,
			OrderType: domain.OrderTypeTakeProfit,
			OrderID:   res.Order.OrderID,
			Price:     pl.price,
			TPIndex:   pl.index,
			Quantity:  pl.qty,
			Status:    domain.OrderStatusPending,
		})
		if errors.Is(err, ports.ErrDuplicateEntry) {
			p.logger.Warn(ctx, op+": take-profit already recorded, cancelling duplicate", fields)
			if cerr := p.exchange.CancelOrder(ctx, t.TradingPair, res.Order.OrderID); cerr != nil && !isNotFound(cerr) {
				p.logger.Error(ctx, cerr, op+": failed to cancel duplicate take-profit", fields)
			}
			continue
		}
		if err != nil {
			p.logger.Error(ctx, err, op+": failed to record take-profit", fields)
		}
		count++
		p.metrics.OrderPlaced(string(domain.OrderTypeTakeProfit))
	}

	switch {
	case count == 0:
		err := fmt.Errorf("%s failed: %w: none of %d take-profits placed", op, ports.ErrOrderPlacementFailed, len(plans))
		p.logger.Error(ctx, err, op+": position is protected by its stop-loss only", tradeFields(t))
		return 0, err
	case count < len(plans):
		p.logger.Warn(ctx, op+": some take-profits failed", tradeFields(t, map[string]interface{}{"placed": count, "wanted": len(plans)}))
	default:
		p.logger.Info(ctx, op+" successful", tradeFields(t, map[string]interface{}{"placed": count}))
	}
	return count, nil
}

func (p *TakeProfitPlacer) submit(ctx context.Context, reqs []ports.OrderRequest) []ports.BatchResult {
	if p.batch && len(reqs) > 1 {
		results, err := p.exchange.SubmitBatchOrders(ctx, reqs)
		if err == nil && len(results) == len(reqs) {
			return results
		}
		p.logger.Warn(ctx, "Batch submission failed, placing take-profits one by one", map[string]interface{}{"symbol": reqs[0].Symbol, "error": fmt.Sprint(err)})
	}
	results := make([]ports.BatchResult, len(reqs))
	for i, req := range reqs {
		o, err := p.exchange.SubmitOrder(ctx, req)
		results[i] = ports.BatchResult{Order: o, Err: err}
	}
	return results
}

// closePosition exits the whole trade quantity with a reduce-only market order.
func (p *TakeProfitPlacer) closePosition(ctx context.Context, t *domain.Trade) error {
	_, err := p.exchange.SubmitOrder(ctx, ports.OrderRequest{
		Symbol:     t.TradingPair,
		Side:       t.ResolvedDirection().ExitSide(),
		Type:       ports.OrderTypeMarket,
		Quantity:   t.Quantity,
		ReduceOnly: true,
		LinkID:     uuid.NewString(),
	})
	if err != nil {
		p.logger.Error(ctx, err, "Failed to close unprotected position", tradeFields(t))
		return err
	}
	p.logger.Warn(ctx, "Position closed at market", tradeFields(t))
	return nil
}
