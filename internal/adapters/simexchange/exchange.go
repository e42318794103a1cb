// Package simexchange is an in-memory futures venue used by accelerated
// simulation runs and tests. Prices are driven explicitly with SetPrice.
package simexchange

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"github.com/google/uuid"
)

const name = "sim"

// order is a venue order plus the simulator's private trigger data.
type order struct {
	ports.ExchangeOrder
	embeddedStop  float64
	closePosition bool
	stopDir       domain.Direction
	seq           int
}

func (o *order) open() bool {
	return o.Status == ports.ExchangeStatusNew || o.Status == ports.ExchangeStatusUntriggered
}

type bracket struct {
	notionalCap float64
	maxLeverage float64
}

// Exchange implements ports.ExchangeClient in memory. Safe for concurrent use.
type Exchange struct {
	mu     sync.Mutex
	logger ports.Logger
	now    func() time.Time

	embeddedStop bool
	balances     map[string]float64
	quoteCoin    string
	instruments  map[string]*domain.Instrument
	prices       map[string]float64
	leverage     map[string]float64
	brackets     map[string]bracket
	orders       map[string]*order
	seq          int
	positions    map[string]*domain.Position
	closedPnL    []*ports.ClosedPnL
	executions   []*ports.Execution
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithClock overrides the time source used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithEmbeddedStopLoss makes SubmitOrder honour OrderRequest.StopLoss.
func WithEmbeddedStopLoss() Option {
	return func(e *Exchange) { e.embeddedStop = true }
}

// New creates a simulated venue holding balance in quoteCoin.
func New(logger ports.Logger, quoteCoin string, balance float64, opts ...Option) *Exchange {
	e := &Exchange{
		logger:      logger,
		now:         time.Now,
		balances:    map[string]float64{quoteCoin: balance},
		quoteCoin:   quoteCoin,
		instruments: make(map[string]*domain.Instrument),
		prices:      make(map[string]float64),
		leverage:    make(map[string]float64),
		brackets:    make(map[string]bracket),
		orders:      make(map[string]*order),
		positions:   make(map[string]*domain.Position),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddInstrument registers symbol metadata.
func (e *Exchange) AddInstrument(inst domain.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instruments[inst.Symbol] = &inst
}

// SetLeverageBracket rejects orders whose combined notional exceeds
// notionalCap while the symbol leverage is above maxLeverage.
func (e *Exchange) SetLeverageBracket(symbol string, notionalCap, maxLeverage float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.brackets[symbol] = bracket{notionalCap: notionalCap, maxLeverage: maxLeverage}
}

// SetPrice moves the market and triggers any resting orders it crosses.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
	e.matchLocked(symbol, price)
}

// Balance returns the current quote balance.
func (e *Exchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[e.quoteCoin]
}

// Name identifies the venue.
func (e *Exchange) Name() string { return name }

// SupportsEmbeddedStopLoss reports the WithEmbeddedStopLoss option.
func (e *Exchange) SupportsEmbeddedStopLoss() bool { return e.embeddedStop }

// GetWalletBalance returns the balance for coin.
func (e *Exchange) GetWalletBalance(_ context.Context, coin string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, ok := e.balances[coin]
	if !ok {
		return 0, fmt.Errorf("GetWalletBalance failed: %w: asset %s not found", ports.ErrNotFound, coin)
	}
	return bal, nil
}

// GetInstrument returns registered metadata or nil, nil.
func (e *Exchange) GetInstrument(_ context.Context, symbol string) (*domain.Instrument, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instruments[symbol]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

// GetTickerPrice returns the last price set for symbol.
func (e *Exchange) GetTickerPrice(_ context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("GetTickerPrice failed: %w: no price for %s", ports.ErrNotFound, symbol)
	}
	return p, nil
}

// SetLeverage records leverage for symbol.
func (e *Exchange) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	if leverage < 1 {
		return fmt.Errorf("SetLeverage failed: %w: leverage %v", ports.ErrInvalidRequest, leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	return nil
}

// SubmitOrder places an order, filling it at once when it is marketable.
func (e *Exchange) SubmitOrder(_ context.Context, req ports.OrderRequest) (*ports.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.submitLocked(req)
	if err != nil {
		return nil, err
	}
	cp := o.ExchangeOrder
	return &cp, nil
}

// SubmitBatchOrders submits each request in turn.
func (e *Exchange) SubmitBatchOrders(ctx context.Context, reqs []ports.OrderRequest) ([]ports.BatchResult, error) {
	out := make([]ports.BatchResult, len(reqs))
	for i, req := range reqs {
		o, err := e.SubmitOrder(ctx, req)
		out[i] = ports.BatchResult{Order: o, Err: err}
	}
	return out, nil
}

func (e *Exchange) submitLocked(req ports.OrderRequest) (*order, error) {
	op := "SubmitOrder"
	market, ok := e.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%s failed: %w: no market for %s", op, ports.ErrInvalidRequest, req.Symbol)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%s failed: %w: quantity must be positive", op, ports.ErrInvalidRequest)
	}
	if inst := e.instruments[req.Symbol]; inst != nil && inst.MinOrderQty > 0 && req.Quantity < inst.MinOrderQty-1e-12 {
		return nil, fmt.Errorf("%s failed: %w: quantity %v below minimum %v", op, ports.ErrInvalidRequest, req.Quantity, inst.MinOrderQty)
	}
	price := req.Price
	if req.Type == ports.OrderTypeMarket || price <= 0 {
		price = market
	}

	pos := e.positions[req.Symbol]
	if req.ReduceOnly {
		if !pos.IsOpen() || pos.Side == req.Side {
			return nil, fmt.Errorf("%s failed: %w: reduce-only order would increase position", op, ports.ErrOrderPlacementFailed)
		}
	} else {
		if err := e.checkLimitsLocked(req, price); err != nil {
			return nil, err
		}
	}

	e.seq++
	o := &order{
		ExchangeOrder: ports.ExchangeOrder{
			OrderID:    uuid.NewString(),
			LinkID:     req.LinkID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Type:       string(req.Type),
			Status:     ports.ExchangeStatusNew,
			Price:      price,
			Quantity:   req.Quantity,
			ReduceOnly: req.ReduceOnly,
			UpdatedAt:  e.now(),
		},
		seq: e.seq,
	}
	if e.embeddedStop && req.StopLoss > 0 {
		o.embeddedStop = req.StopLoss
	}
	e.orders[o.OrderID] = o

	if marketable(req.Side, price, market) {
		e.fillLocked(o, market)
	} else if req.Type == ports.OrderTypeMarket || req.TimeInForce == ports.TimeInForceIOC {
		o.Status = ports.ExchangeStatusCancelled
	}
	return o, nil
}

func (e *Exchange) checkLimitsLocked(req ports.OrderRequest, price float64) error {
	op := "SubmitOrder"
	lev := e.leverageLocked(req.Symbol)
	notional := req.Quantity * price
	combined := notional + e.sameSideExposureLocked(req.Symbol, req.Side)
	if b, ok := e.brackets[req.Symbol]; ok && combined > b.notionalCap && lev > b.maxLeverage {
		return fmt.Errorf("%s failed: %w: Exceeded the maximum allowable position at current leverage; max allowed leverage is %g",
			op, ports.ErrPositionLimit, b.maxLeverage)
	}
	if margin := notional / lev; margin > e.balances[e.quoteCoin] {
		return fmt.Errorf("%s failed: %w: margin %.2f exceeds balance", op, ports.ErrInsufficientFunds, margin)
	}
	return nil
}

func (e *Exchange) leverageLocked(symbol string) float64 {
	if lev := e.leverage[symbol]; lev >= 1 {
		return lev
	}
	return 1
}

func (e *Exchange) sameSideExposureLocked(symbol string, side domain.OrderSide) float64 {
	total := 0.0
	if pos := e.positions[symbol]; pos.IsOpen() && pos.Side == side {
		total += pos.Size * pos.EntryPrice
	}
	for _, o := range e.orders {
		if o.Symbol == symbol && o.open() && !o.ReduceOnly && !o.closePosition && o.Side == side {
			total += (o.Quantity - o.ExecutedQty) * o.Price
		}
	}
	return total
}

func marketable(side domain.OrderSide, limit, market float64) bool {
	if side == domain.Buy {
		return limit >= market
	}
	return limit <= market
}

// SetTradingStop places a stop that closes the whole position when crossed.
func (e *Exchange) SetTradingStop(_ context.Context, req ports.TradingStopRequest) (string, error) {
	op := "SetTradingStop"
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.StopLoss <= 0 || !req.Direction.Valid() {
		return "", fmt.Errorf("%s failed: %w: stop %v direction %q", op, ports.ErrInvalidRequest, req.StopLoss, req.Direction)
	}
	if market, ok := e.prices[req.Symbol]; ok && stopCrossed(req.Direction, req.StopLoss, market) {
		return "", fmt.Errorf("%s failed: %w: order would immediately trigger", op, ports.ErrInvalidRequest)
	}
	e.seq++
	o := &order{
		ExchangeOrder: ports.ExchangeOrder{
			OrderID:    uuid.NewString(),
			Symbol:     req.Symbol,
			Side:       req.Direction.ExitSide(),
			Type:       "STOP_MARKET",
			Status:     ports.ExchangeStatusUntriggered,
			Price:      req.StopLoss,
			StopPrice:  req.StopLoss,
			ReduceOnly: true,
			UpdatedAt:  e.now(),
		},
		closePosition: true,
		stopDir:       req.Direction,
		seq:           e.seq,
	}
	e.orders[o.OrderID] = o
	return o.OrderID, nil
}

func stopCrossed(dir domain.Direction, stop, price float64) bool {
	if dir == domain.DirectionShort {
		return price >= stop
	}
	return price <= stop
}

// CancelOrder cancels an open order.
func (e *Exchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Symbol != symbol || !o.open() {
		return fmt.Errorf("CancelOrder failed: %w: %s", ports.ErrOrderNotFound, orderID)
	}
	o.Status = ports.ExchangeStatusCancelled
	o.UpdatedAt = e.now()
	return nil
}

// GetOpenOrders lists resting orders for symbol.
func (e *Exchange) GetOpenOrders(_ context.Context, symbol, orderID string) ([]*ports.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*ports.ExchangeOrder
	for _, o := range e.sortedLocked(symbol) {
		if !o.open() || (orderID != "" && o.OrderID != orderID) {
			continue
		}
		cp := o.ExchangeOrder
		out = append(out, &cp)
	}
	return out, nil
}

// GetOrderHistory returns orders by id, by link id, or the most recent ones.
func (e *Exchange) GetOrderHistory(_ context.Context, q ports.OrderQuery) ([]*ports.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.sortedLocked(q.Symbol)
	var out []*ports.ExchangeOrder
	for i := len(all) - 1; i >= 0; i-- {
		o := all[i]
		if q.OrderID != "" && o.OrderID != q.OrderID {
			continue
		}
		if q.LinkID != "" && o.LinkID != q.LinkID {
			continue
		}
		cp := o.ExchangeOrder
		out = append(out, &cp)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// GetPositions returns the symbol's position row, flat or not.
func (e *Exchange) GetPositions(_ context.Context, symbol string) ([]*domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return []*domain.Position{}, nil
	}
	cp := *pos
	cp.MarkPrice = e.prices[symbol]
	cp.Leverage = e.leverageLocked(symbol)
	if cp.IsOpen() {
		cp.UnrealisedPnL = (cp.MarkPrice - cp.EntryPrice) * cp.Size * sideSign(cp.Side)
	}
	if b, ok := e.brackets[symbol]; ok && cp.Leverage > b.maxLeverage {
		cp.MaxNotionalValue = b.notionalCap
	}
	return []*domain.Position{&cp}, nil
}

// GetClosedPnL lists realised PnL records at or after since.
func (e *Exchange) GetClosedPnL(_ context.Context, symbol string, since time.Time) ([]*ports.ClosedPnL, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*ports.ClosedPnL
	for _, c := range e.closedPnL {
		if c.Symbol == symbol && !c.ClosedAt.Before(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetExecutions lists fills at or after since.
func (e *Exchange) GetExecutions(_ context.Context, symbol string, since time.Time) ([]*ports.Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*ports.Execution
	for _, x := range e.executions {
		if x.Symbol == symbol && !x.ExecutedAt.Before(since) {
			cp := *x
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (e *Exchange) sortedLocked(symbol string) []*order {
	out := make([]*order, 0, len(e.orders))
	for _, o := range e.orders {
		if symbol == "" || strings.EqualFold(o.Symbol, symbol) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// matchLocked triggers resting orders crossed by price, oldest first.
func (e *Exchange) matchLocked(symbol string, price float64) {
	for _, o := range e.sortedLocked(symbol) {
		if !o.open() {
			continue
		}
		switch {
		case o.closePosition:
			if stopCrossed(o.stopDir, o.StopPrice, price) {
				pos := e.positions[symbol]
				if !pos.IsOpen() || pos.Side != o.stopDir.EntrySide() {
					o.Status = ports.ExchangeStatusExpired
					continue
				}
				o.Quantity = pos.Size
				e.fillLocked(o, price)
			}
		case marketable(o.Side, o.Price, price):
			if o.ReduceOnly {
				pos := e.positions[symbol]
				if !pos.IsOpen() || pos.Side == o.Side {
					o.Status = ports.ExchangeStatusExpired
					continue
				}
			}
			e.fillLocked(o, o.Price)
		}
	}
}

func sideSign(s domain.OrderSide) float64 {
	if s == domain.Sell {
		return -1
	}
	return 1
}

// fillLocked executes o in full at price and updates the position.
func (e *Exchange) fillLocked(o *order, price float64) {
	now := e.now()
	qty := o.Quantity - o.ExecutedQty
	pos := e.positions[o.Symbol]
	if pos == nil {
		pos = &domain.Position{Symbol: o.Symbol}
		e.positions[o.Symbol] = pos
	}
	realised := 0.0
	if !pos.IsOpen() || pos.Side == o.Side {
		total := pos.Size + qty
		pos.EntryPrice = (pos.EntryPrice*pos.Size + price*qty) / total
		pos.Size = total
		pos.Side = o.Side
	} else {
		closed := math.Min(qty, pos.Size)
		realised = (price - pos.EntryPrice) * closed * sideSign(pos.Side)
		pos.Size -= closed
		qty = closed
		e.balances[e.quoteCoin] += realised
		e.closedPnL = append(e.closedPnL, &ports.ClosedPnL{
			Symbol:       o.Symbol,
			OrderID:      o.OrderID,
			AvgExitPrice: price,
			Quantity:     closed,
			PnL:          realised,
			ClosedAt:     now,
		})
		if pos.Size <= 1e-12 {
			pos.Size = 0
			pos.EntryPrice = 0
		}
	}
	o.ExecutedQty += qty
	o.AvgPrice = price
	o.Status = ports.ExchangeStatusFilled
	o.UpdatedAt = now
	e.executions = append(e.executions, &ports.Execution{
		Symbol:      o.Symbol,
		OrderID:     o.OrderID,
		Side:        o.Side,
		Price:       price,
		Quantity:    qty,
		RealisedPnL: realised,
		ExecutedAt:  now,
	})

	if o.embeddedStop > 0 && pos.IsOpen() {
		dir := domain.DirectionLong
		if pos.Side == domain.Sell {
			dir = domain.DirectionShort
		}
		e.seq++
		stop := &order{
			ExchangeOrder: ports.ExchangeOrder{
				OrderID:    uuid.NewString(),
				Symbol:     o.Symbol,
				Side:       dir.ExitSide(),
				Type:       "STOP_MARKET",
				Status:     ports.ExchangeStatusUntriggered,
				Price:      o.embeddedStop,
				StopPrice:  o.embeddedStop,
				ReduceOnly: true,
				UpdatedAt:  now,
			},
			closePosition: true,
			stopDir:       dir,
			seq:           e.seq,
		}
		e.orders[stop.OrderID] = stop
	}
	if e.logger != nil {
		e.logger.Debug(context.Background(), "Sim fill", map[string]interface{}{
			"symbol": o.Symbol, "orderID": o.OrderID, "side": o.Side, "price": price, "quantity": qty,
		})
	}
}
