package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"signalTradeBot/internal/adapters/simexchange"
	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"
	"signalTradeBot/internal/precision"
	"signalTradeBot/internal/risk"

	"github.com/stretchr/testify/require"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// memStore is an in-memory TradeRepository and OrderRepository with the same
// constraints as the sqlite schema.
type memStore struct {
	mu          sync.Mutex
	trades      map[int64]*domain.Trade
	orders      map[int64]*domain.Order
	nextTradeID int64
	nextOrderID int64
	updateErr   error
	// hideOpen makes FindOpenByPair miss, as when another writer claims the
	// pair between the lookup and the insert.
	hideOpen bool
}

func newMemStore() *memStore {
	return &memStore{trades: make(map[int64]*domain.Trade), orders: make(map[int64]*domain.Order)}
}

func (s *memStore) InsertTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTradeLocked(trade)
}

func (s *memStore) insertTradeLocked(trade *domain.Trade) (int64, error) {
	if !trade.Status.IsTerminal() {
		for _, t := range s.trades {
			if t.TradingPair == trade.TradingPair && !t.Status.IsTerminal() {
				return 0, fmt.Errorf("insert trade: %w", ports.ErrPairBusy)
			}
		}
	}
	s.nextTradeID++
	trade.ID = s.nextTradeID
	if trade.Status == "" {
		trade.Status = domain.TradeStatusPending
	}
	cp := *trade
	cp.TakeProfits = append([]float64(nil), trade.TakeProfits...)
	s.trades[trade.ID] = &cp
	return trade.ID, nil
}

func (s *memStore) InsertTradeWithEntry(ctx context.Context, trade *domain.Trade, entry *domain.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.insertTradeLocked(trade)
	if err != nil {
		return 0, err
	}
	entry.TradeID = id
	if _, err := s.insertOrderLocked(entry); err != nil {
		delete(s.trades, id)
		return 0, err
	}
	return id, nil
}

func (s *memStore) UpdateTrade(ctx context.Context, id int64, u domain.TradeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	t, ok := s.trades[id]
	if !ok {
		return fmt.Errorf("update trade %d: %w", id, ports.ErrNotFound)
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("update trade %d: %w", id, ports.ErrTradeTerminal)
	}
	t.Apply(u)
	return nil
}

func (s *memStore) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	return s.GetTradesByStatus(ctx, domain.OpenTradeStatuses...)
}

func (s *memStore) GetTradesByStatus(ctx context.Context, statuses ...domain.TradeStatus) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.TradeStatus]bool)
	for _, st := range statuses {
		want[st] = true
	}
	var out []*domain.Trade
	for _, t := range s.trades {
		if want[t.Status] {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FindOpenByPair(ctx context.Context, pair string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideOpen {
		return nil, nil
	}
	for _, t := range s.trades {
		if t.TradingPair == pair && !t.Status.IsTerminal() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) InsertOrder(ctx context.Context, order *domain.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertOrderLocked(order)
}

func (s *memStore) insertOrderLocked(order *domain.Order) (int64, error) {
	if order.OrderType == domain.OrderTypeTakeProfit {
		for _, o := range s.orders {
			if o.TradeID == order.TradeID && o.OrderType == domain.OrderTypeTakeProfit && o.TPIndex == order.TPIndex {
				return 0, fmt.Errorf("insert order: %w", ports.ErrDuplicateEntry)
			}
		}
	}
	s.nextOrderID++
	order.ID = s.nextOrderID
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	cp := *order
	s.orders[order.ID] = &cp
	return order.ID, nil
}

func (s *memStore) UpdateOrder(ctx context.Context, id int64, u domain.OrderUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("update order %d: %w", id, ports.ErrNotFound)
	}
	o.Apply(u)
	return nil
}

func (s *memStore) GetOrdersByTradeID(ctx context.Context, tradeID int64) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.TradeID == tradeID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ordersOfType(tradeID int64, typ domain.OrderType) []*domain.Order {
	all, _ := s.GetOrdersByTradeID(context.Background(), tradeID)
	var out []*domain.Order
	for _, o := range all {
		if o.OrderType == typ {
			out = append(out, o)
		}
	}
	return out
}

func (s *memStore) trade(t *testing.T, id int64) *domain.Trade {
	t.Helper()
	tr, err := s.GetTrade(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, tr)
	return tr
}

// scriptExchange is the simulated venue with per-method overrides.
type scriptExchange struct {
	*simexchange.Exchange
	mu          sync.Mutex
	submitCalls int
	submitFn    func(req ports.OrderRequest) (*ports.ExchangeOrder, error)
	tickerFn    func(symbol string) (float64, error)
	positionsFn func(symbol string) ([]*domain.Position, error)
	historyFn   func(q ports.OrderQuery) ([]*ports.ExchangeOrder, error)
	openFn      func(symbol, orderID string) ([]*ports.ExchangeOrder, error)
}

func (s *scriptExchange) SubmitOrder(ctx context.Context, req ports.OrderRequest) (*ports.ExchangeOrder, error) {
	s.mu.Lock()
	s.submitCalls++
	fn := s.submitFn
	s.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return s.Exchange.SubmitOrder(ctx, req)
}

func (s *scriptExchange) SubmitBatchOrders(ctx context.Context, reqs []ports.OrderRequest) ([]ports.BatchResult, error) {
	out := make([]ports.BatchResult, len(reqs))
	for i, req := range reqs {
		o, err := s.SubmitOrder(ctx, req)
		out[i] = ports.BatchResult{Order: o, Err: err}
	}
	return out, nil
}

func (s *scriptExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	if s.tickerFn != nil {
		return s.tickerFn(symbol)
	}
	return s.Exchange.GetTickerPrice(ctx, symbol)
}

func (s *scriptExchange) GetPositions(ctx context.Context, symbol string) ([]*domain.Position, error) {
	if s.positionsFn != nil {
		return s.positionsFn(symbol)
	}
	return s.Exchange.GetPositions(ctx, symbol)
}

func (s *scriptExchange) GetOrderHistory(ctx context.Context, q ports.OrderQuery) ([]*ports.ExchangeOrder, error) {
	if s.historyFn != nil {
		return s.historyFn(q)
	}
	return s.Exchange.GetOrderHistory(ctx, q)
}

func (s *scriptExchange) GetOpenOrders(ctx context.Context, symbol, orderID string) ([]*ports.ExchangeOrder, error) {
	if s.openFn != nil {
		return s.openFn(symbol, orderID)
	}
	return s.Exchange.GetOpenOrders(ctx, symbol, orderID)
}

const testSymbol = "BTCUSDT"

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness wires every engine component against the simulated venue.
type harness struct {
	logger   *mockLogger
	store    *memStore
	sim      *simexchange.Exchange
	exchange *scriptExchange
	clock    *testClock
	placer   *OrderPlacer
	monitor  *TradeMonitor
}

func newHarness(t *testing.T, breakevenAfter int) *harness {
	t.Helper()
	h := &harness{logger: &mockLogger{}, store: newMemStore(), clock: newTestClock()}
	h.sim = simexchange.New(nil, "USDT", 10000, simexchange.WithClock(h.clock.Now))
	h.sim.AddInstrument(domain.Instrument{
		Symbol: testSymbol, PricePrecision: 2, TickSize: 0.01, QtyPrecision: 2, QtyStep: 0.01, MinOrderQty: 0.01, MaxOrderQty: 1000,
	})
	h.sim.SetPrice(testSymbol, 100)
	h.exchange = &scriptExchange{Exchange: h.sim}

	deps := Deps{Logger: h.logger, Exchange: h.exchange, Trades: h.store, Orders: h.store, Now: h.clock.Now}
	prec := precision.NewAdapter(h.exchange, h.logger)
	tp, err := NewTakeProfitPlacer(deps, prec, true)
	require.NoError(t, err)
	h.placer, err = NewOrderPlacer(PlacerConfig{
		QuoteCoin:             "USDT",
		AccountName:           "test",
		DefaultRiskPercentage: 1,
		EntryTimeout:          time.Hour,
	}, deps, risk.NewPositionSizer(1), risk.NewExposureGuard(0.8), prec, tp)
	require.NoError(t, err)
	h.monitor, err = NewTradeMonitor(MonitorConfig{
		Channel:              "alpha",
		PollInterval:         time.Second,
		ErrorBackoffMax:      time.Minute,
		BreakevenAfterTPs:    breakevenAfter,
		SymbolFailureLimit:   3,
		SymbolCooldownCycles: 2,
	}, deps, NewReconciler(h.logger, h.exchange), tp)
	require.NoError(t, err)
	return h
}

func longSignal(entryType domain.EntryOrderType, entry float64, tps ...float64) domain.Signal {
	return domain.Signal{
		MessageID:      "m-1",
		Channel:        "alpha",
		TradingPair:    testSymbol,
		Direction:      domain.DirectionLong,
		EntryOrderType: entryType,
		EntryPrice:     entry,
		StopLoss:       95,
		TakeProfits:    tps,
		Leverage:       10,
		RiskPercentage: 1,
	}
}

func (h *harness) cycle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.monitor.RunCycle(context.Background()))
}
