package simulation

import (
	"context"
	"errors"
	"sync"
	"time"

	"signalTradeBot/internal/adapters/simexchange"
	"signalTradeBot/internal/app"
	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"
	"signalTradeBot/internal/utils"
)

// Clock is the simulated time source shared by the engine and the venue.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock; it never goes backwards.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Result summarises a replay.
type Result struct {
	Steps        int
	Submitted    int
	Rejected     int
	Undelivered  int // signals scheduled after the last price point
	CycleErrors  int
	FinalBalance float64
}

// Runner replays a price path, delivering signals when their time comes and
// running one engine cycle per price point.
type Runner struct {
	logger   ports.Logger
	engine   *app.Engine
	exchange *simexchange.Exchange
	clock    *Clock
	defaults func(domain.Signal) domain.Signal
}

// NewRunner creates a Runner. defaults may be nil.
func NewRunner(logger ports.Logger, engine *app.Engine, exchange *simexchange.Exchange, clock *Clock, defaults func(domain.Signal) domain.Signal) *Runner {
	if defaults == nil {
		defaults = func(s domain.Signal) domain.Signal { return s }
	}
	return &Runner{logger: logger, engine: engine, exchange: exchange, clock: clock, defaults: defaults}
}

// Run replays path. Rejected signals and failed cycles are logged and
// counted; only context cancellation stops the run early.
func (r *Runner) Run(ctx context.Context, signals []ScheduledSignal, path []utils.PricePoint) (*Result, error) {
	res := &Result{}
	next := 0
	for i, p := range path {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.clock.Set(p.Time)
		r.exchange.SetPrice(p.Symbol, p.Price)

		// Deliver signals only once every symbol sharing this timestamp is priced.
		if i+1 < len(path) && path[i+1].Time.Equal(p.Time) {
			continue
		}
		for next < len(signals) && !signals[next].At.After(p.Time) {
			r.submit(ctx, signals[next].Signal, res)
			next++
		}

		if err := r.engine.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return res, err
			}
			res.CycleErrors++
			r.logger.Warn(ctx, "Simulation cycle failed", map[string]interface{}{
				"time": p.Time.Format(time.RFC3339), "error": err.Error(),
			})
		}
		res.Steps++
	}
	res.Undelivered = len(signals) - next
	res.FinalBalance = r.exchange.Balance()
	return res, nil
}

func (r *Runner) submit(ctx context.Context, sig domain.Signal, res *Result) {
	sig = r.defaults(sig)
	trade, err := r.engine.Submit(ctx, sig)
	if err != nil {
		res.Rejected++
		r.logger.Warn(ctx, "Simulated signal rejected", map[string]interface{}{
			"messageID": sig.MessageID, "symbol": sig.TradingPair, "channel": sig.Channel, "error": err.Error(),
		})
		return
	}
	res.Submitted++
	r.logger.Info(ctx, "Simulated signal placed", map[string]interface{}{
		"messageID": sig.MessageID, "tradeID": trade.ID, "status": trade.Status,
	})
}
