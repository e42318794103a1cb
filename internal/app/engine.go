package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"

	"golang.org/x/sync/errgroup"
)

// Engine runs one independent monitor loop per channel and routes new
// signals to the order placer.
type Engine struct {
	logger      ports.Logger
	placer      *OrderPlacer
	monitors    []*TradeMonitor
	stopTimeout time.Duration

	running atomic.Bool
	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewEngine creates an Engine. placer may be nil when trades are created elsewhere.
func NewEngine(logger ports.Logger, placer *OrderPlacer, stopTimeout time.Duration, monitors ...*TradeMonitor) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required", ports.ErrConfigurationError)
	}
	if len(monitors) == 0 {
		return nil, fmt.Errorf("%w: at least one channel monitor is required", ports.ErrConfigurationError)
	}
	seen := make(map[string]bool, len(monitors))
	for _, m := range monitors {
		if seen[m.Channel()] {
			return nil, fmt.Errorf("%w: duplicate monitor for channel %q", ports.ErrConfigurationError, m.Channel())
		}
		seen[m.Channel()] = true
	}
	return &Engine{logger: logger, placer: placer, monitors: monitors, stopTimeout: stopTimeout}, nil
}

// IsRunning reports whether Run is active.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Run blocks until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running.Load() {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop, e.done, e.cancel = stop, done, cancel
	e.running.Store(true)
	e.mu.Unlock()
	defer func() {
		e.running.Store(false)
		cancel()
		close(done)
	}()

	e.logger.Info(ctx, "Engine starting", map[string]interface{}{"channels": len(e.monitors)})
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range e.monitors {
		m := m
		g.Go(func() error {
			return m.Run(gctx, stop)
		})
	}
	err := g.Wait()
	e.logger.Info(ctx, "Engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop asks every loop to finish its current cycle and waits up to the stop
// timeout. In-flight calls are cancelled only once the timeout has passed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	stop, done, cancel := e.stop, e.done, e.cancel
	if stop == nil || !e.running.Load() {
		e.mu.Unlock()
		return nil
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
	e.mu.Unlock()

	if e.stopTimeout <= 0 {
		<-done
		return nil
	}
	timer := time.NewTimer(e.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		cancel()
		return fmt.Errorf("engine stop: %w: cycles still running after %s", ports.ErrTimeout, e.stopTimeout)
	}
}

// Cycle runs one cycle of every monitor in order. Used by accelerated
// simulation to interleave price updates with evaluation.
func (e *Engine) Cycle(ctx context.Context) error {
	var errs []error
	for _, m := range e.monitors {
		if err := m.RunCycle(ctx); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", m.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// Submit opens a trade for sig.
func (e *Engine) Submit(ctx context.Context, sig domain.Signal) (*domain.Trade, error) {
	if e.placer == nil {
		return nil, fmt.Errorf("%w: engine has no order placer", ports.ErrConfigurationError)
	}
	return e.placer.Initiate(ctx, sig)
}
