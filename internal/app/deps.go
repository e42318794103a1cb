package app

import (
	"errors"
	"fmt"
	"time"

	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/metrics"
	"signalTradeBot/internal/ports"
)

// Deps are the collaborators shared by the engine components.
type Deps struct {
	Logger   ports.Logger
	Exchange ports.ExchangeClient
	Trades   ports.TradeRepository
	Orders   ports.OrderRepository
	Metrics  *metrics.Metrics // optional
	Now      func() time.Time // optional, defaults to time.Now
}

func (d *Deps) validate() error {
	if d.Logger == nil || d.Exchange == nil || d.Trades == nil || d.Orders == nil {
		return fmt.Errorf("%w: logger, exchange and repositories are required", ports.ErrConfigurationError)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return nil
}

// fieldScoper is a logger that can carry fixed fields on every line.
type fieldScoper interface {
	With(fields map[string]interface{}) ports.Logger
}

// forChannel returns a copy of d whose logger tags every line with channel.
func (d Deps) forChannel(channel string) Deps {
	if l, ok := d.Logger.(fieldScoper); ok {
		d.Logger = l.With(map[string]interface{}{"channel": channel})
	}
	return d
}

func tradeFields(t *domain.Trade, extra ...map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"tradeID": t.ID,
		"symbol":  t.TradingPair,
		"channel": t.Channel,
		"status":  t.Status,
	}
	for _, m := range extra {
		for k, v := range m {
			f[k] = v
		}
	}
	return f
}

// estimatePnL values a full exit at exit without fees.
func estimatePnL(dir domain.Direction, entry, exit, qty float64) float64 {
	if entry <= 0 || exit <= 0 {
		return 0
	}
	return (exit - entry) * qty * dir.Sign()
}

func isNotFound(err error) bool {
	return errors.Is(err, ports.ErrOrderNotFound)
}
