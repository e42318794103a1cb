package app

import (
	"fmt"
	"time"

	"signalTradeBot/internal/ports"
	"signalTradeBot/internal/precision"
	"signalTradeBot/internal/risk"
)

// ChannelSettings is one monitored channel. A zero PollInterval uses the
// monitor default.
type ChannelSettings struct {
	Name         string
	PollInterval time.Duration
}

// Settings collects everything BuildEngine needs beyond Deps.
type Settings struct {
	Placer                PlacerConfig
	BaseLeverage          float64
	ExposureGuardFraction float64
	BatchTakeProfits      bool
	Monitor               MonitorConfig // Channel and PollInterval are set per channel
	Channels              []ChannelSettings
	StopTimeout           time.Duration
}

// BuildEngine wires intake and one monitor per channel around deps.
func BuildEngine(s Settings, deps Deps) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if len(s.Channels) == 0 {
		return nil, fmt.Errorf("%w: no channels configured", ports.ErrConfigurationError)
	}

	prec := precision.NewAdapter(deps.Exchange, deps.Logger)
	takeProfit, err := NewTakeProfitPlacer(deps, prec, s.BatchTakeProfits)
	if err != nil {
		return nil, err
	}
	placer, err := NewOrderPlacer(s.Placer, deps,
		risk.NewPositionSizer(s.BaseLeverage), risk.NewExposureGuard(s.ExposureGuardFraction), prec, takeProfit)
	if err != nil {
		return nil, err
	}

	reconciler := NewReconciler(deps.Logger, deps.Exchange)
	monitors := make([]*TradeMonitor, 0, len(s.Channels))
	for _, ch := range s.Channels {
		cfg := s.Monitor
		cfg.Channel = ch.Name
		if ch.PollInterval > 0 {
			cfg.PollInterval = ch.PollInterval
		}
		m, err := NewTradeMonitor(cfg, deps.forChannel(ch.Name), reconciler, takeProfit)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		monitors = append(monitors, m)
	}
	return NewEngine(deps.Logger, placer, s.StopTimeout, monitors...)
}
