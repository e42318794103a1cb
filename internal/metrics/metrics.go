// Package metrics holds the Prometheus collectors updated by the trade engine:
//   - bot_trades_opened_total{channel}        trades persisted by intake
//   - bot_trades_closed_total{status}         trades reaching a terminal status
//   - bot_orders_placed_total{type}           orders accepted by the venue
//   - bot_leverage_retries_total{result}      position-limit retries (retried|exhausted)
//   - bot_leverage_reductions_total           proactive exposure-guard reductions
//   - bot_monitor_cycle_errors_total{channel} failed trade evaluations
//   - bot_monitor_cycle_seconds{channel}      duration of one monitor cycle
//   - bot_open_trades{channel}                open trades seen by the last cycle
//
// All methods are safe on a nil *Metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the engine collectors.
type Metrics struct {
	tradesOpened       *prometheus.CounterVec
	tradesClosed       *prometheus.CounterVec
	ordersPlaced       *prometheus.CounterVec
	leverageRetries    *prometheus.CounterVec
	leverageReductions prometheus.Counter
	cycleErrors        *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec
	openTrades         *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tradesOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_trades_opened_total",
				Help: "Trades persisted by intake",
			},
			[]string{"channel"},
		),
		tradesClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_trades_closed_total",
				Help: "Trades reaching a terminal status",
			},
			[]string{"status"},
		),
		ordersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_orders_placed_total",
				Help: "Orders accepted by the exchange",
			},
			[]string{"type"},
		),
		leverageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_leverage_retries_total",
				Help: "Entry placements rejected for position limit, by retry result",
			},
			[]string{"result"}, // retried|exhausted
		),
		leverageReductions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_leverage_reductions_total",
				Help: "Leverage reductions applied before submission by the exposure guard",
			},
		),
		cycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_monitor_cycle_errors_total",
				Help: "Trade evaluations that failed within a monitor cycle",
			},
			[]string{"channel"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_monitor_cycle_seconds",
				Help:    "Duration of one monitor cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		openTrades: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bot_open_trades",
				Help: "Open trades processed by the last monitor cycle",
			},
			[]string{"channel"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.tradesOpened, m.tradesClosed, m.ordersPlaced,
			m.leverageRetries, m.leverageReductions,
			m.cycleErrors, m.cycleDuration, m.openTrades,
		)
	}
	return m
}

func (m *Metrics) TradeOpened(channel string) {
	if m == nil {
		return
	}
	m.tradesOpened.WithLabelValues(channel).Inc()
}

func (m *Metrics) TradeClosed(status string) {
	if m == nil {
		return
	}
	m.tradesClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) OrderPlaced(orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(orderType).Inc()
}

// LeverageRetry records a position-limit rejection; retried is false when no retry was possible.
func (m *Metrics) LeverageRetry(retried bool) {
	if m == nil {
		return
	}
	result := "exhausted"
	if retried {
		result = "retried"
	}
	m.leverageRetries.WithLabelValues(result).Inc()
}

func (m *Metrics) LeverageReduced() {
	if m == nil {
		return
	}
	m.leverageReductions.Inc()
}

func (m *Metrics) CycleError(channel string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(channel).Inc()
}

// CycleDone records one monitor cycle.
func (m *Metrics) CycleDone(channel string, seconds float64, open int) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(channel).Observe(seconds)
	m.openTrades.WithLabelValues(channel).Set(float64(open))
}
