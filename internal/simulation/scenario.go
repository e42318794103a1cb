// Package simulation replays scripted signals and a price path through the
// engine against the in-memory exchange.
package simulation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"signalTradeBot/internal/adapters/simexchange"
	"signalTradeBot/internal/domain"
	"signalTradeBot/internal/ports"
)

const defaultChannel = "sim"

// Scenario is the TOML description of a simulation run.
type Scenario struct {
	Balance          float64          `toml:"balance"`
	QuoteCoin        string           `toml:"quote_coin"`
	EmbeddedStopLoss bool             `toml:"embedded_stop_loss"`
	Instruments      []InstrumentSpec `toml:"instrument"`
	Signals          []SignalSpec     `toml:"signal"`
}

// InstrumentSpec lists a symbol on the simulated venue.
type InstrumentSpec struct {
	Symbol         string  `toml:"symbol"`
	PricePrecision int     `toml:"price_precision"`
	TickSize       float64 `toml:"tick_size"`
	QtyPrecision   int     `toml:"qty_precision"`
	QtyStep        float64 `toml:"qty_step"`
	MinQty         float64 `toml:"min_qty"`
	MaxQty         float64 `toml:"max_qty"`
	NotionalCap    float64 `toml:"notional_cap"` // with max_leverage, a position-limit bracket
	MaxLeverage    float64 `toml:"max_leverage"`
}

// SignalSpec is one signal delivered at a point in simulated time.
type SignalSpec struct {
	At             time.Time `toml:"at"`
	MessageID      string    `toml:"message_id"`
	Channel        string    `toml:"channel"`
	Pair           string    `toml:"pair"`
	Direction      string    `toml:"direction"`
	EntryType      string    `toml:"entry_type"`
	Entry          float64   `toml:"entry"`
	StopLoss       float64   `toml:"stop_loss"`
	TakeProfits    []float64 `toml:"take_profits"`
	Leverage       float64   `toml:"leverage"`
	RiskPercentage float64   `toml:"risk_percentage"`
}

// ScheduledSignal is a signal with its delivery time.
type ScheduledSignal struct {
	At     time.Time
	Signal domain.Signal
}

// LoadScenario decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	var s Scenario
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario %s: %w", path, err)
	}
	return s.normalize()
}

// ParseScenario decodes a scenario from TOML text.
func ParseScenario(data string) (*Scenario, error) {
	var s Scenario
	if _, err := toml.Decode(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return s.normalize()
}

func (s *Scenario) normalize() (*Scenario, error) {
	if s.QuoteCoin == "" {
		s.QuoteCoin = "USDT"
	}
	if s.Balance <= 0 {
		return nil, fmt.Errorf("scenario balance must be positive")
	}
	if len(s.Instruments) == 0 {
		return nil, fmt.Errorf("scenario lists no instruments")
	}
	for i := range s.Instruments {
		s.Instruments[i].Symbol = strings.ToUpper(s.Instruments[i].Symbol)
		if s.Instruments[i].Symbol == "" {
			return nil, fmt.Errorf("instrument #%d has no symbol", i+1)
		}
	}
	for i := range s.Signals {
		if s.Signals[i].Channel == "" {
			s.Signals[i].Channel = defaultChannel
		}
	}
	return s, nil
}

// Exchange builds the simulated venue the scenario describes.
func (s *Scenario) Exchange(logger ports.Logger, opts ...simexchange.Option) *simexchange.Exchange {
	if s.EmbeddedStopLoss {
		opts = append(opts, simexchange.WithEmbeddedStopLoss())
	}
	ex := simexchange.New(logger, s.QuoteCoin, s.Balance, opts...)
	for _, in := range s.Instruments {
		ex.AddInstrument(domain.Instrument{
			Symbol:         in.Symbol,
			PricePrecision: in.PricePrecision,
			TickSize:       in.TickSize,
			QtyPrecision:   in.QtyPrecision,
			QtyStep:        in.QtyStep,
			MinOrderQty:    in.MinQty,
			MaxOrderQty:    in.MaxQty,
		})
		if in.NotionalCap > 0 && in.MaxLeverage > 0 {
			ex.SetLeverageBracket(in.Symbol, in.NotionalCap, in.MaxLeverage)
		}
	}
	return ex
}

// Schedule converts the signal specs, ordered by delivery time.
func (s *Scenario) Schedule() ([]ScheduledSignal, error) {
	out := make([]ScheduledSignal, 0, len(s.Signals))
	for i, spec := range s.Signals {
		dir := domain.Direction(strings.ToLower(spec.Direction))
		if !dir.Valid() {
			return nil, fmt.Errorf("signal #%d: direction %q is not long or short", i+1, spec.Direction)
		}
		entryType := domain.EntryOrderType(strings.ToLower(spec.EntryType))
		switch entryType {
		case "":
			entryType = domain.EntryLimit
			if spec.Entry == 0 {
				entryType = domain.EntryMarket
			}
		case domain.EntryLimit, domain.EntryMarket:
		default:
			return nil, fmt.Errorf("signal #%d: entry type %q is not limit or market", i+1, spec.EntryType)
		}
		msgID := spec.MessageID
		if msgID == "" {
			msgID = fmt.Sprintf("sim-%d", i+1)
		}
		out = append(out, ScheduledSignal{
			At: spec.At,
			Signal: domain.Signal{
				MessageID:      msgID,
				Channel:        spec.Channel,
				TradingPair:    strings.ToUpper(spec.Pair),
				Direction:      dir,
				EntryOrderType: entryType,
				EntryPrice:     spec.Entry,
				StopLoss:       spec.StopLoss,
				TakeProfits:    spec.TakeProfits,
				Leverage:       spec.Leverage,
				RiskPercentage: spec.RiskPercentage,
			},
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Channels returns the distinct channels the signals come from.
func (s *Scenario) Channels() []string {
	seen := make(map[string]bool)
	var names []string
	for _, spec := range s.Signals {
		if !seen[spec.Channel] {
			seen[spec.Channel] = true
			names = append(names, spec.Channel)
		}
	}
	sort.Strings(names)
	return names
}
