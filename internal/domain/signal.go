package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Signal is a normalized order extracted from a channel message.
type Signal struct {
	MessageID      string
	Channel        string
	TradingPair    string
	Direction      Direction
	EntryOrderType EntryOrderType
	EntryPrice     float64 // May be zero for market entries
	StopLoss       float64
	TakeProfits    []float64
	Leverage       float64 // Zero falls back to the configured base leverage
	RiskPercentage float64 // Zero falls back to the configured default
}

// Validate checks the fields every new trade requires.
func (s *Signal) Validate() error {
	var errs []error
	if strings.TrimSpace(s.TradingPair) == "" {
		errs = append(errs, errors.New("trading pair is required"))
	}
	if !s.Direction.Valid() {
		errs = append(errs, fmt.Errorf("direction %q is not long or short", s.Direction))
	}
	if s.StopLoss <= 0 {
		errs = append(errs, errors.New("stop loss must be positive"))
	}
	if s.EntryOrderType != EntryMarket && s.EntryPrice <= 0 {
		errs = append(errs, errors.New("limit entry requires a positive entry price"))
	}
	if s.EntryPrice > 0 {
		switch {
		case s.EntryPrice == s.StopLoss:
			errs = append(errs, errors.New("entry price equals stop loss"))
		case s.Direction == DirectionLong && s.StopLoss > s.EntryPrice:
			errs = append(errs, errors.New("long stop loss must be below entry"))
		case s.Direction == DirectionShort && s.StopLoss < s.EntryPrice:
			errs = append(errs, errors.New("short stop loss must be above entry"))
		}
	}
	if s.RiskPercentage < 0 || s.RiskPercentage > 100 {
		errs = append(errs, fmt.Errorf("risk percentage %.4f outside 0-100", s.RiskPercentage))
	}
	if s.Leverage < 0 {
		errs = append(errs, errors.New("leverage cannot be negative"))
	}
	return errors.Join(errs...)
}
