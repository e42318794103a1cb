package precision

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	maxDecimals  = 10
	floorEpsilon = 1e-9
)

// Decimals returns the number of significant decimal places in v, capped at 10.
func Decimals(v float64) int {
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	if d := len(s) - i - 1; d < maxDecimals {
		return d
	}
	return maxDecimals
}

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	return decimal.NewFromFloat(v).Round(int32(decimals)).InexactFloat64()
}

// RoundPrice rounds to the nearest tick when tickSize is usable, else to precision decimals.
func RoundPrice(value float64, precision int, tickSize float64) float64 {
	if tickSize > 0 && tickSize <= math.Abs(value) {
		tick := decimal.NewFromFloat(tickSize)
		return decimal.NewFromFloat(value).Div(tick).Round(0).Mul(tick).InexactFloat64()
	}
	return roundTo(value, precision)
}

// FloorQuantity floors to a multiple of step, or to precision decimals when step is unknown.
// It never rounds up.
func FloorQuantity(value float64, precision int, step float64) float64 {
	if value <= 0 {
		return 0
	}
	v := decimal.NewFromFloat(value)
	eps := decimal.NewFromFloat(floorEpsilon)
	if step > 0 {
		s := decimal.NewFromFloat(step)
		return v.Div(s).Add(eps).Floor().Mul(s).InexactFloat64()
	}
	if precision < 0 {
		precision = 0
	}
	return v.Shift(int32(precision)).Add(eps).Floor().Shift(-int32(precision)).InexactFloat64()
}
