package precision

import "math"

// Level is one take-profit slice to place.
type Level struct {
	Index    int // 1-based position in the original take-profit list
	Price    float64
	Quantity float64
}

// Split divides total into n levels floored to the rules' unit. The first
// level absorbs the residual so the slice sums to total.
func Split(total float64, n int, r Rules) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{total}
	}
	each := r.FloorQty(total / float64(n))
	out := make([]float64, n)
	rest := 0.0
	for i := 1; i < n; i++ {
		out[i] = each
		rest += each
	}
	out[0] = roundTo(total-rest, qtyDecimals(r))
	return out
}

// Distribute splits total across the take-profit prices and returns the
// levels to place. Levels below MinQty are first topped up from levels with
// spare quantity; when there is not enough spare, the farthest level is
// dropped and the total re-split over the rest. Levels above MaxQty are
// floored to it. An empty result means nothing should be placed.
func Distribute(total float64, prices []float64, r Rules) []Level {
	if total <= 0 || len(prices) == 0 {
		return nil
	}
	levels := make([]Level, len(prices))
	for i, p := range prices {
		levels[i] = Level{Index: i + 1, Price: p}
	}

	for len(levels) > 0 {
		qtys := Split(total, len(levels), r)
		for i := range levels {
			levels[i].Quantity = qtys[i]
		}
		if fillShortfalls(levels, r) {
			break
		}
		levels = levels[:len(levels)-1]
	}

	if r.MaxQty > 0 {
		for i := range levels {
			if levels[i].Quantity > r.MaxQty {
				levels[i].Quantity = r.MaxQty
			}
		}
	}
	return levels
}

// fillShortfalls lifts every level below the minimum using spare quantity from
// the others. It reports false when the spare cannot cover the shortfall.
func fillShortfalls(levels []Level, r Rules) bool {
	minQty := r.MinQty
	var deficit, surplus float64
	for _, l := range levels {
		switch {
		case l.Quantity <= 0 || l.Quantity < minQty:
			need := minQty - l.Quantity
			if minQty <= 0 {
				need = math.Inf(1)
			}
			deficit += need
		default:
			surplus += l.Quantity - minQty
		}
	}
	if deficit == 0 {
		return true
	}
	if math.IsInf(deficit, 1) || surplus+floorEpsilon < deficit {
		return false
	}

	d := qtyDecimals(r)
	remaining := deficit
	for i := range levels {
		if levels[i].Quantity < minQty {
			levels[i].Quantity = minQty
		}
	}
	for i := range levels {
		if remaining <= 0 {
			break
		}
		spare := levels[i].Quantity - minQty
		if spare <= 0 {
			continue
		}
		take := math.Min(spare, remaining)
		levels[i].Quantity = roundTo(levels[i].Quantity-take, d)
		remaining -= take
	}
	return true
}

func qtyDecimals(r Rules) int {
	d := r.QtyPrecision
	if s := Decimals(r.QtyStep); r.QtyStep > 0 && s > d {
		d = s
	}
	return d
}
