package app

// symbolBreaker skips symbols that keep failing. It belongs to one monitor.
type symbolBreaker struct {
	limit     int
	cooldown  int
	cycle     int
	failures  map[string]int
	skipUntil map[string]int
}

func newSymbolBreaker(limit, cooldown int) *symbolBreaker {
	return &symbolBreaker{
		limit:     limit,
		cooldown:  cooldown,
		failures:  make(map[string]int),
		skipUntil: make(map[string]int),
	}
}

func (b *symbolBreaker) allow(symbol string) bool {
	until, ok := b.skipUntil[symbol]
	if !ok {
		return true
	}
	if b.cycle < until {
		return false
	}
	delete(b.skipUntil, symbol)
	return true
}

// failure records a failure and reports whether the symbol just tripped.
func (b *symbolBreaker) failure(symbol string) bool {
	if b.limit <= 0 {
		return false
	}
	b.failures[symbol]++
	if b.failures[symbol] < b.limit {
		return false
	}
	b.failures[symbol] = 0
	b.skipUntil[symbol] = b.cycle + 1 + b.cooldown
	return true
}

func (b *symbolBreaker) success(symbol string) {
	delete(b.failures, symbol)
}

func (b *symbolBreaker) nextCycle() {
	b.cycle++
}
