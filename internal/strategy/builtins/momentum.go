package builtins

import (
	"fmt"

	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Oscillator)(nil)

// Oscillator trades threshold re-entries of a bounded indicator: buy when it
// climbs back above the low band, sell when it falls back below the high band.
type Oscillator struct {
	name   string
	column string
	low    float64
	high   float64
}

// NewRSI creates "rsi_trading" over RSI(period).
func NewRSI(period int, low, high float64) *Oscillator {
	return &Oscillator{name: "rsi_trading", column: fmt.Sprintf("rsi_%d", period), low: low, high: high}
}

// NewMFI creates "mfi_trading" over MFI(period).
func NewMFI(period int, low, high float64) *Oscillator {
	return &Oscillator{name: "mfi_trading", column: fmt.Sprintf("mfi_%d", period), low: low, high: high}
}

func (o *Oscillator) Name() string                 { return o.name }
func (o *Oscillator) Requires() []string           { return []string{o.column} }
func (o *Oscillator) Supports(_ domain.Side) bool { return true }

func (o *Oscillator) Match(side domain.Side, c strategy.Context) bool {
	prev, ok1 := c.Back(1).Value(o.column)
	cur, ok2 := c.Last().Value(o.column)
	if !ok1 || !ok2 {
		return false
	}
	switch side {
	case domain.SideBuy:
		return prev < o.low && cur >= o.low
	case domain.SideSell:
		return prev > o.high && cur <= o.high
	}
	return false
}

func macdTrading() strategy.Strategy {
	cols := []string{"macd", "macd_signal"}
	cross := func(up bool) strategy.Predicate {
		return func(c strategy.Context) bool {
			p, ok1 := values(c.Back(1), cols...)
			l, ok2 := values(c.Last(), cols...)
			if !ok1 || !ok2 {
				return false
			}
			if up {
				return crossedAbove(p[0], p[1], l[0], l[1])
			}
			return crossedBelow(p[0], p[1], l[0], l[1])
		}
	}
	return &strategy.Funcs{ID: "macd_trading", Indicators: []string{"macd"}, Buy: cross(true), Sell: cross(false)}
}

func stochasticTrading() strategy.Strategy {
	cols := []string{"stoch_k", "stoch_d"}
	return &strategy.Funcs{
		ID:         "stochastic_trading",
		Indicators: []string{"stoch"},
		Buy: func(c strategy.Context) bool {
			p, ok1 := values(c.Back(1), cols...)
			l, ok2 := values(c.Last(), cols...)
			return ok1 && ok2 && crossedAbove(p[0], p[1], l[0], l[1]) && l[0] < 20
		},
		Sell: func(c strategy.Context) bool {
			p, ok1 := values(c.Back(1), cols...)
			l, ok2 := values(c.Last(), cols...)
			return ok1 && ok2 && crossedBelow(p[0], p[1], l[0], l[1]) && l[0] > 80
		},
	}
}
