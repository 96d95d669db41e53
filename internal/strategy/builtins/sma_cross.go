package builtins

import (
	"fmt"

	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It matches
// on BUY when the short-period SMA crosses above the long-period SMA, and on
// SELL when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma_cross_<short>_<long>".
func (s *SMACross) Name() string {
	return fmt.Sprintf("sma_cross_%d_%d", s.shortPeriod, s.longPeriod)
}

func (s *SMACross) Requires() []string {
	return []string{s.shortCol(), s.longCol()}
}

func (s *SMACross) Supports(_ domain.Side) bool { return true }

// Match compares the two averages on the previous and current bar.
func (s *SMACross) Match(side domain.Side, c strategy.Context) bool {
	p, ok1 := values(c.Back(1), s.shortCol(), s.longCol())
	l, ok2 := values(c.Last(), s.shortCol(), s.longCol())
	if !ok1 || !ok2 {
		return false
	}
	switch side {
	case domain.SideBuy:
		return crossedAbove(p[0], p[1], l[0], l[1])
	case domain.SideSell:
		return crossedBelow(p[0], p[1], l[0], l[1])
	}
	return false
}

func (s *SMACross) shortCol() string { return fmt.Sprintf("sma_%d", s.shortPeriod) }
func (s *SMACross) longCol() string  { return fmt.Sprintf("sma_%d", s.longPeriod) }

// smaCrossoverTrading buys a close back above SMA5 inside a rising
// SMA10 > SMA20 > SMA60 stack on a bullish, heavier-volume bar.
func smaCrossoverTrading() strategy.Strategy {
	cols := []string{"sma_5", "sma_10", "sma_20", "sma_60"}
	return &strategy.Funcs{
		ID:         "sma_crossover_trading",
		Indicators: cols,
		Buy: func(c strategy.Context) bool {
			last, prev := c.Last(), c.Back(1)
			l, ok1 := values(last, cols...)
			p, ok2 := values(prev, cols...)
			if !ok1 || !ok2 {
				return false
			}
			stacked := l[1] > l[2] && l[2] > l[3]
			crossover := prev.Close <= p[0] && last.Close > l[0]
			rising := l[1] > p[1] && l[2] > p[2] && l[3] > p[3]
			bullish := last.Close > last.Open
			volume := last.Volume > prev.Volume
			return stacked && crossover && rising && bullish && volume
		},
	}
}
