// Package builtins provides the strategy catalogue that ships with quantsim.
package builtins

import (
	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	rsi := NewRSI(14, 30, 70)
	mfi := NewMFI(14, 20, 80)

	for _, s := range []strategy.Strategy{
		rsi,
		mfi,
		strategy.All("rsi+mfi", rsi, mfi),
		macdTrading(),
		stochasticTrading(),
		NewSMACross(5, 20),
		smaCrossoverTrading(),
		largeVolume(),
		williamsTrading(),
		trendlineBreakout(),
		emaBreakSell(5),
		emaBreakSell(10),
		emaBreakSell(20),
		emaCrossSell(5, 10),
		topReversalSell(),
		shouldSell(),
		downtrendSell(),
		breakPrevLow(),
		horizontalLowSell(),
		supportBreakSell(),
	} {
		r.Register(s)
	}
}

// NewRegistry returns a registry pre-populated with the built-ins.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

// values reads several indicators from b; ok is false if any is absent.
func values(b domain.AnnotatedBar, names ...string) ([]float64, bool) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := b.Value(n)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func crossedAbove(prevA, prevB, a, b float64) bool { return prevA <= prevB && a > b }
func crossedBelow(prevA, prevB, a, b float64) bool { return prevA >= prevB && a < b }
