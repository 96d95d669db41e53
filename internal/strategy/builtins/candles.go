package builtins

import (
	"math"

	"quantsim/internal/strategy"
)

// downtrendSell sells a bar whose upper shadow is at least as long as its body.
func downtrendSell() strategy.Strategy {
	return &strategy.Funcs{
		ID: "downtrend_sell_trading",
		Sell: func(c strategy.Context) bool {
			b := c.Last()
			upper := b.High - math.Max(b.Open, b.Close)
			body := math.Abs(b.Close - b.Open)
			return upper >= body
		},
	}
}

// williamsTrading buys a bullish bar that follows a bearish one and closes
// above its open by half of the previous range.
func williamsTrading() strategy.Strategy {
	return &strategy.Funcs{
		ID: "williams_trading",
		Buy: func(c strategy.Context) bool {
			last, prev := c.Last(), c.Back(1)
			return last.Close > last.Open+(prev.High-prev.Low)*0.5 && prev.Close < prev.Open
		},
	}
}

// breakPrevLow sells when the close falls out of the Bollinger zone the
// previous close was in: back under the upper band, through the middle band,
// or through the lower band.
func breakPrevLow() strategy.Strategy {
	cols := []string{"bb_upper", "bb_middle", "bb_lower"}
	return &strategy.Funcs{
		ID:         "break_prev_low",
		Indicators: []string{"bb"},
		Sell: func(c strategy.Context) bool {
			last, prev := c.Last(), c.Back(1)
			l, ok1 := values(last, cols...)
			p, ok2 := values(prev, cols...)
			if !ok1 || !ok2 {
				return false
			}
			switch {
			case prev.Close > p[0]:
				return last.Close < l[0]
			case prev.Close > p[1]:
				return last.Close < l[1]
			case prev.Close > p[2]:
				return last.Close < l[2]
			}
			return false
		},
	}
}
