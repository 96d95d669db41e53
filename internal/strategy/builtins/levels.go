package builtins

import "quantsim/internal/strategy"

// trendlineBreakout buys a bullish close through the confirmed resistance
// that also holds above EMA5.
func trendlineBreakout() strategy.Strategy {
	return &strategy.Funcs{
		ID:         "trendline_breakout_trading",
		Indicators: []string{"ema_5"},
		Buy: func(c strategy.Context) bool {
			r := c.Levels.Resistance
			if r == nil {
				return false
			}
			last, prev := c.Last(), c.Back(1)
			ema5, ok := last.Value("ema_5")
			return ok && last.Close > *r && *r >= prev.Close && last.Close > ema5 && last.Close > last.Open
		},
	}
}

// horizontalLowSell sells when the close breaks the confirmed support the
// previous close was still holding.
func horizontalLowSell() strategy.Strategy {
	return &strategy.Funcs{
		ID: "horizontal_low_sell",
		Sell: func(c strategy.Context) bool {
			s := c.Levels.Support
			return s != nil && c.Back(1).Close >= *s && *s > c.Last().Close
		},
	}
}

// supportBreakSell sells a bearish, heavier-volume close under the S2 floor
// pivot of the previous bar.
func supportBreakSell() strategy.Strategy {
	return &strategy.Funcs{
		ID:         "sell_on_support_break",
		Indicators: []string{"pivot"},
		Sell: func(c strategy.Context) bool {
			last, prev := c.Last(), c.Back(1)
			s2, ok := last.Value("pivot_s2")
			return ok && last.Close < s2 && last.Close < last.Open && last.Volume > prev.Volume
		},
	}
}
