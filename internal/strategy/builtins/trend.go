package builtins

import (
	"fmt"

	"quantsim/internal/strategy"
)

// emaBreakSell sells when the close drops below EMA(period).
func emaBreakSell(period int) strategy.Strategy {
	col := fmt.Sprintf("ema_%d", period)
	return &strategy.Funcs{
		ID:         fmt.Sprintf("sell_on_%dema_break", period),
		Indicators: []string{col},
		Sell: func(c strategy.Context) bool {
			ema, ok := c.Last().Value(col)
			return ok && c.Last().Close < ema
		},
	}
}

// emaCrossSell sells on a dead cross of EMA(short) under EMA(long).
func emaCrossSell(short, long int) strategy.Strategy {
	s, l := fmt.Sprintf("ema_%d", short), fmt.Sprintf("ema_%d", long)
	return &strategy.Funcs{
		ID:         fmt.Sprintf("ema_cross_sell_%dshort_%dlong", short, long),
		Indicators: []string{s, l},
		Sell: func(c strategy.Context) bool {
			p, ok1 := values(c.Back(1), s, l)
			n, ok2 := values(c.Last(), s, l)
			return ok1 && ok2 && p[0] > p[1] && n[0] < n[1]
		},
	}
}

// topReversalSell sells when EMA5 is under EMA10 and the close is under EMA5.
func topReversalSell() strategy.Strategy {
	return &strategy.Funcs{
		ID:         "top_reversal_sell_trading",
		Indicators: []string{"ema_5", "ema_10"},
		Sell: func(c strategy.Context) bool {
			v, ok := values(c.Last(), "ema_5", "ema_10")
			return ok && v[0] < v[1] && v[0] > c.Last().Close
		},
	}
}

// shouldSell sells an EMA10/EMA20 dead cross while EMA10, EMA20 and EMA55
// are all flat or falling.
func shouldSell() strategy.Strategy {
	cols := []string{"ema_10", "ema_20", "ema_55"}
	return &strategy.Funcs{
		ID:         "should_sell",
		Indicators: cols,
		Sell: func(c strategy.Context) bool {
			p, ok1 := values(c.Back(1), cols...)
			l, ok2 := values(c.Last(), cols...)
			if !ok1 || !ok2 {
				return false
			}
			deadCross := p[0] > p[1] && l[0] < l[1]
			falling := l[0] <= p[0] && l[1] <= p[1] && l[2] <= p[2]
			return deadCross && falling
		},
	}
}

// largeVolume buys a volume spike above three times the prior 20-bar average.
func largeVolume() strategy.Strategy {
	return &strategy.Funcs{
		ID:         "detect_large_volume_trades",
		Indicators: []string{"volume_sma_20"},
		Buy: func(c strategy.Context) bool {
			last, prev := c.Last(), c.Back(1)
			avg, ok := prev.Value("volume_sma_20")
			return ok && float64(last.Volume) > avg*3 && last.Volume > prev.Volume
		},
	}
}
