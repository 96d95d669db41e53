package builtins

import (
	"testing"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/strategy"
)

func bar(i int, open, high, low, close float64, vol int64, ind map[string]float64) domain.AnnotatedBar {
	return domain.AnnotatedBar{
		Bar: domain.Bar{
			Symbol:    "X",
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      open, High: high, Low: low, Close: close, Volume: vol,
		},
		Indicators: ind,
	}
}

func ctx(bars ...domain.AnnotatedBar) strategy.Context {
	return strategy.Context{Series: bars}
}

func TestRegisterCatalogue(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"rsi_trading", "macd_trading", "mfi_trading", "stochastic_trading", "rsi+mfi",
		"sma_cross_5_20", "sma_crossover_trading", "detect_large_volume_trades",
		"williams_trading", "trendline_breakout_trading",
		"sell_on_5ema_break", "sell_on_10ema_break", "sell_on_20ema_break",
		"ema_cross_sell_5short_10long", "top_reversal_sell_trading", "should_sell",
		"downtrend_sell_trading", "break_prev_low", "horizontal_low_sell", "sell_on_support_break",
	} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("strategy %q not registered", name)
		}
	}
	if err := r.Validate(domain.SideSell, []string{"sell_on_5ema_break", "rsi_trading"}); err != nil {
		t.Errorf("Validate(SELL) = %v", err)
	}
	if err := r.Validate(domain.SideBuy, []string{"sell_on_5ema_break"}); err == nil {
		t.Error("sell-only strategy should not validate for BUY")
	}
}

func TestRSIThresholdCross(t *testing.T) {
	s := NewRSI(14, 30, 70)
	c := ctx(
		bar(0, 1, 1, 1, 1, 1, map[string]float64{"rsi_14": 40}),
		bar(1, 1, 1, 1, 1, 1, map[string]float64{"rsi_14": 25}),
		bar(2, 1, 1, 1, 1, 1, map[string]float64{"rsi_14": 31}),
	)
	if !s.Match(domain.SideBuy, c) {
		t.Error("RSI 25 -> 31 should match BUY")
	}
	if s.Match(domain.SideSell, c) {
		t.Error("RSI 25 -> 31 should not match SELL")
	}

	c = ctx(
		bar(0, 1, 1, 1, 1, 1, nil),
		bar(1, 1, 1, 1, 1, 1, map[string]float64{"rsi_14": 75}),
		bar(2, 1, 1, 1, 1, 1, map[string]float64{"rsi_14": 68}),
	)
	if !s.Match(domain.SideSell, c) {
		t.Error("RSI 75 -> 68 should match SELL")
	}
}

func TestEMABreakSell(t *testing.T) {
	s := emaBreakSell(5)
	below := ctx(
		bar(0, 10, 10, 10, 10, 1, nil),
		bar(1, 10, 10, 10, 10, 1, nil),
		bar(2, 10, 10, 9, 9, 1, map[string]float64{"ema_5": 9.5}),
	)
	if !s.Match(domain.SideSell, below) {
		t.Error("close under EMA5 should match")
	}
	warm := ctx(bar(0, 1, 1, 1, 1, 1, nil), bar(1, 1, 1, 1, 1, 1, nil), bar(2, 1, 1, 1, 1, 1, nil))
	if s.Match(domain.SideSell, warm) {
		t.Error("missing EMA should not match")
	}
}

func TestDowntrendSell(t *testing.T) {
	s := downtrendSell()
	// Upper shadow 4, body 1.
	c := ctx(bar(0, 1, 1, 1, 1, 1, nil), bar(1, 1, 1, 1, 1, 1, nil), bar(2, 10, 15, 9, 11, 1, nil))
	if !s.Match(domain.SideSell, c) {
		t.Error("long upper shadow should match")
	}
	c = ctx(bar(0, 1, 1, 1, 1, 1, nil), bar(1, 1, 1, 1, 1, 1, nil), bar(2, 10, 15.5, 9, 15, 1, nil))
	if s.Match(domain.SideSell, c) {
		t.Error("short upper shadow should not match")
	}
}

func TestHorizontalLowSellUsesConfirmedSupport(t *testing.T) {
	s := horizontalLowSell()
	support := 100.0
	c := strategy.Context{
		Series: []domain.AnnotatedBar{
			bar(0, 1, 1, 1, 1, 1, nil),
			bar(1, 101, 101, 101, 101, 1, nil),
			bar(2, 99, 99, 99, 99, 1, nil),
		},
		Levels: strategy.Levels{Support: &support},
	}
	if !s.Match(domain.SideSell, c) {
		t.Error("101 -> 99 through support 100 should match")
	}
	c.Levels = strategy.Levels{}
	if s.Match(domain.SideSell, c) {
		t.Error("no confirmed support should not match")
	}
}

func TestLargeVolume(t *testing.T) {
	s := largeVolume()
	c := ctx(
		bar(0, 1, 1, 1, 1, 100, nil),
		bar(1, 1, 1, 1, 1, 100, map[string]float64{"volume_sma_20": 100}),
		bar(2, 1, 1, 1, 1, 301, nil),
	)
	if !s.Match(domain.SideBuy, c) {
		t.Error("volume 301 over avg 100 should match")
	}
}

func TestSMACross(t *testing.T) {
	s := NewSMACross(5, 20)
	if s.Name() != "sma_cross_5_20" {
		t.Errorf("Name() = %q, want sma_cross_5_20", s.Name())
	}
	c := ctx(
		bar(0, 1, 1, 1, 1, 1, nil),
		bar(1, 1, 1, 1, 1, 1, map[string]float64{"sma_5": 9, "sma_20": 10}),
		bar(2, 1, 1, 1, 1, 1, map[string]float64{"sma_5": 11, "sma_20": 10}),
	)
	if !s.Match(domain.SideBuy, c) || s.Match(domain.SideSell, c) {
		t.Error("golden cross should match BUY only")
	}
}

func TestBreakPrevLow(t *testing.T) {
	s := breakPrevLow()
	bands := map[string]float64{"bb_upper": 110, "bb_middle": 100, "bb_lower": 90}
	c := ctx(
		bar(0, 1, 1, 1, 1, 1, nil),
		bar(1, 105, 105, 105, 105, 1, bands),
		bar(2, 99, 99, 99, 99, 1, bands),
	)
	if !s.Match(domain.SideSell, c) {
		t.Error("close from mid-upper zone under middle band should match")
	}
}
