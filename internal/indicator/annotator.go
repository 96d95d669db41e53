// Package indicator enriches bar series with technical indicator columns.
package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"quantsim/internal/domain"
)

// Annotator turns bars into annotated bars. Implementations must be pure:
// the same bars and names always produce the same output.
type Annotator interface {
	Annotate(bars []domain.Bar, names []string) ([]domain.AnnotatedBar, error)
}

// Compile-time interface check.
var _ Annotator = (*Standard)(nil)

// Standard computes indicators by name. Parameterized names take the form
// <kind>_<period> (ema_5, sma_20, wma_10, rsi_14, mfi_14, volume_sma_20).
// Composite names expand into several columns:
//
//	macd   -> macd, macd_signal, macd_hist   (12, 26, 9)
//	stoch  -> stoch_k, stoch_d               (14, 3)
//	bb     -> bb_upper, bb_middle, bb_lower  (20, 2σ)
//	pivot  -> pivot, pivot_r1, pivot_s1, pivot_r2, pivot_s2
type Standard struct{}

// NewStandard returns the default annotator.
func NewStandard() *Standard { return &Standard{} }

// Annotate computes every requested indicator once over the full series.
func (s *Standard) Annotate(bars []domain.Bar, names []string) ([]domain.AnnotatedBar, error) {
	n := len(bars)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]int64, n)
	volf := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closes[i] = b.High, b.Low, b.Close
		volume[i] = b.Volume
		volf[i] = float64(b.Volume)
	}

	cols := make(map[string][]float64)
	for _, name := range dedupe(names) {
		switch name {
		case "macd":
			cols["macd"], cols["macd_signal"], cols["macd_hist"] = MACD(closes, 12, 26, 9)
			continue
		case "stoch":
			cols["stoch_k"], cols["stoch_d"] = Stochastic(high, low, closes, 14, 3)
			continue
		case "bb":
			cols["bb_upper"], cols["bb_middle"], cols["bb_lower"] = Bollinger(closes, 20, 2)
			continue
		case "pivot":
			p := FloorPivots(high, low, closes)
			cols["pivot"], cols["pivot_r1"], cols["pivot_s1"] = p.P, p.R1, p.S1
			cols["pivot_r2"], cols["pivot_s2"] = p.R2, p.S2
			continue
		}

		kind, period, err := splitName(name)
		if err != nil {
			return nil, err
		}
		switch kind {
		case "ema":
			cols[name] = EMA(closes, period)
		case "sma":
			cols[name] = SMA(closes, period)
		case "wma":
			cols[name] = WMA(closes, period)
		case "rsi":
			cols[name] = RSI(closes, period)
		case "mfi":
			cols[name] = MFI(high, low, closes, volume, period)
		case "volume_sma":
			cols[name] = SMA(volf, period)
		default:
			return nil, fmt.Errorf("unknown indicator %q", name)
		}
	}

	out := make([]domain.AnnotatedBar, n)
	for i, b := range bars {
		ind := make(map[string]float64, len(cols))
		for k, col := range cols {
			ind[k] = col[i]
		}
		out[i] = domain.AnnotatedBar{Bar: b, Indicators: ind}
	}
	return out, nil
}

// splitName parses "<kind>_<period>".
func splitName(name string) (string, int, error) {
	idx := strings.LastIndex(name, "_")
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, fmt.Errorf("unknown indicator %q", name)
	}
	period, err := strconv.Atoi(name[idx+1:])
	if err != nil || period <= 0 {
		return "", 0, fmt.Errorf("invalid period in indicator %q", name)
	}
	return name[:idx], period, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
