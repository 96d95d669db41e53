package strategy

import "quantsim/internal/domain"

// Default lookbacks for horizontal level detection.
const (
	DefaultLookbackPrev = 5
	DefaultLookbackNext = 5
)

// Levels are the confirmed horizontal support/resistance and the descending
// high trend line for a prefix. Nil means no confirmed level.
type Levels struct {
	Support    *float64
	Resistance *float64
	TrendLine  *float64
}

// HorizontalHighs returns the indices of bars whose High is the maximum of
// the window [i-prev, i+next] and did not appear in the prev bars before i.
func HorizontalHighs(series []domain.AnnotatedBar, prev, next int) []int {
	return extrema(series, prev, next, func(b domain.Bar) float64 { return b.High }, func(a, b float64) bool { return a > b })
}

// HorizontalLows is the Low counterpart of HorizontalHighs.
func HorizontalLows(series []domain.AnnotatedBar, prev, next int) []int {
	return extrema(series, prev, next, func(b domain.Bar) float64 { return b.Low }, func(a, b float64) bool { return a < b })
}

func extrema(series []domain.AnnotatedBar, prev, next int, value func(domain.Bar) float64, beats func(a, b float64) bool) []int {
	var out []int
	for i := prev; i+next < len(series); i++ {
		v := value(series[i].Bar)
		extreme := true
		for j := i - prev; j <= i+next; j++ {
			if beats(value(series[j].Bar), v) {
				extreme = false
				break
			}
		}
		if !extreme {
			continue
		}
		repeated := false
		for j := i - prev; j < i; j++ {
			if value(series[j].Bar) == v {
				repeated = true
				break
			}
		}
		if !repeated {
			out = append(out, i)
		}
	}
	return out
}

// confirmedBefore keeps indices strictly below len(series)-1-next. An empty
// result means the bound is not yet positive or nothing qualifies.
func confirmedBefore(idx []int, series []domain.AnnotatedBar, next int) []int {
	bound := len(series) - 1 - next
	if bound <= 0 {
		return nil
	}
	end := 0
	for end < len(idx) && idx[end] < bound {
		end++
	}
	return idx[:end]
}

// ConfirmedLevels computes the levels usable at the last bar of series.
func ConfirmedLevels(series []domain.AnnotatedBar, prev, next int) Levels {
	var lv Levels
	highs := confirmedBefore(HorizontalHighs(series, prev, next), series, next)
	lows := confirmedBefore(HorizontalLows(series, prev, next), series, next)

	if n := len(lows); n > 0 {
		v := series[lows[n-1]].Low
		lv.Support = &v
	}
	if n := len(highs); n > 0 {
		v := series[highs[n-1]].High
		lv.Resistance = &v
	}
	if n := len(highs); n > 1 {
		i1, i2 := highs[n-2], highs[n-1]
		h1, h2 := series[i1].High, series[i2].High
		cur := len(series) - 1
		v := h2 + (h2-h1)/float64(i2-i1)*float64(cur-i2)
		lv.TrendLine = &v
	}
	return lv
}
