package indicator

import "math"

// All functions in this file return a slice aligned with their input. Points
// that are still warming up are NaN.

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over period values.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average with alpha = 2/(period+1), seeded
// with the first value so it is defined from the first bar.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// WMA is the linearly weighted moving average; the newest value weighs most.
func WMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		out[i] = sum / denom
	}
	return out
}

// RSI is Wilder's relative strength index.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	ef := EMA(closes, fast)
	es := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = ef[i] - es[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Stochastic returns the fast %K over kPeriod and its dPeriod SMA (%D).
func Stochastic(high, low, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	k = nanSlice(len(closes))
	d = nanSlice(len(closes))
	if kPeriod <= 0 || dPeriod <= 0 {
		return k, d
	}
	for i := kPeriod - 1; i < len(closes); i++ {
		hh, ll := high[i], low[i]
		for j := i - kPeriod + 1; j < i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = (closes[i] - ll) / (hh - ll) * 100
	}
	for i := kPeriod - 1 + dPeriod - 1; i < len(closes); i++ {
		sum := 0.0
		for j := i - dPeriod + 1; j <= i; j++ {
			sum += k[j]
		}
		d[i] = sum / float64(dPeriod)
	}
	return k, d
}

// MFI is the money flow index over period bars.
func MFI(high, low, closes []float64, volume []int64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if period <= 0 || n <= period {
		return out
	}
	typical := make([]float64, n)
	for i := range closes {
		typical[i] = (high[i] + low[i] + closes[i]) / 3
	}
	for i := period; i < n; i++ {
		var pos, neg float64
		for j := i - period + 1; j <= i; j++ {
			flow := typical[j] * float64(volume[j])
			switch {
			case typical[j] > typical[j-1]:
				pos += flow
			case typical[j] < typical[j-1]:
				neg += flow
			}
		}
		if neg == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+pos/neg)
	}
	return out
}

// Bollinger returns upper, middle and lower bands using the sample standard
// deviation over period closes.
func Bollinger(closes []float64, period int, width float64) (upper, middle, lower []float64) {
	middle = SMA(closes, period)
	upper = nanSlice(len(closes))
	lower = nanSlice(len(closes))
	if period < 2 {
		return upper, middle, lower
	}
	for i := period - 1; i < len(closes); i++ {
		var ss float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - middle[i]
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(period-1))
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
	}
	return upper, middle, lower
}

// Pivots computes classic floor pivots for each bar from the previous bar.
type Pivots struct {
	P, R1, S1, R2, S2 []float64
}

func FloorPivots(high, low, closes []float64) Pivots {
	n := len(closes)
	p := Pivots{P: nanSlice(n), R1: nanSlice(n), S1: nanSlice(n), R2: nanSlice(n), S2: nanSlice(n)}
	for i := 1; i < n; i++ {
		h, l, c := high[i-1], low[i-1], closes[i-1]
		pp := (h + l + c) / 3
		p.P[i] = pp
		p.R1[i] = 2*pp - l
		p.S1[i] = 2*pp - h
		p.R2[i] = pp + (h - l)
		p.S2[i] = pp - (h - l)
	}
	return p
}
