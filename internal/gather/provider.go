package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/store"
)

// Compile-time interface checks.
var (
	_ Provider = (*StoreProvider)(nil)
	_ Provider = (*ReadThrough)(nil)
	_ Provider = Continuous{}
)

// StoreProvider serves bars from a BarStore holding daily data. Weekly and
// monthly series are aggregated on read.
type StoreProvider struct {
	Store  store.BarStore
	Market domain.Market
}

// NewStoreProvider creates a provider over daily bars in s.
func NewStoreProvider(s store.BarStore, market domain.Market) *StoreProvider {
	return &StoreProvider{Store: s, Market: market}
}

// GetBars reads daily bars and aggregates them to interval.
func (p *StoreProvider) GetBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	bars, err := p.Store.ReadBars(ctx, p.Market, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading %s bars: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), domain.ErrDataUnavailable)
	}
	return Aggregate(bars, interval), nil
}

// ReadThrough serves from the local store and falls back to Remote when the
// store has nothing for the range. Fetched daily bars are written back.
type ReadThrough struct {
	Local  *StoreProvider
	Remote Provider
	log    *slog.Logger
}

// NewReadThrough wires a local cache in front of a remote provider.
func NewReadThrough(local *StoreProvider, remote Provider) *ReadThrough {
	return &ReadThrough{
		Local:  local,
		Remote: remote,
		log:    slog.Default().With("component", "bar-cache"),
	}
}

// GetBars implements Provider.
func (p *ReadThrough) GetBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	bars, err := p.Local.GetBars(ctx, symbol, start, end, interval)
	if err == nil {
		return bars, nil
	}

	daily, rerr := p.Remote.GetBars(ctx, symbol, start, end, domain.IntervalDay)
	if rerr != nil {
		return nil, rerr
	}
	if werr := p.Local.Store.WriteBars(ctx, p.Local.Market, daily); werr != nil {
		p.log.Warn("caching bars failed", "symbol", symbol, "err", werr)
	} else {
		p.log.Info("cached bars", "symbol", symbol, "bars", len(daily))
	}
	return Aggregate(daily, interval), nil
}

// Continuous rewrites each bar's Open to the previous bar's Close, removing
// overnight gaps from the series.
type Continuous struct {
	Provider
}

// GetBars implements Provider.
func (c Continuous) GetBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	bars, err := c.Provider.GetBars(ctx, symbol, start, end, interval)
	if err != nil {
		return nil, err
	}
	return MakeContinuous(bars), nil
}

// MakeContinuous returns a copy of bars with Open[i] = Close[i-1] for i > 0.
// High and Low are widened when the new Open falls outside them.
func MakeContinuous(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	for i := 1; i < len(out); i++ {
		out[i].Open = out[i-1].Close
		out[i].High = max(out[i].High, out[i].Open)
		out[i].Low = min(out[i].Low, out[i].Open)
	}
	return out
}

// Aggregate folds ascending daily bars into week (ISO week) or month bars.
// Each aggregated bar is stamped with the first trading day of its period.
// Daily input is returned unchanged for IntervalDay.
func Aggregate(bars []domain.Bar, interval domain.Interval) []domain.Bar {
	if interval == domain.IntervalDay || interval == "" || len(bars) == 0 {
		return bars
	}

	period := func(t time.Time) [2]int {
		t = t.UTC()
		if interval == domain.IntervalWeek {
			y, w := t.ISOWeek()
			return [2]int{y, w}
		}
		return [2]int{t.Year(), int(t.Month())}
	}

	var (
		out      []domain.Bar
		cur      domain.Bar
		curKey   [2]int
		turnover float64
	)
	flush := func() {
		if cur.Volume > 0 {
			cur.VWAP = turnover / float64(cur.Volume)
		}
		out = append(out, cur)
	}
	for i, b := range bars {
		k := period(b.Timestamp)
		if i == 0 || k != curKey {
			if i > 0 {
				flush()
			}
			cur = b
			curKey = k
			turnover = b.VWAP * float64(b.Volume)
			continue
		}
		cur.High = max(cur.High, b.High)
		cur.Low = min(cur.Low, b.Low)
		cur.Close = b.Close
		cur.Volume += b.Volume
		cur.TradeCount += b.TradeCount
		turnover += b.VWAP * float64(b.Volume)
	}
	flush()
	return out
}
