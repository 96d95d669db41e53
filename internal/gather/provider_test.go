package gather

import (
	"context"
	"errors"
	"testing"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dailyBars(sym string, from time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, 0, len(closes))
	ts := from
	for _, c := range closes {
		for ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			ts = ts.AddDate(0, 0, 1)
		}
		bars = append(bars, domain.Bar{
			Symbol: sym, Timestamp: ts,
			Open: c - 1, High: c + 2, Low: c - 2, Close: c,
			Volume: 100, TradeCount: 10, VWAP: c,
		})
		ts = ts.AddDate(0, 0, 1)
	}
	return bars
}

func TestAggregateWeek(t *testing.T) {
	// Mon 2024-01-01 .. Fri 2024-01-12: two ISO weeks of five bars.
	bars := dailyBars("A", day(2024, 1, 1), 10, 11, 12, 13, 14, 20, 21, 22, 23, 24)
	got := Aggregate(bars, domain.IntervalWeek)
	if len(got) != 2 {
		t.Fatalf("weekly bars = %d, want 2", len(got))
	}
	w := got[0]
	if !w.Timestamp.Equal(day(2024, 1, 1)) {
		t.Errorf("week stamp = %v, want first trading day", w.Timestamp)
	}
	if w.Open != 9 || w.Close != 14 || w.High != 16 || w.Low != 8 {
		t.Errorf("week OHLC = %v %v %v %v", w.Open, w.High, w.Low, w.Close)
	}
	if w.Volume != 500 || w.TradeCount != 50 {
		t.Errorf("week volume %d trades %d", w.Volume, w.TradeCount)
	}
	if w.VWAP != 12 {
		t.Errorf("week vwap = %v, want 12", w.VWAP)
	}
	if got[1].Close != 24 {
		t.Errorf("second week close = %v", got[1].Close)
	}
	// Input must not be modified.
	if bars[0].Close != 10 || bars[0].High != 12 {
		t.Errorf("Aggregate mutated input: %+v", bars[0])
	}
}

func TestAggregateMonth(t *testing.T) {
	bars := append(dailyBars("A", day(2024, 1, 30), 1, 2), dailyBars("A", day(2024, 2, 1), 3, 4, 5)...)
	got := Aggregate(bars, domain.IntervalMonth)
	if len(got) != 2 {
		t.Fatalf("monthly bars = %d, want 2", len(got))
	}
	if got[0].Close != 2 || got[1].Open != 2 || got[1].Close != 5 {
		t.Errorf("months = %+v", got)
	}
	if same := Aggregate(bars, domain.IntervalDay); len(same) != len(bars) {
		t.Errorf("daily aggregate changed length")
	}
}

func TestMakeContinuous(t *testing.T) {
	bars := []domain.Bar{
		{Open: 10, High: 12, Low: 9, Close: 11},
		{Open: 15, High: 16, Low: 14, Close: 15},
		{Open: 13, High: 14, Low: 12, Close: 13},
	}
	got := MakeContinuous(bars)
	if got[0].Open != 10 {
		t.Errorf("first open = %v, want unchanged", got[0].Open)
	}
	if got[1].Open != 11 || got[1].Low != 11 {
		t.Errorf("second bar = %+v, want open 11 low 11", got[1])
	}
	if got[2].Open != 15 || got[2].High != 15 {
		t.Errorf("third bar = %+v, want open 15 high 15", got[2])
	}
	if bars[1].Open != 15 {
		t.Error("MakeContinuous mutated input")
	}
}

// fakeRemote serves fixed daily bars and counts calls.
type fakeRemote struct {
	bars  []domain.Bar
	calls int
}

func (f *fakeRemote) GetBars(_ context.Context, symbol string, start, end time.Time, _ domain.Interval) ([]domain.Bar, error) {
	f.calls++
	var out []domain.Bar
	for _, b := range f.bars {
		if b.Symbol == symbol && !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrDataUnavailable
	}
	return out, nil
}

func TestStoreProviderUnavailable(t *testing.T) {
	p := NewStoreProvider(store.NewParquetStore(t.TempDir()), domain.MarketUS)
	_, err := p.GetBars(context.Background(), "NONE", day(2024, 1, 1), day(2024, 2, 1), domain.IntervalDay)
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestReadThroughCachesRemote(t *testing.T) {
	ctx := context.Background()
	local := NewStoreProvider(store.NewParquetStore(t.TempDir()), domain.MarketUS)
	remote := &fakeRemote{bars: dailyBars("AAPL", day(2024, 1, 1), 10, 11, 12, 13, 14, 15)}
	rt := NewReadThrough(local, Continuous{Provider: remote})

	got, err := rt.GetBars(ctx, "AAPL", day(2024, 1, 1), day(2024, 1, 31), domain.IntervalWeek)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("weekly bars = %d, want 2", len(got))
	}

	got, err = rt.GetBars(ctx, "AAPL", day(2024, 1, 1), day(2024, 1, 31), domain.IntervalDay)
	if err != nil {
		t.Fatalf("second GetBars: %v", err)
	}
	if remote.calls != 1 {
		t.Errorf("remote calls = %d, want 1 (second read served from cache)", remote.calls)
	}
	if len(got) != 6 || got[1].Open != 10 {
		t.Errorf("cached bars = %d, second open %v; want 6 continuous bars", len(got), got[1].Open)
	}

	if _, err := rt.GetBars(ctx, "MSFT", day(2024, 1, 1), day(2024, 1, 31), domain.IntervalDay); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("missing symbol err = %v", err)
	}
}

func TestDateRangeContains(t *testing.T) {
	r := DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 31)}
	if !r.Contains(day(2024, 1, 1)) || !r.Contains(day(2024, 1, 31)) {
		t.Error("bounds should be inclusive")
	}
	if r.Contains(day(2024, 2, 1)) {
		t.Error("Feb 1 should be outside")
	}
}
