package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantsim/internal/domain"
)

var _ BarStore = (*ParquetStore)(nil)

// ParquetStore keeps daily bars in one Parquet file per symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// It serves as the bar cache for simulations, so reads and read-through
// writes from concurrent jobs are serialised per file, and files are
// replaced atomically.
type ParquetStore struct {
	DataDir string

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewParquetStore creates a ParquetStore rooted at dataDir.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir, locks: make(map[string]*sync.RWMutex)}
}

// barRow is the on-disk schema of a daily bar.
type barRow struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, session date at 00:00 UTC
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toRow(b domain.Bar) barRow {
	return barRow{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  domain.DateKey(b.Timestamp).UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r barRow) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// lock returns the lock guarding path.
func (s *ParquetStore) lock(path string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.RWMutex)
	}
	l, ok := s.locks[path]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[path] = l
	}
	return l
}

// WriteBars merges bars into the per-symbol, per-year files. A bar for a
// date already on disk replaces it.
func (s *ParquetStore) WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error {
	type fileKey struct {
		symbol string
		year   int
	}
	groups := make(map[fileKey][]barRow)
	for _, b := range bars {
		row := toRow(b)
		k := fileKey{symbol: row.Symbol, year: time.UnixMilli(row.Timestamp).UTC().Year()}
		groups[k] = append(groups[k], row)
	}

	for k, rows := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.mergeFile(s.barPath(k.symbol, market, k.year), rows); err != nil {
			return fmt.Errorf("writing %s/%d bars: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

func (s *ParquetStore) mergeFile(path string, rows []barRow) error {
	l := s.lock(path)
	l.Lock()
	defer l.Unlock()

	existing, err := readRows(path)
	if err != nil {
		return err
	}
	return writeRows(path, mergeRows(existing, rows))
}

// ReadBars returns the bars of symbol within [start, end], ascending. A
// symbol with no files reads as empty.
func (s *ParquetStore) ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.Bar, error) {
	from, to := start.UnixMilli(), end.UnixMilli()
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, year)
		l := s.lock(path)
		l.RLock()
		rows, err := readRows(path)
		l.RUnlock()
		if err != nil {
			return nil, fmt.Errorf("reading %s/%d bars: %w", strings.ToUpper(symbol), year, err)
		}
		for _, r := range rows {
			if r.Timestamp >= from && r.Timestamp <= to {
				bars = append(bars, r.bar())
			}
		}
	}
	return bars, nil
}

// ListSymbols lists the symbols with bar files in market, sorted.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, string(market), "daily"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	slices.Sort(symbols)
	return symbols, nil
}

func (s *ParquetStore) barPath(symbol string, market domain.Market, year int) string {
	return filepath.Join(s.DataDir, string(market), "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// readRows reads a bar file. A missing file yields no rows.
func readRows(path string) ([]barRow, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[barRow](path)
}

// writeRows writes rows to a temporary file and renames it over path so
// readers never see a partial file.
func writeRows(path string, rows []barRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// mergeRows deduplicates by timestamp, incoming rows winning, and returns
// them ascending.
func mergeRows(existing, incoming []barRow) []barRow {
	byTS := make(map[int64]barRow, len(existing)+len(incoming))
	for _, r := range existing {
		byTS[r.Timestamp] = r
	}
	for _, r := range incoming {
		byTS[r.Timestamp] = r
	}
	merged := make([]barRow, 0, len(byTS))
	for _, r := range byTS {
		merged = append(merged, r)
	}
	slices.SortFunc(merged, func(a, b barRow) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return merged
}
