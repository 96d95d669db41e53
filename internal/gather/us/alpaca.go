package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"quantsim/internal/domain"
	"quantsim/internal/gather"
	"quantsim/internal/store"
	"quantsim/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Provider = (*AlpacaProvider)(nil)
var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// ---------------------------------------------------------------------------
// AlpacaProvider: bar series straight from the Alpaca market-data API.
// ---------------------------------------------------------------------------

// Market-data requests are retried with exponential backoff.
const (
	fetchAttempts = 3
	fetchBackoff  = time.Second
)

// AlpacaProvider implements gather.Provider over the Alpaca market-data API.
type AlpacaProvider struct {
	client  *marketdata.Client
	feed    string
	limiter *rate.Limiter
}

// NewAlpacaProvider creates a provider with the given credentials. dataURL
// may be empty for the default endpoint; feed defaults to "iex".
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaProvider{
		client:  marketdata.NewClient(opts),
		feed:    feed,
		limiter: rate.NewLimiter(rate.Limit(3), 5),
	}
}

// timeFrame maps an interval to the Alpaca bar timeframe.
func timeFrame(interval domain.Interval) marketdata.TimeFrame {
	switch interval {
	case domain.IntervalWeek:
		return marketdata.NewTimeFrame(1, marketdata.Week)
	case domain.IntervalMonth:
		return marketdata.NewTimeFrame(1, marketdata.Month)
	}
	return marketdata.OneDay
}

// GetBars implements gather.Provider.
func (p *AlpacaProvider) GetBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error) {
	var abars []marketdata.Bar
	err := p.call(ctx, func() error {
		var err error
		abars, err = p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: timeFrame(interval),
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(p.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	if len(abars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	return convertBars(symbol, abars), nil
}

// call runs fn under the rate limiter, retrying failures with backoff.
func (p *AlpacaProvider) call(ctx context.Context, fn func() error) error {
	return util.Retry(ctx, fetchAttempts, fetchBackoff, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		return fn()
	})
}

// fetchMultiBars fetches daily bars for multiple symbols in a single API call.
func (p *AlpacaProvider) fetchMultiBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	var multiBars map[string][]marketdata.Bar
	err := p.call(ctx, func() error {
		var err error
		multiBars, err = p.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(p.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, abars := range multiBars {
		bars = append(bars, convertBars(symbol, abars)...)
	}
	return bars, nil
}

func convertBars(symbol string, abars []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(abars))
	for _, ab := range abars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  domain.DateKey(ab.Timestamp),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars
}

// ---------------------------------------------------------------------------
// DailyBarGatherer: fills the Parquet cache for a watch list.
// ---------------------------------------------------------------------------

// DailyBarGatherer downloads daily bars for a symbol list in batches and
// writes them to the bar store. Symbols that return nothing are remembered
// until the next trading day so reruns skip them.
type DailyBarGatherer struct {
	provider   *AlpacaProvider
	store      store.BarStore
	dataDir    string
	symbols    []string
	batchSize  int
	maxWorkers int
	start      time.Time
	endDate    func() (time.Time, error)
	log        *slog.Logger
}

// NewDailyBarGatherer creates a gatherer writing into a ParquetStore.
// endDate reports the last finished trading day; LatestFinishedTradingDay
// is the usual choice.
func NewDailyBarGatherer(p *AlpacaProvider, s *store.ParquetStore, symbols []string, start time.Time, batchSize, maxWorkers int, endDate func() (time.Time, error)) *DailyBarGatherer {
	return &DailyBarGatherer{
		provider:   p,
		store:      s,
		dataDir:    filepath.Join(s.DataDir, string(domain.MarketUS), "daily"),
		symbols:    symbols,
		batchSize:  max(batchSize, 1),
		maxWorkers: max(maxWorkers, 1),
		start:      start,
		endDate:    endDate,
		log:        slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches bars for all symbols not yet covered up to the last finished
// trading day. It is resumable and idempotent within a day.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	endDate, err := g.endDate()
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endKey := endDate.Format("2006-01-02")

	tracker, err := newFillTracker(g.dataDir)
	if err != nil {
		return fmt.Errorf("creating fill tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.FilledThrough() == endKey {
		g.log.Info("already filled", "endDate", endKey)
		return nil
	}
	if err := tracker.BeginDay(endKey); err != nil {
		return err
	}

	var remaining []string
	for _, sym := range g.symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || tracker.IsEmpty(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.batchSize {
		batches = append(batches, remaining[i:min(i+g.batchSize, len(remaining))])
	}
	g.log.Info("starting us-daily", "endDate", endKey, "symbols", len(remaining), "batches", len(batches))

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalHits atomic.Int64
		totalMiss atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)
	for w := 0; w < min(g.maxWorkers, len(batches)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				hits, misses, err := g.fillBatch(ctx, tracker, batches[idx], endDate)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed", "batch", fmt.Sprintf("%d/%d", idx+1, len(batches)), "err", err)
					continue
				}
				totalHits.Add(int64(hits))
				totalMiss.Add(int64(misses))
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := tracker.MarkFilled(endKey); err != nil {
		return fmt.Errorf("marking filled: %w", err)
	}
	g.log.Info("complete",
		"hits", totalHits.Load(),
		"empty", totalMiss.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

func (g *DailyBarGatherer) fillBatch(ctx context.Context, tracker *fillTracker, batch []string, end time.Time) (int, int, error) {
	bars, err := g.provider.fetchMultiBars(ctx, batch, g.start, end)
	if err != nil {
		return 0, 0, err
	}

	hit := make(map[string]struct{})
	for _, b := range bars {
		hit[b.Symbol] = struct{}{}
	}
	var empty []string
	for _, sym := range batch {
		if _, ok := hit[sym]; !ok {
			empty = append(empty, sym)
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, domain.MarketUS, bars); err != nil {
			return 0, 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if err := tracker.MarkEmpty(empty); err != nil {
		return 0, 0, err
	}
	return len(hit), len(empty), nil
}
