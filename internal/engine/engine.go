// Package engine is the day-stepped simulation driver. For every trading
// date it runs a SELL pass, then a BUY pass, then marks untouched holdings,
// emitting one trade event per symbol with a bar that date. The same driver
// runs backtests and the live cycle; only the injected broker differs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/notify"
	"quantsim/internal/portfolio"
	"quantsim/internal/strategy"
	"quantsim/internal/util"
)

// Config is the per-run strategy and risk configuration.
type Config struct {
	Start          time.Time
	Symbols        []string // iteration order, which is also buy priority
	BuyStrategies  []string
	SellStrategies []string
	TakeProfit     domain.ExitPolicy
	StopLoss       domain.ExitPolicy
	Sizing         Sizing
	Channel        string // notification channel
}

// EventSink receives every trade event as it is emitted.
type EventSink interface {
	Record(ctx context.Context, ev domain.TradeEvent) error
}

// ProgressFunc is called after each date with the number of dates processed.
// A non-nil error aborts the run.
type ProgressFunc func(ctx context.Context, completed, total int) error

// CancelFunc is polled once per date; returning true stops the run.
type CancelFunc func(ctx context.Context) bool

// Deps are the services a Driver delegates to. Evaluator and Broker are
// required.
type Deps struct {
	Evaluator *strategy.Evaluator
	Exits     *ExitEngine
	Broker    broker.Broker
	Notifier  notify.Notifier
	Sink      EventSink
	Progress  ProgressFunc
	Cancelled CancelFunc
}

// Outcome is the state at the end of a run.
type Outcome struct {
	Events         []domain.TradeEvent
	Holdings       []portfolio.Holding
	Cash           float64
	InitialCapital float64
	LastCloses     map[string]float64
	Dates          int
	Steps          int
}

// Driver owns a portfolio and steps it through the trading calendar.
type Driver struct {
	cfg  Config
	deps Deps
	pf   *portfolio.Portfolio
	log  *slog.Logger

	series     map[string][]domain.AnnotatedBar
	index      map[string]map[time.Time]int
	dates      []time.Time
	lastCloses map[string]float64
	events     []domain.TradeEvent
}

// New builds a driver over annotated series keyed by symbol. Symbols in cfg
// without a series are ignored. Holdings are opened in cfg.Symbols order.
func New(cfg Config, deps Deps, pf *portfolio.Portfolio, series map[string][]domain.AnnotatedBar) (*Driver, error) {
	if deps.Evaluator == nil {
		return nil, fmt.Errorf("engine: evaluator is required")
	}
	if deps.Broker == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if deps.Exits == nil {
		deps.Exits = NewExitEngine()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}

	d := &Driver{
		cfg:        cfg,
		deps:       deps,
		pf:         pf,
		log:        slog.Default().With("component", "engine"),
		series:     make(map[string][]domain.AnnotatedBar, len(series)),
		index:      make(map[string]map[time.Time]int, len(series)),
		lastCloses: make(map[string]float64),
	}

	raw := make(map[string][]domain.Bar, len(series))
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		s, ok := series[sym]
		if !ok || len(s) == 0 {
			continue
		}
		if _, dup := d.series[sym]; dup {
			continue
		}
		symbols = append(symbols, sym)
		d.series[sym] = s
		idx := make(map[time.Time]int, len(s))
		bars := make([]domain.Bar, len(s))
		for i, b := range s {
			idx[domain.DateKey(b.Timestamp)] = i
			bars[i] = b.Bar
		}
		d.index[sym] = idx
		raw[sym] = bars
		pf.Open(sym, cfg.TakeProfit, cfg.StopLoss)
	}
	d.cfg.Symbols = symbols
	d.dates = util.TradingDates(raw, cfg.Start)
	return d, nil
}

// Dates returns the trading dates the run will step through.
func (d *Driver) Dates() []time.Time { return d.dates }

// Portfolio returns the portfolio the driver mutates.
func (d *Driver) Portfolio() *portfolio.Portfolio { return d.pf }

// Run steps through every date. On cancellation or a progress error the
// outcome so far is returned together with the error.
func (d *Driver) Run(ctx context.Context) (*Outcome, error) {
	total := len(d.dates)
	for i, date := range d.dates {
		if d.deps.Cancelled != nil && d.deps.Cancelled(ctx) {
			return d.outcome(i), domain.ErrCancelled
		}
		if _, err := d.Step(ctx, date); err != nil {
			return d.outcome(i), err
		}
		if d.deps.Progress != nil {
			if err := d.deps.Progress(ctx, i+1, total); err != nil {
				return d.outcome(i + 1), fmt.Errorf("reporting progress %d/%d: %w", i+1, total, err)
			}
		}
	}
	return d.outcome(total), nil
}

func (d *Driver) outcome(steps int) *Outcome {
	closes := make(map[string]float64, len(d.lastCloses))
	for k, v := range d.lastCloses {
		closes[k] = v
	}
	return &Outcome{
		Events:         d.events,
		Holdings:       d.pf.Snapshot(),
		Cash:           d.pf.Cash,
		InitialCapital: d.pf.InitialCapital,
		LastCloses:     closes,
		Dates:          len(d.dates),
		Steps:          steps,
	}
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// stepCtx caches the per-symbol prefix and levels for one date.
type stepCtx struct {
	bar    domain.AnnotatedBar
	prefix []domain.AnnotatedBar
	levels *strategy.Levels
}

// Step processes a single date and returns the events it emitted. Only
// context errors are returned; broker failures skip the symbol.
func (d *Driver) Step(ctx context.Context, date time.Time) ([]domain.TradeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	date = domain.DateKey(date)
	start := len(d.events)

	today := make(map[string]*stepCtx, len(d.cfg.Symbols))
	for _, sym := range d.cfg.Symbols {
		i, ok := d.index[sym][date]
		if !ok {
			continue
		}
		s := d.series[sym]
		today[sym] = &stepCtx{bar: s[i], prefix: s[:i+1]}
		d.lastCloses[sym] = s[i].Close
	}
	touched := make(map[string]bool, len(today))

	// SELL pass.
	for _, sym := range d.cfg.Symbols {
		sc, ok := today[sym]
		if !ok {
			continue
		}
		h, _ := d.pf.Holding(sym)
		if h.Quantity == 0 {
			continue
		}
		if dec := d.deps.Exits.Evaluate(h, sc.bar.Close); dec.Fired() {
			if d.sell(ctx, sym, sc.bar, nil, dec) {
				touched[sym] = true
			}
			continue
		}
		matched := d.deps.Evaluator.Evaluate(domain.SideSell, d.cfg.SellStrategies, sc.prefix, d.levels(sc, d.cfg.SellStrategies))
		if len(matched) > 0 && d.sell(ctx, sym, sc.bar, matched, ExitDecision{}) {
			touched[sym] = true
		}
	}

	// BUY pass.
	for _, sym := range d.cfg.Symbols {
		sc, ok := today[sym]
		if !ok {
			continue
		}
		matched := d.deps.Evaluator.Evaluate(domain.SideBuy, d.cfg.BuyStrategies, sc.prefix, d.levels(sc, d.cfg.BuyStrategies))
		if len(matched) == 0 {
			continue
		}
		h, _ := d.pf.Holding(sym)
		qty, skip := d.cfg.Sizing.Size(d.pf, h, sc.bar.Close)
		if qty == 0 {
			d.log.Debug("buy skipped", "symbol", sym, "date", date.Format("2006-01-02"), "reason", skip)
			continue
		}
		if d.buy(ctx, sym, sc.bar, qty, matched) {
			touched[sym] = true
		}
	}

	// No-trade mark.
	for _, sym := range d.cfg.Symbols {
		sc, ok := today[sym]
		if !ok || touched[sym] {
			continue
		}
		h, _ := d.pf.Holding(sym)
		h.Track(sc.bar.Close)
		pnl, roi := h.MarkToMarket(sc.bar.Close)
		ev := d.event(h, sc.bar, domain.SideNone)
		ev.Price = sc.bar.Close
		ev.UnrealizedPnL = pnl
		ev.UnrealizedROI = roi
		d.emit(ctx, ev)
	}

	return d.events[start:], nil
}

func (d *Driver) levels(sc *stepCtx, names []string) strategy.Levels {
	if len(names) == 0 {
		return strategy.Levels{}
	}
	if sc.levels == nil {
		lv := d.deps.Evaluator.Levels(sc.prefix)
		sc.levels = &lv
	}
	return *sc.levels
}

func (d *Driver) sell(ctx context.Context, sym string, bar domain.AnnotatedBar, matched []string, dec ExitDecision) bool {
	h, _ := d.pf.Holding(sym)
	log := d.log.With("symbol", sym, "date", domain.DateKey(bar.Timestamp).Format("2006-01-02"))

	bf, err := d.deps.Broker.Sell(ctx, sym, h.Quantity, bar.Close)
	if err != nil {
		log.Error("broker sell failed, skipping", "broker", d.deps.Broker.Name(), "error", err)
		d.notifyError(ctx, fmt.Sprintf("SELL %s failed", sym), err)
		return false
	}
	fill, err := d.pf.Sell(sym, bf.Price)
	if err != nil {
		log.Error("ledger sell failed", "error", err)
		return false
	}

	ev := d.event(h, bar, domain.SideSell)
	applyFill(&ev, fill)
	ev.ReasonCodes = matched
	ev.TakeProfitHit = dec.TakeProfit
	ev.StopLossHit = dec.StopLoss
	if dec.Fired() {
		ev.Reason = dec.Reason()
	} else {
		ev.Reason = "signal: " + strings.Join(matched, ",")
	}
	d.emit(ctx, ev)

	log.Info("sell", "qty", fill.Quantity, "price", fill.Price, "pnl", fill.RealizedPnL, "reason", ev.Reason)
	d.notifyTrade(ctx, ev)
	return true
}

func (d *Driver) buy(ctx context.Context, sym string, bar domain.AnnotatedBar, qty int64, matched []string) bool {
	h, _ := d.pf.Holding(sym)
	log := d.log.With("symbol", sym, "date", domain.DateKey(bar.Timestamp).Format("2006-01-02"))

	bf, err := d.deps.Broker.Buy(ctx, sym, qty, bar.Close)
	if err != nil {
		log.Error("broker buy failed, skipping", "broker", d.deps.Broker.Name(), "error", err)
		d.notifyError(ctx, fmt.Sprintf("BUY %s failed", sym), err)
		return false
	}
	fill, err := d.pf.Buy(sym, bf.Qty, bf.Price)
	if err != nil {
		// Only reachable when a live fill lands above the decision price.
		log.Error("ledger buy rejected", "qty", bf.Qty, "price", bf.Price, "error", err)
		d.notifyError(ctx, fmt.Sprintf("BUY %s not booked", sym), err)
		return false
	}

	ev := d.event(h, bar, domain.SideBuy)
	applyFill(&ev, fill)
	ev.UnrealizedPnL, ev.UnrealizedROI = h.MarkToMarket(bar.Close)
	ev.ReasonCodes = matched
	ev.Reason = "signal: " + strings.Join(matched, ",")
	d.emit(ctx, ev)

	log.Info("buy", "qty", fill.Quantity, "price", fill.Price, "cost", fill.Amount, "reason", ev.Reason)
	d.notifyTrade(ctx, ev)
	return true
}

// event builds an event carrying the holding snapshot and cash after the
// ledger has been updated.
func (d *Driver) event(h *portfolio.Holding, bar domain.AnnotatedBar, side domain.Side) domain.TradeEvent {
	return domain.TradeEvent{
		Symbol:           h.Symbol,
		Timestamp:        bar.Timestamp,
		Side:             side,
		CashAfter:        d.pf.Cash,
		PositionQuantity: h.Quantity,
		AveragePrice:     h.AveragePrice,
		TotalCost:        h.TotalCost,
	}
}

func applyFill(ev *domain.TradeEvent, f portfolio.Fill) {
	ev.Quantity = f.Quantity
	ev.Price = f.Price
	ev.Fee = f.Fee
	ev.Tax = f.Tax
	ev.Amount = f.Amount
	ev.RealizedPnL = f.RealizedPnL
	ev.RealizedROI = f.RealizedROI
}

func (d *Driver) emit(ctx context.Context, ev domain.TradeEvent) {
	d.events = append(d.events, ev)
	if d.deps.Sink == nil {
		return
	}
	if err := d.deps.Sink.Record(ctx, ev); err != nil {
		d.log.Warn("recording trade event", "symbol", ev.Symbol, "side", ev.Side, "error", err)
	}
}

func (d *Driver) notifyTrade(ctx context.Context, ev domain.TradeEvent) {
	text := fmt.Sprintf("%s %d @ %.2f on %s\n%s\ncash %.2f",
		ev.Side, ev.Quantity, ev.Price, ev.Timestamp.Format("2006-01-02"), ev.Reason, ev.CashAfter)
	if ev.Side == domain.SideSell {
		text += fmt.Sprintf("\npnl %.2f (%.2f%%)", ev.RealizedPnL, ev.RealizedROI)
	}
	_ = d.deps.Notifier.Notify(ctx, notify.Message{
		Channel: d.cfg.Channel,
		Level:   notify.LevelTrade,
		Title:   fmt.Sprintf("%s %s", ev.Side, ev.Symbol),
		Text:    text,
	})
}

func (d *Driver) notifyError(ctx context.Context, title string, err error) {
	_ = d.deps.Notifier.Notify(ctx, notify.Message{
		Channel: d.cfg.Channel,
		Level:   notify.LevelError,
		Title:   title,
		Text:    err.Error(),
	})
}
