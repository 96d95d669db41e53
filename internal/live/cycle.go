// Package live runs the simulation driver against a real broker for the
// current trading date: the portfolio is seeded from the brokerage account,
// one step is executed, and every event is persisted to the trade log.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/gather"
	"quantsim/internal/indicator"
	"quantsim/internal/notify"
	"quantsim/internal/portfolio"
	"quantsim/internal/store"
	"quantsim/internal/strategy"
	"quantsim/internal/util"
)

// DefaultWarmupDays is the history loaded before today when Config leaves
// WarmupDays unset.
const DefaultWarmupDays = 300

// Config selects what a cycle trades and how.
type Config struct {
	Symbols        []string
	BuyStrategies  []string
	SellStrategies []string
	TakeProfit     domain.ExitPolicy
	StopLoss       domain.ExitPolicy
	Sizing         engine.Sizing
	Interval       domain.Interval
	WarmupDays     int
	Channel        string
}

// Deps are the services a cycle uses. Provider, Evaluator, Broker and
// Trades are required.
type Deps struct {
	Provider   gather.Provider
	Annotator  indicator.Annotator
	Evaluator  *strategy.Evaluator
	Broker     broker.Broker
	Trades     store.TradeLog
	Notifier   notify.Notifier
	Costs      portfolio.Costs
	TradingDay func(day time.Time) (bool, error) // nil treats weekdays as trading days
	Now        func() time.Time
}

// Report summarises one cycle.
type Report struct {
	RunID   string              `json:"run_id"`
	Date    time.Time           `json:"date"`
	Skipped string              `json:"skipped,omitempty"`
	Cash    float64             `json:"cash"`
	Buys    int                 `json:"buys"`
	Sells   int                 `json:"sells"`
	Failed  []string            `json:"failed,omitempty"`
	Events  []domain.TradeEvent `json:"events"`
}

// Cycle executes live trading steps.
type Cycle struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// NewCycle validates deps and returns a Cycle.
func NewCycle(cfg Config, deps Deps) (*Cycle, error) {
	switch {
	case deps.Provider == nil:
		return nil, fmt.Errorf("live: provider is required")
	case deps.Evaluator == nil:
		return nil, fmt.Errorf("live: evaluator is required")
	case deps.Broker == nil:
		return nil, fmt.Errorf("live: broker is required")
	case deps.Trades == nil:
		return nil, fmt.Errorf("live: trade log is required")
	}
	if err := deps.Evaluator.Registry().Validate(domain.SideBuy, cfg.BuyStrategies); err != nil {
		return nil, err
	}
	if err := deps.Evaluator.Registry().Validate(domain.SideSell, cfg.SellStrategies); err != nil {
		return nil, err
	}
	if deps.Annotator == nil {
		deps.Annotator = indicator.NewStandard()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.WarmupDays <= 0 {
		cfg.WarmupDays = DefaultWarmupDays
	}
	cfg.TakeProfit = cfg.TakeProfit.Normalize()
	cfg.StopLoss = cfg.StopLoss.Normalize()
	return &Cycle{cfg: cfg, deps: deps, log: slog.Default().With("component", "live")}, nil
}

// Run executes one cycle for the current date.
func (c *Cycle) Run(ctx context.Context) (*Report, error) {
	today := domain.DateKey(c.deps.Now())
	rep := &Report{RunID: uuid.NewString(), Date: today, Events: []domain.TradeEvent{}}
	log := c.log.With("runID", rep.RunID, "date", today.Format("2006-01-02"))

	open, err := c.isTradingDay(today)
	if err != nil {
		return nil, fmt.Errorf("checking calendar: %w", err)
	}
	if !open {
		rep.Skipped = "market closed"
		log.Info("cycle skipped", "reason", rep.Skipped)
		return rep, nil
	}

	acct, err := c.deps.Broker.GetAccount(ctx)
	if err != nil {
		return nil, c.abort(ctx, "reading account", err)
	}
	positions, err := c.deps.Broker.GetPositions(ctx)
	if err != nil {
		return nil, c.abort(ctx, "reading positions", err)
	}

	pf := portfolio.New(acct.Cash, c.deps.Costs)
	pf.InitialCapital = acct.Equity
	pf.Seed(positions, c.cfg.TakeProfit, c.cfg.StopLoss)

	// Held positions are stepped too so their exits are evaluated.
	symbols := append([]string(nil), c.cfg.Symbols...)
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, p := range positions {
		if p.Qty > 0 && !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}

	series, failed := c.load(ctx, symbols, today)
	rep.Failed = failed

	drv, err := engine.New(engine.Config{
		Start:          today,
		Symbols:        symbols,
		BuyStrategies:  c.cfg.BuyStrategies,
		SellStrategies: c.cfg.SellStrategies,
		TakeProfit:     c.cfg.TakeProfit,
		StopLoss:       c.cfg.StopLoss,
		Sizing:         c.cfg.Sizing,
		Channel:        c.cfg.Channel,
	}, engine.Deps{
		Evaluator: c.deps.Evaluator,
		Broker:    c.deps.Broker,
		Notifier:  c.deps.Notifier,
		Sink:      store.Recorder{Log: c.deps.Trades, RunID: rep.RunID},
	}, pf, series)
	if err != nil {
		return nil, err
	}

	if len(drv.Dates()) == 0 {
		rep.Skipped = "no bar for today"
		rep.Cash = pf.Cash
		log.Warn("cycle skipped", "reason", rep.Skipped, "symbols", len(symbols), "failed", len(failed))
		return rep, nil
	}

	events, err := drv.Step(ctx, today)
	if err != nil {
		return nil, err
	}
	rep.Events = append(rep.Events, events...)
	rep.Cash = pf.Cash
	for _, ev := range events {
		switch ev.Side {
		case domain.SideBuy:
			rep.Buys++
		case domain.SideSell:
			rep.Sells++
		}
	}

	log.Info("cycle complete", "symbols", len(symbols), "buys", rep.Buys, "sells", rep.Sells, "cash", rep.Cash, "failed", len(failed))
	_ = c.deps.Notifier.Notify(ctx, notify.Message{
		Channel: c.cfg.Channel,
		Level:   notify.LevelInfo,
		Title:   fmt.Sprintf("live cycle %s", today.Format("2006-01-02")),
		Text: fmt.Sprintf("broker %s\n%d symbols, %d buys, %d sells\ncash %.2f",
			c.deps.Broker.Name(), len(symbols), rep.Buys, rep.Sells, rep.Cash),
	})
	return rep, nil
}

// load fetches and annotates history through today. Symbols that fail are
// returned and left out of the series.
func (c *Cycle) load(ctx context.Context, symbols []string, today time.Time) (map[string][]domain.AnnotatedBar, []string) {
	from := util.WarmupStart(today, c.cfg.WarmupDays)
	names := c.deps.Evaluator.Registry().Requires(c.cfg.BuyStrategies, c.cfg.SellStrategies)

	series := make(map[string][]domain.AnnotatedBar, len(symbols))
	var failed []string
	for _, sym := range symbols {
		bars, err := c.deps.Provider.GetBars(ctx, sym, from, today, c.cfg.Interval)
		if err == nil {
			var annotated []domain.AnnotatedBar
			if annotated, err = c.deps.Annotator.Annotate(bars, names); err == nil {
				series[sym] = annotated
				continue
			}
		}
		c.log.Warn("symbol failed to load", "symbol", sym, "err", err)
		failed = append(failed, sym)
	}
	return series, failed
}

func (c *Cycle) isTradingDay(day time.Time) (bool, error) {
	if c.deps.TradingDay != nil {
		return c.deps.TradingDay(day)
	}
	return !util.IsWeekend(day), nil
}

func (c *Cycle) abort(ctx context.Context, what string, err error) error {
	err = fmt.Errorf("%s: %w", what, err)
	c.log.Error("live cycle aborted", "err", err)
	_ = c.deps.Notifier.Notify(ctx, notify.Message{
		Channel: c.cfg.Channel,
		Level:   notify.LevelError,
		Title:   "live cycle aborted",
		Text:    err.Error(),
	})
	return err
}
