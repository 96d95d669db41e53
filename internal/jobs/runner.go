package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/gather"
	"quantsim/internal/indicator"
	"quantsim/internal/notify"
	"quantsim/internal/portfolio"
	"quantsim/internal/report"
	"quantsim/internal/strategy"
	"quantsim/internal/util"
)

// Default warm-up windows in calendar days before the start date.
const (
	DefaultWarmupSingle = 300
	DefaultWarmupBulk   = 180
)

// Runner loads bars, annotates them and drives one simulation.
type Runner struct {
	Provider     gather.Provider
	Annotator    indicator.Annotator
	Evaluator    *strategy.Evaluator
	Costs        portfolio.Costs
	WarmupSingle int
	WarmupBulk   int
	log          *slog.Logger
}

// NewRunner creates a Runner with default warm-up windows.
func NewRunner(p gather.Provider, a indicator.Annotator, e *strategy.Evaluator, c portfolio.Costs) *Runner {
	return &Runner{
		Provider:     p,
		Annotator:    a,
		Evaluator:    e,
		Costs:        c.OrDefault(),
		WarmupSingle: DefaultWarmupSingle,
		WarmupBulk:   DefaultWarmupBulk,
		log:          slog.Default().With("component", "runner"),
	}
}

// Hooks connect a run to its job record.
type Hooks struct {
	Progress  engine.ProgressFunc
	Cancelled engine.CancelFunc
}

// Prepared is a loaded simulation ready to run.
type Prepared struct {
	Params  Params
	Symbols []string
	Failed  []string
	Series  map[string][]domain.AnnotatedBar
	Driver  *engine.Driver
}

// Steps is the number of dates the run will process.
func (pr *Prepared) Steps() int { return len(pr.Driver.Dates()) }

func (r *Runner) warmup(p Params) int {
	if p.WarmupDays > 0 {
		return p.WarmupDays
	}
	if p.Kind == domain.JobSingle {
		return r.WarmupSingle
	}
	return r.WarmupBulk
}

func (r *Runner) costs(p Params) portfolio.Costs {
	c := r.Costs
	if p.FeeRate > 0 {
		c.FeeRate = p.FeeRate
	}
	if p.TaxRate > 0 {
		c.TaxRate = p.TaxRate
	}
	return c
}

// Prepare fetches and annotates every symbol's bars and builds the driver.
// A symbol without data aborts a single run; in a bulk run it is recorded
// in Failed and skipped.
func (r *Runner) Prepare(ctx context.Context, p Params, hooks Hooks) (*Prepared, error) {
	provider := r.Provider
	if p.Continuous {
		provider = gather.Continuous{Provider: provider}
	}
	from := util.WarmupStart(p.Start(), r.warmup(p))
	indicators := r.Evaluator.Registry().Requires(p.BuyStrategies, p.SellStrategies)

	pr := &Prepared{
		Params: p,
		Failed: []string{},
		Series: make(map[string][]domain.AnnotatedBar, len(p.Symbols)),
	}
	for _, sym := range p.Symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := provider.GetBars(ctx, sym, from, p.End(), p.Interval)
		if err == nil {
			var annotated []domain.AnnotatedBar
			annotated, err = r.Annotator.Annotate(bars, indicators)
			if err == nil {
				pr.Series[sym] = annotated
				pr.Symbols = append(pr.Symbols, sym)
				continue
			}
		}
		if p.Kind == domain.JobSingle {
			return nil, fmt.Errorf("loading %s: %w", sym, err)
		}
		r.log.Warn("symbol failed to load", "symbol", sym, "err", err)
		pr.Failed = append(pr.Failed, sym)
	}
	if len(pr.Symbols) == 0 {
		return nil, fmt.Errorf("no symbol has bars between %s and %s: %w", p.StartDate, p.EndDate, domain.ErrDataUnavailable)
	}

	pf := portfolio.New(p.InitialCapital, r.costs(p))
	cfg := p.engineConfig()
	cfg.Symbols = pr.Symbols
	drv, err := engine.New(cfg, engine.Deps{
		Evaluator: r.Evaluator,
		Exits:     engine.NewExitEngine(),
		Broker:    broker.NewSimulatorBroker(p.InitialCapital),
		// Simulated fills stay out of the chat channels; the orchestrator
		// reports the job outcome.
		Notifier:  notify.Noop{},
		Progress:  hooks.Progress,
		Cancelled: hooks.Cancelled,
	}, pf, pr.Series)
	if err != nil {
		return nil, err
	}
	pr.Driver = drv
	return pr, nil
}

// Run executes the prepared simulation and assembles its result. On
// cancellation or a progress failure the partial result is returned with
// the error.
func (pr *Prepared) Run(ctx context.Context) (*report.Result, error) {
	out, err := pr.Driver.Run(ctx)
	res := report.Assemble(out, pr.Symbols, pr.Failed)
	if raw, merr := json.Marshal(pr.Params); merr == nil {
		res.Params = raw
	}
	return res, err
}

// CSV renders the per-bar table of the run.
func (pr *Prepared) CSV(res *report.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, pr.Symbols, pr.Series, res.Events, pr.Params.Start()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunSync prepares and runs p without a job record.
func (r *Runner) RunSync(ctx context.Context, p Params) (*report.Result, error) {
	pr, err := r.Prepare(ctx, p, Hooks{})
	if err != nil {
		return nil, err
	}
	res, err := pr.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}
