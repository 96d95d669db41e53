// Package jobs runs simulations as pollable jobs: parameters are persisted,
// a SimulationJob tracks progress, and a bounded worker pool executes the
// driver and stores the result.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/strategy"
)

const dateLayout = "2006-01-02"

// Params is a submitted simulation request. It is persisted verbatim as the
// job's params blob.
type Params struct {
	Kind           domain.JobKind    `json:"kind"`
	Trigger        string            `json:"trigger,omitempty"`
	Market         domain.Market     `json:"market,omitempty"`
	Symbols        []string          `json:"symbols"`
	StartDate      string            `json:"start_date"`
	EndDate        string            `json:"end_date"`
	InitialCapital float64           `json:"initial_capital"`
	BuyStrategies  []string          `json:"buy_strategies"`
	SellStrategies []string          `json:"sell_strategies"`
	TakeProfit     domain.ExitPolicy `json:"take_profit"`
	StopLoss       domain.ExitPolicy `json:"stop_loss"`
	Sizing         engine.Sizing     `json:"sizing"`
	Interval       domain.Interval   `json:"interval,omitempty"`
	Continuous     bool              `json:"continuous,omitempty"`
	WarmupDays     int               `json:"warmup_days,omitempty"`
	FeeRate        float64           `json:"fee_rate,omitempty"`
	TaxRate        float64           `json:"tax_rate,omitempty"`
	Channel        string            `json:"channel,omitempty"`
}

// Start returns the parsed start date. Valid only after Normalize.
func (p Params) Start() time.Time {
	t, _ := time.Parse(dateLayout, p.StartDate)
	return t
}

// End returns the parsed end date. Valid only after Normalize.
func (p Params) End() time.Time {
	t, _ := time.Parse(dateLayout, p.EndDate)
	return t
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Normalize validates p against the registry and fills defaults. Symbols are
// upper-cased and deduplicated in order; exit policies with unknown kinds are
// disabled. Unknown strategies yield domain.ErrUnknownStrategy.
func (p *Params) Normalize(reg *strategy.Registry, now time.Time) error {
	switch p.Kind {
	case "":
		p.Kind = domain.JobBulk
		if len(p.Symbols) == 1 {
			p.Kind = domain.JobSingle
		}
	case domain.JobSingle, domain.JobBulk:
	default:
		return invalid("unknown kind %q", p.Kind)
	}
	if p.Market == "" {
		p.Market = domain.MarketUS
	}

	seen := make(map[string]struct{}, len(p.Symbols))
	symbols := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	p.Symbols = symbols
	if len(p.Symbols) == 0 {
		return invalid("no symbols")
	}
	if p.Kind == domain.JobSingle && len(p.Symbols) != 1 {
		return invalid("single run takes one symbol, got %d", len(p.Symbols))
	}

	if p.InitialCapital <= 0 {
		return invalid("initial_capital must be positive")
	}
	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return invalid("start_date %q: want YYYY-MM-DD", p.StartDate)
	}
	if p.EndDate == "" {
		p.EndDate = now.UTC().Format(dateLayout)
	}
	end, err := time.Parse(dateLayout, p.EndDate)
	if err != nil {
		return invalid("end_date %q: want YYYY-MM-DD", p.EndDate)
	}
	if end.Before(start) {
		return invalid("end_date %s before start_date %s", p.EndDate, p.StartDate)
	}

	iv, ok := domain.ParseInterval(string(p.Interval))
	if !ok {
		return invalid("unknown interval %q", p.Interval)
	}
	p.Interval = iv

	if len(p.BuyStrategies) == 0 && len(p.SellStrategies) == 0 {
		return invalid("no strategies")
	}
	if err := reg.Validate(domain.SideBuy, p.BuyStrategies); err != nil {
		return err
	}
	if err := reg.Validate(domain.SideSell, p.SellStrategies); err != nil {
		return err
	}

	p.TakeProfit = p.TakeProfit.Normalize()
	p.StopLoss = p.StopLoss.Normalize()
	if p.Sizing.FixedAmount < 0 || p.Sizing.Ratio < 0 || p.Sizing.Ratio > 100 {
		return invalid("sizing out of range")
	}
	if p.WarmupDays < 0 {
		return invalid("warmup_days must not be negative")
	}
	return nil
}

// engineConfig maps the request onto a driver configuration.
func (p Params) engineConfig() engine.Config {
	return engine.Config{
		Start:          p.Start(),
		Symbols:        p.Symbols,
		BuyStrategies:  p.BuyStrategies,
		SellStrategies: p.SellStrategies,
		TakeProfit:     p.TakeProfit,
		StopLoss:       p.StopLoss,
		Sizing:         p.Sizing,
		Channel:        p.Channel,
	}
}
