// Package report assembles a finished run into its persisted result: the
// summary metrics, a per-symbol breakdown, the equity curve and the full
// trade event log.
package report

import (
	"encoding/json"
	"sort"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/portfolio"
)

// Summary rolls up a run.
type Summary struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalCash      float64 `json:"final_cash"`
	FinalValue     float64 `json:"final_value"`
	ReturnPct      float64 `json:"return_pct"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	Fees           float64 `json:"fees"`
	Taxes          float64 `json:"taxes"`
	Buys           int     `json:"buys"`
	Sells          int     `json:"sells"`
	SignalSells    int     `json:"signal_sells"`
	TakeProfits    int     `json:"take_profits"`
	TakeProfitPnL  float64 `json:"take_profit_pnl"`
	StopLosses     int     `json:"stop_losses"`
	StopLossPnL    float64 `json:"stop_loss_pnl"`
	WinRate        float64 `json:"win_rate"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
}

// SymbolSummary is the per-symbol breakdown.
type SymbolSummary struct {
	Symbol        string  `json:"symbol"`
	Buys          int     `json:"buys"`
	Sells         int     `json:"sells"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Quantity      int64   `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastClose     float64 `json:"last_close"`
}

// EquityPoint is the portfolio value at the end of one date.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Result is the persisted output of a simulation.
type Result struct {
	JobID         string                 `json:"job_id,omitempty"`
	Start         time.Time              `json:"start"`
	End           time.Time              `json:"end"`
	Symbols       []string               `json:"symbols"`
	FailedSymbols []string               `json:"failed_symbols"`
	Summary       Summary                `json:"summary"`
	PerSymbol     []SymbolSummary        `json:"per_symbol"`
	Equity        []EquityPoint          `json:"equity"`
	Holdings      []portfolio.Holding    `json:"holdings"`
	Events        []domain.TradeEvent    `json:"events"`
	Params        json.RawMessage        `json:"params,omitempty"`
}

// Assemble packages an engine outcome. symbols fixes the order of the
// per-symbol breakdown.
func Assemble(out *engine.Outcome, symbols, failed []string) *Result {
	res := &Result{
		Symbols:       symbols,
		FailedSymbols: failed,
		Holdings:      out.Holdings,
		Events:        out.Events,
	}
	if res.FailedSymbols == nil {
		res.FailedSymbols = []string{}
	}
	if len(out.Events) > 0 {
		res.Start = domain.DateKey(out.Events[0].Timestamp)
		res.End = domain.DateKey(out.Events[len(out.Events)-1].Timestamp)
	}

	per := make(map[string]*SymbolSummary, len(symbols))
	for _, sym := range symbols {
		per[sym] = &SymbolSummary{Symbol: sym}
	}

	s := &res.Summary
	s.InitialCapital = out.InitialCapital
	s.FinalCash = out.Cash
	wins := 0
	for _, ev := range out.Events {
		ps, ok := per[ev.Symbol]
		if !ok {
			ps = &SymbolSummary{Symbol: ev.Symbol}
			per[ev.Symbol] = ps
		}
		s.Fees += ev.Fee
		s.Taxes += ev.Tax
		switch ev.Side {
		case domain.SideBuy:
			s.Buys++
			ps.Buys++
		case domain.SideSell:
			s.Sells++
			ps.Sells++
			s.RealizedPnL += ev.RealizedPnL
			ps.RealizedPnL += ev.RealizedPnL
			if ev.RealizedPnL > 0 {
				wins++
			}
			switch {
			case ev.TakeProfitHit:
				s.TakeProfits++
				s.TakeProfitPnL += ev.RealizedPnL
			case ev.StopLossHit:
				s.StopLosses++
				s.StopLossPnL += ev.RealizedPnL
			default:
				s.SignalSells++
			}
		}
	}
	if s.Sells > 0 {
		s.WinRate = float64(wins) / float64(s.Sells) * 100
	}

	value := out.Cash
	for i := range out.Holdings {
		h := &out.Holdings[i]
		ps, ok := per[h.Symbol]
		if !ok {
			continue
		}
		last := out.LastCloses[h.Symbol]
		ps.LastClose = last
		ps.Quantity = h.Quantity
		ps.AveragePrice = h.AveragePrice
		if h.Quantity > 0 {
			pnl, _ := h.MarkToMarket(last)
			ps.UnrealizedPnL = pnl
			s.UnrealizedPnL += pnl
			value += last * float64(h.Quantity)
		}
	}
	s.FinalValue = value
	if s.InitialCapital > 0 {
		s.ReturnPct = (s.FinalValue - s.InitialCapital) / s.InitialCapital * 100
	}

	res.Equity = EquityCurve(out.Events, out.InitialCapital)
	s.MaxDrawdownPct = MaxDrawdown(res.Equity)

	seen := make(map[string]bool, len(per))
	for _, sym := range symbols {
		if ps, ok := per[sym]; ok && !seen[sym] {
			res.PerSymbol = append(res.PerSymbol, *ps)
			seen[sym] = true
		}
	}
	var rest []string
	for sym := range per {
		if !seen[sym] {
			rest = append(rest, sym)
		}
	}
	sort.Strings(rest)
	for _, sym := range rest {
		res.PerSymbol = append(res.PerSymbol, *per[sym])
	}
	return res
}

// EquityCurve replays events into end-of-date portfolio values. Each
// event carries the cash after it and the position after it, and every
// symbol with a bar gets at least one event, so the last event per symbol
// on a date fixes its value.
func EquityCurve(events []domain.TradeEvent, initial float64) []EquityPoint {
	type pos struct {
		qty   int64
		price float64
	}
	positions := make(map[string]pos)
	var order []string // first-seen, so the sum is reproducible
	cash := initial
	var out []EquityPoint

	flush := func(d time.Time) {
		v := cash
		for _, sym := range order {
			p := positions[sym]
			v += float64(p.qty) * p.price
		}
		out = append(out, EquityPoint{Date: d, Value: v})
	}

	var current time.Time
	for i, ev := range events {
		d := domain.DateKey(ev.Timestamp)
		if i > 0 && !d.Equal(current) {
			flush(current)
		}
		current = d
		cash = ev.CashAfter
		if _, ok := positions[ev.Symbol]; !ok {
			order = append(order, ev.Symbol)
		}
		positions[ev.Symbol] = pos{qty: ev.PositionQuantity, price: ev.Price}
	}
	if len(events) > 0 {
		flush(current)
	}
	return out
}

// MaxDrawdown is the largest peak-to-trough fall of the curve, in percent.
func MaxDrawdown(curve []EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
