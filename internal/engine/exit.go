package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quantsim/internal/domain"
	"quantsim/internal/portfolio"
)

// ExitDecision is the outcome of checking a holding's take-profit and
// stop-loss policies against a close.
type ExitDecision struct {
	TakeProfit bool
	StopLoss   bool
	Policy     domain.ExitPolicy
	Return     float64 // fractional return that triggered the exit
}

// Fired reports whether either policy triggered.
func (d ExitDecision) Fired() bool { return d.TakeProfit || d.StopLoss }

// Reason describes the exit for the trade log.
func (d ExitDecision) Reason() string {
	switch {
	case d.TakeProfit:
		return fmt.Sprintf("take profit (%s %.2f%%): return %.2f%%", d.Policy.Kind, d.Policy.Ratio, d.Return*100)
	case d.StopLoss:
		return fmt.Sprintf("stop loss (%s %.2f%%): return %.2f%%", d.Policy.Kind, d.Policy.Ratio, d.Return*100)
	}
	return ""
}

// ExitEngine evaluates exit policies. It holds no state.
type ExitEngine struct{}

// NewExitEngine returns an ExitEngine.
func NewExitEngine() *ExitEngine { return &ExitEngine{} }

// Evaluate checks take-profit first, then stop-loss. At most one fires.
//
// FIXED policies measure against the holding's EntryPrice, the fee-free
// weighted fill price (AveragePrice includes the buy fee). TRAILING policies
// measure against the trailing reference. Take-profit fires when close >=
// base*(1+ratio/100) and stop-loss when close <= base*(1-ratio/100), both
// compared in decimal so a quoted price exactly on the boundary fires.
func (e *ExitEngine) Evaluate(h *portfolio.Holding, close float64) ExitDecision {
	if h.Quantity <= 0 {
		return ExitDecision{}
	}
	if base, ok := policyBase(h, h.TakeProfit); ok && crossed(close, base, 100+h.TakeProfit.Ratio, true) {
		return ExitDecision{TakeProfit: true, Policy: h.TakeProfit, Return: (close - base) / base}
	}
	if base, ok := policyBase(h, h.StopLoss); ok && crossed(close, base, 100-h.StopLoss.Ratio, false) {
		return ExitDecision{StopLoss: true, Policy: h.StopLoss, Return: (close - base) / base}
	}
	return ExitDecision{}
}

// policyBase is the price a policy measures from: the entry price for
// FIXED, the trailing reference for TRAILING. A zero trailing reference
// falls back to the entry price.
func policyBase(h *portfolio.Holding, p domain.ExitPolicy) (float64, bool) {
	if !p.Enabled() {
		return 0, false
	}
	base := h.EntryPrice
	if p.Kind == domain.ExitTrailing && h.TrailingReference > 0 {
		base = h.TrailingReference
	}
	return base, base > 0
}

var hundred = decimal.NewFromInt(100)

// crossed compares close with base*pct/100, at or above when up is set,
// at or below otherwise.
func crossed(close, base, pct float64, up bool) bool {
	c := decimal.NewFromFloat(close)
	target := decimal.NewFromFloat(base).Mul(decimal.NewFromFloat(pct)).Div(hundred)
	if up {
		return c.GreaterThanOrEqual(target)
	}
	return c.LessThanOrEqual(target)
}
