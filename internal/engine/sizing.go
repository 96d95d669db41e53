package engine

import (
	"math"

	"quantsim/internal/portfolio"
)

// Sizing turns a BUY signal into a share quantity.
//
// The trade amount is FixedAmount when set, otherwise Ratio percent of the
// portfolio book value, otherwise all available cash. It is capped at cash.
// Amounts under MinTradeValue are skipped. When BuyPercentage is set, adding
// to an open position requires the close to have moved more than that
// percentage away from the average price.
type Sizing struct {
	FixedAmount   float64 `json:"fixed_amount,omitempty" yaml:"fixed_amount"`
	Ratio         float64 `json:"ratio,omitempty" yaml:"ratio"`
	MinTradeValue float64 `json:"min_trade_value,omitempty" yaml:"min_trade_value"`
	BuyPercentage float64 `json:"buy_percentage,omitempty" yaml:"buy_percentage"`
}

// Skip reasons returned by Size.
const (
	SkipNoPrice      = "no price"
	SkipRebuyGuard   = "rebuy guard"
	SkipNoCash       = "no cash"
	SkipMinTrade     = "below min trade value"
	SkipSubUnitValue = "amount below one share"
)

// Size returns the quantity to buy, or zero and the reason the buy is
// skipped.
func (s Sizing) Size(p *portfolio.Portfolio, h *portfolio.Holding, close float64) (int64, string) {
	if close <= 0 {
		return 0, SkipNoPrice
	}
	if s.BuyPercentage > 0 && h.AveragePrice > 0 {
		moved := math.Abs(h.AveragePrice-close) / h.AveragePrice * 100
		if moved <= s.BuyPercentage {
			return 0, SkipRebuyGuard
		}
	}

	cash := p.Cash
	if cash <= 0 {
		return 0, SkipNoCash
	}

	var amount float64
	switch {
	case s.FixedAmount > 0:
		amount = s.FixedAmount
	case s.Ratio > 0:
		amount = p.BookValue() * s.Ratio / 100
	default:
		amount = cash
	}
	amount = math.Min(amount, cash)

	if s.MinTradeValue > 0 && amount < s.MinTradeValue {
		return 0, SkipMinTrade
	}

	costs := p.Costs()
	qty := int64(math.Floor(amount / close))
	if cost, _ := costs.BuyCost(qty, close); cost > cash {
		qty = costs.MaxAffordable(cash, close)
	}
	if qty <= 0 {
		return 0, SkipSubUnitValue
	}
	return qty, ""
}
