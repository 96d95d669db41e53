// Package portfolio is the position ledger: per-symbol holdings and the
// shared cash balance they draw on.
package portfolio

import (
	"fmt"
	"math"

	"quantsim/internal/domain"
)

// Default transaction cost rates. Fees apply to both sides, tax to sells only.
const (
	DefaultFeeRate = 0.00014
	DefaultTaxRate = 0.0015
)

// Costs holds the transaction cost rates.
type Costs struct {
	FeeRate float64 `json:"fee_rate" yaml:"fee_rate"`
	TaxRate float64 `json:"tax_rate" yaml:"tax_rate"`
}

// DefaultCosts returns the standard fee and tax rates.
func DefaultCosts() Costs {
	return Costs{FeeRate: DefaultFeeRate, TaxRate: DefaultTaxRate}
}

// OrDefault fills unset rates with the defaults.
func (c Costs) OrDefault() Costs {
	if c.FeeRate <= 0 {
		c.FeeRate = DefaultFeeRate
	}
	if c.TaxRate <= 0 {
		c.TaxRate = DefaultTaxRate
	}
	return c
}

// BuyCost returns the cash needed to buy qty at price, and the fee part of it.
func (c Costs) BuyCost(qty int64, price float64) (cost, fee float64) {
	gross := float64(qty) * price
	fee = gross * c.FeeRate
	return gross + fee, fee
}

// MaxAffordable is the largest quantity whose BuyCost fits in cash.
func (c Costs) MaxAffordable(cash, price float64) int64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	q := int64(math.Floor(cash / (price * (1 + c.FeeRate))))
	for q > 0 {
		if cost, _ := c.BuyCost(q, price); cost <= cash {
			break
		}
		q--
	}
	return q
}

// Fill is the accounting breakdown of one executed trade.
type Fill struct {
	Side        domain.Side
	Quantity    int64
	Price       float64
	Fee         float64
	Tax         float64
	Amount      float64 // cost for buys, proceeds for sells
	RealizedPnL float64
	RealizedROI float64 // percent of the closed cost basis
}

// ---------------------------------------------------------------------------
// Holding
// ---------------------------------------------------------------------------

// Holding is the mutable position in one symbol. Quantity, AveragePrice and
// TotalCost are either all zero or satisfy AveragePrice == TotalCost/Quantity.
// AveragePrice includes buy fees; EntryPrice is the fee-free weighted fill
// price that fixed exit policies measure against.
type Holding struct {
	Symbol            string            `json:"symbol"`
	Quantity          int64             `json:"quantity"`
	AveragePrice      float64           `json:"average_price"`
	TotalCost         float64           `json:"total_cost"`
	EntryPrice        float64           `json:"entry_price"`
	TrailingReference float64           `json:"trailing_reference"`
	TakeProfit        domain.ExitPolicy `json:"take_profit"`
	StopLoss          domain.ExitPolicy `json:"stop_loss"`
}

// ApplyBuy adds qty at price, charging the buy fee. It fails without side
// effects when qty is not positive or the cost exceeds cash.
func (h *Holding) ApplyBuy(qty int64, price, cash float64, c Costs) (Fill, error) {
	if qty <= 0 || price <= 0 {
		return Fill{}, fmt.Errorf("buying %d %s at %v: %w", qty, h.Symbol, price, domain.ErrInvalidQuantity)
	}
	cost, fee := c.BuyCost(qty, price)
	if cost > cash {
		return Fill{}, fmt.Errorf("buying %d %s for %.2f with %.2f: %w", qty, h.Symbol, cost, cash, domain.ErrInsufficientFunds)
	}

	h.EntryPrice = (h.EntryPrice*float64(h.Quantity) + price*float64(qty)) / float64(h.Quantity+qty)
	h.TotalCost += cost
	h.Quantity += qty
	h.AveragePrice = h.TotalCost / float64(h.Quantity)
	h.TrailingReference = math.Max(h.TrailingReference, price)

	return Fill{Side: domain.SideBuy, Quantity: qty, Price: price, Fee: fee, Amount: cost}, nil
}

// ApplySell closes the entire position at price.
func (h *Holding) ApplySell(price float64, c Costs) (Fill, error) {
	if h.Quantity <= 0 {
		return Fill{}, fmt.Errorf("selling %s: %w", h.Symbol, domain.ErrInvalidQuantity)
	}
	qty := h.Quantity
	gross := float64(qty) * price
	fee := gross * c.FeeRate
	tax := gross * c.TaxRate
	proceeds := gross - fee - tax
	basis := h.AveragePrice * float64(qty)
	pnl := proceeds - basis

	f := Fill{
		Side:        domain.SideSell,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
		Tax:         tax,
		Amount:      proceeds,
		RealizedPnL: pnl,
	}
	if basis > 0 {
		f.RealizedROI = pnl / basis * 100
	}

	h.flatten()
	return f, nil
}

func (h *Holding) flatten() {
	h.Quantity = 0
	h.AveragePrice = 0
	h.TotalCost = 0
	h.EntryPrice = 0
	h.TrailingReference = 0
}

// MarkToMarket values the open position at close without mutating it.
func (h *Holding) MarkToMarket(close float64) (pnl, roi float64) {
	if h.Quantity == 0 {
		return 0, 0
	}
	pnl = (close - h.AveragePrice) * float64(h.Quantity)
	if h.TotalCost > 0 {
		roi = pnl / h.TotalCost * 100
	}
	return pnl, roi
}

// Track raises an active trailing reference to close.
func (h *Holding) Track(close float64) {
	if h.TrailingReference > 0 && close > h.TrailingReference {
		h.TrailingReference = close
	}
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Portfolio is the cash pool and the holdings that share it. Holdings keep
// the order they were opened in.
type Portfolio struct {
	Cash           float64
	InitialCapital float64

	costs    Costs
	holdings map[string]*Holding
	order    []string
}

// New creates a portfolio with initial cash.
func New(initialCapital float64, c Costs) *Portfolio {
	return &Portfolio{
		Cash:           initialCapital,
		InitialCapital: initialCapital,
		costs:          c.OrDefault(),
		holdings:       make(map[string]*Holding),
	}
}

// Costs returns the rates the portfolio charges.
func (p *Portfolio) Costs() Costs { return p.costs }

// Open returns the holding for symbol, creating an empty one with the given
// exit policies if needed.
func (p *Portfolio) Open(symbol string, takeProfit, stopLoss domain.ExitPolicy) *Holding {
	if h, ok := p.holdings[symbol]; ok {
		return h
	}
	h := &Holding{Symbol: symbol, TakeProfit: takeProfit.Normalize(), StopLoss: stopLoss.Normalize()}
	p.holdings[symbol] = h
	p.order = append(p.order, symbol)
	return h
}

// Holding looks up a symbol.
func (p *Portfolio) Holding(symbol string) (*Holding, bool) {
	h, ok := p.holdings[symbol]
	return h, ok
}

// Symbols returns symbols in the order they were opened.
func (p *Portfolio) Symbols() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Buy debits cash for qty of symbol at price.
func (p *Portfolio) Buy(symbol string, qty int64, price float64) (Fill, error) {
	h, ok := p.holdings[symbol]
	if !ok {
		return Fill{}, fmt.Errorf("buying %s: no holding opened", symbol)
	}
	f, err := h.ApplyBuy(qty, price, p.Cash, p.costs)
	if err != nil {
		return Fill{}, err
	}
	p.Cash -= f.Amount
	return f, nil
}

// Sell closes symbol at price and credits the proceeds.
func (p *Portfolio) Sell(symbol string, price float64) (Fill, error) {
	h, ok := p.holdings[symbol]
	if !ok {
		return Fill{}, fmt.Errorf("selling %s: no holding opened", symbol)
	}
	f, err := h.ApplySell(price, p.costs)
	if err != nil {
		return Fill{}, err
	}
	p.Cash += f.Amount
	return f, nil
}

// BookValue is cash plus every holding at cost. Percentage sizing uses it.
func (p *Portfolio) BookValue() float64 {
	v := p.Cash
	for _, sym := range p.order {
		v += p.holdings[sym].TotalCost
	}
	return v
}

// MarketValue is cash plus holdings valued at the given closes. Holdings
// without a close are valued at cost.
func (p *Portfolio) MarketValue(closes map[string]float64) float64 {
	v := p.Cash
	for _, sym := range p.order {
		h := p.holdings[sym]
		if h.Quantity == 0 {
			continue
		}
		if c, ok := closes[sym]; ok {
			v += c * float64(h.Quantity)
		} else {
			v += h.TotalCost
		}
	}
	return v
}

// Seed loads broker positions into the portfolio. Seeded holdings use their
// average price as the trailing reference.
func (p *Portfolio) Seed(positions []domain.Position, takeProfit, stopLoss domain.ExitPolicy) {
	for _, pos := range positions {
		if pos.Qty <= 0 {
			continue
		}
		h := p.Open(pos.Symbol, takeProfit, stopLoss)
		h.Quantity = pos.Qty
		h.AveragePrice = pos.AvgPrice
		h.TotalCost = pos.AvgPrice * float64(pos.Qty)
		h.EntryPrice = pos.AvgPrice
		h.TrailingReference = pos.AvgPrice
	}
}

// Snapshot copies every holding in order.
func (p *Portfolio) Snapshot() []Holding {
	out := make([]Holding, 0, len(p.order))
	for _, sym := range p.order {
		out = append(out, *p.holdings[sym])
	}
	return out
}
