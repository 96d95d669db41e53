package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quantsim/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills every order immediately at the requested price. It
// keeps positions in memory so a paper-trading cycle can be seeded from it.
// Cash checks are left to the portfolio ledger.
type SimulatorBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*domain.Position
	seq       int
}

// NewSimulatorBroker creates a SimulatorBroker holding cash and no positions.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      cash,
		positions: make(map[string]*domain.Position),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Buy records the purchase at price.
func (b *SimulatorBroker) Buy(_ context.Context, symbol string, qty int64, price float64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, fmt.Errorf("simulator buy %s: %w", symbol, domain.ErrInvalidQuantity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		b.positions[symbol] = p
	}
	total := p.AvgPrice*float64(p.Qty) + price*float64(qty)
	p.Qty += qty
	p.AvgPrice = total / float64(p.Qty)
	b.cash -= price * float64(qty)

	return b.fill(symbol, domain.SideBuy, qty, price), nil
}

// Sell records the sale at price.
func (b *SimulatorBroker) Sell(_ context.Context, symbol string, qty int64, price float64) (Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok || qty <= 0 || qty > p.Qty {
		return Fill{}, fmt.Errorf("simulator sell %d %s: %w", qty, symbol, domain.ErrInvalidQuantity)
	}
	p.Qty -= qty
	if p.Qty == 0 {
		delete(b.positions, symbol)
	}
	b.cash += price * float64(qty)

	return b.fill(symbol, domain.SideSell, qty, price), nil
}

func (b *SimulatorBroker) fill(symbol string, side domain.Side, qty int64, price float64) Fill {
	b.seq++
	return Fill{
		OrderID: fmt.Sprintf("sim-%d", b.seq),
		Symbol:  symbol,
		Side:    side,
		Qty:     qty,
		Price:   price,
	}
}

// GetPositions returns a copy of the simulated positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount reports the simulated cash. Equity is cash plus positions at
// cost.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.AvgPrice * float64(p.Qty)
	}
	return &domain.AccountInfo{Equity: equity, Cash: b.cash, BuyingPower: b.cash}, nil
}
