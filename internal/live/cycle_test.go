package live

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quantsim/internal/broker"
	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/notify"
	"quantsim/internal/portfolio"
	"quantsim/internal/store"
	"quantsim/internal/strategy"
)

// Wednesday.
var today = time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)

type memProvider map[string][]domain.Bar

func (m memProvider) GetBars(_ context.Context, symbol string, start, end time.Time, _ domain.Interval) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range m[symbol] {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrDataUnavailable
	}
	return out, nil
}

// flat returns n weekday bars at close c ending on last.
func flat(symbol string, c float64, last time.Time, n int) []domain.Bar {
	out := make([]domain.Bar, 0, n)
	for d := domain.DateKey(last); len(out) < n; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append([]domain.Bar{{Symbol: symbol, Timestamp: d, Open: c, High: c, Low: c, Close: c, Volume: 1000}}, out...)
	}
	return out
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) levels() []notify.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Level
	for _, m := range r.msgs {
		out = append(out, m.Level)
	}
	return out
}

func evaluator() *strategy.Evaluator {
	reg := strategy.NewRegistry()
	reg.Register(&strategy.Funcs{ID: "sell_all", Sell: func(strategy.Context) bool { return true }})
	reg.Register(&strategy.Funcs{ID: "buy_new", Buy: func(c strategy.Context) bool { return c.Last().Symbol == "NEW" }})
	return strategy.NewEvaluator(reg, 0, 0)
}

func newTradeLog(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trades.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func baseConfig() Config {
	return Config{
		Symbols:        []string{"NEW", "GONE"},
		BuyStrategies:  []string{"buy_new"},
		SellStrategies: []string{"sell_all"},
		Sizing:         engine.Sizing{Ratio: 10},
		WarmupDays:     60,
	}
}

func TestCycleSeedsFromBrokerAndLogsEvents(t *testing.T) {
	ctx := context.Background()
	b := broker.NewSimulatorBroker(100_000)
	if _, err := b.Buy(ctx, "HELD", 10, 50); err != nil {
		t.Fatal(err)
	}
	trades := newTradeLog(t)
	notes := &recorder{}

	c, err := NewCycle(baseConfig(), Deps{
		Provider: memProvider{
			"NEW":  flat("NEW", 20, today, 30),
			"HELD": flat("HELD", 60, today, 30),
		},
		Evaluator: evaluator(),
		Broker:    b,
		Trades:    trades,
		Notifier:  notes,
		Costs:     portfolio.DefaultCosts(),
		Now:       func() time.Time { return today },
	})
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}

	rep, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != "" {
		t.Fatalf("cycle skipped: %s", rep.Skipped)
	}
	if rep.Buys != 1 || rep.Sells != 1 {
		t.Errorf("buys/sells = %d/%d, want 1/1", rep.Buys, rep.Sells)
	}
	if len(rep.Failed) != 1 || rep.Failed[0] != "GONE" {
		t.Errorf("Failed = %v, want [GONE]", rep.Failed)
	}
	if !rep.Date.Equal(domain.DateKey(today)) {
		t.Errorf("Date = %s", rep.Date)
	}

	sells, err := trades.ListEvents(ctx, "HELD", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(sells) != 1 || sells[0].Side != domain.SideSell || sells[0].Quantity != 10 {
		t.Fatalf("HELD events = %+v", sells)
	}
	if sells[0].RealizedPnL <= 0 {
		t.Errorf("selling at 60 after buying at 50 should realize a gain, got %v", sells[0].RealizedPnL)
	}

	positions, _ := b.GetPositions(ctx)
	if len(positions) != 1 || positions[0].Symbol != "NEW" || positions[0].Qty <= 0 {
		t.Errorf("broker positions = %+v, want only NEW", positions)
	}

	lv := notes.levels()
	if len(lv) == 0 || lv[len(lv)-1] != notify.LevelInfo {
		t.Errorf("notification levels = %v, want a closing summary", lv)
	}
}

func TestCycleSkipsClosedMarket(t *testing.T) {
	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	failing := &failingBroker{SimulatorBroker: broker.NewSimulatorBroker(1000)}

	tests := []struct {
		name       string
		now        time.Time
		tradingDay func(time.Time) (bool, error)
	}{
		{"weekend", saturday, nil},
		{"holiday", today, func(time.Time) (bool, error) { return false, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCycle(baseConfig(), Deps{
				Provider:   memProvider{},
				Evaluator:  evaluator(),
				Broker:     failing,
				Trades:     newTradeLog(t),
				TradingDay: tt.tradingDay,
				Now:        func() time.Time { return tt.now },
			})
			if err != nil {
				t.Fatal(err)
			}
			rep, err := c.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.Skipped != "market closed" {
				t.Errorf("Skipped = %q", rep.Skipped)
			}
		})
	}
}

func TestCycleNoBarForToday(t *testing.T) {
	yesterday := today.AddDate(0, 0, -1)
	c, err := NewCycle(baseConfig(), Deps{
		Provider:  memProvider{"NEW": flat("NEW", 20, yesterday, 30)},
		Evaluator: evaluator(),
		Broker:    broker.NewSimulatorBroker(5000),
		Trades:    newTradeLog(t),
		Now:       func() time.Time { return today },
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Skipped != "no bar for today" || rep.Cash != 5000 || len(rep.Events) != 0 {
		t.Errorf("report = %+v", rep)
	}
}

type failingBroker struct {
	*broker.SimulatorBroker
}

func (failingBroker) GetAccount(context.Context) (*domain.AccountInfo, error) {
	return nil, errors.New("503 service unavailable")
}

func TestCycleAbortsOnBrokerFailure(t *testing.T) {
	notes := &recorder{}
	c, err := NewCycle(baseConfig(), Deps{
		Provider:  memProvider{},
		Evaluator: evaluator(),
		Broker:    &failingBroker{SimulatorBroker: broker.NewSimulatorBroker(0)},
		Trades:    newTradeLog(t),
		Notifier:  notes,
		Now:       func() time.Time { return today },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if lv := notes.levels(); len(lv) != 1 || lv[0] != notify.LevelError {
		t.Errorf("notifications = %v, want one error", lv)
	}
}

func TestNewCycleValidates(t *testing.T) {
	cfg := baseConfig()
	cfg.BuyStrategies = []string{"sell_all"}
	_, err := NewCycle(cfg, Deps{
		Provider:  memProvider{},
		Evaluator: evaluator(),
		Broker:    broker.NewSimulatorBroker(0),
		Trades:    newTradeLog(t),
	})
	if !errors.Is(err, domain.ErrUnknownStrategy) {
		t.Errorf("buy-side use of a sell-only strategy err = %v", err)
	}

	if _, err := NewCycle(baseConfig(), Deps{Evaluator: evaluator()}); err == nil {
		t.Error("missing provider should fail")
	}
}
