package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/engine"
	"quantsim/internal/portfolio"
)

var d1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestAssembleSummary(t *testing.T) {
	h := portfolio.Holding{Symbol: "B", Quantity: 10, AveragePrice: 50, TotalCost: 500}
	out := &engine.Outcome{
		InitialCapital: 10000,
		Cash:           9000,
		Holdings:       []portfolio.Holding{{Symbol: "A"}, h},
		LastCloses:     map[string]float64{"A": 110, "B": 60},
		Events: []domain.TradeEvent{
			{Symbol: "A", Timestamp: d1, Side: domain.SideBuy, Quantity: 10, Price: 100, Fee: 0.14, Amount: 1000.14, CashAfter: 8999.86, PositionQuantity: 10, AveragePrice: 100.014, TotalCost: 1000.14},
			{Symbol: "B", Timestamp: d1, Side: domain.SideBuy, Quantity: 10, Price: 50, CashAfter: 8499.86, PositionQuantity: 10, AveragePrice: 50, TotalCost: 500},
			{Symbol: "A", Timestamp: d1.AddDate(0, 0, 1), Side: domain.SideSell, Quantity: 10, Price: 110, Fee: 0.154, Tax: 1.65, RealizedPnL: 98.05, TakeProfitHit: true, CashAfter: 9000},
			{Symbol: "B", Timestamp: d1.AddDate(0, 0, 1), Side: domain.SideNone, Price: 60, CashAfter: 9000, PositionQuantity: 10, AveragePrice: 50, TotalCost: 500},
		},
	}

	res := Assemble(out, []string{"A", "B"}, []string{"ZZZ"})
	s := res.Summary
	if s.Buys != 2 || s.Sells != 1 || s.TakeProfits != 1 || s.SignalSells != 0 {
		t.Errorf("counts = %+v", s)
	}
	if math.Abs(s.RealizedPnL-98.05) > 1e-9 || math.Abs(s.TakeProfitPnL-98.05) > 1e-9 {
		t.Errorf("realized = %v, tp pnl = %v", s.RealizedPnL, s.TakeProfitPnL)
	}
	if s.UnrealizedPnL != 100 {
		t.Errorf("unrealized = %v, want 100", s.UnrealizedPnL)
	}
	if s.FinalValue != 9600 {
		t.Errorf("final value = %v, want 9600", s.FinalValue)
	}
	if math.Abs(s.ReturnPct-(-4)) > 1e-9 {
		t.Errorf("return = %v, want -4", s.ReturnPct)
	}
	if s.WinRate != 100 {
		t.Errorf("win rate = %v, want 100", s.WinRate)
	}
	if len(res.FailedSymbols) != 1 || res.FailedSymbols[0] != "ZZZ" {
		t.Errorf("failed = %v", res.FailedSymbols)
	}
	if len(res.PerSymbol) != 2 || res.PerSymbol[0].Symbol != "A" || res.PerSymbol[1].Quantity != 10 {
		t.Errorf("per symbol = %+v", res.PerSymbol)
	}
	if !res.Start.Equal(d1) || !res.End.Equal(d1.AddDate(0, 0, 1)) {
		t.Errorf("range = %v..%v", res.Start, res.End)
	}
	if len(res.Equity) != 2 {
		t.Fatalf("equity points = %d, want 2", len(res.Equity))
	}
	if want := 8499.86 + 1000 + 500; math.Abs(res.Equity[0].Value-want) > 1e-9 {
		t.Errorf("equity day 1 = %v, want %v", res.Equity[0].Value, want)
	}
	if want := 9000.0 + 600; math.Abs(res.Equity[1].Value-want) > 1e-9 {
		t.Errorf("equity day 2 = %v, want %v", res.Equity[1].Value, want)
	}
}

func TestEquityCurveSumsInEventOrder(t *testing.T) {
	// 1e16 absorbs a lone +1, so the sum depends on the addition order.
	events := []domain.TradeEvent{
		{Symbol: "B", Timestamp: d1, Side: domain.SideNone, Price: 1, PositionQuantity: 1},
		{Symbol: "C", Timestamp: d1, Side: domain.SideNone, Price: 1, PositionQuantity: 1},
		{Symbol: "A", Timestamp: d1, Side: domain.SideNone, Price: 1e16, PositionQuantity: 1},
	}
	for i := 0; i < 100; i++ {
		curve := EquityCurve(events, 0)
		if len(curve) != 1 {
			t.Fatalf("curve has %d points, want 1", len(curve))
		}
		if curve[0].Value != 1e16+2 {
			t.Fatalf("run %d: value = %v, want %v", i, curve[0].Value, 1e16+2)
		}
	}
}

func TestMaxDrawdown(t *testing.T) {
	curve := []EquityPoint{{Value: 100}, {Value: 120}, {Value: 90}, {Value: 130}, {Value: 117}}
	if got := MaxDrawdown(curve); math.Abs(got-25) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want 25", got)
	}
	if MaxDrawdown(nil) != 0 {
		t.Error("empty curve should have no drawdown")
	}
}

func TestWriteCSV(t *testing.T) {
	series := map[string][]domain.AnnotatedBar{
		"A": {
			{Bar: domain.Bar{Timestamp: d1.AddDate(0, 0, -1), Close: 9}},
			{Bar: domain.Bar{Timestamp: d1, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}, Indicators: map[string]float64{"ema_5": 1.25, "rsi_14": math.NaN()}},
		},
	}
	events := []domain.TradeEvent{
		{Symbol: "A", Timestamp: d1, Side: domain.SideSell, Reason: "stop loss"},
		{Symbol: "A", Timestamp: d1, Side: domain.SideBuy, Quantity: 3, Price: 1.5, Reason: "signal: x"},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, []string{"A"}, series, events, d1); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	header, row := rows[0], rows[1]
	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %q missing", name)
		return ""
	}
	if col("date") != "2024-05-01" || col("ema_5") != "1.25" || col("rsi_14") != "" {
		t.Errorf("row = %v", row)
	}
	if col("side") != "SELL|BUY" || col("quantity") != "3" || col("reasons") != "stop loss|signal: x" {
		t.Errorf("event columns = %v", row)
	}
}
