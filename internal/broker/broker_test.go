package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(10000)

	f, err := b.Buy(ctx, "AAPL", 10, 100)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if f.Qty != 10 || f.Price != 100 || f.Side != domain.SideBuy {
		t.Errorf("Buy fill = %+v", f)
	}
	if _, err := b.Buy(ctx, "AAPL", 10, 200); err != nil {
		t.Fatalf("second Buy: %v", err)
	}

	ps, _ := b.GetPositions(ctx)
	if len(ps) != 1 || ps[0].Qty != 20 || ps[0].AvgPrice != 150 {
		t.Fatalf("positions = %+v, want 20 @ 150", ps)
	}

	if _, err := b.Sell(ctx, "AAPL", 30, 100); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("oversell err = %v, want ErrInvalidQuantity", err)
	}
	if _, err := b.Sell(ctx, "AAPL", 20, 160); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	acct, _ := b.GetAccount(ctx)
	if got, want := acct.Cash, 10000.0-1000-2000+3200; got != want {
		t.Errorf("cash = %v, want %v", got, want)
	}
	if ps, _ := b.GetPositions(ctx); len(ps) != 0 {
		t.Errorf("positions after sell = %+v, want none", ps)
	}
}

// flaky fails a fixed number of calls before succeeding.
type flaky struct {
	*SimulatorBroker
	failures int
	calls    int
}

func (f *flaky) Buy(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	f.calls++
	if f.calls <= f.failures {
		return Fill{}, errors.New("connection reset")
	}
	return f.SimulatorBroker.Buy(ctx, symbol, qty, price)
}

func TestRetryingRecovers(t *testing.T) {
	inner := &flaky{SimulatorBroker: NewSimulatorBroker(0), failures: 2}
	b := WithRetry(inner, 5, time.Millisecond)

	if _, err := b.Buy(context.Background(), "X", 1, 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	inner := &flaky{SimulatorBroker: NewSimulatorBroker(0), failures: 10}
	b := WithRetry(inner, 5, time.Millisecond)

	if _, err := b.Buy(context.Background(), "X", 1, 10); err == nil {
		t.Fatal("Buy should fail after 5 attempts")
	}
	if inner.calls != 5 {
		t.Errorf("calls = %d, want 5", inner.calls)
	}
}

func TestRetryingStopsOnInvalidOrder(t *testing.T) {
	inner := &flaky{SimulatorBroker: NewSimulatorBroker(0)}
	b := WithRetry(inner, 5, time.Hour)

	_, err := b.Buy(context.Background(), "X", 0, 10)
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

// fakeAlpaca accepts each client order id once but answers the accepting
// submit with a gateway timeout. The first lookup by client order id fails
// too, so the caller has to resend.
type fakeAlpaca struct {
	mu      sync.Mutex
	orders  map[string]string // client order id -> order id
	posts   []string
	lookups int
}

func writeAlpacaError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": msg})
}

func (f *fakeAlpaca) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/orders":
		var req struct {
			ClientOrderID string `json:"client_order_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAlpacaError(w, http.StatusBadRequest, 40010000, err.Error())
			return
		}
		f.posts = append(f.posts, req.ClientOrderID)
		if _, ok := f.orders[req.ClientOrderID]; ok {
			writeAlpacaError(w, http.StatusUnprocessableEntity, 40010001, "client_order_id must be unique")
			return
		}
		f.orders[req.ClientOrderID] = fmt.Sprintf("ord-%d", len(f.orders)+1)
		writeAlpacaError(w, http.StatusGatewayTimeout, 0, "upstream timeout")
	case r.Method == http.MethodGet && r.URL.Path == "/v2/orders:by_client_order_id":
		f.lookups++
		if f.lookups == 1 {
			writeAlpacaError(w, http.StatusServiceUnavailable, 0, "service unavailable")
			return
		}
		id := r.URL.Query().Get("client_order_id")
		orderID, ok := f.orders[id]
		if !ok {
			writeAlpacaError(w, http.StatusNotFound, 40410000, "order not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":               orderID,
			"client_order_id":  id,
			"symbol":           "X",
			"filled_avg_price": "10.5",
		})
	default:
		http.NotFound(w, r)
	}
}

func TestAlpacaResendDoesNotDuplicateOrder(t *testing.T) {
	fake := &fakeAlpaca{orders: make(map[string]string)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	b := WithRetry(NewAlpacaBroker("key", "secret", srv.URL), 5, time.Millisecond)
	f, err := b.Buy(context.Background(), "X", 3, 10)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.orders) != 1 {
		t.Errorf("accepted orders = %d, want 1", len(fake.orders))
	}
	if len(fake.posts) != 2 || fake.posts[0] == "" || fake.posts[0] != fake.posts[1] {
		t.Errorf("submits = %q, want two with the same client order id", fake.posts)
	}
	if f.OrderID != "ord-1" || f.Qty != 3 || f.Price != 10.5 {
		t.Errorf("fill = %+v, want ord-1 3 @ 10.5", f)
	}
}

func TestAlpacaRejectedOrderFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeAlpacaError(w, http.StatusForbidden, 40310000, "insufficient buying power")
			return
		}
		writeAlpacaError(w, http.StatusNotFound, 40410000, "order not found")
	}))
	defer srv.Close()

	b := NewAlpacaBroker("key", "secret", srv.URL)
	if _, err := b.Buy(context.Background(), "X", 1, 10); err == nil {
		t.Fatal("Buy should fail when the order was never accepted")
	}
}

func TestRetryingKeepsCallerClientOrderID(t *testing.T) {
	var seen []string
	inner := &recordingIDs{SimulatorBroker: NewSimulatorBroker(100), seen: &seen}
	b := WithRetry(inner, 3, time.Millisecond)

	ctx := WithClientOrderID(context.Background(), "run-1-X-buy")
	if _, err := b.Buy(ctx, "X", 1, 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if _, err := b.Buy(context.Background(), "X", 1, 10); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if len(seen) != 2 || seen[0] != "run-1-X-buy" || seen[1] == "" || seen[1] == seen[0] {
		t.Errorf("client order ids = %q", seen)
	}
}

type recordingIDs struct {
	*SimulatorBroker
	seen *[]string
}

func (r *recordingIDs) Buy(ctx context.Context, symbol string, qty int64, price float64) (Fill, error) {
	*r.seen = append(*r.seen, ClientOrderID(ctx))
	return r.SimulatorBroker.Buy(ctx, symbol, qty, price)
}
