package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/jobs"
	"quantsim/internal/report"
)

// stubOrchestrator keeps jobs in memory. Submitted jobs stay PENDING.
type stubOrchestrator struct {
	mu        sync.Mutex
	jobs      map[string]*domain.SimulationJob
	submitted []jobs.Params
	submitErr error
	result    []byte
}

func newStub() *stubOrchestrator {
	return &stubOrchestrator{jobs: make(map[string]*domain.SimulationJob)}
}

func (s *stubOrchestrator) Submit(_ context.Context, p jobs.Params) (*domain.SimulationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.submitted = append(s.submitted, p)
	job := &domain.SimulationJob{ID: fmt.Sprintf("job-%d", len(s.submitted)), Kind: p.Kind, Status: domain.JobPending}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubOrchestrator) RunSingle(_ context.Context, p jobs.Params) (*report.Result, error) {
	if len(p.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", domain.ErrInvalidParams)
	}
	if p.Symbols[0] == "NOPE" {
		return nil, fmt.Errorf("NOPE: %w", domain.ErrDataUnavailable)
	}
	return &report.Result{JobID: "single-1", Symbols: p.Symbols}, nil
}

func (s *stubOrchestrator) Get(_ context.Context, id string) (*domain.SimulationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *stubOrchestrator) List(_ context.Context, limit int) ([]domain.SimulationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SimulationJob
	for _, j := range s.jobs {
		if len(out) == limit {
			break
		}
		out = append(out, *j)
	}
	return out, nil
}

func (s *stubOrchestrator) Cancel(ctx context.Context, id string) (*domain.SimulationJob, error) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && !job.Status.Terminal() {
		job.CancelRequested = true
	}
	s.mu.Unlock()
	return s.Get(ctx, id)
}

func (s *stubOrchestrator) Result(ctx context.Context, id string) ([]byte, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, jobs.ErrResultNotReady
	}
	return s.result, nil
}

func (s *stubOrchestrator) CSV(ctx context.Context, id string) ([]byte, error) {
	if _, err := s.Result(ctx, id); err != nil {
		return nil, err
	}
	return []byte("symbol,date\nAAPL,2024-01-02\n"), nil
}

func (s *stubOrchestrator) Strategies() []string { return []string{"a_buy", "b_sell"} }

func (s *stubOrchestrator) StrategiesFor(side domain.Side) []string {
	if side == domain.SideBuy {
		return []string{"a_buy"}
	}
	return []string{"b_sell"}
}

// stubTrades is an in-memory store.TradeLog.
type stubTrades struct {
	events []domain.TradeEvent
}

func (t *stubTrades) RecordEvent(_ context.Context, _ string, ev domain.TradeEvent) error {
	t.events = append(t.events, ev)
	return nil
}

func (t *stubTrades) ListEvents(_ context.Context, symbol string, limit int) ([]domain.TradeEvent, error) {
	var out []domain.TradeEvent
	for _, ev := range t.events {
		if symbol == "" || ev.Symbol == symbol {
			out = append(out, ev)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestServer(t *testing.T) (*stubOrchestrator, *httptest.Server) {
	t.Helper()
	o := newStub()
	trades := &stubTrades{events: []domain.TradeEvent{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Side: domain.SideBuy, Quantity: 10},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Side: domain.SideSell, Quantity: 5},
	}}
	ts := httptest.NewServer(NewSimulationServer(o, nil, trades).Handler())
	t.Cleanup(ts.Close)
	return o, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const bulkBody = `{"symbols":["AAPL","MSFT"],"start_date":"2024-01-02","initial_capital":100000,
	"buy_strategies":["a_buy"],"take_profit":{"kind":"FIXED","ratio":10}}`

func TestSubmitBulk(t *testing.T) {
	o, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/simulations/bulk", bulkBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var got SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.JobID != "job-1" || got.Status != domain.JobPending {
		t.Errorf("response = %+v", got)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/simulations/job-1" {
		t.Errorf("Location = %q", loc)
	}

	o.mu.Lock()
	p := o.submitted[0]
	o.mu.Unlock()
	if p.Kind != domain.JobBulk || p.Trigger != "api" || len(p.Symbols) != 2 || p.TakeProfit.Ratio != 10 {
		t.Errorf("submitted params = %+v", p)
	}
}

func TestSubmitBulkErrors(t *testing.T) {
	o, ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed json", `{"symbols":`, nil, http.StatusBadRequest},
		{"unknown field", `{"symbolz":["A"]}`, nil, http.StatusBadRequest},
		{"wrong kind", `{"kind":"single","symbols":["A"]}`, nil, http.StatusBadRequest},
		{"unknown strategy", bulkBody, fmt.Errorf("x: %w", domain.ErrUnknownStrategy), http.StatusBadRequest},
		{"queue full", bulkBody, jobs.ErrQueueFull, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o.mu.Lock()
			o.submitErr = tt.err
			o.mu.Unlock()
			resp := post(t, ts.URL+"/api/simulations/bulk", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var body map[string]string
			json.NewDecoder(resp.Body).Decode(&body)
			if body["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestRunSingle(t *testing.T) {
	_, ts := newTestServer(t)

	resp := post(t, ts.URL+"/api/simulations/single", `{"symbols":["AAPL"],"start_date":"2024-01-02","initial_capital":1000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var res report.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.JobID != "single-1" || len(res.Symbols) != 1 {
		t.Errorf("result = %+v", res)
	}

	resp = post(t, ts.URL+"/api/simulations/single", `{"symbols":["NOPE"]}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("missing data status = %d, want 422", resp.StatusCode)
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	o, ts := newTestServer(t)
	post(t, ts.URL+"/api/simulations/bulk", bulkBody)

	resp := get(t, ts.URL+"/api/simulations/job-1")
	var job domain.SimulationJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || job.Status != domain.JobPending {
		t.Errorf("job = %+v", job)
	}

	if resp := get(t, ts.URL+"/api/simulations/job-1/result"); resp.StatusCode != http.StatusConflict {
		t.Errorf("result before completion status = %d, want 409", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/api/simulations/missing"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/api/simulations/job-1/cancel", "")
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if !job.CancelRequested {
		t.Error("cancel flag not set")
	}

	o.mu.Lock()
	o.jobs["job-1"].Status = domain.JobCompleted
	o.result = []byte(`{"job_id":"job-1"}`)
	o.mu.Unlock()

	resp = get(t, ts.URL+"/api/simulations/job-1/result")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("result status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	resp = get(t, ts.URL+"/api/simulations/job-1/csv")
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("csv Content-Type = %q", ct)
	}

	resp = get(t, ts.URL+"/api/simulations?limit=10")
	var list JobListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Jobs[0].ID != "job-1" {
		t.Errorf("list = %+v", list)
	}
}

func TestStrategiesAndHealth(t *testing.T) {
	_, ts := newTestServer(t)

	var st StrategiesResponse
	json.NewDecoder(get(t, ts.URL+"/api/strategies").Body).Decode(&st)
	if len(st.Strategies) != 2 || st.Buy[0] != "a_buy" || st.Sell[0] != "b_sell" {
		t.Errorf("strategies = %+v", st)
	}

	var h HealthResponse
	json.NewDecoder(get(t, ts.URL+"/healthz").Body).Decode(&h)
	if h.Status != "ok" {
		t.Errorf("health = %+v", h)
	}
}

func TestTradesAndProgressDisabled(t *testing.T) {
	_, ts := newTestServer(t)

	var tr TradesResponse
	json.NewDecoder(get(t, ts.URL+"/api/trades?symbol=aapl").Body).Decode(&tr)
	if tr.Symbol != "AAPL" || tr.Count != 1 || tr.Events[0].Quantity != 10 {
		t.Errorf("trades = %+v", tr)
	}

	if resp := get(t, ts.URL+"/api/simulations/job-1/ws"); resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("ws without hub status = %d, want 501", resp.StatusCode)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=abc", 50},
		{"limit=-3", 50},
		{"limit=7", 7},
		{"limit=99999", 1000},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/simulations?"+tt.query, nil)
		if got := parseLimit(r, 50); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
