package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantsim/internal/domain"
	"quantsim/internal/jobs"
	"quantsim/internal/report"
	"quantsim/internal/store"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the job API the server exposes.
type Orchestrator interface {
	Submit(ctx context.Context, p jobs.Params) (*domain.SimulationJob, error)
	RunSingle(ctx context.Context, p jobs.Params) (*report.Result, error)
	Get(ctx context.Context, id string) (*domain.SimulationJob, error)
	List(ctx context.Context, limit int) ([]domain.SimulationJob, error)
	Cancel(ctx context.Context, id string) (*domain.SimulationJob, error)
	Result(ctx context.Context, id string) ([]byte, error)
	CSV(ctx context.Context, id string) ([]byte, error)
	Strategies() []string
	StrategiesFor(side domain.Side) []string
}

var _ Orchestrator = (*jobs.Orchestrator)(nil)

// ProgressStreamer serves a live progress stream for one job.
type ProgressStreamer interface {
	ServeJob(w http.ResponseWriter, r *http.Request, jobID string)
}

// SimulationServer serves the simulation HTTP API.
type SimulationServer struct {
	jobs     Orchestrator
	progress ProgressStreamer // nil disables /ws
	trades   store.TradeLog   // nil disables /api/trades
	started  time.Time
	log      *slog.Logger
}

// NewSimulationServer creates the HTTP API over o. progress and trades are
// optional.
func NewSimulationServer(o Orchestrator, progress ProgressStreamer, trades store.TradeLog) *SimulationServer {
	return &SimulationServer{
		jobs:     o,
		progress: progress,
		trades:   trades,
		started:  time.Now(),
		log:      slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *SimulationServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("POST /api/simulations/bulk", s.handleSubmitBulk)
	mux.HandleFunc("POST /api/simulations/single", s.handleRunSingle)
	mux.HandleFunc("GET /api/simulations", s.handleList)
	mux.HandleFunc("GET /api/simulations/{id}", s.handleGet)
	mux.HandleFunc("GET /api/simulations/{id}/result", s.handleResult)
	mux.HandleFunc("GET /api/simulations/{id}/csv", s.handleCSV)
	mux.HandleFunc("POST /api/simulations/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/simulations/{id}/ws", s.handleProgress)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
}

// Handler returns an http.Handler with CORS and request logging.
func (s *SimulationServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SimulationServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeJobError maps an orchestrator error to a status code.
func (s *SimulationServer) writeJobError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParams), errors.Is(err, domain.ErrUnknownStrategy):
		status = http.StatusBadRequest
	case errors.Is(err, jobs.ErrResultNotReady):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDataUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrPoolClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func decodeParams(r *http.Request, kind domain.JobKind) (jobs.Params, error) {
	var p jobs.Params
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%w: decoding body: %v", domain.ErrInvalidParams, err)
	}
	if p.Kind == "" {
		p.Kind = kind
	}
	if p.Kind != kind {
		return p, fmt.Errorf("%w: kind %q on %s endpoint", domain.ErrInvalidParams, p.Kind, kind)
	}
	if p.Trigger == "" {
		p.Trigger = "api"
	}
	return p, nil
}

// parseLimit reads the "limit" query param, clamped to [1, 1000].
func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 1000)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *SimulationServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{Status: "ok", Uptime: time.Since(s.started).Round(time.Second).String()})
}

func (s *SimulationServer) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, StrategiesResponse{
		Strategies: s.jobs.Strategies(),
		Buy:        s.jobs.StrategiesFor(domain.SideBuy),
		Sell:       s.jobs.StrategiesFor(domain.SideSell),
	})
}

func (s *SimulationServer) handleSubmitBulk(w http.ResponseWriter, r *http.Request) {
	p, err := decodeParams(r, domain.JobBulk)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	job, err := s.jobs.Submit(r.Context(), p)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.Header().Set("Location", "/api/simulations/"+job.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{JobID: job.ID, Status: job.Status})
}

func (s *SimulationServer) handleRunSingle(w http.ResponseWriter, r *http.Request) {
	p, err := decodeParams(r, domain.JobSingle)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	res, err := s.jobs.RunSingle(r.Context(), p)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *SimulationServer) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.jobs.List(r.Context(), parseLimit(r, 50))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	if list == nil {
		list = []domain.SimulationJob{}
	}
	writeJSON(w, JobListResponse{Count: len(list), Jobs: list})
}

func (s *SimulationServer) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, job)
}

func (s *SimulationServer) handleResult(w http.ResponseWriter, r *http.Request) {
	data, err := s.jobs.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *SimulationServer) handleCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.jobs.CSV(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".csv"))
	w.Write(data)
}

func (s *SimulationServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, job)
}

func (s *SimulationServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusNotImplemented, "progress stream not configured")
		return
	}
	s.progress.ServeJob(w, r, r.PathValue("id"))
}

func (s *SimulationServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusNotImplemented, "trade log not configured")
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	events, err := s.trades.ListEvents(r.Context(), symbol, parseLimit(r, 100))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	if events == nil {
		events = []domain.TradeEvent{}
	}
	writeJSON(w, TradesResponse{Symbol: symbol, Count: len(events), Events: events})
}
