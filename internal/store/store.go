// Package store defines storage interfaces for bars, simulation jobs, trade
// events and result blobs, with Parquet, SQLite, Postgres and filesystem
// implementations.
package store

import (
	"context"
	"time"

	"quantsim/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// JobStore persists SimulationJob status records. Progress writes are
// monotonic so they can be retried safely.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *domain.SimulationJob) error

	// GetJob returns the job or domain.ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*domain.SimulationJob, error)

	// ListJobs returns the most recent jobs, newest first, up to limit.
	ListJobs(ctx context.Context, limit int) ([]domain.SimulationJob, error)

	// StartJob moves a job to RUNNING with its total step count.
	StartJob(ctx context.Context, id string, totalSteps int) error

	// AdvanceProgress sets completed_steps to max(completed_steps, completed).
	AdvanceProgress(ctx context.Context, id string, completed int) error

	// FinishJob records a terminal status with the result key or error.
	FinishJob(ctx context.Context, id string, status domain.JobStatus, resultKey, errMsg string) error

	// RequestCancel flags a job for cancellation at its next step.
	RequestCancel(ctx context.Context, id string) error
}

// TradeLog persists trade events of live cycles.
type TradeLog interface {
	// RecordEvent appends an event under runID.
	RecordEvent(ctx context.Context, runID string, ev domain.TradeEvent) error

	// ListEvents returns events for a symbol (all symbols if empty), newest
	// first, up to limit.
	ListEvents(ctx context.Context, symbol string, limit int) ([]domain.TradeEvent, error)
}

// BlobStore holds simulation parameters, results and CSV tables by key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Recorder adapts a TradeLog to a per-run event sink.
type Recorder struct {
	Log   TradeLog
	RunID string
}

// Record appends ev to the log under the recorder's run.
func (r Recorder) Record(ctx context.Context, ev domain.TradeEvent) error {
	return r.Log.RecordEvent(ctx, r.RunID, ev)
}
