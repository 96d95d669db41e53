// Package gather supplies bar series to simulations and live cycles. A
// Provider answers GetBars; the store-backed provider reads the local Parquet
// cache, and Gatherers fill that cache from a remote market-data source.
package gather

import (
	"context"
	"time"

	"quantsim/internal/domain"
)

// Provider returns bars for one symbol within [start, end], ascending.
// An empty range is reported as domain.ErrDataUnavailable.
type Provider interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time, interval domain.Interval) ([]domain.Bar, error)
}

// Gatherer is the interface for cache fill processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fills the cache. It returns when the work is done or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the inclusive range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
