package jobs

import (
	"context"
	"time"

	"quantsim/internal/domain"
)

// DefaultPollInterval is how often clients re-read a job's status.
const DefaultPollInterval = 5 * time.Second

// FetchFunc reads the current job record.
type FetchFunc func(ctx context.Context) (*domain.SimulationJob, error)

// Poll calls fetch every interval until the job is terminal, ctx ends or
// fetch fails. onUpdate, when set, sees every snapshot including the last.
func Poll(ctx context.Context, interval time.Duration, fetch FetchFunc, onUpdate func(*domain.SimulationJob)) (*domain.SimulationJob, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}
