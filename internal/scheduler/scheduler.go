// Package scheduler runs periodic tasks (the live trading cycle, the daily
// bar cache fill) on cron specs evaluated in the exchange time zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a scheduled unit of work.
type Task func(ctx context.Context) error

// Scheduler wraps a cron runner. Overlapping runs of one task are skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New creates a Scheduler whose tasks receive ctx. loc may be nil for
// America/New_York.
func New(ctx context.Context, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation("America/New_York"); err != nil {
			return nil, fmt.Errorf("loading market time zone: %w", err)
		}
	}
	log := slog.Default().With("component", "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx: ctx,
		log: log,
	}, nil
}

// Add registers task under name on a standard five-field cron spec.
func (s *Scheduler) Add(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.log.Info("task registered", "task", name, "spec", spec)
	return nil
}

// RunNow executes task immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string, task Task) error {
	return s.run(name, task)
}

func (s *Scheduler) run(name string, task Task) error {
	start := time.Now()
	s.log.Info("task started", "task", name)
	if err := task(s.ctx); err != nil {
		s.log.Error("task failed", "task", name, "elapsed", time.Since(start), "err", err)
		return err
	}
	s.log.Info("task finished", "task", name, "elapsed", time.Since(start))
	return nil
}

// Next returns the next activation of every registered task.
func (s *Scheduler) Next() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

// Start starts the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "tasks", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
