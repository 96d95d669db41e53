package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"quantsim/internal/domain"
	"quantsim/internal/notify"
	"quantsim/internal/report"
	"quantsim/internal/store"
	"quantsim/internal/util"
)

// ErrResultNotReady is returned when a result is requested before the job
// has completed.
var ErrResultNotReady = errors.New("result not ready")

// Blob keys under which a job's artifacts are stored.
func ParamsKey(id string) string { return "simulations/" + id + "/params.json" }
func ResultKey(id string) string { return "simulations/" + id + "/result.json" }
func CSVKey(id string) string    { return "simulations/" + id + "/bars.csv" }

// Observer receives a job snapshot on every status or progress change.
type Observer interface {
	JobUpdated(job domain.SimulationJob)
}

// Options tune an Orchestrator. Zero values select the defaults.
type Options struct {
	ProgressAttempts int
	ProgressDelay    time.Duration
	Notifier         notify.Notifier
	Observer         Observer
	Channel          string
}

// Orchestrator accepts simulation requests, persists them and runs them on
// a Pool, keeping the job record current.
type Orchestrator struct {
	jobs   store.JobStore
	blobs  store.BlobStore
	runner *Runner
	pool   *Pool
	opts   Options
	log    *slog.Logger
}

// NewOrchestrator wires the job store, blob store, runner and pool.
func NewOrchestrator(jobs store.JobStore, blobs store.BlobStore, runner *Runner, pool *Pool, opts Options) *Orchestrator {
	if opts.ProgressAttempts <= 0 {
		opts.ProgressAttempts = 3
	}
	if opts.ProgressDelay <= 0 {
		opts.ProgressDelay = 200 * time.Millisecond
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Noop{}
	}
	return &Orchestrator{
		jobs:   jobs,
		blobs:  blobs,
		runner: runner,
		pool:   pool,
		opts:   opts,
		log:    slog.Default().With("component", "orchestrator"),
	}
}

// Strategies returns the names of the registered strategies.
func (o *Orchestrator) Strategies() []string {
	return o.runner.Evaluator.Registry().List()
}

// StrategiesFor returns the strategies usable on side.
func (o *Orchestrator) StrategiesFor(side domain.Side) []string {
	return o.runner.Evaluator.Registry().ListSide(side)
}

// create validates p, stores its params blob and inserts a PENDING job.
func (o *Orchestrator) create(ctx context.Context, p *Params) (*domain.SimulationJob, error) {
	if err := p.Normalize(o.runner.Evaluator.Registry(), time.Now()); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	if err := o.blobs.Put(ctx, ParamsKey(id), raw); err != nil {
		return nil, fmt.Errorf("storing params: %w", err)
	}
	job := &domain.SimulationJob{
		ID:             id,
		Kind:           p.Kind,
		Trigger:        p.Trigger,
		Status:         domain.JobPending,
		InitialCapital: p.InitialCapital,
	}
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.observe(*job)
	return job, nil
}

// Submit persists p, creates its job and queues it. The returned job is
// PENDING; callers poll Get until it reaches a terminal status.
func (o *Orchestrator) Submit(ctx context.Context, p Params) (*domain.SimulationJob, error) {
	job, err := o.create(ctx, &p)
	if err != nil {
		return nil, err
	}
	id := job.ID
	if err := o.pool.Submit(func(ctx context.Context) { _, _ = o.Execute(ctx, id) }); err != nil {
		o.finish(ctx, id, domain.JobFailed, "", err.Error())
		return nil, err
	}
	o.log.Info("job queued", "jobID", id, "kind", job.Kind, "symbols", len(p.Symbols))
	return job, nil
}

// RunSingle creates a job for p and runs it on the calling goroutine. Any
// failure is terminal and returned.
func (o *Orchestrator) RunSingle(ctx context.Context, p Params) (*report.Result, error) {
	if p.Kind == "" {
		p.Kind = domain.JobSingle
	}
	job, err := o.create(ctx, &p)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, job.ID)
}

// Execute is the worker body: it loads the job's params, runs the
// simulation with progress reporting and stores the artifacts.
func (o *Orchestrator) Execute(ctx context.Context, id string) (*report.Result, error) {
	log := o.log.With("jobID", id)

	// Tasks drained from a closed pool run with a cancelled ctx.
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, id, fmt.Errorf("job not started: %w", err))
	}

	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("job %s already %s", id, job.Status)
	}
	if job.CancelRequested {
		o.finish(ctx, id, domain.JobCancelled, "", domain.ErrCancelled.Error())
		return nil, domain.ErrCancelled
	}

	raw, err := o.blobs.Get(ctx, ParamsKey(id))
	if err != nil {
		return nil, o.fail(ctx, id, fmt.Errorf("loading params: %w", err))
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, o.fail(ctx, id, fmt.Errorf("decoding params: %w", err))
	}

	snap := *job
	pr, err := o.runner.Prepare(ctx, p, Hooks{
		Progress:  o.progress(id, &snap),
		Cancelled: o.cancelled(id),
	})
	if err != nil {
		return nil, o.fail(ctx, id, err)
	}

	total := pr.Steps()
	if err := o.jobs.StartJob(ctx, id, total); err != nil {
		return nil, o.fail(ctx, id, err)
	}
	snap.Status = domain.JobRunning
	snap.TotalSteps = total
	o.observe(snap)
	log.Info("job running", "dates", total, "symbols", len(pr.Symbols), "failed", len(pr.Failed))

	res, err := pr.Run(ctx)
	res.JobID = id
	switch {
	case errors.Is(err, domain.ErrCancelled):
		log.Info("job cancelled", "completed", snap.CompletedSteps)
		o.finish(ctx, id, domain.JobCancelled, "", err.Error())
		return res, err
	case err != nil:
		return nil, o.fail(ctx, id, err)
	}

	if err := o.store(ctx, id, pr, res); err != nil {
		return nil, o.fail(ctx, id, err)
	}
	o.finish(ctx, id, domain.JobCompleted, ResultKey(id), "")

	s := res.Summary
	log.Info("job completed", "finalValue", s.FinalValue, "returnPct", s.ReturnPct, "buys", s.Buys, "sells", s.Sells)
	_ = o.opts.Notifier.Notify(ctx, notify.Message{
		Channel: o.opts.Channel,
		Level:   notify.LevelInfo,
		Title:   fmt.Sprintf("simulation %s completed", id),
		Text: fmt.Sprintf("%d symbols, %d dates\nfinal value %.2f (%.2f%%)\nbuys %d sells %d",
			len(pr.Symbols), total, s.FinalValue, s.ReturnPct, s.Buys, s.Sells),
	})
	return res, nil
}

func (o *Orchestrator) store(ctx context.Context, id string, pr *Prepared, res *report.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := o.blobs.Put(ctx, ResultKey(id), data); err != nil {
		return fmt.Errorf("storing result: %w", err)
	}
	csv, err := pr.CSV(res)
	if err != nil {
		return fmt.Errorf("rendering csv: %w", err)
	}
	if err := o.blobs.Put(ctx, CSVKey(id), csv); err != nil {
		return fmt.Errorf("storing csv: %w", err)
	}
	return nil
}

// progress advances the job's completed steps, retrying transient write
// failures. Exhausted retries surface as domain.ErrProgressConflict.
func (o *Orchestrator) progress(id string, snap *domain.SimulationJob) func(ctx context.Context, completed, total int) error {
	return func(ctx context.Context, completed, total int) error {
		err := util.RetryConstant(ctx, o.opts.ProgressAttempts, o.opts.ProgressDelay, func() error {
			err := o.jobs.AdvanceProgress(ctx, id, completed)
			if errors.Is(err, domain.ErrJobNotFound) {
				return util.Permanent(err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrProgressConflict, err)
		}
		snap.CompletedSteps = completed
		snap.TotalSteps = total
		o.observe(*snap)
		return nil
	}
}

func (o *Orchestrator) cancelled(id string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		job, err := o.jobs.GetJob(ctx, id)
		if err != nil {
			o.log.Warn("reading cancel flag", "jobID", id, "err", err)
			return false
		}
		return job.CancelRequested
	}
}

func (o *Orchestrator) fail(ctx context.Context, id string, err error) error {
	o.log.Error("job failed", "jobID", id, "err", err)
	o.finish(ctx, id, domain.JobFailed, "", err.Error())
	_ = o.opts.Notifier.Notify(ctx, notify.Message{
		Channel: o.opts.Channel,
		Level:   notify.LevelError,
		Title:   fmt.Sprintf("simulation %s failed", id),
		Text:    err.Error(),
	})
	return err
}

// finish records a terminal status even when ctx is already cancelled.
func (o *Orchestrator) finish(ctx context.Context, id string, status domain.JobStatus, resultKey, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.jobs.FinishJob(ctx, id, status, resultKey, errMsg); err != nil {
		o.log.Error("recording job status", "jobID", id, "status", status, "err", err)
		return
	}
	if job, err := o.jobs.GetJob(ctx, id); err == nil {
		o.observe(*job)
	}
}

func (o *Orchestrator) observe(job domain.SimulationJob) {
	if o.opts.Observer != nil {
		o.opts.Observer.JobUpdated(job)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Get returns the job record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.SimulationJob, error) {
	return o.jobs.GetJob(ctx, id)
}

// List returns recent jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]domain.SimulationJob, error) {
	return o.jobs.ListJobs(ctx, limit)
}

// Cancel flags a job for cancellation. Terminal jobs are left unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*domain.SimulationJob, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if err := o.jobs.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	job.CancelRequested = true
	o.observe(*job)
	return job, nil
}

// Result returns the stored result JSON of a completed job.
func (o *Orchestrator) Result(ctx context.Context, id string) ([]byte, error) {
	return o.artifact(ctx, id, ResultKey(id))
}

// CSV returns the stored per-bar table of a completed job.
func (o *Orchestrator) CSV(ctx context.Context, id string) ([]byte, error) {
	return o.artifact(ctx, id, CSVKey(id))
}

func (o *Orchestrator) artifact(ctx context.Context, id, key string) ([]byte, error) {
	job, err := o.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrResultNotReady)
	}
	return o.blobs.Get(ctx, key)
}
