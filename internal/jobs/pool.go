package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned by Pool.Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue full")

// ErrPoolClosed is returned by Pool.Submit after Close.
var ErrPoolClosed = errors.New("job pool closed")

// Task is one unit of pool work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines fed from a bounded queue.
// One task occupies one worker until it returns.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	queue  chan Task
	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *slog.Logger
}

// NewPool starts workers goroutines with a queue of queueSize pending tasks.
// Tasks receive a context that is cancelled by Close.
func NewPool(workers, queueSize int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, max(queueSize, 1)),
		cancel: cancel,
		log:    slog.Default().With("component", "job-pool"),
	}
	for w := 0; w < max(workers, 1); w++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.queue {
				p.run(ctx, task)
			}
		}()
	}
	return p
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "panic", r)
		}
	}()
	task(ctx)
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks, cancels running ones, and waits for the
// workers to drain the queue.
func (p *Pool) Close() {
	p.shutdown()
	p.cancel()
	p.wg.Wait()
}

// Wait stops accepting tasks and blocks until every queued task has run.
func (p *Pool) Wait() {
	p.shutdown()
	p.wg.Wait()
	p.cancel()
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}
