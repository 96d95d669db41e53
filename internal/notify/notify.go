// Package notify delivers trade and error messages to chat channels. The
// simulation driver treats delivery as fire-and-forget.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Level classifies a message; webhooks use it for colouring.
type Level string

const (
	LevelInfo  Level = "info"
	LevelTrade Level = "trade"
	LevelError Level = "error"
)

// Message is one notification.
type Message struct {
	Channel string
	Level   Level
	Title   string
	Text    string
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Noop discards every message.
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Async
// ---------------------------------------------------------------------------

// Async queues messages for a background goroutine. Notify never blocks;
// when the queue is full the message is dropped and logged.
type Async struct {
	next  Notifier
	queue chan Message
	log   *slog.Logger
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery goroutine. Call Close to drain it.
func NewAsync(next Notifier, bufSize int) *Async {
	if bufSize <= 0 {
		bufSize = 64
	}
	a := &Async{
		next:  next,
		queue: make(chan Message, bufSize),
		log:   slog.Default().With("component", "notify"),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for msg := range a.queue {
		if err := a.next.Notify(context.Background(), msg); err != nil {
			a.log.Warn("notification failed", "channel", msg.Channel, "title", msg.Title, "error", err)
		}
	}
}

// Notify enqueues msg and returns immediately.
func (a *Async) Notify(_ context.Context, msg Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- msg:
	default:
		a.log.Warn("notification queue full, dropping", "channel", msg.Channel, "title", msg.Title)
	}
	return nil
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
