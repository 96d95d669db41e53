package util

import (
	"context"
	"errors"
	"time"
)

// MaxBackoff caps the delay between Retry attempts.
const MaxBackoff = 30 * time.Second

// permanentError stops a retry loop at once.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry and RetryConstant return
// the wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to maxAttempts times, doubling the delay after each
// failure starting at baseDelay and capped at MaxBackoff. It returns nil on
// the first success, otherwise the last error, or ctx.Err() if ctx ends
// while waiting.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return retry(ctx, maxAttempts, func(attempt int) time.Duration {
		d := baseDelay << attempt
		if d > MaxBackoff || d < baseDelay {
			return MaxBackoff
		}
		return d
	}, fn)
}

// RetryConstant is Retry with a fixed delay between attempts.
func RetryConstant(ctx context.Context, maxAttempts int, delay time.Duration, fn func() error) error {
	return retry(ctx, maxAttempts, func(int) time.Duration { return delay }, fn)
}

func retry(ctx context.Context, maxAttempts int, delay func(attempt int) time.Duration, fn func() error) error {
	maxAttempts = max(maxAttempts, 1)
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == maxAttempts-1 {
			break
		}
		t := time.NewTimer(delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
