package util

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"quantsim/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryConstant(t *testing.T) {
	attempts := 0
	err := RetryConstant(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return errors.New("broker down")
	})
	if err == nil {
		t.Fatal("RetryConstant should return the last error")
	}
	if attempts != 5 {
		t.Errorf("RetryConstant called fn %d times, want 5", attempts)
	}
}

func TestRetryConstantCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := RetryConstant(ctx, 5, time.Hour, func() error {
		attempts++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 5, time.Hour, func() error {
		attempts++
		return Permanent(domain.ErrInsufficientFunds)
	})
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if err != domain.ErrInsufficientFunds {
		t.Errorf("err = %v, want the unwrapped error", err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTradingDates(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2024, 3, day, 15, 0, 0, 0, time.UTC) }
	series := map[string][]domain.Bar{
		"A": {{Timestamp: d(1)}, {Timestamp: d(4)}, {Timestamp: d(5)}},
		"B": {{Timestamp: d(4)}, {Timestamp: d(6)}},
	}
	got := TradingDates(series, d(4))
	want := []time.Time{
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("TradingDates returned %d dates, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("date[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWarmupStart(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := WarmupStart(start, 0); !got.Equal(start) {
		t.Errorf("WarmupStart(0) = %v, want %v", got, start)
	}
	if got := WarmupStart(start, 10); !got.Equal(time.Date(2024, 5, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("WarmupStart(10) = %v", got)
	}
}
