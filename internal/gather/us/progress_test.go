package us

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"quantsim/internal/domain"
)

func TestFillTrackerMarkEmptySurvivesReload(t *testing.T) {
	dir := t.TempDir()

	ft, err := newFillTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := ft.BeginDay("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if err := ft.MarkEmpty([]string{"ZZZQ", "XXXQ", "ZZZQ"}); err != nil {
		t.Fatal(err)
	}
	ft.Close()

	ft2, err := newFillTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ft2.Close()
	if err := ft2.BeginDay("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"ZZZQ", "XXXQ"} {
		if !ft2.IsEmpty(sym) {
			t.Errorf("%s should still be empty after reload on the same day", sym)
		}
	}
	if ft2.IsEmpty("AAPL") {
		t.Error("AAPL should not be empty")
	}

	data, _ := os.ReadFile(filepath.Join(dir, emptyFile))
	if string(data) != "ZZZQ\nXXXQ\n" {
		t.Errorf("%s = %q, want each symbol once", emptyFile, data)
	}
}

func TestFillTrackerNewDayResets(t *testing.T) {
	dir := t.TempDir()
	ft, err := newFillTracker(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	if err := ft.BeginDay("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if err := ft.MarkEmpty([]string{"AAAA"}); err != nil {
		t.Fatal(err)
	}
	if err := ft.BeginDay("2025-02-11"); err != nil {
		t.Fatal(err)
	}
	if ft.IsEmpty("AAAA") {
		t.Error("empty set should be cleared on a new day")
	}
	data, err := os.ReadFile(filepath.Join(dir, emptyFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("%s should be empty after a new day, got %q", emptyFile, data)
	}
}

func TestFillTrackerFilledThrough(t *testing.T) {
	ft, err := newFillTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer ft.Close()

	if got := ft.FilledThrough(); got != "" {
		t.Errorf("FilledThrough = %q before marking", got)
	}
	if err := ft.MarkFilled("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if got := ft.FilledThrough(); got != "2025-02-10" {
		t.Errorf("FilledThrough = %q, want 2025-02-10", got)
	}
}

func TestLatestFinished(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	dates := []string{"2025-02-06", "2025-02-07", "2025-02-10"}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"before settle uses previous day", time.Date(2025, 2, 10, 15, 0, 0, 0, et), "2025-02-07"},
		{"after settle uses today", time.Date(2025, 2, 10, 20, 30, 0, 0, et), "2025-02-10"},
		{"weekend uses friday", time.Date(2025, 2, 9, 12, 0, 0, 0, et), "2025-02-07"},
	}
	for _, tt := range tests {
		got, err := latestFinished(dates, tt.now)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.Format("2006-01-02") != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got.Format("2006-01-02"), tt.want)
		}
	}

	if _, err := latestFinished(nil, time.Now()); err == nil {
		t.Error("empty calendar should error")
	}
}

func TestTimeFrame(t *testing.T) {
	tests := []struct {
		interval domain.Interval
		want     marketdata.TimeFrameUnit
	}{
		{domain.IntervalDay, marketdata.Day},
		{domain.IntervalWeek, marketdata.Week},
		{domain.IntervalMonth, marketdata.Month},
	}
	for _, tt := range tests {
		tf := timeFrame(tt.interval)
		if tf.N != 1 || tf.Unit != tt.want {
			t.Errorf("timeFrame(%s) = %+v, want 1 %s", tt.interval, tf, tt.want)
		}
	}
}
