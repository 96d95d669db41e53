package util

import (
	"sort"
	"time"

	"quantsim/internal/domain"
)

// TradingDates returns the sorted union of the bar dates of every series,
// keeping only dates on or after start. Dates are normalised with
// domain.DateKey.
func TradingDates(series map[string][]domain.Bar, start time.Time) []time.Time {
	start = domain.DateKey(start)
	seen := make(map[time.Time]struct{})
	for _, bars := range series {
		for _, b := range bars {
			d := domain.DateKey(b.Timestamp)
			if d.Before(start) {
				continue
			}
			seen[d] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// WarmupStart returns the date days calendar days before start, the first
// bar fetched so indicators are populated by start.
func WarmupStart(start time.Time, days int) time.Time {
	if days <= 0 {
		return start
	}
	return start.AddDate(0, 0, -days)
}
