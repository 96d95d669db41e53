package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantsim/internal/domain"
)

// WriteCSV writes the per-run bar table: one row per symbol and bar with
// OHLCV, every indicator column, and the trade events that landed on it.
// Warm-up bars before start are omitted.
func WriteCSV(w io.Writer, symbols []string, series map[string][]domain.AnnotatedBar, events []domain.TradeEvent, start time.Time) error {
	start = domain.DateKey(start)

	type key struct {
		sym string
		day time.Time
	}
	byKey := make(map[key][]domain.TradeEvent)
	for _, ev := range events {
		k := key{ev.Symbol, domain.DateKey(ev.Timestamp)}
		byKey[k] = append(byKey[k], ev)
	}

	colSet := make(map[string]struct{})
	for _, sym := range symbols {
		for _, b := range series[sym] {
			for name := range b.Indicators {
				colSet[name] = struct{}{}
			}
		}
	}
	cols := make([]string, 0, len(colSet))
	for name := range colSet {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	header := []string{"symbol", "date", "open", "high", "low", "close", "volume"}
	header = append(header, cols...)
	header = append(header, "side", "quantity", "price", "realized_pnl", "unrealized_pnl", "cash_after", "reasons")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, sym := range symbols {
		for _, b := range series[sym] {
			day := domain.DateKey(b.Timestamp)
			if day.Before(start) {
				continue
			}
			row := []string{
				sym, day.Format("2006-01-02"),
				formatF(b.Open), formatF(b.High), formatF(b.Low), formatF(b.Close),
				strconv.FormatInt(b.Volume, 10),
			}
			for _, c := range cols {
				v, ok := b.Value(c)
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, formatF(v))
			}
			row = append(row, eventColumns(byKey[key{sym, day}])...)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing csv row %s %s: %w", sym, day.Format("2006-01-02"), err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// eventColumns joins same-day events with "|"; the numeric columns come from
// the last event.
func eventColumns(evs []domain.TradeEvent) []string {
	if len(evs) == 0 {
		return []string{"", "", "", "", "", "", ""}
	}
	sides := make([]string, len(evs))
	var reasons []string
	for i, ev := range evs {
		sides[i] = string(ev.Side)
		if ev.Reason != "" {
			reasons = append(reasons, ev.Reason)
		}
	}
	last := evs[len(evs)-1]
	return []string{
		strings.Join(sides, "|"),
		strconv.FormatInt(last.Quantity, 10),
		formatF(last.Price),
		formatF(last.RealizedPnL),
		formatF(last.UnrealizedPnL),
		formatF(last.CashAfter),
		strings.Join(reasons, "|"),
	}
}

func formatF(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
