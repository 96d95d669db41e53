package main

import (
	"fmt"
	"math"
	"strings"
)

// formatInt formats an integer with comma separators.
func formatInt(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// formatMoney formats an amount with comma separators and cents.
func formatMoney(v float64) string {
	cents := int64(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("%s.%02d", formatInt(cents/100), cents%100)
	if v < 0 && cents != 0 {
		return "-" + s
	}
	return s
}

// formatCompact formats a value with B/M/K suffixes.
func formatCompact(v float64) string {
	a := math.Abs(v)
	switch {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
