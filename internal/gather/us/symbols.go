package us

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// LoadCSVSymbols reads a watch list from a CSV file with a header row. The
// column headed "symbol" (case-insensitive) is used, or the first column
// when there is none. Lines starting with '#' are skipped. Symbols are
// upper-cased and deduplicated in file order.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening watch list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s header: %w", path, err)
	}
	col := max(slices.IndexFunc(header, func(h string) bool {
		return strings.EqualFold(strings.TrimSpace(h), "symbol")
	}), 0)

	seen := make(map[string]bool)
	var symbols []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if col >= len(row) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[col]))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	return symbols, nil
}
