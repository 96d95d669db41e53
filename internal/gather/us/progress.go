package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	emptyFile  = ".no-data"
	filledFile = ".filled-through"
	dayFile    = ".fill-day"
)

// fillTracker remembers which symbols returned no bars during the current
// fill day and the last day the cache was completely filled.
type fillTracker struct {
	mu     sync.Mutex
	dir    string
	empty  map[string]struct{}
	file   *os.File
	writer *bufio.Writer
}

func newFillTracker(dir string) (*fillTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	t := &fillTracker{dir: dir, empty: make(map[string]struct{})}
	if data, err := os.ReadFile(t.path(emptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				t.empty[sym] = struct{}{}
			}
		}
	}
	if err := t.open(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *fillTracker) path(name string) string { return filepath.Join(t.dir, name) }

func (t *fillTracker) open() error {
	f, err := os.OpenFile(t.path(emptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", emptyFile, err)
	}
	t.file = f
	t.writer = bufio.NewWriter(f)
	return nil
}

func (t *fillTracker) readMarker(name string) string {
	data, err := os.ReadFile(t.path(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// FilledThrough returns the last completely filled day, or "".
func (t *fillTracker) FilledThrough() string { return t.readMarker(filledFile) }

// BeginDay discards the empty set when it was collected for another day.
func (t *fillTracker) BeginDay(day string) error {
	if prev := t.readMarker(dayFile); prev != "" && prev != day {
		if err := t.reset(); err != nil {
			return err
		}
	}
	return os.WriteFile(t.path(dayFile), []byte(day), 0o644)
}

// IsEmpty reports whether sym returned no bars earlier today.
func (t *fillTracker) IsEmpty(sym string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.empty[sym]
	return ok
}

// MarkEmpty appends symbols to the empty set.
func (t *fillTracker) MarkEmpty(symbols []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := t.empty[sym]; ok {
			continue
		}
		t.empty[sym] = struct{}{}
		if _, err := t.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", emptyFile, err)
		}
	}
	return t.writer.Flush()
}

// MarkFilled records day as completely filled.
func (t *fillTracker) MarkFilled(day string) error {
	return os.WriteFile(t.path(filledFile), []byte(day), 0o644)
}

func (t *fillTracker) reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		t.file.Close()
	}
	t.empty = make(map[string]struct{})
	if err := os.Remove(t.path(emptyFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return t.open()
}

// Close flushes and closes the empty-set file.
func (t *fillTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer != nil {
		t.writer.Flush()
	}
	if t.file != nil {
		return t.file.Close()
	}
	return nil
}
