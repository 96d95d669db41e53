// Package strategy defines buy/sell predicates over annotated bar series and
// the Registry and Evaluator that look them up by name.
package strategy

import (
	"fmt"
	"sort"

	"quantsim/internal/domain"
)

// MinBars is the shortest prefix any predicate is evaluated against.
const MinBars = 3

// Context is what a predicate sees: the series prefix ending at the current
// bar, plus the confirmed levels for that prefix.
type Context struct {
	Series []domain.AnnotatedBar
	Levels Levels
}

// Last returns the current bar.
func (c Context) Last() domain.AnnotatedBar { return c.Series[len(c.Series)-1] }

// Back returns the bar n positions before the current one.
func (c Context) Back(n int) domain.AnnotatedBar { return c.Series[len(c.Series)-1-n] }

// Len returns the prefix length.
func (c Context) Len() int { return len(c.Series) }

// Strategy is a named trading predicate. A strategy may answer for one side
// or both.
type Strategy interface {
	// Name returns the unique identifier used in requests and reason codes.
	Name() string

	// Requires lists the indicator columns the predicate reads.
	Requires() []string

	// Supports reports whether the strategy has a predicate for side.
	Supports(side domain.Side) bool

	// Match evaluates the predicate for side against the prefix. It must not
	// read anything beyond c.Series.
	Match(side domain.Side, c Context) bool
}

// Predicate is a pure function over a series prefix.
type Predicate func(c Context) bool

// Compile-time interface check.
var _ Strategy = (*Funcs)(nil)

// Funcs adapts plain predicates into a Strategy. Either side may be nil.
type Funcs struct {
	ID         string
	Indicators []string
	Buy        Predicate
	Sell       Predicate
}

func (f *Funcs) Name() string       { return f.ID }
func (f *Funcs) Requires() []string { return f.Indicators }

func (f *Funcs) Supports(side domain.Side) bool {
	switch side {
	case domain.SideBuy:
		return f.Buy != nil
	case domain.SideSell:
		return f.Sell != nil
	}
	return false
}

func (f *Funcs) Match(side domain.Side, c Context) bool {
	switch side {
	case domain.SideBuy:
		return f.Buy != nil && f.Buy(c)
	case domain.SideSell:
		return f.Sell != nil && f.Sell(c)
	}
	return false
}

// All combines strategies into one that matches only when every part does.
func All(name string, parts ...Strategy) Strategy {
	var req []string
	for _, p := range parts {
		req = append(req, p.Requires()...)
	}
	both := func(side domain.Side) Predicate {
		for _, p := range parts {
			if !p.Supports(side) {
				return nil
			}
		}
		return func(c Context) bool {
			for _, p := range parts {
				if !p.Match(side, c) {
					return false
				}
			}
			return true
		}
	}
	return &Funcs{ID: name, Indicators: req, Buy: both(domain.SideBuy), Sell: both(domain.SideSell)}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of strategies for lookup and enumeration.
// It is populated at startup and read-only afterwards.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListSide returns the sorted names that have a predicate for side.
func (r *Registry) ListSide(side domain.Side) []string {
	var names []string
	for name, s := range r.strategies {
		if s.Supports(side) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks that every name is registered and supports side.
func (r *Registry) Validate(side domain.Side, names []string) error {
	for _, name := range names {
		s, ok := r.strategies[name]
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, name)
		}
		if !s.Supports(side) {
			return fmt.Errorf("%w: %q has no %s rule", domain.ErrUnknownStrategy, name, side)
		}
	}
	return nil
}

// Requires returns the union of indicator columns needed by names.
func (r *Registry) Requires(names ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range names {
		for _, name := range group {
			s, ok := r.strategies[name]
			if !ok {
				continue
			}
			for _, ind := range s.Requires() {
				if _, dup := seen[ind]; dup {
					continue
				}
				seen[ind] = struct{}{}
				out = append(out, ind)
			}
		}
	}
	sort.Strings(out)
	return out
}
