package strategy

import "quantsim/internal/domain"

// Evaluator runs named strategies against a series prefix. It holds no
// per-run state and is safe for concurrent use.
type Evaluator struct {
	registry     *Registry
	lookbackPrev int
	lookbackNext int
}

// NewEvaluator creates an Evaluator over registry. Non-positive lookbacks fall
// back to the defaults.
func NewEvaluator(registry *Registry, lookbackPrev, lookbackNext int) *Evaluator {
	if lookbackPrev <= 0 {
		lookbackPrev = DefaultLookbackPrev
	}
	if lookbackNext <= 0 {
		lookbackNext = DefaultLookbackNext
	}
	return &Evaluator{registry: registry, lookbackPrev: lookbackPrev, lookbackNext: lookbackNext}
}

// Registry returns the registry the evaluator looks strategies up in.
func (e *Evaluator) Registry() *Registry { return e.registry }

// Levels returns the confirmed levels at the end of series.
func (e *Evaluator) Levels(series []domain.AnnotatedBar) Levels {
	if len(series) < MinBars {
		return Levels{}
	}
	return ConfirmedLevels(series, e.lookbackPrev, e.lookbackNext)
}

// Evaluate returns, in request order, the names whose side predicate matches
// the prefix. Unknown names never match.
func (e *Evaluator) Evaluate(side domain.Side, names []string, series []domain.AnnotatedBar, levels Levels) []string {
	if len(series) < MinBars || len(names) == 0 {
		return nil
	}
	c := Context{Series: series, Levels: levels}
	var matched []string
	for _, name := range names {
		s, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		if s.Match(side, c) {
			matched = append(matched, name)
		}
	}
	return matched
}
