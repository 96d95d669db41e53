package domain

import "errors"

var (
	// ErrDataUnavailable means no bars exist for a symbol in the requested range.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInsufficientFunds is returned by the ledger when a buy would overdraw cash.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidQuantity is returned for non-positive order quantities.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrUnknownStrategy is returned when a requested strategy is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrInvalidParams is returned when a simulation request fails validation.
	ErrInvalidParams = errors.New("invalid simulation params")

	ErrJobNotFound = errors.New("job not found")

	// ErrProgressConflict is returned when a progress write loses a race.
	ErrProgressConflict = errors.New("progress write conflict")

	ErrCancelled = errors.New("simulation cancelled")
)
