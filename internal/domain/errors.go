package domain

import "errors"

// Sentinel errors shared across the core. Callers match with errors.Is.
var (
	// ErrInvalidInput marks malformed parameters (empty IDs, bad ranges).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAmount marks a negative or non-finite amount presented to
	// matching or calculation. Terminal: surfaced before any rule lookup.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownStructure marks a commission structure whose kind the
	// calculator does not recognize. Recoverable: callers treat the
	// commission as zero and log the anomaly.
	ErrUnknownStructure = errors.New("unknown commission structure")

	// ErrStoreUnavailable marks a rule store failure during cache refresh
	// with no previously cached copy to serve.
	ErrStoreUnavailable = errors.New("rule store unavailable")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
