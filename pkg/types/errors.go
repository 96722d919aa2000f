package types

import "errors"

// Failure taxonomy shared across the retrieval and streaming paths. Callers
// classify with errors.Is; wrapped errors carry the operational detail.
var (
	// ErrBackendUnavailable is returned when the circuit breaker guarding a
	// backend endpoint is open and the call was rejected without a network
	// attempt. Fail fast; the core never retries it.
	ErrBackendUnavailable = errors.New("backend unavailable: circuit open")

	// ErrBackendTransient marks network-level or 5xx backend failures. These
	// count toward the breaker's failure tally and may be retried by callers.
	ErrBackendTransient = errors.New("transient backend failure")

	// ErrDimensionMismatch indicates a vector whose dimensionality does not
	// match the configured store dimensionality. Misconfiguration: surfaced
	// immediately, never retried, never counted against the backend.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrSessionTimeout marks a streaming session that produced no token
	// within the configured idle window. Counts as a backend failure.
	ErrSessionTimeout = errors.New("stream session idle timeout")

	// ErrSessionCancelled marks a session terminated by its caller. A normal
	// terminal state, not a failure.
	ErrSessionCancelled = errors.New("stream session cancelled")

	// ErrStoreCorruption indicates persisted vector state that could not be
	// decoded. Writes to the affected store halt until operator intervention.
	ErrStoreCorruption = errors.New("vector store corruption")

	// ErrNotFound is returned for lookups of IDs absent from the store.
	ErrNotFound = errors.New("not found")
)

// Validation errors for context bundles
var (
	ErrInvalidRank    = errors.New("rank must match bundle order")
	ErrMissingChunkID = errors.New("bundle item is missing its chunk ID")
	ErrInvalidScore   = errors.New("blended score must be finite")
	ErrEmptyQueryText = errors.New("query text cannot be empty")
)
