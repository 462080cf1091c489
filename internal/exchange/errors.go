package exchange

import "errors"

// Sentinel errors for the exchange boundary. Callers classify failures
// with errors.Is rather than string matching.
var (
	// ErrRateLimited is returned when the safety envelope refuses a call
	// because the sliding-window rate limit is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen is returned when the circuit breaker is open and the
	// venue is not being called at all.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrNotFound is returned for lookups of orders or symbols the venue
	// does not know about.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for operations that lost a state race, such
	// as closing a position that is already closed.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed requests rejected before any
	// network call is made.
	ErrValidation = errors.New("validation failed")

	// ErrUnavailable is returned when the venue cannot be reached or
	// answered with a retryable server-side failure.
	ErrUnavailable = errors.New("venue unavailable")

	// ErrDecode is returned when the venue answered but the payload could
	// not be interpreted.
	ErrDecode = errors.New("response decode failed")
)
