package credits

import "errors"

var (
	// ErrNotFound means no credit account exists for the user. Callers map
	// it to an authorization failure; the ledger never retries it.
	ErrNotFound = errors.New("credit account not found")

	// ErrStoreUnavailable means a store call failed on a path with no cache
	// fallback. Callers map it to a retryable service error.
	ErrStoreUnavailable = errors.New("credit store unavailable")

	// ErrInvalidAmount means a deduction was requested for a non-positive
	// amount. Always a caller bug, never a balance condition.
	ErrInvalidAmount = errors.New("deduct amount must be positive")

	// ErrCacheMiss is returned by Cache.Get when no snapshot exists for the
	// user. Any other cache error is treated by the Ledger as a miss too,
	// but logged.
	ErrCacheMiss = errors.New("cache miss")
)
