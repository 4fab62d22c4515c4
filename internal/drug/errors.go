package drug

import "errors"

var (
	// ErrValidation marks malformed or empty input records and queries.
	// Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks remote failures worth retrying (timeouts, rate limits, 5xx).
	ErrTransient = errors.New("transient remote error")

	// ErrRemoteUnavailable is returned once retries against a remote capability are exhausted.
	ErrRemoteUnavailable = errors.New("remote capability unavailable")

	// ErrIndexInconsistent marks a missing or empty index, or an embedding model
	// that differs from the one the index was built with.
	ErrIndexInconsistent = errors.New("index inconsistent")

	// ErrNotFound is returned for unknown sessions.
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
