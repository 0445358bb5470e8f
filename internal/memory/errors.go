package memory

import "errors"

// Engine-wide error taxonomy. Every failure surfaced by the engine wraps
// exactly one of these sentinels so callers can classify with errors.Is.
var (
	// ErrBackendUnavailable indicates the authoritative remote store
	// cannot be reached. Retryable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrCacheUnavailable indicates the local KV store cannot be reached.
	// The engine degrades rather than failing public operations.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrNotFound indicates the (userID, id) identity does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalid indicates an input failed a precondition.
	ErrInvalid = errors.New("invalid input")

	// ErrTimeout indicates an operation exceeded its configured bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrInternal indicates an unexpected condition. Never carries data.
	ErrInternal = errors.New("internal error")
)

// Kind returns the short taxonomy name for err, or "internal" when the
// error does not wrap a known sentinel. Used to render user-visible
// "Error: <kind>" responses without leaking details.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBackendUnavailable):
		return "backend unavailable"
	case errors.Is(err, ErrCacheUnavailable):
		return "cache unavailable"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalid):
		return "invalid input"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}
