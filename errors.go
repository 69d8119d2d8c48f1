package sessionstore

import "errors"

var (
	// ErrNotFound is returned when the target session id does not exist,
	// including sessions removed by lazy expiry on the same read.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned when Create would overwrite an existing
	// session id. Unreachable under generated ids; reserved for callers
	// that supply their own.
	ErrConflict = errors.New("session id conflict")
	// ErrBackendUnavailable wraps transport failures from the underlying
	// storage so callers can apply one retry policy regardless of backend.
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrCorruptRecord is returned when a stored session cannot be
	// deserialized. It is never converted to ErrNotFound: a live but
	// unreadable session must not masquerade as a logged-out one.
	ErrCorruptRecord = errors.New("session record corrupt")
	// ErrInvalidDuration is returned for unparseable TTL shorthand. It
	// surfaces at configuration time, not during store operations.
	ErrInvalidDuration = errors.New("invalid session duration")
)
