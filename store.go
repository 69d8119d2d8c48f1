package sessionstore

import "context"

// Store is the session lifecycle contract. Three interchangeable backends
// implement it: memstore (in-process), gormstore (relational), and
// redistore (key-value with native TTL). Backend selection happens at
// construction time and is invisible to the calling authentication flow.
//
// Every operation applies lazy expiry: a stored record whose ExpiresAt has
// passed is treated as absent and removed as a side effect of the read.
// Concurrency is last-write-wins; the store does not serialize operations
// on the same session id. Callers needing strict ordering (refresh-token
// rotation, for example) must layer their own compare-and-swap on top.
type Store interface {
	// Create persists a new session built from the payload, applying the
	// creation defaults of [NewSession], and returns the stored entity.
	// A colliding id is ErrConflict, never a silent overwrite.
	Create(ctx context.Context, p CreatePayload) (*Session, error)

	// FindByID returns the session or ErrNotFound. An expired record is
	// deleted as a side effect and reported as ErrNotFound.
	FindByID(ctx context.Context, id string) (*Session, error)

	// FindByUserID returns the user's live sessions, newest-created-first.
	// Expired records encountered along the way are removed.
	FindByUserID(ctx context.Context, userID string) ([]*Session, error)

	// FindActiveByUserID returns the user's non-expired sessions,
	// most-recently-active-first.
	FindActiveByUserID(ctx context.Context, userID string) ([]*Session, error)

	// Update merges the patch onto the existing session, bumps UpdatedAt,
	// and returns the merged entity. ErrNotFound if the id does not exist.
	Update(ctx context.Context, id string, u Update) (*Session, error)

	// Delete removes the session and its user-index entry. Deleting an
	// absent id is a silent success.
	Delete(ctx context.Context, id string) error

	// DeleteByUserID removes every session for the user along with the
	// index itself. Idempotent.
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteExpired removes all currently expired sessions and returns the
	// count. Backends with native per-key expiry may implement this as a
	// no-op returning 0.
	DeleteExpired(ctx context.Context) (int, error)

	// CountActiveByUserID reports len(FindActiveByUserID) without
	// materializing full session metadata.
	CountActiveByUserID(ctx context.Context, userID string) (int, error)

	// UpdateLastActive stamps the session's LastActive to now. Equivalent
	// to Update(id, Update{LastActive: &now}).
	UpdateLastActive(ctx context.Context, id string) (*Session, error)
}
