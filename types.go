package sessionstore

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated device/browser binding for a user.
//
// Sessions returned by a [Store] are snapshots: mutating them does not
// affect the stored record. All mutation goes through [Store.Update].
type Session struct {
	ID     string
	UserID string

	// RefreshToken is opaque credential material associated with this
	// session. The store never interprets it.
	RefreshToken string

	// Data is an arbitrary caller-owned payload, opaque to the store.
	Data map[string]any

	// ExpiresAt is the absolute expiry instant. The zero value means the
	// session never expires.
	ExpiresAt time.Time

	UserAgent  string
	DeviceName string
	IPAddress  string

	LastActive time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the session. Backends that hold sessions in
// process memory return clones so callers cannot alias stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Data != nil {
		out.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return &out
}

// CreatePayload is the caller's input to [Store.Create].
//
// ID is optional; when empty the store generates a fresh random identifier.
// LastActive defaults to the creation instant. ExpiresAt defaults to
// now + the store's configured default TTL (a zero default TTL means the
// session never expires).
type CreatePayload struct {
	ID           string
	UserID       string
	RefreshToken string
	Data         map[string]any
	ExpiresAt    time.Time
	UserAgent    string
	DeviceName   string
	IPAddress    string
	LastActive   time.Time
}

// Update is a partial patch applied by [Store.Update]. Nil pointer fields
// are left untouched; a non-nil Data replaces the stored payload wholesale.
//
// UserID is deliberately absent: ownership is immutable after creation.
type Update struct {
	RefreshToken *string
	Data         map[string]any
	ExpiresAt    *time.Time
	UserAgent    *string
	DeviceName   *string
	IPAddress    *string
	LastActive   *time.Time
}

// NewSession builds the Session a backend persists for a create request,
// applying the contract's creation defaults. defaultTTL is the store's
// configured session duration, used only when the payload carries no
// explicit expiry.
func NewSession(p CreatePayload, defaultTTL time.Duration, now time.Time) *Session {
	s := &Session{
		ID:           p.ID,
		UserID:       p.UserID,
		RefreshToken: p.RefreshToken,
		Data:         p.Data,
		ExpiresAt:    p.ExpiresAt,
		UserAgent:    p.UserAgent,
		DeviceName:   p.DeviceName,
		IPAddress:    p.IPAddress,
		LastActive:   p.LastActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.LastActive.IsZero() {
		s.LastActive = now
	}
	if s.ExpiresAt.IsZero() && defaultTTL > 0 {
		s.ExpiresAt = ExpiryFrom(now, defaultTTL)
	}
	return s
}

// ApplySessionUpdate merges a partial [Update] onto an existing session and
// bumps UpdatedAt. The merge is shared by every backend so patch semantics
// cannot drift between them.
func ApplySessionUpdate(s *Session, u Update, now time.Time) {
	if u.RefreshToken != nil {
		s.RefreshToken = *u.RefreshToken
	}
	if u.Data != nil {
		s.Data = u.Data
	}
	if u.ExpiresAt != nil {
		s.ExpiresAt = *u.ExpiresAt
	}
	if u.UserAgent != nil {
		s.UserAgent = *u.UserAgent
	}
	if u.DeviceName != nil {
		s.DeviceName = *u.DeviceName
	}
	if u.IPAddress != nil {
		s.IPAddress = *u.IPAddress
	}
	if u.LastActive != nil {
		s.LastActive = *u.LastActive
	}
	s.UpdatedAt = now
}
