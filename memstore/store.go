// Package memstore provides the in-process session backend: two indexes
// (session id, user id) held in maps under one lock. It is the reference
// implementation for the contract's semantics and is sized for development
// and testing, not production session counts — DeleteExpired is a full
// scan.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/arenvale/sessionstore"
)

// Store is an in-memory [sessionstore.Store].
//
// One RWMutex guards both indexes so the record mutation and its user-index
// bookkeeping always land in the same critical section.
type Store struct {
	cfg        sessionstore.Config
	defaultTTL time.Duration
	metrics    *sessionstore.Metrics

	mu       sync.RWMutex
	sessions map[string]*sessionstore.Session
	byUser   map[string]map[string]struct{}
}

// New constructs the in-memory backend. A malformed default TTL in the
// config fails here, at construction.
func New(cfg sessionstore.Config, metrics *sessionstore.Metrics) (*Store, error) {
	ttl, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:        cfg,
		defaultTTL: ttl,
		metrics:    metrics,
		sessions:   make(map[string]*sessionstore.Session),
		byUser:     make(map[string]map[string]struct{}),
	}, nil
}

// Create persists a new session in both indexes.
func (s *Store) Create(ctx context.Context, p sessionstore.CreatePayload) (*sessionstore.Session, error) {
	sess := sessionstore.NewSession(p, s.defaultTTL, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		s.metrics.Inc(sessionstore.MetricCreateConflict)
		return nil, sessionstore.ErrConflict
	}

	s.sessions[sess.ID] = sess.Clone()
	ids, ok := s.byUser[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}

	s.metrics.Inc(sessionstore.MetricSessionCreated)
	return sess, nil
}

// FindByID returns the session or ErrNotFound, removing an expired record
// as a side effect.
func (s *Store) FindByID(ctx context.Context, id string) (*sessionstore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByIDLocked(id, time.Now())
}

func (s *Store) findByIDLocked(id string, now time.Time) (*sessionstore.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sessionstore.ErrNotFound
	}
	if sessionstore.IsExpired(sess, now) {
		s.removeLocked(sess)
		s.metrics.Inc(sessionstore.MetricSessionLazyExpired)
		return nil, sessionstore.ErrNotFound
	}
	return sess.Clone(), nil
}

// FindByUserID returns the user's live sessions newest-created-first,
// self-healing expired entries along the way.
func (s *Store) FindByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.liveByUserLocked(userID, time.Now())
	sessionstore.SortCreatedDesc(out)
	return out, nil
}

// FindActiveByUserID returns the user's non-expired sessions
// most-recently-active-first.
func (s *Store) FindActiveByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.liveByUserLocked(userID, time.Now())
	sessionstore.SortLastActiveDesc(out)
	return out, nil
}

func (s *Store) liveByUserLocked(userID string, now time.Time) []*sessionstore.Session {
	ids := s.byUser[userID]
	out := make([]*sessionstore.Session, 0, len(ids))
	for id := range ids {
		sess, err := s.findByIDLocked(id, now)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Update merges the patch onto the stored session and returns the result.
func (s *Store) Update(ctx context.Context, id string, u sessionstore.Update) (*sessionstore.Session, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.findByIDLocked(id, now)
	if err != nil {
		return nil, err
	}

	sessionstore.ApplySessionUpdate(cur, u, now)
	s.sessions[id] = cur.Clone()

	s.metrics.Inc(sessionstore.MetricSessionUpdated)
	return cur, nil
}

// Delete removes the session from both indexes. Absent ids are a silent
// success.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	s.removeLocked(sess)
	s.metrics.Inc(sessionstore.MetricSessionDeleted)
	return nil
}

// DeleteByUserID removes every session for the user and the index entry
// itself. Idempotent.
func (s *Store) DeleteByUserID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byUser[userID]
	for id := range ids {
		delete(s.sessions, id)
		s.metrics.Inc(sessionstore.MetricSessionDeleted)
	}
	delete(s.byUser, userID)
	return nil
}

// DeleteExpired removes all currently expired sessions in one full scan and
// returns the count removed.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, sess := range s.sessions {
		if sessionstore.IsExpired(sess, now) {
			s.removeLocked(sess)
			removed++
		}
	}
	return removed, nil
}

// CountActiveByUserID counts the user's non-expired sessions.
func (s *Store) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id := range s.byUser[userID] {
		if _, err := s.findByIDLocked(id, now); err == nil {
			count++
		}
	}
	return count, nil
}

// UpdateLastActive stamps LastActive to now.
func (s *Store) UpdateLastActive(ctx context.Context, id string) (*sessionstore.Session, error) {
	now := time.Now()
	return s.Update(ctx, id, sessionstore.Update{LastActive: &now})
}

// removeLocked deletes the session from both indexes, dropping the user's
// id set entirely when it empties so abandoned users do not accumulate.
func (s *Store) removeLocked(sess *sessionstore.Session) {
	delete(s.sessions, sess.ID)
	if ids, ok := s.byUser[sess.UserID]; ok {
		delete(ids, sess.ID)
		if len(ids) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}

var _ sessionstore.Store = (*Store)(nil)
