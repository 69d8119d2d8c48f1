// Package gormstore provides the relational session backend. Each session
// is one row; the per-user index is the user_id column, so record and index
// can never desynchronize. Expiry filtering and the bulk sweep are pushed
// into SQL rather than applied in process.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/arenvale/sessionstore"
)

// Store is a relational [sessionstore.Store] over a *gorm.DB. It works
// against any gorm dialect; open the handle with TranslateError enabled so
// duplicate-key violations surface as [gorm.ErrDuplicatedKey] (see
// [OpenPostgres]).
type Store struct {
	db         *gorm.DB
	defaultTTL time.Duration
	metrics    *sessionstore.Metrics
}

// New constructs the relational backend. A malformed default TTL in the
// config fails here, at construction.
func New(db *gorm.DB, cfg sessionstore.Config, metrics *sessionstore.Metrics) (*Store, error) {
	ttl, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &Store{
		db:         db,
		defaultTTL: ttl,
		metrics:    metrics,
	}, nil
}

// AutoMigrate creates or updates the sessions table, including the user_id
// and expires_at indexes the query paths rely on.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&sessionRecord{})
}

// Create inserts the session row. A duplicate id is ErrConflict.
func (s *Store) Create(ctx context.Context, p sessionstore.CreatePayload) (*sessionstore.Session, error) {
	sess := sessionstore.NewSession(p, s.defaultTTL, time.Now())

	rec, err := toRecord(sess)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.metrics.Inc(sessionstore.MetricCreateConflict)
			return nil, sessionstore.ErrConflict
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	s.metrics.Inc(sessionstore.MetricSessionCreated)
	return sess, nil
}

// FindByID returns the session or ErrNotFound, applying lazy expiry: a row
// found past its expiry is deleted before absence is reported. This covers
// deployments where the periodic sweep has not run yet.
func (s *Store) FindByID(ctx context.Context, id string) (*sessionstore.Session, error) {
	var rec sessionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sessionstore.ErrNotFound
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	sess, err := fromRecord(&rec)
	if err != nil {
		s.metrics.Inc(sessionstore.MetricCorruptRecord)
		return nil, err
	}

	if sessionstore.IsExpired(sess, time.Now()) {
		if err := s.deleteRows(ctx, "id = ?", id); err != nil {
			return nil, err
		}
		s.metrics.Inc(sessionstore.MetricSessionLazyExpired)
		return nil, sessionstore.ErrNotFound
	}

	return sess, nil
}

// FindByUserID returns the user's live sessions newest-created-first.
// Expired rows fetched along the way are removed in one bulk delete.
func (s *Store) FindByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	var recs []sessionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	now := time.Now()
	live := make([]*sessionstore.Session, 0, len(recs))
	var expiredIDs []string

	for i := range recs {
		sess, convErr := fromRecord(&recs[i])
		if convErr != nil {
			s.metrics.Inc(sessionstore.MetricCorruptRecord)
			return nil, convErr
		}
		if sessionstore.IsExpired(sess, now) {
			expiredIDs = append(expiredIDs, sess.ID)
			continue
		}
		live = append(live, sess)
	}

	if len(expiredIDs) > 0 {
		if err := s.deleteRows(ctx, "id IN ?", expiredIDs); err != nil {
			return nil, err
		}
		s.metrics.Add(sessionstore.MetricSessionLazyExpired, uint64(len(expiredIDs)))
	}

	return live, nil
}

// FindActiveByUserID pushes the expiry filter and the
// most-recently-active-first ordering into the query.
func (s *Store) FindActiveByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	var recs []sessionRecord
	err := s.activeScope(ctx, userID, time.Now()).
		Order("last_active DESC, id DESC").
		Find(&recs).Error
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	out := make([]*sessionstore.Session, 0, len(recs))
	for i := range recs {
		sess, convErr := fromRecord(&recs[i])
		if convErr != nil {
			s.metrics.Inc(sessionstore.MetricCorruptRecord)
			return nil, convErr
		}
		out = append(out, sess)
	}
	return out, nil
}

// Update issues a partial column update, then re-fetches: the underlying
// store is not relied on to return the updated row directly.
func (s *Store) Update(ctx context.Context, id string, u sessionstore.Update) (*sessionstore.Session, error) {
	now := time.Now()

	// The fetch doubles as the lazy-expiry pass, so updating a dead
	// session reports not-found rather than resurrecting it.
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}

	cols := map[string]any{"updated_at": now}
	if u.RefreshToken != nil {
		cols["refresh_token"] = *u.RefreshToken
	}
	if u.Data != nil {
		raw, err := json.Marshal(u.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode payload: %v", sessionstore.ErrCorruptRecord, err)
		}
		cols["data"] = string(raw)
	}
	if u.ExpiresAt != nil {
		if u.ExpiresAt.IsZero() {
			cols["expires_at"] = nil
		} else {
			cols["expires_at"] = *u.ExpiresAt
		}
	}
	if u.UserAgent != nil {
		cols["user_agent"] = *u.UserAgent
	}
	if u.DeviceName != nil {
		cols["device_name"] = *u.DeviceName
	}
	if u.IPAddress != nil {
		cols["ip_address"] = *u.IPAddress
	}
	if u.LastActive != nil {
		cols["last_active"] = *u.LastActive
	}

	res := s.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("id = ?", id).
		Updates(cols)
	if res.Error != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, sessionstore.ErrNotFound
	}

	// Re-fetch without the lazy-expiry pass: a patch that moves the expiry
	// into the past still returns the merged entity, matching the other
	// backends.
	var rec sessionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, sessionstore.ErrNotFound
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	sess, err := fromRecord(&rec)
	if err != nil {
		s.metrics.Inc(sessionstore.MetricCorruptRecord)
		return nil, err
	}

	s.metrics.Inc(sessionstore.MetricSessionUpdated)
	return sess, nil
}

// Delete removes the row. Absent ids are a silent success.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.deleteRows(ctx, "id = ?", id); err != nil {
		return err
	}
	s.metrics.Inc(sessionstore.MetricSessionDeleted)
	return nil
}

// DeleteByUserID removes every row for the user. Idempotent.
func (s *Store) DeleteByUserID(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&sessionRecord{})
	if res.Error != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, res.Error)
	}
	s.metrics.Add(sessionstore.MetricSessionDeleted, uint64(res.RowsAffected))
	return nil
}

// DeleteExpired removes all expired rows as one set-based bulk delete and
// returns the affected count. This is the backend's main scaling advantage
// over a per-row scan.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&sessionRecord{})
	if res.Error != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return 0, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, res.Error)
	}
	return int(res.RowsAffected), nil
}

// CountActiveByUserID counts live rows without materializing them.
func (s *Store) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	var count int64
	err := s.activeScope(ctx, userID, time.Now()).Count(&count).Error
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return 0, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	return int(count), nil
}

// UpdateLastActive stamps LastActive to now.
func (s *Store) UpdateLastActive(ctx context.Context, id string) (*sessionstore.Session, error) {
	now := time.Now()
	return s.Update(ctx, id, sessionstore.Update{LastActive: &now})
}

func (s *Store) activeScope(ctx context.Context, userID string, now time.Time) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", userID, now)
}

func (s *Store) deleteRows(ctx context.Context, query string, args ...any) error {
	err := s.db.WithContext(ctx).Where(query, args...).Delete(&sessionRecord{}).Error
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	return nil
}

var _ sessionstore.Store = (*Store)(nil)
