// Package redistore provides the cache session backend: one Redis hash per
// session plus a per-user SET of session ids, with the record's native TTL
// derived from the session expiry.
//
// Native expiry is treated as cleanup only. It is asynchronous and carries
// no reachability guarantee, so every read still checks expires_at itself
// and lazily deletes what it finds dead. The record write and the index
// write are separate keys updated in one script or transaction where
// possible; a dangling index entry left by a crash between them is
// tolerated by list reads, which skip and prune ids that no longer resolve.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arenvale/sessionstore"
)

// createSessionScript writes the record, indexes it, and arms the native
// TTL as one atomic unit. Returns 0 when the id already exists, leaving the
// stored session untouched.
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
local i = 3
while i < #ARGV do
  redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
  i = i + 2
end
redis.call("SADD", KEYS[2], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// deleteSessionScript removes the record and its index membership together.
// SREM runs regardless of record existence so dangling index entries are
// swept on the way through.
const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store is a Redis-backed [sessionstore.Store].
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	metrics    *sessionstore.Metrics
}

// New constructs the cache backend over an existing Redis client. A
// malformed default TTL in the config fails here, at construction.
func New(client redis.UniversalClient, cfg sessionstore.Config, metrics *sessionstore.Metrics) (*Store, error) {
	ttl, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	prefix := cfg.RedisKeyPrefix
	if prefix == "" {
		prefix = sessionstore.DefaultConfig().RedisKeyPrefix
	}

	return &Store{
		redis:      client,
		prefix:     prefix,
		defaultTTL: ttl,
		metrics:    metrics,
	}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Create persists a new session and arms its native TTL when the computed
// time-to-live is still positive. A payload with an already-past expiry is
// stored without a TTL and is immediately dead to every read path.
func (s *Store) Create(ctx context.Context, p sessionstore.CreatePayload) (*sessionstore.Session, error) {
	now := time.Now()
	sess := sessionstore.NewSession(p, s.defaultTTL, now)

	pairs, err := flattenSession(sess)
	if err != nil {
		return nil, err
	}

	var ttlMillis int64
	if !sess.ExpiresAt.IsZero() {
		if ttl := sess.ExpiresAt.Sub(now); ttl > 0 {
			ttlMillis = ttl.Milliseconds()
			if ttlMillis == 0 {
				ttlMillis = 1
			}
		}
	}

	args := make([]interface{}, 0, 2+len(pairs))
	args = append(args, sess.ID, ttlMillis)
	for _, kv := range pairs {
		args = append(args, kv)
	}

	created, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.ID), s.userKey(sess.UserID)},
		args...,
	).Int64()
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	if created == 0 {
		s.metrics.Inc(sessionstore.MetricCreateConflict)
		return nil, sessionstore.ErrConflict
	}

	s.metrics.Inc(sessionstore.MetricSessionCreated)
	return sess, nil
}

// FindByID fetches the record and applies lazy expiry. The expires_at check
// runs even though the key carries a native TTL: native expiry may not have
// fired yet.
func (s *Store) FindByID(ctx context.Context, id string) (*sessionstore.Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, sessionstore.ErrNotFound
	}

	sess, err := parseSession(fields)
	if err != nil {
		s.metrics.Inc(sessionstore.MetricCorruptRecord)
		return nil, err
	}

	if sessionstore.IsExpired(sess, time.Now()) {
		if err := s.deleteSessionAndIndex(ctx, sess.UserID, id); err != nil {
			return nil, err
		}
		s.metrics.Inc(sessionstore.MetricSessionLazyExpired)
		return nil, sessionstore.ErrNotFound
	}

	return sess, nil
}

// FindByUserID lists the user's live sessions newest-created-first.
func (s *Store) FindByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	live, err := s.liveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessionstore.SortCreatedDesc(live)
	return live, nil
}

// FindActiveByUserID lists the user's non-expired sessions
// most-recently-active-first.
func (s *Store) FindActiveByUserID(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	live, err := s.liveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessionstore.SortLastActiveDesc(live)
	return live, nil
}

// liveByUser resolves the user's index set through pipelined HGETALLs.
// Ids that resolve to nothing (native expiry already fired, or a crash left
// the index dangling) are skipped and pruned; records past their expires_at
// are lazily deleted.
func (s *Store) liveByUser(ctx context.Context, userID string) ([]*sessionstore.Session, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*sessionstore.Session{}, nil
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	if len(ids) == 0 {
		return []*sessionstore.Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	now := time.Now()
	live := make([]*sessionstore.Session, 0, len(ids))
	var dangling []interface{}
	var expired []*sessionstore.Session

	for i, cmd := range cmds {
		fields, cmdErr := cmd.Result()
		if cmdErr != nil {
			s.metrics.Inc(sessionstore.MetricBackendError)
			return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, cmdErr)
		}
		if len(fields) == 0 {
			dangling = append(dangling, ids[i])
			continue
		}

		sess, parseErr := parseSession(fields)
		if parseErr != nil {
			s.metrics.Inc(sessionstore.MetricCorruptRecord)
			return nil, parseErr
		}
		if sessionstore.IsExpired(sess, now) {
			expired = append(expired, sess)
			continue
		}
		live = append(live, sess)
	}

	// Self-heal outside the read pipeline. Best effort: a failure here
	// leaves entries for the next reader, it does not fail the listing.
	if len(dangling) > 0 {
		_ = s.redis.SRem(ctx, s.userKey(userID), dangling...).Err()
	}
	for _, sess := range expired {
		if err := s.deleteSessionAndIndex(ctx, sess.UserID, sess.ID); err == nil {
			s.metrics.Inc(sessionstore.MetricSessionLazyExpired)
		}
	}

	return live, nil
}

// Update merges the patch onto the stored session and rewrites the record.
// The native TTL is re-derived only when the patch moves ExpiresAt;
// otherwise HSET leaves the key's remaining TTL untouched.
func (s *Store) Update(ctx context.Context, id string, u sessionstore.Update) (*sessionstore.Session, error) {
	now := time.Now()

	sess, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sessionstore.ApplySessionUpdate(sess, u, now)

	pairs, err := flattenSession(sess)
	if err != nil {
		return nil, err
	}

	values := make([]interface{}, 0, len(pairs))
	for _, p := range pairs {
		values = append(values, p)
	}
	if err := s.redis.HSet(ctx, s.key(id), values...).Err(); err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return nil, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	if u.ExpiresAt != nil {
		if err := s.applyExpiry(ctx, id, sess.ExpiresAt, now); err != nil {
			return nil, err
		}
	}

	s.metrics.Inc(sessionstore.MetricSessionUpdated)
	return sess, nil
}

func (s *Store) applyExpiry(ctx context.Context, id string, expiresAt, now time.Time) error {
	key := s.key(id)

	if expiresAt.IsZero() {
		if err := s.redis.Persist(ctx, key).Err(); err != nil {
			s.metrics.Inc(sessionstore.MetricBackendError)
			return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
		}
		return nil
	}

	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		// Already past: leave the record TTL-less, reads treat it as dead.
		return nil
	}
	if err := s.redis.PExpire(ctx, key, ttl).Err(); err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	return nil
}

// Delete removes the session and its index entry. A key that already
// expired natively, or never existed, is a silent success.
func (s *Store) Delete(ctx context.Context, id string) error {
	userID, err := s.redis.HGet(ctx, s.key(id), fieldUserID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	if err := s.deleteSessionAndIndex(ctx, userID, id); err != nil {
		return err
	}
	s.metrics.Inc(sessionstore.MetricSessionDeleted)
	return nil
}

// DeleteByUserID enumerates the user's index and removes every record plus
// the set itself in one batched transaction, narrowing the partial-failure
// window to a single round trip.
//
// ATOMICITY NOTE: the enumeration and the delete are separate round trips.
// A session created for the user between them survives this call; it will
// expire naturally or fall to the next DeleteByUserID.
func (s *Store) DeleteByUserID(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	s.metrics.Add(sessionstore.MetricSessionDeleted, uint64(len(keys)))
	return nil
}

// DeleteExpired is a no-op for this backend: native TTL owns bulk cleanup,
// and lazy expiry on reads covers records whose TTL has not fired.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	return 0, nil
}

// CountActiveByUserID counts live sessions by pipelining only the
// expires_at field, never materializing full records.
func (s *Store) CountActiveByUserID(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		s.metrics.Inc(sessionstore.MetricBackendError)
		return 0, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.key(id), fieldExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return 0, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}

	now := time.Now()
	count := 0
	for _, cmd := range cmds {
		raw, cmdErr := cmd.Result()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			s.metrics.Inc(sessionstore.MetricBackendError)
			return 0, fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, cmdErr)
		}
		expiresAt, decErr := decodeTime(raw)
		if decErr != nil {
			s.metrics.Inc(sessionstore.MetricCorruptRecord)
			return 0, fmt.Errorf("%w: expires_at: %v", sessionstore.ErrCorruptRecord, decErr)
		}
		if expiresAt.IsZero() || now.Before(expiresAt) {
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

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, id string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id), s.userKey(userID)},
		id,
	).Result()
	if err != nil {
		s.metrics.Inc(sessionstore.MetricBackendError)
		return fmt.Errorf("%w: %v", sessionstore.ErrBackendUnavailable, err)
	}
	return nil
}

var _ sessionstore.Store = (*Store)(nil)
