package gormstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arenvale/sessionstore"
)

func newStoreTest(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	store, err := New(db, sessionstore.Config{DefaultSessionTTL: "1h"}, sessionstore.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return store, db
}

func TestCreateFindRoundTrip(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:       "u1",
		RefreshToken: "rt",
		Data:         map[string]any{"theme": "dark"},
		UserAgent:    "ua",
		DeviceName:   "laptop",
		IPAddress:    "10.0.0.1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.False(t, created.ExpiresAt.IsZero())

	got, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserID)
	require.Equal(t, "rt", got.RefreshToken)
	require.Equal(t, "laptop", got.DeviceName)
	require.Equal(t, "dark", got.Data["theme"])
}

func TestCreateConflict(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	_, err := store.Create(ctx, sessionstore.CreatePayload{ID: "sid", UserID: "u1"})
	require.NoError(t, err)

	_, err = store.Create(ctx, sessionstore.CreatePayload{ID: "sid", UserID: "u2"})
	require.ErrorIs(t, err, sessionstore.ErrConflict)
}

func TestLazyExpiryDeletesRow(t *testing.T) {
	store, db := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:    "u1",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)

	_, err = store.FindByID(ctx, created.ID)
	require.ErrorIs(t, err, sessionstore.ErrNotFound)

	// The expired row was physically removed, not just filtered.
	var count int64
	require.NoError(t, db.Model(&sessionRecord{}).Where("id = ?", created.ID).Count(&count).Error)
	require.Zero(t, count)

	_, err = store.FindByID(ctx, created.ID)
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestFindByUserIDSelfHeals(t *testing.T) {
	store, db := newStoreTest(t)
	ctx := context.Background()

	_, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
	require.NoError(t, err)
	expired, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:    "u1",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	sessions, err := store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	var count int64
	require.NoError(t, db.Model(&sessionRecord{}).Where("id = ?", expired.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))
	require.NoError(t, store.Delete(ctx, created.ID))
	require.NoError(t, store.DeleteByUserID(ctx, "nobody"))
}

func TestIndexConsistencyScenario(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	first, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
	require.NoError(t, err)

	sessions, err := store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, store.Delete(ctx, first.ID))
	sessions, err = store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, store.DeleteByUserID(ctx, "u1"))
	sessions, err = store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestDeleteExpiredBulk(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		_, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1", ExpiresAt: past})
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u2"})
		require.NoError(t, err)
	}

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, removed)

	u1, err := store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, u1)
	u2, err := store.FindByUserID(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, u2, 2)

	// Second sweep finds nothing.
	removed, err = store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestActiveCountAgreement(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:    "u1",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	count, err := store.CountActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	active, err := store.FindActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, len(active), count)
	require.Equal(t, 3, count)
}

func TestNeverExpiringSessionIsActive(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// No default TTL: sessions without an explicit expiry never expire and
	// are stored with a NULL expires_at.
	store, err := New(db, sessionstore.Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, created.ExpiresAt.IsZero())

	count, err := store.CountActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	got, err := store.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, got.ExpiresAt.IsZero())
}

func TestListingOrder(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()
	now := time.Now()

	old, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1", LastActive: now})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	newest, err := store.Create(ctx, sessionstore.CreatePayload{UserID: "u1", LastActive: now.Add(-time.Hour)})
	require.NoError(t, err)

	byCreated, err := store.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, newest.ID, byCreated[0].ID, "FindByUserID orders newest-created-first")

	byActive, err := store.FindActiveByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, old.ID, byActive[0].ID, "FindActiveByUserID orders most-recently-active-first")
}

func TestUpdateRefetchesMergedRow(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:       "u1",
		RefreshToken: "old",
		DeviceName:   "laptop",
	})
	require.NoError(t, err)

	token := "rotated"
	updated, err := store.Update(ctx, created.ID, sessionstore.Update{
		RefreshToken: &token,
		Data:         map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.Equal(t, "rotated", updated.RefreshToken)
	require.Equal(t, "laptop", updated.DeviceName, "untouched column survives the patch")
	require.Equal(t, "v", updated.Data["k"])
	require.Equal(t, "u1", updated.UserID, "ownership is immutable")

	_, err = store.Update(ctx, "missing", sessionstore.Update{RefreshToken: &token})
	require.ErrorIs(t, err, sessionstore.ErrNotFound)
}

func TestUpdateLastActiveMovesForward(t *testing.T) {
	store, _ := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID:     "u1",
		LastActive: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	touched, err := store.UpdateLastActive(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, touched.LastActive.After(created.LastActive))
}

func TestCorruptPayloadPropagates(t *testing.T) {
	store, db := newStoreTest(t)
	ctx := context.Background()

	created, err := store.Create(ctx, sessionstore.CreatePayload{
		UserID: "u1",
		Data:   map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&sessionRecord{}).
		Where("id = ?", created.ID).
		Update("data", "{not json").Error)

	_, err = store.FindByID(ctx, created.ID)
	require.ErrorIs(t, err, sessionstore.ErrCorruptRecord)
	require.NotErrorIs(t, err, sessionstore.ErrNotFound, "corruption must not masquerade as not-found")
}
