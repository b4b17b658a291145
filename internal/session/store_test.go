package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotiride/orderd/internal/observability"
)

func newTestBackend(t *testing.T) (Backend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisBackendWithClient(client, "test:", observability.NopLogger()), mr
}

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *miniredis.Miniredis) {
	t.Helper()

	backend, mr := newTestBackend(t)
	return NewStore(backend, opts...), mr
}

func testRecord(token string, now time.Time) Record {
	return Record{
		Token:          token,
		UserID:         "user-1",
		Email:          "user@example.com",
		Phone:          "+15550100",
		Name:           "Test User",
		Picture:        "https://example.com/p.png",
		IDToken:        "id-token",
		RefreshToken:   "refresh-token",
		ExpiresAt:      now.Add(time.Hour),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestStorePutGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := testRecord("tok-1", now)
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, 1, store.CachedCount())
}

func TestStoreGetMiss(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetRepopulatesCache(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	backend, mr := newTestBackend(t)
	writer := NewStore(backend)
	require.NoError(t, writer.Put(ctx, testRecord("tok-1", now)))

	// A fresh store over the same backend starts with a cold cache.
	reader := NewStore(backend)
	assert.Equal(t, 0, reader.CachedCount())

	got, err := reader.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 1, reader.CachedCount())

	// After repopulation the cache serves the record even if the backend
	// loses it.
	mr.FlushAll()
	got, err = reader.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestStoreTouch(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	current := base

	backend, _ := newTestBackend(t)
	store := NewStore(backend, WithClock(func() time.Time { return current }))

	require.NoError(t, store.Put(ctx, testRecord("tok-1", base)))

	current = base.Add(10 * time.Minute)
	require.NoError(t, store.Touch(ctx, "tok-1"))

	// Cached copy is updated.
	got, err := store.Get(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, current, got.LastActivityAt)

	// Durable copy is updated too.
	durable, err := backend.Fetch(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, current.Unix(), durable.LastActivityAt.Unix())
}

func TestStoreTouchAbsentToken(t *testing.T) {
	store, _ := newTestStore(t)

	assert.NoError(t, store.Touch(context.Background(), "absent"))
}

func TestStoreRemoveIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Put(ctx, testRecord("tok-1", now)))

	require.NoError(t, store.Remove(ctx, "tok-1"))
	_, err := store.Get(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing again is not an error.
	assert.NoError(t, store.Remove(ctx, "tok-1"))
}

func TestStoreSweep(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	backend, _ := newTestBackend(t)
	store := NewStore(backend, WithClock(func() time.Time { return base }))

	expired := testRecord("tok-expired", base)
	expired.ExpiresAt = base.Add(-time.Minute)
	live := testRecord("tok-live", base)

	require.NoError(t, store.Put(ctx, expired))
	require.NoError(t, store.Put(ctx, live))

	swept, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = store.Get(ctx, "tok-expired")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "tok-live")
	assert.NoError(t, err)
}

func TestStoreSweepEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	swept, err := store.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	const tokens = 8
	for i := 0; i < tokens; i++ {
		rec := testRecord(fmt.Sprintf("tok-%d", i), now)
		require.NoError(t, store.Put(ctx, rec))
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("tok-%d", i%tokens)

			_, err := store.Get(ctx, token)
			assert.NoError(t, err)
			assert.NoError(t, store.Touch(ctx, token))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, tokens, store.CachedCount())
}

func TestRedisBackendFetchCorrupt(t *testing.T) {
	backend, mr := newTestBackend(t)

	mr.HSet("test:session:bad", "user_id", "u", "expires_at", "not-a-number")

	_, err := backend.Fetch(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRecordDurations(t *testing.T) {
	now := time.Now()
	rec := Record{
		CreatedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-10 * time.Minute),
		ExpiresAt:      now.Add(time.Hour),
	}

	assert.Equal(t, 2*time.Hour, rec.Age(now))
	assert.Equal(t, 10*time.Minute, rec.IdleTime(now))
	assert.False(t, rec.IsExpired(now))
	assert.True(t, rec.IsExpired(now.Add(2*time.Hour)))
}
