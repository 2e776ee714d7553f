package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"go.uber.org/zap/zaptest"

	"github.com/mfgintel/toolproxy/internal/auth"
	"github.com/mfgintel/toolproxy/internal/descriptor"
)

var (
	_ auth.TokenCache       = (*BoltCache)(nil)
	_ auth.TokenInvalidator = (*BoltCache)(nil)
)

func setupTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestBoltCache(t *testing.T, clock *fakeClock) *BoltCache {
	t.Helper()
	c, err := NewBoltCache(setupTestDB(t), zaptest.NewLogger(t), WithBoltClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBoltCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := newTestBoltCache(t, newFakeClock())

	_, ok, err := c.Get(ctx, "oauth:token:srv")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetWithTTL(ctx, "oauth:token:srv", []byte("tok"), time.Minute))
	v, ok, err := c.Get(ctx, "oauth:token:srv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", string(v))

	stats := c.GetStats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.HitCount)
	assert.Equal(t, 1, stats.MissCount)
}

func TestBoltCache_ExpiredOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestBoltCache(t, clock)

	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), 60*time.Second))
	clock.Advance(61 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, 1, stats.EvictedCount)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestBoltCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestBoltCache(t, clock)

	require.NoError(t, c.SetWithTTL(ctx, "short", []byte("a"), 10*time.Second))
	require.NoError(t, c.SetWithTTL(ctx, "long", []byte("b"), time.Hour))
	clock.Advance(time.Minute)

	removed, err := c.cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	v, ok, err := c.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", string(v))
	assert.Equal(t, 1, c.GetStats().CleanupCount)
}

func TestBoltCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := newTestBoltCache(t, newFakeClock())

	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, c.GetStats().TotalEntries)
}

func TestBoltCache_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tokens.db")

	first, err := OpenBoltCache(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.SetWithTTL(ctx, "oauth:token:srv", []byte("persisted"), time.Hour))
	require.NoError(t, first.Close())
	// second close is a no-op
	require.NoError(t, first.Close())

	second, err := OpenBoltCache(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()

	v, ok, err := second.Get(ctx, "oauth:token:srv")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", string(v))
	assert.Equal(t, 1, second.GetStats().TotalEntries)
}

func TestBoltCache_BackgroundCleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, err := NewBoltCache(setupTestDB(t), zaptest.NewLogger(t),
		WithBoltClock(clock.Now), WithCleanupInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetWithTTL(ctx, "k", []byte("v"), time.Second))
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool {
		return c.GetStats().CleanupCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBoltCache_WithTokenManager(t *testing.T) {
	ctx := context.Background()
	c := newTestBoltCache(t, newFakeClock())
	m := auth.NewTokenManager(c)
	server := descriptor.Server{ID: "srv", TenantID: "plant-a"}

	require.NoError(t, c.SetWithTTL(ctx, auth.CacheKey(server), []byte("from-bolt"), time.Minute))
	require.NoError(t, m.Invalidate(ctx, server))

	_, ok, err := c.Get(ctx, auth.CacheKey(server))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltCache_Ping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping.db")
	c, err := OpenBoltCache(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
