package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "snapshot:42", SnapshotKey(42))
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache.internal"
	cfg.DB = 3

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@redis.example:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.example:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	cfg.URL = "http://not-redis"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestNoopSnapshotCache(t *testing.T) {
	var cache academic.SnapshotCache = NoopSnapshotCache{}
	ctx := context.Background()

	snap := academic.Snapshot{Subjects: []academic.Subject{{ID: 1, Name: "Cálculo"}}}
	require.NoError(t, cache.Set(ctx, 7, snap, time.Minute))

	_, err := cache.Get(ctx, 7)
	assert.True(t, shared.IsNotFound(err))
	assert.NoError(t, cache.Invalidate(ctx, 7))
}

func TestSnapshotCache_ConnectionErrorIsNotAMiss(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewSnapshotCache(NewCacheFromClient(client))
	_, err := cache.Get(context.Background(), 7)

	require.Error(t, err)
	assert.False(t, shared.IsNotFound(err))
}

func TestCache_RejectsBadArguments(t *testing.T) {
	cache := NewCacheFromClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}))
	t.Cleanup(func() { _ = cache.Close() })
	ctx := context.Background()

	assert.ErrorIs(t, cache.Set(ctx, "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, cache.Set(ctx, "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, cache.Set(ctx, "k", make(chan int), time.Minute), ErrCacheSerialization)
	assert.ErrorIs(t, cache.Get(ctx, "", nil), ErrCacheKeyEmpty)
	assert.NoError(t, cache.Delete(ctx))
}

func TestNewSnapshotEntry(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.FixedZone("COT", -5*3600))
	entry := newSnapshotEntry(academic.Snapshot{}, now)

	assert.Equal(t, snapshotFormat, entry.Format)
	assert.Equal(t, time.UTC, entry.CachedAt.Location())
	assert.True(t, entry.CachedAt.Equal(now))
}
