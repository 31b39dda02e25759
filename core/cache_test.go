package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func cachedRecord(t *testing.T, h Hasher, realm, principal, password string, roles ...string) *AuthRecord {
	t.Helper()
	rec, err := NewCacheableAuthRecord(NewCacheableAuthInfo(principal, []byte(password), roles...), realm, h)
	require.NoError(t, err)
	return rec
}

func TestMemoryRecordCache(t *testing.T) {
	ctx := context.Background()
	h := newTestHasher(t)
	cache := NewMemoryRecordCache(10, time.Minute)

	_, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "alice", "s3cr3t", "reader")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "bob", "hunter2")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "other", "alice", "s3cr3t")))
	assert.Equal(t, 3, cache.Len())

	rec, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"reader"}, rec.Roles())

	require.NoError(t, cache.Remove(ctx, CacheKey{Realm: "R", Principal: "alice"}))
	_, ok, _ = cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	assert.False(t, ok)

	require.NoError(t, cache.Purge(ctx, "R"))
	_, ok, _ = cache.Get(ctx, CacheKey{Realm: "R", Principal: "bob"})
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, CacheKey{Realm: "other", Principal: "alice"})
	assert.True(t, ok)
}

func TestMemoryRecordCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	h := newTestHasher(t)
	cache := NewMemoryRecordCache(2, time.Minute)

	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "a", "pw")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "b", "pw")))
	_, _, _ = cache.Get(ctx, CacheKey{Realm: "R", Principal: "a"})
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "c", "pw")))

	_, ok, _ := cache.Get(ctx, CacheKey{Realm: "R", Principal: "b"})
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, CacheKey{Realm: "R", Principal: "a"})
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestMemoryRecordCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRecordCache(10, 20*time.Millisecond)
	require.NoError(t, cache.Put(ctx, cachedRecord(t, newTestHasher(t), "R", "alice", "s3cr3t")))

	assert.Eventually(t, func() bool {
		_, ok, _ := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestRedisRecordCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	h := newTestHasher(t)
	cache := NewRedisRecordCache(client, time.Minute)

	_, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "alice", "s3cr3t", "admin")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "R", "bob", "hunter2")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, h, "other", "alice", "s3cr3t")))

	assert.True(t, mr.Exists("authcache:R:alice"))
	raw, err := mr.Get("authcache:R:alice")
	require.NoError(t, err)
	assert.NotContains(t, raw, "s3cr3t")
	assert.Equal(t, time.Minute, mr.TTL("authcache:R:alice"))

	rec, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"admin"}, rec.Roles())
	stored, ok := rec.Credential()
	require.True(t, ok)
	assert.True(t, h.Verify([]byte("s3cr3t"), stored))

	require.NoError(t, cache.Remove(ctx, CacheKey{Realm: "R", Principal: "alice"}))
	assert.False(t, mr.Exists("authcache:R:alice"))

	require.NoError(t, cache.Purge(ctx, "R"))
	assert.False(t, mr.Exists("authcache:R:bob"))
	assert.True(t, mr.Exists("authcache:other:alice"))
}

func TestRedisRecordCacheExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	cache := NewRedisRecordCache(client, time.Minute)
	require.NoError(t, cache.Put(ctx, cachedRecord(t, newTestHasher(t), "R", "alice", "s3cr3t")))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRecordCacheRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	cache := NewRedisRecordCache(client, time.Minute)

	require.NoError(t, mr.Set("authcache:R:alice", `{"principal":"alice","realm":"R","outcome":"FAILURE"}`))
	_, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	assert.Error(t, err)
	assert.False(t, ok)

	// an entry stored under the wrong key is a miss
	require.NoError(t, mr.Set("authcache:R:bob", `{"principal":"alice","realm":"R","roles":[],"outcome":"SUCCESS"}`))
	_, ok, err = cache.Get(ctx, CacheKey{Realm: "R", Principal: "bob"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRecordCachePurgeDoesNotTouchQueue(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	cache := NewRedisRecordCache(client, time.Minute)
	queue := NewRedisQueue(client, InvalidationPendingKey, InvalidationProcessingKey)

	require.NoError(t, EnqueueInvalidation(ctx, queue, NewInvalidationJob("R", "alice")))
	require.NoError(t, cache.Put(ctx, cachedRecord(t, newTestHasher(t), "R", "alice", "s3cr3t")))
	require.NoError(t, cache.Purge(ctx, "R"))

	assert.False(t, mr.Exists("authcache:R:alice"))
	assert.True(t, mr.Exists(InvalidationPendingKey))
}

func TestNewRecordCache(t *testing.T) {
	_, client := newMiniredis(t)

	cache, err := NewRecordCache(Config{CacheBackend: CacheBackendNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, cache)

	cache, err = NewRecordCache(Config{CacheBackend: "memory", CacheSize: 5, CacheTTL: time.Minute}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRecordCache{}, cache)

	cache, err = NewRecordCache(Config{CacheBackend: "REDIS"}, client)
	require.NoError(t, err)
	assert.IsType(t, &RedisRecordCache{}, cache)

	_, err = NewRecordCache(Config{CacheBackend: CacheBackendRedis}, nil)
	assert.Error(t, err)
	_, err = NewRecordCache(Config{CacheBackend: "memcached"}, nil)
	assert.Error(t, err)
}

func TestRedisRecordCachePurgeQuotesRealmPattern(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniredis(t)
	h := newTestHasher(t)
	cache := NewRedisRecordCache(client, time.Minute)

	for _, realm := range []string{"team*", "teamB", "a?", "ab", "a[bc]", "ac"} {
		require.NoError(t, cache.Put(ctx, cachedRecord(t, h, realm, "alice", "s3cr3t")))
	}

	require.NoError(t, cache.Purge(ctx, "team*"))
	require.NoError(t, cache.Purge(ctx, "a?"))
	require.NoError(t, cache.Purge(ctx, "a[bc]"))

	assert.False(t, mr.Exists("authcache:team*:alice"))
	assert.False(t, mr.Exists("authcache:a?:alice"))
	assert.False(t, mr.Exists("authcache:a[bc]:alice"))
	for _, realm := range []string{"teamB", "ab", "ac"} {
		_, ok, err := cache.Get(ctx, CacheKey{Realm: realm, Principal: "alice"})
		require.NoError(t, err)
		assert.True(t, ok, "realm %s", realm)
	}
}
