package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakePlugin(cacheable bool) *fakePlugin {
	return &fakePlugin{
		passwords: map[string]string{"alice": "s3cr3t", "bob": "hunter2"},
		roles:     map[string][]string{"alice": {"admin", "reader"}, "bob": {"reader"}},
		cacheable: cacheable,
	}
}

func newTestRealm(t *testing.T, plugin AuthPlugin, hasher CredentialHasher, cache RecordCache) (*PluginRealm, *RealmMetrics) {
	t.Helper()
	metrics := NewRealmMetrics(prometheus.NewRegistry())
	realm, err := NewPluginRealm("R", plugin, hasher, cache, metrics)
	require.NoError(t, err)
	return realm, metrics
}

func token(principal, password string) AuthToken {
	return AuthToken{Principal: principal, Credentials: []byte(password)}
}

func TestPluginRealmCachesCacheableLogin(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, metrics := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	rec, err := realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Principal())
	assert.Equal(t, "R", rec.RealmName())
	assert.Equal(t, []string{"admin", "reader"}, rec.Roles())

	again, err := realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	assert.Equal(t, rec.CacheKey(), again.CacheKey())
	assert.EqualValues(t, 1, plugin.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheHit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.logins.WithLabelValues("R", "success")))
}

func TestPluginRealmWrongPasswordReachesPlugin(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, metrics := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	_, err := realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)

	_, err = realm.Login(ctx, token("alice", "wrong"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.EqualValues(t, 2, plugin.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheMismatch)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.logins.WithLabelValues("R", "failure")))
}

func TestPluginRealmPasswordChangeRefreshesCache(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, _ := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	_, err := realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)

	plugin.setPassword("alice", "n3w")
	_, err = realm.Login(ctx, token("alice", "n3w"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, plugin.calls.Load())

	// the old secret no longer matches the cached credential
	_, err = realm.Login(ctx, token("alice", "s3cr3t"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.EqualValues(t, 3, plugin.calls.Load())

	_, err = realm.Login(ctx, token("alice", "n3w"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, plugin.calls.Load())
}

func TestPluginRealmNeverServesPlainResultsFromCache(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(false)
	cache := NewMemoryRecordCache(10, time.Minute)
	realm, _ := newTestRealm(t, plugin, newTestHasher(t), cache)

	for i := 0; i < 3; i++ {
		rec, err := realm.Login(ctx, token("bob", "hunter2"))
		require.NoError(t, err)
		_, ok := rec.Credential()
		assert.False(t, ok)
	}
	assert.EqualValues(t, 3, plugin.calls.Load())
}

func TestPluginRealmWithoutCache(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, _ := newTestRealm(t, plugin, nil, nil)
	assert.False(t, realm.CachingEnabled())

	for i := 0; i < 2; i++ {
		rec, err := realm.Login(ctx, token("alice", "s3cr3t"))
		require.NoError(t, err)
		_, ok := rec.Credential()
		assert.False(t, ok)
	}
	assert.EqualValues(t, 2, plugin.calls.Load())

	require.NoError(t, realm.Invalidate(ctx, "alice"))
	require.NoError(t, realm.Purge(ctx))
	_, ok, err := realm.Authorization(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPluginRealmHashingFailureFailsLogin(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	cache := NewMemoryRecordCache(10, time.Minute)
	realm, metrics := newTestRealm(t, plugin, brokenHasher{}, cache)

	rec, err := realm.Login(ctx, token("alice", "s3cr3t"))
	assert.Nil(t, rec)
	var hashErr *HashingError
	require.True(t, errors.As(err, &hashErr))
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.logins.WithLabelValues("R", "hashing_error")))
}

func TestPluginRealmPluginFailure(t *testing.T) {
	plugin := newFakePlugin(true)
	plugin.setErr(errors.New("ldap unreachable"))
	realm, _ := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	_, err := realm.Login(context.Background(), token("alice", "s3cr3t"))
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "ldap unreachable")
}

func TestPluginRealmRejectsEmptyToken(t *testing.T) {
	plugin := newFakePlugin(true)
	realm, _ := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	_, err := realm.Login(context.Background(), token("", "s3cr3t"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = realm.Login(context.Background(), token("alice", ""))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.EqualValues(t, 0, plugin.calls.Load())
}

func TestPluginRealmConcurrentLoginsShareOnePluginCall(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	plugin.gate = make(chan struct{})
	realm, metrics := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := realm.Login(ctx, token("alice", "s3cr3t"))
			errs <- err
		}()
	}
	misses := metrics.cacheLookups.WithLabelValues("R", CacheMiss)
	require.Eventually(t, func() bool { return testutil.ToFloat64(misses) == callers }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let every caller join the flight
	close(plugin.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, plugin.calls.Load())
}

func TestPluginRealmInFlightKeyHidesSecret(t *testing.T) {
	realm, _ := newTestRealm(t, newFakePlugin(true), nil, nil)

	a := realm.inFlightKey(token("alice", "s3cr3t"))
	b := realm.inFlightKey(token("alice", "wrong"))
	c := realm.inFlightKey(token("alices", "3cr3t"))

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "s3cr3t")
	assert.Equal(t, a, realm.inFlightKey(token("alice", "s3cr3t")))
}

func TestPluginRealmInvalidateAndPurge(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, _ := newTestRealm(t, plugin, newTestHasher(t), NewMemoryRecordCache(10, time.Minute))

	_, err := realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	_, err = realm.Login(ctx, token("bob", "hunter2"))
	require.NoError(t, err)

	info, ok, err := realm.Authorization(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "reader"}, info.Roles())

	require.NoError(t, realm.Invalidate(ctx, "alice"))
	_, ok, err = realm.Authorization(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, plugin.calls.Load())

	require.NoError(t, realm.Purge(ctx))
	_, err = realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	_, err = realm.Login(ctx, token("bob", "hunter2"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, plugin.calls.Load())
}

// flakyCache fails every operation.
type flakyCache struct{}

var errCacheDown = errors.New("cache down")

func (flakyCache) Get(context.Context, CacheKey) (*AuthRecord, bool, error) {
	return nil, false, errCacheDown
}
func (flakyCache) Put(context.Context, *AuthRecord) error { return errCacheDown }
func (flakyCache) Remove(context.Context, CacheKey) error { return errCacheDown }
func (flakyCache) Purge(context.Context, string) error    { return errCacheDown }

func TestPluginRealmSurvivesCacheFailures(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	realm, metrics := newTestRealm(t, plugin, newTestHasher(t), flakyCache{})

	for i := 0; i < 2; i++ {
		rec, err := realm.Login(ctx, token("alice", "s3cr3t"))
		require.NoError(t, err)
		assert.Equal(t, "alice", rec.Principal())
	}
	assert.EqualValues(t, 2, plugin.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheError)))
	assert.ErrorIs(t, realm.Invalidate(ctx, "alice"), errCacheDown)
}

func TestNewPluginRealmValidation(t *testing.T) {
	_, err := NewPluginRealm(" ", newFakePlugin(true), nil, nil, nil)
	assert.Error(t, err)
	_, err = NewPluginRealm("R", nil, nil, nil, nil)
	assert.Error(t, err)

	realm, err := NewPluginRealm("R", newFakePlugin(true), newTestHasher(t), NewMemoryRecordCache(1, time.Minute), nil)
	require.NoError(t, err)
	assert.Equal(t, "fake", realm.PluginName())
	assert.True(t, realm.CachingEnabled())
	// nil metrics record nothing
	_, err = realm.Login(context.Background(), token("alice", "s3cr3t"))
	require.NoError(t, err)
}

func TestPluginRealmRehashesOutdatedCacheEntries(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	cache := NewMemoryRecordCache(10, time.Minute)
	current := newTestHasher(t)
	realm, metrics := newTestRealm(t, plugin, current, cache)

	legacy, err := NewSecureHasher(HasherConfig{Algorithm: AlgorithmPBKDF2SHA512})
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, cachedRecord(t, legacy, "R", "alice", "s3cr3t", "admin")))

	_, err = realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, plugin.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheStale)))

	rec, ok, err := cache.Get(ctx, CacheKey{Realm: "R", Principal: "alice"})
	require.NoError(t, err)
	require.True(t, ok)
	stored, _ := rec.Credential()
	assert.Equal(t, AlgorithmPBKDF2SHA256, stored.Algorithm)
	assert.False(t, current.NeedsRehash(stored))

	_, err = realm.Login(ctx, token("alice", "s3cr3t"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, plugin.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheHit)))
}

func TestPluginRealmOutdatedEntryStillRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	plugin := newFakePlugin(true)
	cache := NewMemoryRecordCache(10, time.Minute)
	realm, metrics := newTestRealm(t, plugin, newTestHasher(t), cache)

	legacy, err := NewSecureHasher(HasherConfig{Iterations: 10})
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, cachedRecord(t, legacy, "R", "alice", "s3cr3t")))

	_, err = realm.Login(ctx, token("alice", "wrong"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheMismatch)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("R", CacheStale)))
}
