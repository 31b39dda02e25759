package core

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// PluginRealm lets an AuthPlugin take part in login, optionally caching successful
// results so that repeated logins can be verified without calling the plugin again.
type PluginRealm struct {
	name    string
	plugin  AuthPlugin
	hasher  CredentialHasher
	cache   RecordCache
	metrics *RealmMetrics

	flight    singleflight.Group
	flightKey []byte
}

// NewPluginRealm wires plugin into a realm. Caching is enabled when both cache and
// hasher are non-nil; metrics may be nil.
func NewPluginRealm(name string, plugin AuthPlugin, hasher CredentialHasher, cache RecordCache, metrics *RealmMetrics) (*PluginRealm, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("realm name is empty")
	}
	if plugin == nil {
		return nil, fmt.Errorf("realm %s: plugin is nil", name)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("realm %s: %w", name, err)
	}
	return &PluginRealm{
		name:      name,
		plugin:    plugin,
		hasher:    hasher,
		cache:     cache,
		metrics:   metrics,
		flightKey: key,
	}, nil
}

// Name returns the realm name stamped on every record it produces.
func (r *PluginRealm) Name() string { return r.name }

// PluginName returns the name reported by the underlying plugin.
func (r *PluginRealm) PluginName() string { return r.plugin.Name() }

// CachingEnabled reports whether successful logins are cached.
func (r *PluginRealm) CachingEnabled() bool { return r.cache != nil && r.hasher != nil }

// Login authenticates token. A cached record whose credential matches is returned
// directly; otherwise the plugin is called, at most once in flight per principal and
// presented secret. A hashing failure fails the login even though the plugin succeeded.
func (r *PluginRealm) Login(ctx context.Context, token AuthToken) (*AuthRecord, error) {
	if strings.TrimSpace(token.Principal) == "" || len(token.Credentials) == 0 {
		r.metrics.login(r.name, "failure")
		return nil, ErrInvalidCredentials
	}

	if rec := r.lookup(ctx, token); rec != nil {
		r.metrics.login(r.name, "success")
		return rec, nil
	}

	v, err, _ := r.flight.Do(r.inFlightKey(token), func() (interface{}, error) {
		return r.authenticate(ctx, token)
	})
	if err != nil {
		var hashErr *HashingError
		if errors.As(err, &hashErr) {
			r.metrics.login(r.name, "hashing_error")
		} else {
			r.metrics.login(r.name, "failure")
		}
		return nil, err
	}
	r.metrics.login(r.name, "success")
	return v.(*AuthRecord), nil
}

func (r *PluginRealm) lookup(ctx context.Context, token AuthToken) *AuthRecord {
	if !r.CachingEnabled() {
		return nil
	}
	rec, ok, err := r.cache.Get(ctx, CacheKey{Realm: r.name, Principal: token.Principal})
	if err != nil {
		slog.Warn("credential cache lookup failed", "realm", r.name, "principal", token.Principal, "error", err)
		r.metrics.cacheLookup(r.name, CacheError)
		return nil
	}
	if !ok {
		r.metrics.cacheLookup(r.name, CacheMiss)
		return nil
	}
	stored, ok := rec.Credential()
	if !ok {
		r.metrics.cacheLookup(r.name, CacheMiss)
		return nil
	}
	if !r.hasher.Verify(token.Credentials, stored) {
		r.metrics.cacheLookup(r.name, CacheMismatch)
		return nil
	}
	// a fresh plugin login rewrites the record under the current hasher settings
	if r.hasher.NeedsRehash(stored) {
		r.metrics.cacheLookup(r.name, CacheStale)
		return nil
	}
	r.metrics.cacheLookup(r.name, CacheHit)
	return rec
}

func (r *PluginRealm) authenticate(ctx context.Context, token AuthToken) (*AuthRecord, error) {
	started := time.Now()
	info, err := r.plugin.Authenticate(ctx, token)
	r.metrics.pluginCall(r.name, time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, fmt.Errorf("realm %s: %w", r.name, err)
		}
		return nil, fmt.Errorf("%w: realm %s: %w", ErrAuthenticationFailed, r.name, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%w: realm %s: plugin returned no result", ErrAuthenticationFailed, r.name)
	}

	if !r.CachingEnabled() {
		return NewAuthRecord(info, r.name), nil
	}
	rec, err := NewCacheableAuthRecord(info, r.name, r.hasher)
	if err != nil {
		slog.Error("hashing credentials failed", "realm", r.name, "principal", info.Principal(), "error", err)
		return nil, err
	}
	if err := r.cache.Put(ctx, rec); err != nil {
		slog.Warn("credential cache store failed", "realm", r.name, "principal", rec.Principal(), "error", err)
	}
	return rec, nil
}

// inFlightKey never exposes the secret: it is an HMAC under a per-realm random key.
func (r *PluginRealm) inFlightKey(token AuthToken) string {
	mac := hmac.New(sha256.New, r.flightKey)
	mac.Write([]byte(token.Principal))
	mac.Write([]byte{0})
	mac.Write(token.Credentials)
	return hex.EncodeToString(mac.Sum(nil))
}

// Authorization returns the cached authorization view of principal, if any.
func (r *PluginRealm) Authorization(ctx context.Context, principal string) (AuthorizationInfo, bool, error) {
	if r.cache == nil {
		return nil, false, nil
	}
	rec, ok, err := r.cache.Get(ctx, CacheKey{Realm: r.name, Principal: principal})
	if err != nil || !ok {
		return nil, false, err
	}
	return rec, true, nil
}

// Invalidate drops the cached record of principal.
func (r *PluginRealm) Invalidate(ctx context.Context, principal string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Remove(ctx, CacheKey{Realm: r.name, Principal: principal})
}

// Purge drops every cached record of this realm.
func (r *PluginRealm) Purge(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Purge(ctx, r.name)
}
