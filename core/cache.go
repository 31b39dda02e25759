package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"

	DefaultCacheTTL  = 10 * time.Minute
	DefaultCacheSize = 10000
)

// RecordCache stores AuthRecords keyed by realm and principal.
// Get returns (nil, false, nil) on a miss.
type RecordCache interface {
	Get(ctx context.Context, key CacheKey) (*AuthRecord, bool, error)
	Put(ctx context.Context, rec *AuthRecord) error
	Remove(ctx context.Context, key CacheKey) error
	Purge(ctx context.Context, realm string) error
}

// NewRecordCache builds the cache selected by cfg.CacheBackend. A nil cache means caching is off.
func NewRecordCache(cfg Config, redisClient *redis.Client) (RecordCache, error) {
	switch strings.ToLower(cfg.CacheBackend) {
	case CacheBackendNone:
		return nil, nil
	case CacheBackendMemory, "":
		return NewMemoryRecordCache(cfg.CacheSize, cfg.CacheTTL), nil
	case CacheBackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("cache backend %q requires a redis client", cfg.CacheBackend)
		}
		return NewRedisRecordCache(redisClient, cfg.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
