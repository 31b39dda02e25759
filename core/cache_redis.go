package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecordCacheKeyPrefix prefixes every cached record key: authcache:<realm>:<principal>.
const RecordCacheKeyPrefix = "authcache:"

// RedisRecordCache shares cached records between API instances.
type RedisRecordCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRecordCache stores records as JSON with the given TTL.
func NewRedisRecordCache(client *redis.Client, ttl time.Duration) *RedisRecordCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisRecordCache{client: client, ttl: ttl}
}

// globEscaper quotes SCAN MATCH metacharacters.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func recordKey(key CacheKey) string {
	return RecordCacheKeyPrefix + key.Realm + ":" + key.Principal
}

func (c *RedisRecordCache) Get(ctx context.Context, key CacheKey) (*AuthRecord, bool, error) {
	data, err := c.client.Get(ctx, recordKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec AuthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode cached record %s: %w", recordKey(key), err)
	}
	if rec.CacheKey() != key {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *RedisRecordCache) Put(ctx context.Context, rec *AuthRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, recordKey(rec.CacheKey()), data, c.ttl).Err()
}

func (c *RedisRecordCache) Remove(ctx context.Context, key CacheKey) error {
	return c.client.Del(ctx, recordKey(key)).Err()
}

// Purge deletes every record of realm using SCAN so the server is never blocked.
func (c *RedisRecordCache) Purge(ctx context.Context, realm string) error {
	pattern := RecordCacheKeyPrefix + globEscaper.Replace(realm) + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}
