package core

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryRecordCache is a process-local LRU with per-entry TTL.
type MemoryRecordCache struct {
	lru *expirable.LRU[CacheKey, *AuthRecord]
}

// NewMemoryRecordCache returns a cache holding at most size records for ttl each.
func NewMemoryRecordCache(size int, ttl time.Duration) *MemoryRecordCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryRecordCache{lru: expirable.NewLRU[CacheKey, *AuthRecord](size, nil, ttl)}
}

func (c *MemoryRecordCache) Get(_ context.Context, key CacheKey) (*AuthRecord, bool, error) {
	rec, ok := c.lru.Get(key)
	return rec, ok, nil
}

func (c *MemoryRecordCache) Put(_ context.Context, rec *AuthRecord) error {
	c.lru.Add(rec.CacheKey(), rec)
	return nil
}

func (c *MemoryRecordCache) Remove(_ context.Context, key CacheKey) error {
	c.lru.Remove(key)
	return nil
}

// Purge drops every record of realm.
func (c *MemoryRecordCache) Purge(_ context.Context, realm string) error {
	for _, key := range c.lru.Keys() {
		if key.Realm == realm {
			c.lru.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (c *MemoryRecordCache) Len() int {
	return c.lru.Len()
}
