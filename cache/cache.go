// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package cache provides the two-tier read cache for evaluation and report
// data: a bounded in-process LRU in front of a Redis tier with TTLs and tag
// sets. The Redis tier is best-effort; its failures degrade to misses and
// never propagate.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// l2Timeout is the hard ceiling on any single Redis call.
	l2Timeout = 5 * time.Second

	// maxKeyLength is the longest literal key; longer keys are replaced by
	// an FNV-64a digest of themselves.
	maxKeyLength = 200

	// tagKeyPrefix namespaces the Redis sets that track tag membership.
	tagKeyPrefix = "tag:"
)

// entry is one L1 record with its own expiry and tag set.
type entry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is the two-tier cache. All methods are safe for concurrent use.
type Cache struct {
	logger hclog.Logger
	rdb    *redis.Client

	mu     sync.Mutex
	l1     *lru.Cache[string, *entry]
	byTag  map[string]map[string]struct{}
}

// New builds a cache with an L1 of the given size. rdb may be nil, which
// disables the second tier entirely.
func New(logger hclog.Logger, rdb *redis.Client, l1Size int) (*Cache, error) {
	c := &Cache{
		logger: logger.Named("cache"),
		rdb:    rdb,
		byTag:  make(map[string]map[string]struct{}),
	}
	l1, err := lru.NewWithEvict[string, *entry](l1Size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache L1 setup failed: %w", err)
	}
	c.l1 = l1
	return c, nil
}

// onEvict unindexes an evicted entry's tags. The LRU evicts only inside Add,
// Remove and Purge, which all run with mu held.
func (c *Cache) onEvict(key string, e *entry) {
	for _, tag := range e.tags {
		delete(c.byTag[tag], key)
		if len(c.byTag[tag]) == 0 {
			delete(c.byTag, tag)
		}
	}
}

// Key derives the deterministic cache key for an operation: the operation
// name joined with its arguments in sorted order. Oversized keys collapse to
// a digest so that Redis key length stays bounded.
func Key(op string, args ...string) string {
	sorted := append([]string(nil), args...)
	sort.Strings(sorted)
	key := op
	if len(sorted) > 0 {
		key += ":" + strings.Join(sorted, ":")
	}
	if len(key) <= maxKeyLength {
		return key
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("%s:h:%016x", op, h.Sum64())
}

// Get returns the cached value for key, consulting L1 first and then L2. An
// L2 hit repopulates L1 with the remaining TTL.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.l1.Get(key); ok {
		if !e.expired(now) {
			c.mu.Unlock()
			metrics.IncrCounter([]string{"autosched", "cache", "l1_hit"}, 1)
			return e.value, true
		}
		c.removeLocked(key)
	}
	c.mu.Unlock()

	if c.rdb == nil {
		metrics.IncrCounter([]string{"autosched", "cache", "miss"}, 1)
		return nil, false
	}

	l2ctx, cancel := context.WithTimeout(ctx, l2Timeout)
	defer cancel()

	pipe := c.rdb.Pipeline()
	getCmd := pipe.Get(l2ctx, key)
	ttlCmd := pipe.PTTL(l2ctx, key)
	if _, err := pipe.Exec(l2ctx); err != nil {
		if err != redis.Nil {
			c.logger.Warn("L2 read failed, treating as miss", "key", key, "error", err)
		}
		metrics.IncrCounter([]string{"autosched", "cache", "miss"}, 1)
		return nil, false
	}

	value := []byte(getCmd.Val())
	ttl := ttlCmd.Val()
	if ttl > 0 {
		c.mu.Lock()
		c.addLocked(key, &entry{value: value, expiresAt: now.Add(ttl)})
		c.mu.Unlock()
	}
	metrics.IncrCounter([]string{"autosched", "cache", "l2_hit"}, 1)
	return value, true
}

// Set writes the value to both tiers with the same TTL and records its tags.
// L2 failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) {
	now := time.Now()

	c.mu.Lock()
	// An overwrite must unindex the old tags first; Add alone replaces the
	// value without the evict hook firing.
	c.removeLocked(key)
	c.addLocked(key, &entry{value: value, tags: tags, expiresAt: now.Add(ttl)})
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	l2ctx, cancel := context.WithTimeout(ctx, l2Timeout)
	defer cancel()

	pipe := c.rdb.Pipeline()
	pipe.Set(l2ctx, key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(l2ctx, tagKeyPrefix+tag, key)
		// Tag sets outlive their members slightly; expiry keeps them from
		// accumulating forever.
		pipe.Expire(l2ctx, tagKeyPrefix+tag, ttl+time.Minute)
	}
	if _, err := pipe.Exec(l2ctx); err != nil {
		c.logger.Warn("L2 write failed", "key", key, "error", err)
	}
}

// InvalidateTag removes every key whose tag set contains the tag, in both
// tiers.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) {
	defer metrics.MeasureSince([]string{"autosched", "cache", "invalidate_tag"}, time.Now())

	c.mu.Lock()
	keys := make([]string, 0, len(c.byTag[tag]))
	for key := range c.byTag[tag] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		c.removeLocked(key)
	}
	delete(c.byTag, tag)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	l2ctx, cancel := context.WithTimeout(ctx, l2Timeout)
	defer cancel()

	keys, err := c.rdb.SMembers(l2ctx, tagKeyPrefix+tag).Result()
	if err != nil {
		c.logger.Warn("L2 tag lookup failed", "tag", tag, "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(l2ctx, keys...).Err(); err != nil {
			c.logger.Warn("L2 tag invalidation failed", "tag", tag, "error", err)
		}
	}
	if err := c.rdb.Del(l2ctx, tagKeyPrefix+tag).Err(); err != nil {
		c.logger.Warn("L2 tag set cleanup failed", "tag", tag, "error", err)
	}
}

// InvalidatePattern removes every key matching the wildcard pattern from
// both tiers. Patterns use path.Match syntax, which matches Redis glob
// semantics for the * and ? cases used here.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	defer metrics.MeasureSince([]string{"autosched", "cache", "invalidate_pattern"}, time.Now())

	c.mu.Lock()
	for _, key := range c.l1.Keys() {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeLocked(key)
		}
	}
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}

	l2ctx, cancel := context.WithTimeout(ctx, l2Timeout)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(l2ctx, cursor, pattern, 256).Result()
		if err != nil {
			c.logger.Warn("L2 pattern scan failed", "pattern", pattern, "error", err)
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(l2ctx, keys...).Err(); err != nil {
				c.logger.Warn("L2 pattern delete failed", "pattern", pattern, "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// GetOrFill returns the cached value or computes, stores and returns it.
// Fill errors pass through without caching.
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) ([]byte, error), tags ...string) ([]byte, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, nil
	}
	value, err := fill(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(ctx, key, value, ttl, tags...)
	return value, nil
}

// Purge drops the entire L1; the L2 tier is left to its TTLs.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1.Purge()
	c.byTag = make(map[string]map[string]struct{})
}

// addLocked inserts an entry and indexes its tags. Callers hold mu.
func (c *Cache) addLocked(key string, e *entry) {
	c.l1.Add(key, e)
	for _, tag := range e.tags {
		if c.byTag[tag] == nil {
			c.byTag[tag] = make(map[string]struct{})
		}
		c.byTag[tag][key] = struct{}{}
	}
}

// removeLocked drops an entry; the evict hook unindexes its tags. Callers
// hold mu.
func (c *Cache) removeLocked(key string) {
	c.l1.Remove(key)
}
