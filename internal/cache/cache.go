// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache is the Cache/Rate layer every provider-backed stage goes
// through. A Cache coalesces concurrent lookups of the same key into one
// outbound call, remembers results for a TTL, bounds the number of requests
// in flight, and spaces requests to respect provider rate limits.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const defaultMaxInFlight = 8

// DefaultStoreMaxAge bounds how long a persisted row is served when
// Options.StoreMaxAge is unset. It matches the default of cache prune.
const DefaultStoreMaxAge = 30 * 24 * time.Hour

// Options configures a Cache.
type Options struct {
	// Namespace separates providers that share a persistent Store.
	Namespace string

	// TTL bounds entry lifetime. Zero keeps entries until the process exits.
	TTL time.Duration

	// MaxInFlight is the ceiling on simultaneous fetches (default 8).
	MaxInFlight int

	// MinInterval spaces consecutive fetches. Zero disables spacing.
	MinInterval time.Duration

	// Store persists entries across runs. Nil keeps the cache in memory.
	Store Store

	// StoreMaxAge is the oldest persisted row still served. Zero means
	// DefaultStoreMaxAge. TTL, when shorter, applies as well.
	StoreMaxAge time.Duration
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    int64
	Misses  int64
	Fetches int64
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a keyed single-flight cache for values of type V.
type Cache[V any] struct {
	opts    Options
	mu      sync.Mutex
	entries map[string]entry[V]
	group   singleflight.Group
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time

	hits, misses, fetches atomic.Int64
}

// New creates a Cache.
func New[V any](opts Options) *Cache[V] {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	c := &Cache[V]{
		opts:    opts,
		entries: make(map[string]entry[V]),
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		now:     time.Now,
	}
	if opts.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return c
}

// GetOrFetch returns the cached value for key if present and unexpired.
// Otherwise it calls fetch, sharing one call among all concurrent callers
// with the same key. Errors are returned to every waiter and not cached.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		c.hits.Add(1)
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// A caller that lost the race may arrive after the winner stored
		// the value; check again before spending a request.
		if v, ok := c.Peek(key); ok {
			c.hits.Add(1)
			return v, nil
		}
		c.misses.Add(1)

		if v, ok := c.loadStored(ctx, key); ok {
			c.Put(key, v)
			return v, nil
		}

		var v V
		err := c.Throttle(ctx, func(ctx context.Context) error {
			var ferr error
			v, ferr = fetch(ctx)
			return ferr
		})
		if err != nil {
			return v, err
		}
		c.Put(key, v)
		c.storeValue(ctx, key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Throttle runs fn under the concurrency ceiling and the request spacing
// without caching anything. Batch lookups that fan out to many keys use it
// directly. The permit is released when fn returns, even on failure.
func (c *Cache[V]) Throttle(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	c.fetches.Add(1)
	return fn(ctx)
}

// Peek returns the in-memory value for key without fetching.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e.insertedAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, insertedAt: c.now()}
	c.mu.Unlock()
}

// Persist stores value in memory and in the persistent Store, if any.
func (c *Cache[V]) Persist(ctx context.Context, key string, value V) {
	c.Put(key, value)
	c.storeValue(ctx, key, value)
}

// Lookup checks memory, then the persistent Store. It never fetches.
func (c *Cache[V]) Lookup(ctx context.Context, key string) (V, bool) {
	if v, ok := c.Peek(key); ok {
		c.hits.Add(1)
		return v, true
	}
	if v, ok := c.loadStored(ctx, key); ok {
		c.hits.Add(1)
		c.Put(key, v)
		return v, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Stats returns a snapshot of the hit, miss and fetch counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Fetches: c.fetches.Load()}
}

// Len returns the number of in-memory entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) expired(insertedAt time.Time) bool {
	return c.opts.TTL > 0 && c.now().Sub(insertedAt) > c.opts.TTL
}

func (c *Cache[V]) storedTooOld(insertedAt time.Time) bool {
	maxAge := c.opts.StoreMaxAge
	if maxAge <= 0 {
		maxAge = DefaultStoreMaxAge
	}
	return c.now().Sub(insertedAt) > maxAge
}

func (c *Cache[V]) loadStored(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.opts.Store == nil {
		return zero, false
	}
	data, insertedAt, ok, err := c.opts.Store.Get(ctx, c.opts.Namespace, key)
	if err != nil {
		zap.L().Warn("cache store read failed", zap.String("namespace", c.opts.Namespace), zap.String("key", key), zap.Error(err))
		return zero, false
	}
	if !ok || c.expired(insertedAt) || c.storedTooOld(insertedAt) {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		zap.L().Warn("cache store entry unreadable", zap.String("namespace", c.opts.Namespace), zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (c *Cache[V]) storeValue(ctx context.Context, key string, v V) {
	if c.opts.Store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache value not serialisable", zap.String("namespace", c.opts.Namespace), zap.Error(err))
		return
	}
	if err := c.opts.Store.Put(ctx, c.opts.Namespace, key, data, c.now()); err != nil {
		zap.L().Warn("cache store write failed", zap.String("namespace", c.opts.Namespace), zap.String("key", key), zap.Error(err))
	}
}
