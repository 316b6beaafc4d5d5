// Package cache is a keyed in-memory store of fetched server data with
// invalidation and single-flight fetch semantics.
//
// At most one fetch per key and generation is in flight; concurrent readers
// attach to it. Invalidate bumps the key's generation, so a fetch started
// before the invalidation can never overwrite the entry afterwards, and its
// waiters are moved on to the newer generation's result.
package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
)

// Key identifies one cached resource. Equal keys must return equal CacheKey strings.
type Key interface {
	comparable
	CacheKey() string
}

// Fetcher loads the current value for key from the server.
type Fetcher[K Key, V any] func(ctx context.Context, key K) (V, error)

// Entry is a read-only snapshot of one cache entry.
type Entry[V any] struct {
	Value     V
	HasValue  bool
	Stale     bool
	Err       error // error of the most recent fetch attempt, nil after a success
	FetchedAt time.Time
	Fetching  bool
}

// Options configures a Cache. Zero values are valid.
type Options struct {
	Name   string           // used in logs and events
	TTL    time.Duration    // values older than TTL are refetched on Get; 0 never expires
	Bus    *events.EventBus // optional
	Logger *logging.Logger  // optional
}

type entry[V any] struct {
	value     V
	hasValue  bool
	stale     bool
	err       error
	fetchedAt time.Time
	gen       uint64
	inflight  int
}

type result[V any] struct {
	value     V
	discarded bool
}

// Cache is safe for concurrent use.
type Cache[K Key, V any] struct {
	name    string
	fetch   Fetcher[K, V]
	ttl     time.Duration
	bus     *events.EventBus
	logger  *logging.Logger
	now     func() time.Time
	group   singleflight.Group
	fetches atomic.Int64

	mu      sync.Mutex
	entries map[K]*entry[V]
}

// New creates a cache backed by fetch.
func New[K Key, V any](fetch Fetcher[K, V], opts Options) *Cache[K, V] {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	name := opts.Name
	if name == "" {
		name = "cache"
	}
	return &Cache[K, V]{
		name:    name,
		fetch:   fetch,
		ttl:     opts.TTL,
		bus:     opts.Bus,
		logger:  logger.Component("cache").WithStr("cache", name),
		now:     time.Now,
		entries: make(map[K]*entry[V]),
	}
}

// Get returns the cached value for key if it is fresh, otherwise fetches it.
// A failed fetch returns the error; the previous value stays cached.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.hasValue && !e.stale && !c.expiredLocked(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	return c.Refresh(ctx, key)
}

// Refresh fetches key regardless of freshness. If a fetch for the key's
// current generation is already in flight, Refresh waits for it instead of
// issuing another request. When the key is invalidated while the fetch is in
// flight, its result is dropped and Refresh follows the newer generation, so
// callers never receive a value older than the invalidation.
//
// Cancelling ctx stops the wait, not the shared fetch.
func (c *Cache[K, V]) Refresh(ctx context.Context, key K) (V, error) {
	var zero V
	for {
		c.mu.Lock()
		gen := c.entryLocked(key).gen
		c.mu.Unlock()

		fetchCtx := context.WithoutCancel(ctx)
		sfKey := key.CacheKey() + "#" + strconv.FormatUint(gen, 10)

		ch := c.group.DoChan(sfKey, func() (interface{}, error) {
			return c.doFetch(fetchCtx, key, gen)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		r, _ := res.Val.(result[V])
		if !r.discarded {
			if res.Err != nil {
				return zero, res.Err
			}
			return r.value, nil
		}

		// A newer generation may already have landed
		c.mu.Lock()
		e := c.entryLocked(key)
		if e.hasValue && !e.stale {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
}

func (c *Cache[K, V]) doFetch(ctx context.Context, key K, gen uint64) (result[V], error) {
	c.mu.Lock()
	c.entryLocked(key).inflight++
	c.mu.Unlock()

	c.fetches.Add(1)
	v, err := c.fetch(ctx, key)

	c.mu.Lock()
	e := c.entryLocked(key)
	e.inflight--

	// Invalidated while in flight: the result describes superseded state
	if e.gen != gen {
		c.mu.Unlock()
		c.logger.Debug().Str("key", key.CacheKey()).Uint64("gen", gen).Msg("Discarding superseded fetch result")
		return result[V]{value: v, discarded: true}, err
	}

	if err != nil {
		e.err = err
		c.mu.Unlock()
		c.logger.Debug().Err(err).Str("key", key.CacheKey()).Msg("Fetch failed, keeping previous value")
		c.bus.Publish(events.NewCacheEvent(events.EventCacheFetchFailed, c.name, key.CacheKey(), err))
		return result[V]{}, err
	}

	e.value = v
	e.hasValue = true
	e.stale = false
	e.err = nil
	e.fetchedAt = c.now()
	c.mu.Unlock()

	c.bus.Publish(events.NewCacheEvent(events.EventCacheUpdated, c.name, key.CacheKey(), nil))
	return result[V]{value: v}, nil
}

// Invalidate marks key stale. The next Get or scheduled refresh refetches it,
// and any fetch already in flight for key is discarded when it completes.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.gen++
		e.stale = true
	}
	c.mu.Unlock()

	if ok {
		c.bus.Publish(events.NewCacheEvent(events.EventCacheInvalidated, c.name, key.CacheKey(), nil))
	}
}

// InvalidateAll marks every entry stale. Returns the number of entries touched.
func (c *Cache[K, V]) InvalidateAll() int {
	c.mu.Lock()
	n := len(c.entries)
	for _, e := range c.entries {
		e.gen++
		e.stale = true
	}
	c.mu.Unlock()

	if n > 0 {
		c.bus.Publish(events.NewCacheEvent(events.EventCacheInvalidated, c.name, "*", nil))
	}
	return n
}

// Peek returns a snapshot of key's entry without fetching.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	return Entry[V]{
		Value:     e.value,
		HasValue:  e.hasValue,
		Stale:     e.stale || c.expiredLocked(e),
		Err:       e.err,
		FetchedAt: e.fetchedAt,
		Fetching:  e.inflight > 0,
	}, true
}

// Len returns the number of keys ever requested.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetches returns how many underlying fetches have been issued.
func (c *Cache[K, V]) Fetches() int64 {
	return c.fetches.Load()
}

// ErrInvalidInterval is returned by Watch for a non-positive interval.
var ErrInvalidInterval = errors.New("refetch interval must be positive")

// Watch delivers key's value to fn immediately and then refetches it every
// interval until ctx is done. Fetch errors are delivered to fn and do not stop
// the watch; the next tick retries.
func (c *Cache[K, V]) Watch(ctx context.Context, key K, interval time.Duration, fn func(V, error)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	v, err := c.Get(ctx, key)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	fn(v, err)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, err := c.Refresh(ctx, key)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(v, err)
		}
	}
}

func (c *Cache[K, V]) entryLocked(key K) *entry[V] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[V]{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache[K, V]) expiredLocked(e *entry[V]) bool {
	return c.ttl > 0 && e.hasValue && c.now().Sub(e.fetchedAt) > c.ttl
}
