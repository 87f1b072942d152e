package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
)

// Lookup is the answer to one Get call
type Lookup[V any] struct {
	Value V
	// FromCache is true when no upstream call was made for this answer.
	FromCache bool
	// Shared is true when the caller joined a fetch started by someone else.
	Shared bool
	// Age is the time since Value was fetched.
	Age time.Duration
	// Stale is true when Value outlived a failed refresh.
	Stale bool
	// Err is the refresh failure behind a stale answer.
	Err error
}

// FetchFunc loads a value from upstream
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Options configures a Coalescer
type Options struct {
	MaxEntries   int
	FetchTimeout time.Duration
	Logger       logger.Logger
	Now          func() time.Time
}

type entry[V any] struct {
	value    V
	storedAt time.Time
	expires  time.Time
	accessed time.Time
	stale    bool
	err      error
}

// Key is the key type of a Coalescer. In-flight loads are registered
// under the key itself, so keys are strings.
type Key interface {
	~string
}

// Coalescer is a TTL cache with single-flight loading. It is the only
// shared mutable state of the routing pipeline: entries are guarded by mu
// and in-flight loads are registered in group, so at most one upstream call
// per key runs at a time in the process.
type Coalescer[K Key, V any] struct {
	mu           sync.Mutex
	entries      map[K]*entry[V]
	group        singleflight.Group
	maxEntries   int
	fetchTimeout time.Duration
	monitor      *Monitor
	log          logger.Logger
	now          func() time.Time
}

// New creates a coalescer. A nil monitor gets a private one.
func New[K Key, V any](monitor *Monitor, opts Options) *Coalescer[K, V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if monitor == nil {
		monitor = NewMonitor("default", nil)
	}
	return &Coalescer[K, V]{
		entries:      make(map[K]*entry[V]),
		maxEntries:   opts.MaxEntries,
		fetchTimeout: opts.FetchTimeout,
		monitor:      monitor,
		log:          opts.Logger.WithField("cache", monitor.kind),
		now:          opts.Now,
	}
}

// Get returns a fresh cached value, joins an in-flight fetch for key, or
// starts one. A successful fetch is kept for successTTL. A failed fetch
// re-stores the previous value for failureTTL and marks it stale; with no
// previous value the caller gets UPSTREAM_UNAVAILABLE.
//
// The fetch runs on a context detached from ctx, so a caller that gives up
// does not cancel a load other callers are waiting on.
func (c *Coalescer[K, V]) Get(ctx context.Context, key K, fetch FetchFunc[V], successTTL, failureTTL time.Duration) (Lookup[V], error) {
	if l, ok := c.fresh(key); ok {
		c.recordLookup(l, false)
		return l, nil
	}

	leader := false
	ch := c.group.DoChan(flightKey(key), func() (interface{}, error) {
		leader = true
		return c.fill(ctx, key, fetch, successTTL, failureTTL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Lookup[V]{}, res.Err
		}
		l := res.Val.(Lookup[V])
		if !leader {
			l.Shared = true
			c.log.Debug("Joined in-flight fetch", "key", flightKey(key))
		}
		c.recordLookup(l, !leader)
		return l, nil
	case <-ctx.Done():
		return Lookup[V]{}, errors.New(errors.ErrCodeTimeout, "caller stopped waiting for cache fill", ctx.Err())
	}
}

func (c *Coalescer[K, V]) fill(ctx context.Context, key K, fetch FetchFunc[V], successTTL, failureTTL time.Duration) (Lookup[V], error) {
	// a flight that finished between the caller's check and this one
	if l, ok := c.fresh(key); ok {
		return l, nil
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	value, err := fetch(fetchCtx)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.store(key, &entry[V]{value: value, storedAt: now, expires: now.Add(successTTL), accessed: now})
		return Lookup[V]{Value: value}, nil
	}

	c.monitor.recordFailure()
	prev, ok := c.entries[key]
	if !ok {
		return Lookup[V]{}, errors.New(errors.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("fetch for %s failed and nothing is cached", flightKey(key)), err)
	}

	prev.expires = now.Add(failureTTL)
	prev.accessed = now
	prev.stale = true
	prev.err = err
	c.log.Warn("Serving stale value after failed refresh", "key", flightKey(key), "age", now.Sub(prev.storedAt).String(), "error", err)

	return Lookup[V]{
		Value:     prev.value,
		FromCache: true,
		Age:       now.Sub(prev.storedAt),
		Stale:     true,
		Err:       err,
	}, nil
}

func (c *Coalescer[K, V]) fresh(key K) (Lookup[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	now := c.now()
	if !ok || !now.Before(e.expires) {
		return Lookup[V]{}, false
	}
	e.accessed = now
	return Lookup[V]{Value: e.value, FromCache: true, Age: now.Sub(e.storedAt), Stale: e.stale, Err: e.err}, true
}

// store must be called with mu held
func (c *Coalescer[K, V]) store(key K, e *entry[V]) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = e
}

// evictLRU evicts the least recently used entry; mu must be held
func (c *Coalescer[K, V]) evictLRU() {
	var oldestKey K
	var oldest time.Time
	first := true

	for key, e := range c.entries {
		if first || e.accessed.Before(oldest) {
			oldestKey = key
			oldest = e.accessed
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.monitor.recordEviction()
	}
}

func (c *Coalescer[K, V]) recordLookup(l Lookup[V], joined bool) {
	switch {
	case l.Stale:
		c.monitor.record(ResultStale)
	case joined:
		c.monitor.record(ResultJoined)
	case l.FromCache:
		c.monitor.record(ResultHit)
	default:
		c.monitor.record(ResultMiss)
	}
}

// Delete drops the cached entry for key
func (c *Coalescer[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, expired ones included
func (c *Coalescer[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Monitor exposes the lookup counters
func (c *Coalescer[K, V]) Monitor() *Monitor {
	return c.monitor
}

func flightKey[K Key](key K) string {
	return string(key)
}
