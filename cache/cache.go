// Package cache provides an in-memory TTL cache with single-flight
// loading: concurrent lookups of a missing key collapse into one loader
// call whose result every caller receives.
package cache

import (
	"context"
	"sync"
	"time"

	"goa.design/flow/telemetry"
)

type (
	// Loader produces the value for a key on a cache miss.
	Loader[V any] func(ctx context.Context) (V, error)

	// TTL is an in-memory cache whose entries expire a fixed duration
	// after they are stored. Expired entries are never evicted; the
	// next successful load overwrites them.
	TTL[V any] struct {
		ttl     time.Duration
		name    string
		clock   func() time.Time
		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu      sync.Mutex
		entries map[string]entry[V]
		pending map[string]*future[V]
	}

	entry[V any] struct {
		value     V
		expiresAt time.Time
	}

	future[V any] struct {
		ready  chan struct{}
		result V
		err    error
	}

	// Option configures a TTL cache.
	Option func(*options)

	options struct {
		name    string
		clock   func() time.Time
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}
)

// WithName tags the cache's metrics with a name. Defaults to "cache".
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger used to report loader failures.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder for hit and miss counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source. Tests use it to control expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New creates a TTL cache. A non-positive ttl stores entries already
// expired, which disables caching while keeping single-flight loading.
func New[V any](ttl time.Duration, opts ...Option) *TTL[V] {
	o := options{
		name:    "cache",
		clock:   time.Now,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		ttl:     ttl,
		name:    o.name,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		entries: make(map[string]entry[V]),
		pending: make(map[string]*future[V]),
	}
}

// Get returns the fresh value stored under key, if any.
func (c *TTL[V]) Get(key string) (V, bool) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the fresh value stored under key, or runs load to
// produce it. While a load is in flight, further callers for the same
// key wait for its outcome instead of loading again. A load failure
// propagates to every waiter and caches nothing, so the next call
// retries.
//
// The loader runs on the initiating caller's context. Waiters whose
// own context ends stop waiting with that context's error; the load
// itself is unaffected.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load Loader[V]) (V, error) {
	now := c.clock()
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		c.metrics.IncCounter("cache.hit", 1, "cache", c.name)
		return e.value, nil
	}
	if f, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.metrics.IncCounter("cache.join", 1, "cache", c.name)
		return f.Get(ctx)
	}
	f := &future[V]{ready: make(chan struct{})}
	c.pending[key] = f
	c.mu.Unlock()

	c.metrics.IncCounter("cache.miss", 1, "cache", c.name)
	value, err := load(ctx)

	c.mu.Lock()
	delete(c.pending, key)
	if err == nil {
		c.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error(ctx, "cache load failed", "cache", c.name, "key", key, "error", err)
		c.metrics.IncCounter("cache.load.failure", 1, "cache", c.name)
		f.err = err
		close(f.ready)
		var zero V
		return zero, err
	}
	f.result = value
	close(f.ready)
	return value, nil
}

// Invalidate removes the entry stored under key, if any. In-flight
// loads are unaffected.
func (c *TTL[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all stored entries. In-flight loads complete and store
// their results normally.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry[V])
}

// Size returns the number of stored entries, including any that have
// expired but not yet been removed.
func (c *TTL[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (f *future[V]) Get(ctx context.Context) (V, error) {
	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case <-f.ready:
		return f.result, f.err
	}
}
