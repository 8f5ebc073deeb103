// Package local provides an in-process stages.RateLimiter that hands out
// one token bucket per identifier. Buckets idle past a TTL are dropped so
// the tracked identifier set stays bounded.
package local

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/flow/stages"
)

const defaultIdleTTL = 10 * time.Minute

type (
	// Options configures the Limiter.
	Options struct {
		// RequestsPerMinute is the sustained per-identifier budget. Required.
		RequestsPerMinute int
		// Burst is the number of requests an identifier may spend at once.
		// Defaults to RequestsPerMinute.
		Burst int
		// IdleTTL is how long an identifier's bucket survives without traffic
		// before it is dropped. Defaults to 10 minutes.
		IdleTTL time.Duration
		// Clock overrides the time source. Tests use it to control refill and
		// eviction.
		Clock func() time.Time
	}

	// Limiter implements stages.RateLimiter with per-identifier token
	// buckets.
	Limiter struct {
		limit rate.Limit
		burst int
		idle  time.Duration
		clock func() time.Time

		mu        sync.Mutex
		buckets   map[string]*bucket
		lastSweep time.Time
	}

	bucket struct {
		lim      *rate.Limiter
		lastSeen time.Time
	}
)

// New constructs a Limiter from opts. RequestsPerMinute must be positive.
func New(opts Options) (*Limiter, error) {
	if opts.RequestsPerMinute <= 0 {
		return nil, errors.New("requests per minute must be positive")
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = opts.RequestsPerMinute
	}
	idle := opts.IdleTTL
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		limit:     rate.Limit(float64(opts.RequestsPerMinute) / 60.0),
		burst:     burst,
		idle:      idle,
		clock:     clock,
		buckets:   make(map[string]*bucket),
		lastSweep: clock(),
	}, nil
}

// Check reports whether identifier may proceed. A denied decision carries
// the wait until the bucket refills enough for one request.
func (l *Limiter) Check(_ context.Context, identifier string) (stages.Decision, error) {
	now := l.clock()

	l.mu.Lock()
	b, ok := l.buckets[identifier]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[identifier] = b
	}
	b.lastSeen = now
	l.sweepLocked(now)
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return stages.Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return stages.Decision{Allowed: true}, nil
}

// Size returns the number of tracked identifiers, including any idle ones
// not yet swept.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.buckets)
}

// sweepLocked drops buckets idle past the TTL. It runs at most once per TTL
// so Check stays cheap.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, id)
		}
	}
}
