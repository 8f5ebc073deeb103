// Package redis provides a stages.RateLimiter that counts requests in
// fixed windows stored in Redis, so the budget is shared by every process
// pointed at the same keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"goa.design/clue/health"

	"goa.design/flow/stages"
)

var _ health.Pinger = (*Limiter)(nil)

const (
	defaultWindow    = time.Minute
	defaultKeyPrefix = "flow:ratelimit"
	limiterName      = "limiter-redis"

	// windowGrace keeps a window key alive slightly past its end so a
	// clock-skewed reader never sees the key vanish mid-window.
	windowGrace = 5 * time.Second
)

type (
	// Options configures the Limiter.
	Options struct {
		// Redis is the connection counters are stored on. Required.
		Redis *goredis.Client
		// Limit is the number of requests allowed per identifier per window.
		// Required.
		Limit int
		// Window is the fixed window length. Defaults to one minute.
		Window time.Duration
		// KeyPrefix namespaces the limiter's keys. Defaults to
		// "flow:ratelimit".
		KeyPrefix string
		// Clock overrides the time source. Tests use it to pin window
		// boundaries.
		Clock func() time.Time
	}

	// Limiter implements stages.RateLimiter over Redis fixed windows.
	Limiter struct {
		redis  commander
		limit  int64
		window time.Duration
		prefix string
		clock  func() time.Time
	}

	// commander is the subset of go-redis commands the limiter issues.
	commander interface {
		Incr(ctx context.Context, key string) *goredis.IntCmd
		PExpire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
		Ping(ctx context.Context) *goredis.StatusCmd
	}
)

// New constructs a Limiter from opts. Redis and a positive Limit are
// required.
func New(opts Options) (*Limiter, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return newWithCommander(opts.Redis, opts)
}

func newWithCommander(cmd commander, opts Options) (*Limiter, error) {
	if opts.Limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		redis:  cmd,
		limit:  int64(opts.Limit),
		window: window,
		prefix: prefix,
		clock:  clock,
	}, nil
}

// Check increments the identifier's counter for the current window and
// denies once the counter exceeds the limit. A denied decision carries the
// wait until the window rolls over.
func (l *Limiter) Check(ctx context.Context, identifier string) (stages.Decision, error) {
	now := l.clock()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%d", l.prefix, identifier, windowStart.UnixMilli())

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return stages.Decision{}, fmt.Errorf("increment rate limit window: %w", err)
	}
	if count == 1 {
		// Fresh window: bound the key's lifetime so abandoned identifiers
		// expire on their own.
		if err := l.redis.PExpire(ctx, key, l.window+windowGrace).Err(); err != nil {
			return stages.Decision{}, fmt.Errorf("expire rate limit window: %w", err)
		}
	}
	if count <= l.limit {
		return stages.Decision{Allowed: true}, nil
	}
	return stages.Decision{
		Allowed:    false,
		RetryAfter: windowStart.Add(l.window).Sub(now),
	}, nil
}

// Name identifies the limiter to health checks.
func (l *Limiter) Name() string {
	return limiterName
}

// Ping reports whether the backing Redis connection is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}
