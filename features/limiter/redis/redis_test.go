package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
	pingErr error
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Duration),
	}
}

func (f *fakeCommander) Incr(ctx context.Context, key string) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx, "incr", key)
	if f.incrErr != nil {
		cmd.SetErr(f.incrErr)
		return cmd
	}
	f.counts[key]++
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeCommander) PExpire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd {
	cmd := goredis.NewBoolCmd(ctx, "pexpire", key)
	f.expires[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (f *fakeCommander) Ping(ctx context.Context) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx, "ping")
	if f.pingErr != nil {
		cmd.SetErr(f.pingErr)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func newTestLimiter(t *testing.T, fake *fakeCommander, opts Options) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	opts.Clock = func() time.Time { return now }
	lim, err := newWithCommander(fake, opts)
	require.NoError(t, err)
	return lim, &now
}

func TestCheckCountsWindow(t *testing.T) {
	fake := newFakeCommander()
	lim, _ := newTestLimiter(t, fake, Options{Limit: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := lim.Check(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := lim.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	// One key, expiry bounded to window plus grace.
	require.Len(t, fake.expires, 1)
	for _, ttl := range fake.expires {
		require.Equal(t, time.Minute+windowGrace, ttl)
	}
}

func TestCheckRollsOverWindow(t *testing.T) {
	fake := newFakeCommander()
	lim, now := newTestLimiter(t, fake, Options{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	d, err := lim.Check(ctx, "alice")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = lim.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	*now = now.Add(time.Minute)
	d, err = lim.Check(ctx, "alice")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Len(t, fake.counts, 2)
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	fake := newFakeCommander()
	lim, _ := newTestLimiter(t, fake, Options{Limit: 1})
	ctx := context.Background()

	d, err := lim.Check(ctx, "alice")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = lim.Check(ctx, "bob")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestCheckSurfacesRedisErrors(t *testing.T) {
	fake := newFakeCommander()
	fake.incrErr = errors.New("connection refused")
	lim, _ := newTestLimiter(t, fake, Options{Limit: 1})

	_, err := lim.Check(context.Background(), "alice")
	require.Error(t, err)
	require.Contains(t, err.Error(), "increment rate limit window")
}

func TestPing(t *testing.T) {
	fake := newFakeCommander()
	lim, _ := newTestLimiter(t, fake, Options{Limit: 1})
	require.Equal(t, "limiter-redis", lim.Name())
	require.NoError(t, lim.Ping(context.Background()))

	fake.pingErr = errors.New("down")
	require.Error(t, lim.Ping(context.Background()))
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Limit: 1})
	require.Error(t, err)

	_, err = New(Options{Redis: goredis.NewClient(&goredis.Options{}), Limit: 0})
	require.Error(t, err)
}
