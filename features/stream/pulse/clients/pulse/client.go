// Package pulse wraps goa.design/pulse streams behind the narrow interface
// consumed by the event sink and subscriber. Callers build a Redis client,
// hand it to New, and get back typed stream handles without depending on the
// full Pulse API surface.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis is the connection backing the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero
		// uses Pulse defaults.
		StreamMaxLen int
		// StreamOptions returns extra stream options to apply when opening a
		// stream. Invoked once per Stream call with the stream name; returning
		// nil means no extra options.
		StreamOptions func(name string) []streamopts.Stream
		// OperationTimeout bounds individual Add operations. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client exposes the subset of Pulse needed to publish and consume
	// pipeline events.
	Client interface {
		// Stream returns a handle to the named stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client. The Redis connection
		// belongs to the caller and is left open.
		Close(ctx context.Context) error
	}

	// Stream is a single Pulse stream: events go in via Add, consumer groups
	// come out via NewSink.
	Stream interface {
		// Add publishes an event with the given name and payload, returning
		// the entry ID assigned by Redis.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group on this stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and all its entries from Redis.
		Destroy(ctx context.Context) error
	}

	// Sink is a Pulse consumer group feeding events to a single reader.
	Sink interface {
		// Subscribe returns the channel events arrive on.
		Subscribe() <-chan *streaming.Event
		// Ack marks an event as processed, removing it from the pending list.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink and releases its resources.
		Close(context.Context)
	}
)

type client struct {
	redis     *redis.Client
	maxLen    int
	extraOpts func(name string) []streamopts.Stream
	timeout   time.Duration
}

// New constructs a Pulse client backed by the provided Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:     opts.Redis,
		maxLen:    opts.StreamMaxLen,
		extraOpts: opts.StreamOptions,
		timeout:   opts.OperationTimeout,
	}, nil
}

// Stream opens the named Pulse stream, applying the configured max length and
// any per-stream options before caller-supplied ones.
func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	var sopts []streamopts.Stream
	if c.maxLen > 0 {
		sopts = append(sopts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	if c.extraOpts != nil {
		sopts = append(sopts, c.extraOpts(name)...)
	}
	sopts = append(sopts, opts...)
	str, err := streaming.NewStream(name, c.redis, sopts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

// Close is a no-op; the caller owns the Redis connection lifecycle.
func (c *client) Close(ctx context.Context) error {
	return nil
}

// handle adapts a Pulse stream, applying the operation timeout to Add.
type handle struct {
	stream  *streaming.Stream
	timeout time.Duration
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add: %w", err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, err
	}
	return &sinkAdapter{Sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	return h.stream.Destroy(ctx)
}

// sinkAdapter narrows streaming.Sink to the Sink interface.
type sinkAdapter struct {
	*streaming.Sink
}

func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
