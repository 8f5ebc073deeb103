package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/flow/features/stream/pulse/clients/pulse"
	"goa.design/flow/hooks"
)

// EventStreams bundles a publishing sink and subscriber construction over one
// Pulse client so services manage a single Redis connection pool for both
// sides. Attach the sink to the executor's bus, keep the helper around to
// spawn subscribers for fan-out later.
type EventStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// EventStreamsOptions configures the helper returned by NewEventStreams.
type EventStreamsOptions struct {
	// Client is the Pulse client shared by the sink and all subscribers.
	// Required; typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID
	// derivation, marshaling, logging). Leave zero-valued for defaults.
	Sink Options
}

// NewEventStreams constructs helpers for publishing bus events to Pulse and
// subscribing to the resulting streams.
func NewEventStreams(opts EventStreamsOptions) (*EventStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &EventStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink for callers that register it themselves.
func (s *EventStreams) Sink() *Sink {
	return s.sink
}

// Attach registers the publishing sink on the bus. Closing the returned
// subscription stops publishing without closing the underlying client.
func (s *EventStreams) Attach(bus hooks.Bus) (hooks.Subscription, error) {
	if bus == nil {
		return nil, errors.New("bus is required")
	}
	return bus.Register(s.sink)
}

// NewSubscriber constructs a subscriber that reuses the helper's client,
// keeping publishing and consumption on the same connection pool.
func (s *EventStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink. Call during service shutdown after
// all subscribers have been canceled.
func (s *EventStreams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
