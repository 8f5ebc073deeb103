package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/flow/features/stream/pulse/clients/pulse"
)

type (
	// EnvelopeDecoder converts raw stream payloads into envelopes. Custom
	// decoders handle non-standard wire formats.
	EnvelopeDecoder func([]byte) (Envelope, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to
		// "flow_subscriber".
		SinkName string
		// Buffer is the envelope channel capacity. Defaults to 64.
		Buffer int
		// Decoder deserializes stream payloads. Defaults to the built-in
		// JSON envelope decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse streams written by the sink and emits the
	// decoded envelopes. It wraps a Pulse consumer group per Subscribe call,
	// so independent subscriptions do not share read positions.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}
)

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in
// opts is required; SinkName, Buffer, and Decoder fall back to their
// documented defaults.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "flow_subscriber"
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a consumer group on the given stream and returns channels
// for envelopes and errors. A goroutine drains the group, decodes payloads,
// and acks each envelope after it is emitted. The returned cancel function
// stops consumption, closes the group, and closes both channels.
//
// Usage:
//
//	envs, errs, cancel, err := sub.Subscribe(ctx, "run/abc123")
//	defer cancel()
//	for env := range envs {
//	    // route on env.Type
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan Envelope, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	envs := make(chan Envelope, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, envs, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return envs, errs, cancelFunc, nil
}

// consume drains the consumer group, decoding and emitting each entry and
// acking it after emission. Both channels close when ctx is canceled or the
// group channel closes; a decode or ack failure lands on errs and stops
// consumption.
func (s *Subscriber) consume(ctx context.Context, sink clientspulse.Sink, out chan<- Envelope, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			env, err := s.decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
		}
	}
}

// decodeEnvelope deserializes the default JSON envelope format.
func decodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
