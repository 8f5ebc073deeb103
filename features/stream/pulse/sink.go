// Package pulse streams pipeline lifecycle events to goa.design/pulse streams
// backed by Redis. The sink implements hooks.Subscriber so it registers
// directly on a bus; each run's events land on their own stream so SSE or
// websocket fan-out can follow a single execution. The subscriber reads those
// streams back as envelopes.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/flow/features/stream/pulse/clients/pulse"
	"goa.design/flow/hooks"
	"goa.design/flow/telemetry"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// `run/<RunID>`.
		StreamID func(hooks.Event) (string, error)
		// MarshalEnvelope overrides envelope serialization (primarily for
		// tests).
		MarshalEnvelope func(Envelope) ([]byte, error)
		// Logger reports publish failures swallowed by HandleEvent. Defaults
		// to a no-op logger.
		Logger telemetry.Logger
	}

	// Sink publishes bus events into Pulse streams. Registered on a
	// hooks.Bus it never fails the run: HandleEvent logs and swallows
	// publish errors so a Redis outage cannot interrupt event delivery to
	// other subscribers. Callers that need the error use Send directly.
	// Thread-safe for concurrent use.
	Sink struct {
		client pulse.Client
		opts   sinkOptions
		logger telemetry.Logger
	}

	sinkOptions struct {
		streamID func(hooks.Event) (string, error)
		marshal  func(Envelope) ([]byte, error)
	}

	// Envelope is the wire form of a pipeline event on a Pulse stream. The
	// sink writes it as JSON and the subscriber hands it back decoded, with
	// the payload left raw for the consumer to interpret by Type.
	Envelope struct {
		// Type is the event kind, e.g. "stage_completed".
		Type string `json:"type"`
		// RunID links the envelope to one pipeline execution.
		RunID string `json:"run_id"`
		// Pipeline names the pipeline that produced the event.
		Pipeline string `json:"pipeline"`
		// Timestamp is the event creation time in Unix milliseconds.
		Timestamp int64 `json:"timestamp"`
		// Payload holds the event-specific body, if any.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

// Payload bodies for each event kind. Durations travel as milliseconds so
// stream consumers never parse Go duration encodings.
type (
	runStartedPayload struct {
		MessageCount int `json:"message_count"`
	}
	runCompletedPayload struct {
		Status     string `json:"status"`
		StatusCode int    `json:"status_code,omitempty"`
		DurationMS int64  `json:"duration_ms"`
	}
	stageStartedPayload struct {
		Stage    string `json:"stage"`
		Parallel bool   `json:"parallel,omitempty"`
	}
	stageCompletedPayload struct {
		Stage      string `json:"stage"`
		DurationMS int64  `json:"duration_ms"`
	}
	stageSkippedPayload struct {
		Stage  string `json:"stage"`
		Reason string `json:"reason"`
	}
	stageFailedPayload struct {
		Stage      string `json:"stage"`
		StatusCode int    `json:"status_code"`
		Message    string `json:"message"`
	}
)

var _ hooks.Subscriber = (*Sink)(nil)

// NewSink constructs a Pulse-backed event sink. The Client field in opts is
// required; the remaining fields default to the built-in implementations.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID: defaultStreamID,
		marshal:  defaultMarshal,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshal = opts.MarshalEnvelope
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Sink{
		client: opts.Client,
		opts:   cfg,
		logger: logger,
	}, nil
}

// HandleEvent implements hooks.Subscriber. Publish failures are logged and
// swallowed so event streaming stays best-effort from the bus's point of
// view.
func (s *Sink) HandleEvent(ctx context.Context, event hooks.Event) error {
	if err := s.Send(ctx, event); err != nil {
		s.logger.Error(ctx, "publish pipeline event",
			"event", string(event.Type()), "run_id", event.RunID(), "error", err)
	}
	return nil
}

// Send publishes the event to its derived Pulse stream and returns any
// publish error. Thread-safe for concurrent calls.
func (s *Sink) Send(ctx context.Context, event hooks.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      string(event.Type()),
		RunID:     event.RunID(),
		Pipeline:  event.Pipeline(),
		Timestamp: event.Timestamp(),
	}
	if p := eventPayload(event); p != nil {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		env.Payload = body
	}
	data, err := s.opts.marshal(env)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, env.Type, data); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink by delegating to the underlying
// Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// eventPayload maps each concrete bus event to its wire body. Unknown event
// types produce an envelope with no payload.
func eventPayload(event hooks.Event) any {
	switch e := event.(type) {
	case *hooks.RunStartedEvent:
		return runStartedPayload{MessageCount: e.MessageCount}
	case *hooks.RunCompletedEvent:
		return runCompletedPayload{
			Status:     e.Status,
			StatusCode: e.StatusCode,
			DurationMS: e.Duration.Milliseconds(),
		}
	case *hooks.StageStartedEvent:
		return stageStartedPayload{Stage: e.Stage, Parallel: e.Parallel}
	case *hooks.StageCompletedEvent:
		return stageCompletedPayload{Stage: e.Stage, DurationMS: e.Duration.Milliseconds()}
	case *hooks.StageSkippedEvent:
		return stageSkippedPayload{Stage: e.Stage, Reason: e.Reason}
	case *hooks.StageFailedEvent:
		return stageFailedPayload{Stage: e.Stage, StatusCode: e.StatusCode, Message: e.Message}
	default:
		return nil
	}
}

// defaultStreamID keys streams by run so consumers follow one execution.
func defaultStreamID(event hooks.Event) (string, error) {
	if event.RunID() == "" {
		return "", errors.New("event missing run id")
	}
	return fmt.Sprintf("run/%s", event.RunID()), nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
