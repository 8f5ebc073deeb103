// Package mongo persists pipeline lifecycle events to MongoDB as an
// append-only run journal. Register the Journal on the executor's bus and
// every event of every run lands in the collection, readable back in
// insertion order with cursor pagination.
package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "goa.design/flow/features/runlog/mongo/clients/mongo"
	"goa.design/flow/hooks"
	"goa.design/flow/telemetry"
)

type (
	// Entry is one recorded pipeline event.
	Entry = clientsmongo.Entry

	// Page is a cursor-bounded slice of journal entries.
	Page = clientsmongo.Page

	// JournalOptions configures the journal.
	JournalOptions struct {
		// Client is the low-level Mongo client, built via clients/mongo.
		// Required.
		Client clientsmongo.Client
		// Logger reports append failures swallowed by HandleEvent. Defaults
		// to a no-op logger.
		Logger telemetry.Logger
	}

	// Journal records bus events durably. As a hooks.Subscriber it is
	// best-effort: HandleEvent logs and swallows storage errors so a Mongo
	// outage never interrupts event delivery or fails the run. Callers that
	// need the error use Append directly.
	Journal struct {
		client clientsmongo.Client
		logger telemetry.Logger
	}
)

var _ hooks.Subscriber = (*Journal)(nil)

// NewJournal builds a Mongo-backed run journal using the provided client.
func NewJournal(opts JournalOptions) (*Journal, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Journal{client: opts.Client, logger: logger}, nil
}

// HandleEvent implements hooks.Subscriber.
func (j *Journal) HandleEvent(ctx context.Context, event hooks.Event) error {
	if err := j.client.Append(ctx, entryFromEvent(event)); err != nil {
		j.logger.Error(ctx, "append run journal entry",
			"event", string(event.Type()), "run_id", event.RunID(), "error", err)
	}
	return nil
}

// Append writes one entry and surfaces the storage error.
func (j *Journal) Append(ctx context.Context, e *Entry) error {
	return j.client.Append(ctx, e)
}

// List returns up to limit entries for the run in insertion order, starting
// after the cursor when one is given.
func (j *Journal) List(ctx context.Context, runID string, cursor string, limit int) (Page, error) {
	return j.client.List(ctx, runID, cursor, limit)
}

// entryFromEvent flattens a bus event into the journal schema so stage
// names, status codes, and durations stay queryable as plain fields.
func entryFromEvent(event hooks.Event) *Entry {
	e := &Entry{
		RunID:     event.RunID(),
		Pipeline:  event.Pipeline(),
		Type:      string(event.Type()),
		Timestamp: time.UnixMilli(event.Timestamp()).UTC(),
	}
	switch ev := event.(type) {
	case *hooks.RunStartedEvent:
		e.MessageCount = ev.MessageCount
	case *hooks.RunCompletedEvent:
		e.Status = ev.Status
		e.StatusCode = ev.StatusCode
		e.DurationMS = ev.Duration.Milliseconds()
	case *hooks.StageStartedEvent:
		e.Stage = ev.Stage
		e.Parallel = ev.Parallel
	case *hooks.StageCompletedEvent:
		e.Stage = ev.Stage
		e.DurationMS = ev.Duration.Milliseconds()
	case *hooks.StageSkippedEvent:
		e.Stage = ev.Stage
		e.Reason = ev.Reason
	case *hooks.StageFailedEvent:
		e.Stage = ev.Stage
		e.StatusCode = ev.StatusCode
		e.Message = ev.Message
	}
	return e
}
