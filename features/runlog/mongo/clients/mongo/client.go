// Package mongo implements the low-level MongoDB client used by the run
// journal.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"
)

type (
	// Entry is one pipeline lifecycle event in the journal. Only the fields
	// relevant to the event kind are set; the rest stay zero.
	Entry struct {
		// ID is the storage-assigned identifier, usable as a List cursor.
		ID string
		// RunID links the entry to one pipeline execution.
		RunID string
		// Pipeline names the pipeline that produced the event.
		Pipeline string
		// Type is the event kind, e.g. "stage_completed".
		Type string
		// Stage is set on stage-scoped events.
		Stage string
		// Status is "success", "failed", or "cancelled" on run completion.
		Status string
		// StatusCode carries the failure status code where one applies.
		StatusCode int
		// DurationMS is the stage or run duration in milliseconds.
		DurationMS int64
		// Reason is "disabled" or "condition" on skips.
		Reason string
		// Message is the user-safe failure message on stage failures.
		Message string
		// MessageCount is the request size on run start.
		MessageCount int
		// Parallel reports whether the stage ran inside a parallel group.
		Parallel bool
		// Timestamp is the event creation time.
		Timestamp time.Time
	}

	// Page is a cursor-bounded slice of journal entries in insertion order.
	Page struct {
		Entries []*Entry
		// NextCursor resumes the listing after the last returned entry;
		// empty when the run has no further entries.
		NextCursor string
	}

	// Client exposes Mongo-backed operations for the run journal.
	Client interface {
		health.Pinger

		// Append inserts one entry and fills its storage-assigned ID.
		Append(ctx context.Context, e *Entry) error
		// List returns up to limit entries for the run, starting after the
		// cursor when one is given.
		List(ctx context.Context, runID string, cursor string, limit int) (Page, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	entryDocument struct {
		ID           primitive.ObjectID `bson:"_id,omitempty"`
		RunID        string             `bson:"run_id"`
		Pipeline     string             `bson:"pipeline"`
		Type         string             `bson:"type"`
		Stage        string             `bson:"stage,omitempty"`
		Status       string             `bson:"status,omitempty"`
		StatusCode   int                `bson:"status_code,omitempty"`
		DurationMS   int64              `bson:"duration_ms,omitempty"`
		Reason       string             `bson:"reason,omitempty"`
		Message      string             `bson:"message,omitempty"`
		MessageCount int                `bson:"message_count,omitempty"`
		Parallel     bool               `bson:"parallel,omitempty"`
		Timestamp    time.Time          `bson:"timestamp"`
	}
)

const (
	defaultCollection = "flow_run_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "runlog-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, e *Entry) error {
	if e == nil {
		return errors.New("entry is required")
	}
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Type == "" {
		return errors.New("entry type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := entryDocument{
		RunID:        e.RunID,
		Pipeline:     e.Pipeline,
		Type:         e.Type,
		Stage:        e.Stage,
		Status:       e.Status,
		StatusCode:   e.StatusCode,
		DurationMS:   e.DurationMS,
		Reason:       e.Reason,
		Message:      e.Message,
		MessageCount: e.MessageCount,
		Parallel:     e.Parallel,
		Timestamp:    e.Timestamp.UTC(),
	}
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	e.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, runID string, cursor string, limit int) (page Page, err error) {
	if runID == "" {
		return Page{}, errors.New("run id is required")
	}
	if limit <= 0 {
		return Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"run_id": runID}
	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var entries []*Entry
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return Page{}, err
		}
		entries = append(entries, &Entry{
			ID:           doc.ID.Hex(),
			RunID:        doc.RunID,
			Pipeline:     doc.Pipeline,
			Type:         doc.Type,
			Stage:        doc.Stage,
			Status:       doc.Status,
			StatusCode:   doc.StatusCode,
			DurationMS:   doc.DurationMS,
			Reason:       doc.Reason,
			Message:      doc.Message,
			MessageCount: doc.MessageCount,
			Parallel:     doc.Parallel,
			Timestamp:    doc.Timestamp,
		})
	}
	if err := cur.Err(); err != nil {
		return Page{}, err
	}

	var next string
	if len(entries) > limit {
		next = entries[limit-1].ID
		entries = entries[:limit]
	}
	return Page{
		Entries:    entries,
		NextCursor: next,
	}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "run_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
