// Package mongo hosts the MongoDB client used by the context section loader.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/flow/prompt"
)

const (
	defaultSectionsCollection = "context_sections"
	defaultOpTimeout          = 5 * time.Second
	contextClientName         = "context-mongo"
)

// Client exposes Mongo-backed operations for context section catalogs.
type Client interface {
	health.Pinger

	ListSections(ctx context.Context, variant string) ([]prompt.Section, error)
	UpsertSection(ctx context.Context, variant string, section prompt.Section) error
	DeleteSection(ctx context.Context, variant, sectionID string) error
}

// Options configures the Mongo context client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	sections collection
	timeout  time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collectionName := opts.Collection
	if collectionName == "" {
		collectionName = defaultSectionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collectionName)
	wrapper := mongoCollection{coll: coll}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return contextClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// ListSections returns the catalog stored for variant, highest priority
// first. The empty variant names the default catalog.
func (c *client) ListSections(ctx context.Context, variant string) ([]prompt.Section, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"variant": variant}
	sort := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1},
		{Key: "section_id", Value: 1},
	})
	cur, err := c.sections.Find(ctx, filter, sort)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []prompt.Section
	for cur.Next(ctx) {
		var doc sectionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toSection())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertSection stores section under variant, replacing any stored section
// with the same id.
func (c *client) UpsertSection(ctx context.Context, variant string, section prompt.Section) error {
	if section.ID == "" {
		return errors.New("section id is required")
	}
	if section.Content == "" {
		return errors.New("section content is required")
	}
	doc := fromSection(variant, section)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"variant": variant, "section_id": section.ID}
	update := bson.M{
		"$set": bson.M{
			"variant":        doc.Variant,
			"section_id":     doc.SectionID,
			"name":           doc.Name,
			"content":        doc.Content,
			"topics":         doc.Topics,
			"always_include": doc.AlwaysInclude,
			"priority":       doc.Priority,
			"updated_at":     doc.UpdatedAt,
		},
	}
	_, err := c.sections.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// DeleteSection removes the section stored under variant with the given id.
// Deleting a missing section is not an error.
func (c *client) DeleteSection(ctx context.Context, variant, sectionID string) error {
	if sectionID == "" {
		return errors.New("section id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"variant": variant, "section_id": sectionID}
	_, err := c.sections.DeleteOne(ctx, filter)
	return err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type sectionDocument struct {
	Variant       string    `bson:"variant"`
	SectionID     string    `bson:"section_id"`
	Name          string    `bson:"name,omitempty"`
	Content       string    `bson:"content"`
	Topics        []string  `bson:"topics,omitempty"`
	AlwaysInclude bool      `bson:"always_include"`
	Priority      int       `bson:"priority"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

func fromSection(variant string, s prompt.Section) sectionDocument {
	return sectionDocument{
		Variant:       variant,
		SectionID:     s.ID,
		Name:          s.Name,
		Content:       s.Content,
		Topics:        cloneTopics(s.Topics),
		AlwaysInclude: s.AlwaysInclude,
		Priority:      s.Priority,
		UpdatedAt:     time.Now().UTC(),
	}
}

func (doc sectionDocument) toSection() prompt.Section {
	return prompt.Section{
		ID:            doc.SectionID,
		Name:          doc.Name,
		Content:       doc.Content,
		Topics:        cloneTopics(doc.Topics),
		AlwaysInclude: doc.AlwaysInclude,
		Priority:      doc.Priority,
	}
}

func cloneTopics(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func ensureIndexes(ctx context.Context, sectionsColl collection) error {
	identityIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "variant", Value: 1},
			{Key: "section_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sectionsColl.Indexes().CreateOne(ctx, identityIndex); err != nil {
		return err
	}
	listIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "variant", Value: 1},
			{Key: "priority", Value: -1},
		},
	}
	if _, err := sectionsColl.Indexes().CreateOne(ctx, listIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, sectionsColl collection, timeout time.Duration) (*client, error) {
	if sectionsColl == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:    mongoClient,
		sections: sectionsColl,
		timeout:  timeout,
	}, nil
}

type collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any,
		opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any,
	opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
