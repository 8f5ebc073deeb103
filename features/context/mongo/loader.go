// Package mongo provides a MongoDB-backed prompt.ContextLoader. Build the
// low-level client via features/context/mongo/clients/mongo and pass it to
// NewLoader so the prompt engine can pull section catalogs from MongoDB.
package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/flow/features/context/mongo/clients/mongo"
	"goa.design/flow/prompt"
)

// Loader implements prompt.ContextLoader by delegating to the Mongo client.
type Loader struct {
	client clientsmongo.Client
}

// NewLoader builds a Loader using the provided client.
func NewLoader(client clientsmongo.Client) (*Loader, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Loader{client: client}, nil
}

// Load returns the catalog stored for the query's variant. Topic and
// conversation-position filtering stays with the engine, which caches one
// catalog per variant.
func (l *Loader) Load(ctx context.Context, q prompt.Query) ([]prompt.Section, error) {
	return l.client.ListSections(ctx, q.Variant)
}
