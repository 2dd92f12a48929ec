// Package mongo implements tracestore.Store against MongoDB, the durable
// alternative to tracestore/inmem for production deployments (spec §6
// "Persisted state layout").
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/fleetcode/orchestrator/tracestore/mongo/clients/mongo"

	"github.com/fleetcode/orchestrator/tracestore"
)

// Store implements tracestore.Store by delegating to a Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed trace record store using the provided
// client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("tracestore/mongo: client is required")
	}
	return &Store{client: client}, nil
}

// Append implements tracestore.Store.
func (s *Store) Append(ctx context.Context, record *tracestore.Record) error {
	if record == nil {
		return errors.New("tracestore/mongo: record is required")
	}
	return s.client.Append(ctx, record)
}

// Get implements tracestore.Store.
func (s *Store) Get(ctx context.Context, planID string) (*tracestore.Record, bool, error) {
	return s.client.Find(ctx, planID)
}
