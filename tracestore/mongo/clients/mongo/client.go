// Package mongo implements the low-level MongoDB client backing
// tracestore/mongo.Store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fleetcode/orchestrator/tracestore"
)

type (
	// Client exposes Mongo-backed operations for the trace record store,
	// in terms of tracestore's own record type rather than this package's
	// wire document shape.
	Client interface {
		Append(ctx context.Context, record *tracestore.Record) error
		Find(ctx context.Context, planID string) (*tracestore.Record, bool, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		coll    collection
		timeout time.Duration
	}

	outcomeDocument struct {
		TaskID   string `bson:"task_id"`
		WorkerID string `bson:"worker_id"`
		Kind     string `bson:"kind"`
		Attempts int    `bson:"attempts"`
	}

	recordDocument struct {
		PlanID        string            `bson:"_id"`
		CreatedAt     time.Time         `bson:"created_at"`
		QueryTextHash string            `bson:"query_text_hash"`
		Complexity    string            `bson:"complexity"`
		TaskIDs       []string          `bson:"task_ids"`
		Outcomes      []outcomeDocument `bson:"outcomes"`
		DurationNanos int64             `bson:"duration_nanos"`
	}
)

const (
	defaultCollection = "trace_records"
	defaultTimeout    = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client, creating the
// target collection's index before it returns.
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
	wrapper := mongoCollection{coll: mcoll}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{coll: wrapper, timeout: timeout}, nil
}

func (c *client) Append(ctx context.Context, record *tracestore.Record) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.InsertOne(ctx, toDocument(record))
	return err
}

func (c *client) Find(ctx context.Context, planID string) (*tracestore.Record, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc, ok, err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: planID}})
	if err != nil || !ok {
		return nil, ok, err
	}
	return fromDocument(doc), true, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func toDocument(r *tracestore.Record) recordDocument {
	outcomes := make([]outcomeDocument, len(r.Outcomes))
	for i, o := range r.Outcomes {
		outcomes[i] = outcomeDocument{TaskID: o.TaskID, WorkerID: o.WorkerID, Kind: o.Kind, Attempts: o.Attempts}
	}
	return recordDocument{
		PlanID:        r.PlanID,
		CreatedAt:     r.CreatedAt,
		QueryTextHash: r.QueryTextHash,
		Complexity:    r.Complexity,
		TaskIDs:       append([]string(nil), r.TaskIDs...),
		Outcomes:      outcomes,
		DurationNanos: int64(r.Duration),
	}
}

func fromDocument(d recordDocument) *tracestore.Record {
	outcomes := make([]tracestore.Outcome, len(d.Outcomes))
	for i, o := range d.Outcomes {
		outcomes[i] = tracestore.Outcome{TaskID: o.TaskID, WorkerID: o.WorkerID, Kind: o.Kind, Attempts: o.Attempts}
	}
	return &tracestore.Record{
		PlanID:        d.PlanID,
		CreatedAt:     d.CreatedAt,
		QueryTextHash: d.QueryTextHash,
		Complexity:    d.Complexity,
		TaskIDs:       append([]string(nil), d.TaskIDs...),
		Outcomes:      outcomes,
		Duration:      time.Duration(d.DurationNanos),
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "_id", Value: 1}},
	})
	return err
}

// collection narrows *mongodriver.Collection to the handful of operations
// this client needs, so tests can substitute a fake without a live Mongo.
type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any) (recordDocument, bool, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) (recordDocument, bool, error) {
	var doc recordDocument
	err := c.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return recordDocument{}, false, nil
	}
	if err != nil {
		return recordDocument{}, false, err
	}
	return doc, true, nil
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
