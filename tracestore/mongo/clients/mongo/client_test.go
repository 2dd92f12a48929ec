package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/fleetcode/orchestrator/tracestore"
)

func TestClientAppendThenFind(t *testing.T) {
	t.Parallel()

	coll := newFakeCollection()
	c := &client{coll: coll}

	record := &tracestore.Record{
		PlanID:        "plan-1",
		CreatedAt:     time.Unix(1, 0).UTC(),
		QueryTextHash: "abc123",
		Complexity:    "Simple",
		TaskIDs:       []string{"plan-1:0"},
		Outcomes:      []tracestore.Outcome{{TaskID: "plan-1:0", WorkerID: "w1", Kind: "success", Attempts: 1}},
		Duration:      2 * time.Second,
	}
	require.NoError(t, c.Append(context.Background(), record))

	got, ok, err := c.Find(context.Background(), "plan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record, got)
}

func TestClientFindMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	c := &client{coll: newFakeCollection()}
	_, ok, err := c.Find(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// fakeCollection substitutes for a live Mongo collection, matching only the
// _id-equality filter shape client.Find actually issues.
type fakeCollection struct {
	docs map[string]recordDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]recordDocument)}
}

func (c *fakeCollection) InsertOne(_ context.Context, document any, _ ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	doc := document.(recordDocument)
	c.docs[doc.PlanID] = doc
	return &mongodriver.InsertOneResult{InsertedID: doc.PlanID}, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) (recordDocument, bool, error) {
	d, ok := filter.(bson.D)
	if !ok || len(d) == 0 || d[0].Key != "_id" {
		return recordDocument{}, false, nil
	}
	planID, _ := d[0].Value.(string)
	doc, found := c.docs[planID]
	return doc, found, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{}
}

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(context.Context, mongodriver.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "", nil
}
