package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/tracestore"
)

func TestStoreAppendThenGet(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store, err := NewStore(client)
	require.NoError(t, err)

	record := &tracestore.Record{
		PlanID:        "plan-1",
		CreatedAt:     time.Unix(1, 0).UTC(),
		QueryTextHash: "abc123",
		Complexity:    "Simple",
		TaskIDs:       []string{"plan-1:0"},
		Outcomes:      []tracestore.Outcome{{TaskID: "plan-1:0", WorkerID: "w1", Kind: "success", Attempts: 1}},
		Duration:      2 * time.Second,
	}
	require.NoError(t, store.Append(context.Background(), record))

	got, ok, err := store.Get(context.Background(), "plan-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record, got)
}

func TestStoreGetMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	store, err := NewStore(newFakeClient())
	require.NoError(t, err)

	got, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestStoreAppendRejectsNilRecord(t *testing.T) {
	t.Parallel()

	store, err := NewStore(newFakeClient())
	require.NoError(t, err)

	require.Error(t, store.Append(context.Background(), nil))
}

func TestNewStoreRejectsNilClient(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil)
	require.Error(t, err)
}

// fakeClient substitutes for clientsmongo.Client without a live Mongo
// server.
type fakeClient struct {
	records map[string]*tracestore.Record
}

func newFakeClient() *fakeClient {
	return &fakeClient{records: make(map[string]*tracestore.Record)}
}

func (c *fakeClient) Append(_ context.Context, record *tracestore.Record) error {
	c.records[record.PlanID] = record
	return nil
}

func (c *fakeClient) Find(_ context.Context, planID string) (*tracestore.Record, bool, error) {
	r, ok := c.records[planID]
	return r, ok, nil
}
