package workerregistry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/workerregistry"
)

type stubHandle struct{ shutdownCalls int }

func (s *stubHandle) Shutdown(context.Context, time.Duration) error {
	s.shutdownCalls++
	return nil
}

func TestRegisterAssignsUniqueIDs(t *testing.T) {
	r := workerregistry.New()
	id1 := r.Register("w1", []string{"code-review"}, &stubHandle{})
	id2 := r.Register("w2", []string{"code-review"}, &stubHandle{})
	require.NotEqual(t, id1, id2)
}

func TestSelectIdleRequiresSuperset(t *testing.T) {
	r := workerregistry.New()
	id := r.Register("w1", []string{"code-review", "testing"}, &stubHandle{})
	r.RecordHeartbeat(id)

	got, ok := r.SelectIdle([]string{"code-review"})
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = r.SelectIdle([]string{"refactoring"})
	require.False(t, ok)
}

func TestSelectIdleDeterministicTieBreak(t *testing.T) {
	r := workerregistry.New()
	idA := r.Register("a", []string{"code-review"}, &stubHandle{})
	idB := r.Register("b", []string{"code-review"}, &stubHandle{})
	r.RecordHeartbeat(idA)
	r.RecordHeartbeat(idB)

	got1, ok := r.SelectIdle([]string{"code-review"})
	require.True(t, ok)
	got2, ok := r.SelectIdle([]string{"code-review"})
	require.True(t, ok)
	require.Equal(t, got1, got2)

	// RecordHeartbeat seeds last_used_at from each worker's first heartbeat,
	// so the earlier heartbeat wins and worker_id only breaks an exact tie.
	byID := make(map[string]workerregistry.Info)
	for _, info := range r.Snapshot() {
		byID[info.WorkerID] = info
	}
	a, b := byID[idA].LastHeartbeatAt, byID[idB].LastHeartbeatAt
	want := idA
	if b.Before(a) || (b.Equal(a) && idB < idA) {
		want = idB
	}
	require.Equal(t, want, got1)
}

func TestUnregisterRemovesWorker(t *testing.T) {
	r := workerregistry.New()
	h := &stubHandle{}
	id := r.Register("w1", nil, h)

	got, ok := r.Unregister(id)
	require.True(t, ok)
	require.Same(t, h, got)

	_, ok = r.Lookup(id)
	require.False(t, ok)
}

func TestMarkBusyThenIdleUpdatesSnapshot(t *testing.T) {
	r := workerregistry.New()
	id := r.Register("w1", []string{"testing"}, &stubHandle{})
	r.RecordHeartbeat(id)
	r.MarkBusy(id, "plan-1:0")

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, workerregistry.Busy, snap[0].Status)
	require.Equal(t, "plan-1:0", snap[0].CurrentTaskID)

	r.MarkIdle(id)
	snap = r.Snapshot()
	require.Equal(t, workerregistry.Idle, snap[0].Status)
	require.Empty(t, snap[0].CurrentTaskID)
}

func TestSelectIdleAndMarkBusyIsExclusive(t *testing.T) {
	r := workerregistry.New()
	id := r.Register("w1", []string{"code-review"}, &stubHandle{})
	r.RecordHeartbeat(id)

	const n = 20
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			_, ok := r.SelectIdleAndMarkBusy([]string{"code-review"}, taskID)
			results <- ok
		}(taskIDFor(i))
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one concurrent selector should claim the single Idle worker")

	snap := r.Snapshot()
	require.Equal(t, workerregistry.Busy, snap[0].Status)
}

func taskIDFor(i int) string {
	return "plan-1:" + string(rune('a'+i))
}

func TestUnresponsiveThreshold(t *testing.T) {
	r := workerregistry.New(workerregistry.WithHeartbeat(2*time.Second, 2))
	require.Equal(t, 6*time.Second, r.UnresponsiveThreshold())
}
