package governor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/governor"
	"github.com/fleetcode/orchestrator/orcherr"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/query"
)

func newDelegation(t *testing.T, id string, maxToolCalls, priority int) *delegation.TaskDelegation {
	t.Helper()
	d, err := delegation.Builder{
		ID:        id,
		Objective: "do something",
		Scope:     []string{"a"},
		Bounds: delegation.Bounds{
			MaxToolCalls:   maxToolCalls,
			Timeout:        time.Second,
			MaxOutputBytes: 1024,
		},
		Priority: priority,
	}.Build()
	require.NoError(t, err)
	return d
}

func TestAdmitRejectsPlanTooLarge(t *testing.T) {
	g := governor.New(governor.Limits{
		MaxConcurrentWorkers: 10,
		MaxInFlightTasks:     20,
		MaxToolCallsPerPlan:  8,
	})
	d := newDelegation(t, "p1:0", 10, 0)
	p, err := plan.New(query.Simple, []*delegation.TaskDelegation{d}, plan.ResourceAllocation{MaxToolCalls: 100}, time.Now().Add(time.Minute), "")
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), p, "")
	require.Error(t, err)
	var oe *orcherr.Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, orcherr.KindRejected, oe.Kind)
	require.Equal(t, orcherr.ReasonPlanTooLarge, oe.Reason)
}

func TestAdmitSucceedsAndReleaseResetsCounters(t *testing.T) {
	g := governor.New(governor.Limits{
		MaxConcurrentWorkers: 10,
		MaxInFlightTasks:     20,
		MaxToolCallsPerPlan:  100,
	})
	d := newDelegation(t, "p1:0", 5, 0)
	p, err := plan.New(query.Simple, []*delegation.TaskDelegation{d}, plan.ResourceAllocation{MaxToolCalls: 100}, time.Now().Add(time.Minute), "")
	require.NoError(t, err)

	tok, err := g.Admit(context.Background(), p, "")
	require.NoError(t, err)
	require.NotNil(t, tok)
	g.Release(tok)
	require.Equal(t, 0, g.ActiveWorkers())
	require.Equal(t, 0, g.InFlightTasks())
}

func TestAllocateSlotRespectsInFlightCap(t *testing.T) {
	g := governor.New(governor.Limits{
		MaxConcurrentWorkers: 10,
		MaxInFlightTasks:     1,
		MaxToolCallsPerPlan:  100,
	})
	d := newDelegation(t, "p1:0", 5, 0)

	slot1, err := g.AllocateSlot(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, 1, g.InFlightTasks())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.AllocateSlot(ctx, d)
	require.Error(t, err)

	g.ReleaseSlot(slot1)
	require.Equal(t, 0, g.InFlightTasks())
}

// TestAllocateSlotDoesNotLeakOnReleaseCancelRace exercises the race where
// ReleaseSlot transfers a slot to a queued waiter at the same moment the
// waiter's ctx is cancelled; Go's select may still take the ctx.Done branch.
// The transferred slot must not be leaked (inFlightTasks must return to 0
// once every acquired slot is released).
func TestAllocateSlotDoesNotLeakOnReleaseCancelRace(t *testing.T) {
	g := governor.New(governor.Limits{
		MaxConcurrentWorkers: 10,
		MaxInFlightTasks:     1,
		MaxToolCallsPerPlan:  100,
	})
	d := newDelegation(t, "p1:0", 5, 0)

	slot, err := g.AllocateSlot(context.Background(), d)
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
			defer cancel()
			s, err := g.AllocateSlot(ctx, d)
			if err == nil {
				g.ReleaseSlot(s)
			}
		}()
	}

	time.Sleep(2 * time.Millisecond)
	g.ReleaseSlot(slot)
	wg.Wait()

	require.Equal(t, 0, g.InFlightTasks())
}

func TestReserveWorkerRespectsCap(t *testing.T) {
	g := governor.New(governor.Limits{MaxConcurrentWorkers: 1})
	require.True(t, g.ReserveWorker())
	require.False(t, g.ReserveWorker())
	g.ReleaseWorker()
	require.True(t, g.ReserveWorker())
}
