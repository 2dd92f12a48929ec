package parallelexec_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/channel"
	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/governor"
	"github.com/fleetcode/orchestrator/parallelexec"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/query"
	"github.com/fleetcode/orchestrator/result"
	"github.com/fleetcode/orchestrator/taskengine/inmem"
	"github.com/fleetcode/orchestrator/toolbackend"
	"github.com/fleetcode/orchestrator/worker"
	"github.com/fleetcode/orchestrator/workerregistry"
)

// simulateWorker plays the worker side of an in-memory channel: it emits an
// initial heartbeat, then answers every dispatched task with a Success
// result after delay.
func simulateWorker(ws *channel.WorkerSide, delay time.Duration) {
	ctx := context.Background()
	_ = ws.Emit(ctx, channel.Event{Kind: channel.EventHeartbeat})
	for {
		env, err := ws.Recv(ctx)
		if err != nil {
			return
		}
		switch env.Kind {
		case channel.EnvelopeTask:
			time.Sleep(delay)
			_ = ws.Emit(ctx, channel.Event{
				Kind:    channel.EventResult,
				TaskID:  env.TaskID,
				Outcome: string(result.Success),
				Output:  json.RawMessage(`{"findings":[]}`),
			})
		case channel.EnvelopeCancel:
			return
		}
	}
}

func newSpawnFn(registry *workerregistry.Registry, delay time.Duration) parallelexec.SpawnFunc {
	return func(ctx context.Context, caps []string) (string, *worker.Process, error) {
		execSide, workerSide := channel.NewInMemory(8)
		proc, err := worker.Spawn(ctx, worker.Config{
			DisplayName:  "sim",
			Capabilities: caps,
			Launch: func(ctx context.Context) (channel.MessageChannel, error) {
				return execSide, nil
			},
		})
		if err != nil {
			return "", nil, err
		}
		workerID := registry.Register("sim", caps, proc)
		go simulateWorker(workerSide, delay)
		return workerID, proc, nil
	}
}

func buildPlan(t *testing.T, n int) *plan.ExecutionPlan {
	t.Helper()
	var delegations []*delegation.TaskDelegation
	for i := 0; i < n; i++ {
		d, err := delegation.Builder{
			ID:                fmt.Sprintf("pending:%d", i),
			Objective:         "scan module",
			Bounds:            delegation.Bounds{MaxToolCalls: 5, Timeout: time.Second, MaxOutputBytes: 1 << 20},
			AllowEmptyScope:   true,
			RequireCapabilities: false,
		}.Build()
		require.NoError(t, err)
		delegations = append(delegations, d)
	}
	p, err := plan.New(query.Simple, delegations, plan.ResourceAllocation{MaxToolCalls: 100, MaxWallTime: 5 * time.Second}, time.Now().Add(5*time.Second), "fact_list.v1")
	require.NoError(t, err)
	for i, d := range p.Delegations {
		rebuilt, rerr := delegation.Builder{
			ID:                id(p, i),
			Objective:         d.Objective(),
			Bounds:            d.Bounds(),
			Retry:             d.Retry(),
			AllowEmptyScope:   true,
		}.Build()
		require.NoError(t, rerr)
		p.Delegations[i] = rebuilt
	}
	return p
}

func id(p *plan.ExecutionPlan, i int) string { return p.TaskID(i) }

func TestRunSingleTaskSuccess(t *testing.T) {
	registry := workerregistry.New()
	gov := governor.New(governor.Limits{
		MaxConcurrentWorkers:  2,
		MaxInFlightTasks:      2,
		MaxToolCallsPerPlan:   100,
		MaxWallTimePerPlan:    time.Minute,
		MaxToolCallsPerTask:   10,
		MaxOutputBytesPerTask: 1 << 20,
	})
	backend := toolbackend.New()
	exec := parallelexec.New(registry, gov, backend, newSpawnFn(registry, 0),
		parallelexec.WithGracePeriod(50*time.Millisecond),
		parallelexec.WithSelectPollInterval(5*time.Millisecond))

	p := buildPlan(t, 1)
	results, errs := exec.Run(context.Background(), p)
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, result.Success, results[0].Outcome)
}

func TestRunPreservesDeclaredOrder(t *testing.T) {
	registry := workerregistry.New()
	gov := governor.New(governor.Limits{
		MaxConcurrentWorkers:  4,
		MaxInFlightTasks:      4,
		MaxToolCallsPerPlan:   100,
		MaxWallTimePerPlan:    time.Minute,
		MaxToolCallsPerTask:   10,
		MaxOutputBytesPerTask: 1 << 20,
	})
	backend := toolbackend.New()
	// Every worker responds at the same simulated delay, but spawn order
	// and scheduling still race across goroutines; a correct Run must
	// still return results indexed by declared plan order regardless.
	exec := parallelexec.New(registry, gov, backend, newSpawnFn(registry, 10*time.Millisecond),
		parallelexec.WithGracePeriod(50*time.Millisecond),
		parallelexec.WithSelectPollInterval(5*time.Millisecond))

	p := buildPlan(t, 3)
	results, errs := exec.Run(context.Background(), p)
	require.Empty(t, errs)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, p.TaskID(i), r.TaskID)
		require.Equal(t, result.Success, r.Outcome)
	}
}

// flakyThenSucceedSpawn fails the first dispatch attempt with a channel
// close (driveWorkerEvents surfaces this as a transient error) and succeeds
// on every attempt after.
func flakyThenSucceedSpawn(registry *workerregistry.Registry) parallelexec.SpawnFunc {
	var attempts int32
	return func(ctx context.Context, caps []string) (string, *worker.Process, error) {
		n := atomic.AddInt32(&attempts, 1)
		execSide, workerSide := channel.NewInMemory(8)
		proc, err := worker.Spawn(ctx, worker.Config{
			DisplayName:  "flaky",
			Capabilities: caps,
			Launch: func(ctx context.Context) (channel.MessageChannel, error) {
				return execSide, nil
			},
		})
		if err != nil {
			return "", nil, err
		}
		workerID := registry.Register("flaky", caps, proc)
		if n == 1 {
			go func() {
				ctx := context.Background()
				_ = workerSide.Emit(ctx, channel.Event{Kind: channel.EventHeartbeat})
				_, _ = workerSide.Recv(ctx)
				_ = execSide.Close()
			}()
		} else {
			go simulateWorker(workerSide, 0)
		}
		return workerID, proc, nil
	}
}

func TestDriveTaskSurfacesAttemptCountAfterRetry(t *testing.T) {
	registry := workerregistry.New()
	gov := governor.New(governor.Limits{
		MaxConcurrentWorkers:  2,
		MaxInFlightTasks:      2,
		MaxToolCallsPerPlan:   100,
		MaxWallTimePerPlan:    time.Minute,
		MaxToolCallsPerTask:   10,
		MaxOutputBytesPerTask: 1 << 20,
	})
	backend := toolbackend.New()
	exec := parallelexec.New(registry, gov, backend, flakyThenSucceedSpawn(registry),
		parallelexec.WithGracePeriod(50*time.Millisecond),
		parallelexec.WithSelectPollInterval(5*time.Millisecond))

	d, err := delegation.Builder{
		ID:                "plan-1:0",
		Objective:         "scan module",
		Bounds:            delegation.Bounds{MaxToolCalls: 5, Timeout: time.Second, MaxOutputBytes: 1 << 20},
		AllowEmptyScope:   true,
		Retry:             delegation.RetryPolicy{MaxAttempts: 2, OnKinds: []string{"transient"}},
	}.Build()
	require.NoError(t, err)

	p, err := plan.New(query.Simple, []*delegation.TaskDelegation{d}, plan.ResourceAllocation{MaxToolCalls: 100, MaxWallTime: 5 * time.Second}, time.Now().Add(5*time.Second), "fact_list.v1")
	require.NoError(t, err)

	results, errs := exec.Run(context.Background(), p)
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, result.Success, results[0].Outcome)
	require.Equal(t, 2, results[0].Attempts, "second attempt after the first transient failure should be recorded")
}

func TestRunRoutesThroughEngineWhenConfigured(t *testing.T) {
	registry := workerregistry.New()
	gov := governor.New(governor.Limits{
		MaxConcurrentWorkers:  2,
		MaxInFlightTasks:      2,
		MaxToolCallsPerPlan:   100,
		MaxWallTimePerPlan:    time.Minute,
		MaxToolCallsPerTask:   10,
		MaxOutputBytesPerTask: 1 << 20,
	})
	backend := toolbackend.New()
	exec := parallelexec.New(registry, gov, backend, newSpawnFn(registry, 0),
		parallelexec.WithGracePeriod(50*time.Millisecond),
		parallelexec.WithSelectPollInterval(5*time.Millisecond),
		parallelexec.WithEngine(inmem.New()))

	p := buildPlan(t, 1)
	results, errs := exec.Run(context.Background(), p)
	require.Empty(t, errs)
	require.Len(t, results, 1)
	require.Equal(t, result.Success, results[0].Outcome)
}
