package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/channel"
	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/worker"
)

func spawnPair(t *testing.T) (*worker.Process, *channel.WorkerSide) {
	t.Helper()
	var workerSide *channel.WorkerSide
	p, err := worker.Spawn(context.Background(), worker.Config{
		DisplayName:  "test-worker",
		Capabilities: []string{"testing"},
		Launch: func(ctx context.Context) (channel.MessageChannel, error) {
			executorSide, ws := channel.NewInMemory(4)
			workerSide = ws
			return executorSide, nil
		},
	})
	require.NoError(t, err)
	return p, workerSide
}

func TestSpawnStaysStartingUntilHeartbeat(t *testing.T) {
	p, ws := spawnPair(t)
	require.Equal(t, "Starting", p.Status())

	require.NoError(t, ws.Emit(context.Background(), channel.Event{Kind: channel.EventHeartbeat}))
	_, err := p.NextEvent(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, "Idle", p.Status())
}

func TestSendFailsUnlessIdleOrBusy(t *testing.T) {
	p, _ := spawnPair(t)
	err := p.Send(context.Background(), channel.Envelope{Kind: channel.EnvelopeCancel})
	require.Error(t, err)
}

func TestDispatchMarksBusy(t *testing.T) {
	p, ws := spawnPair(t)
	require.NoError(t, ws.Emit(context.Background(), channel.Event{Kind: channel.EventHeartbeat}))
	_, err := p.NextEvent(context.Background(), time.Time{})
	require.NoError(t, err)

	d, err := delegation.Builder{
		ID:        "p1:0",
		Objective: "do work",
		Scope:     []string{"a"},
		Bounds: delegation.Bounds{
			MaxToolCalls:   1,
			Timeout:        time.Second,
			MaxOutputBytes: 1024,
		},
	}.Build()
	require.NoError(t, err)

	require.NoError(t, p.Dispatch(context.Background(), "p1:0", d))
	require.Equal(t, "Busy", p.Status())

	env, err := ws.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p1:0", env.TaskID)
}

func TestShutdownClosesChannel(t *testing.T) {
	p, _ := spawnPair(t)
	require.NoError(t, p.Shutdown(context.Background(), 50*time.Millisecond))
	require.Equal(t, "Stopped", p.Status())

	_, err := p.NextEvent(context.Background(), time.Time{})
	require.ErrorIs(t, err, channel.ErrClosed)
}
