package inmem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/taskengine"
	"github.com/fleetcode/orchestrator/taskengine/inmem"
)

func TestExecuteActivityReturnsHandlerResult(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, taskengine.ActivityDefinition{
		Name: "echo",
		Handler: func(_ context.Context, input any) (any, error) {
			return input, nil
		},
	}))

	out, err := eng.ExecuteActivity(ctx, taskengine.ActivityRequest{Name: "echo", Input: 42})
	require.NoError(t, err)
	require.Equal(t, 42, out)
}

func TestExecuteActivityUnregisteredNameErrors(t *testing.T) {
	eng := inmem.New()
	_, err := eng.ExecuteActivity(context.Background(), taskengine.ActivityRequest{Name: "missing"})
	require.Error(t, err)
}

func TestExecuteActivityRespectsTimeout(t *testing.T) {
	eng := inmem.New()
	ctx := context.Background()
	require.NoError(t, eng.RegisterActivity(ctx, taskengine.ActivityDefinition{
		Name: "slow",
		Handler: func(ctx context.Context, _ any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	_, err := eng.ExecuteActivity(ctx, taskengine.ActivityRequest{Name: "slow", Timeout: 10 * time.Millisecond})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
