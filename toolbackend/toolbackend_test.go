package toolbackend_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/toolbackend"
)

func TestInvokeUnknownTool(t *testing.T) {
	r := toolbackend.New()
	res, err := r.Invoke(context.Background(), "missing", nil, time.Time{})
	require.NoError(t, err)
	require.Nil(t, res.OK)
	require.Equal(t, "unknown_tool", res.Err.Kind)
}

func TestInvokeSuccess(t *testing.T) {
	r := toolbackend.New()
	r.Register(toolbackend.ToolSchema{Name: "list_functions"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"functions":["a","b"]}`), nil
	})

	res, err := r.Invoke(context.Background(), "list_functions", nil, time.Time{})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	require.JSONEq(t, `{"functions":["a","b"]}`, string(res.OK))
}

func TestInvokeHandlerError(t *testing.T) {
	r := toolbackend.New()
	r.Register(toolbackend.ToolSchema{Name: "boom"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("store unavailable")
	})

	res, err := r.Invoke(context.Background(), "boom", nil, time.Time{})
	require.NoError(t, err)
	require.Equal(t, "tool_error", res.Err.Kind)
}

func TestListTools(t *testing.T) {
	r := toolbackend.New()
	r.Register(toolbackend.ToolSchema{Name: "a"}, func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	r.Register(toolbackend.ToolSchema{Name: "b"}, func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })

	tools, err := r.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
}
