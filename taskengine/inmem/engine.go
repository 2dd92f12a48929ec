// Package inmem provides an in-process taskengine.Engine for tests and the
// single-binary demo: every activity runs as a plain goroutine with no
// durability.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetcode/orchestrator/taskengine"
)

type (
	activity struct {
		handler taskengine.ActivityFunc
	}

	// Engine is an in-memory taskengine.Engine.
	Engine struct {
		mu         sync.RWMutex
		activities map[string]activity
	}
)

// New constructs an empty in-memory Engine.
func New() *Engine {
	return &Engine{activities: make(map[string]activity)}
}

// RegisterActivity implements taskengine.Engine.
func (e *Engine) RegisterActivity(_ context.Context, def taskengine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("taskengine/inmem: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = activity{handler: def.Handler}
	return nil
}

// ExecuteActivity implements taskengine.Engine, running the activity on a
// fresh goroutine and waiting for its result or ctx/timeout expiry.
func (e *Engine) ExecuteActivity(ctx context.Context, req taskengine.ActivityRequest) (any, error) {
	e.mu.RLock()
	act, ok := e.activities[req.Name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("taskengine/inmem: activity %q not registered", req.Name)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := act.handler(callCtx, req.Input)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}
