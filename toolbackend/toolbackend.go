// Package toolbackend provides a reference, in-process ToolBackend (spec §6
// "ToolBackend") backed by a static catalogue of named operations. The core
// orchestrator depends only on the Backend interface; this package supplies
// a concrete implementation so cmd/orchestratord is runnable end to end.
package toolbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type (
	// ToolSchema describes one operation's name and JSON-shaped
	// input/output contracts (spec §6 "list_tools").
	ToolSchema struct {
		Name         string
		InputSchema  json.RawMessage
		OutputSchema json.RawMessage
	}

	// Result is the outcome of invoking a tool: exactly one of OK or Err is
	// set (spec §6 "invoke").
	Result struct {
		OK  json.RawMessage
		Err *Error
	}

	// Error is the structured failure surfaced from a tool invocation,
	// carried verbatim into orcherr.KindToolError by callers.
	Error struct {
		Kind    string
		Message string
	}

	// HandlerFunc implements one named operation against the knowledge
	// store (or, in this reference implementation, an in-memory stand-in
	// for it).
	HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

	// Backend is the ToolBackend the ParallelExecutor forwards worker
	// ToolCall events to (spec §6).
	Backend interface {
		ListTools(ctx context.Context) ([]ToolSchema, error)
		Invoke(ctx context.Context, name string, args json.RawMessage, deadline time.Time) (Result, error)
	}

	registration struct {
		schema  ToolSchema
		handler HandlerFunc
	}

	// Registry is a reference Backend implementation: a read-mostly
	// catalogue of named operations behind a mutex-guarded map, mirroring
	// the teacher's toolset manager (schema lookup by name; it has no
	// capability search).
	Registry struct {
		mu    sync.RWMutex
		tools map[string]registration
	}
)

// New constructs an empty Registry. Use Register to populate it.
func New() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds or replaces the named operation. Typically called once at
// startup for every operation the knowledge store exposes.
func (r *Registry) Register(schema ToolSchema, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = registration{schema: schema, handler: handler}
}

// ListTools implements Backend.
func (r *Registry) ListTools(ctx context.Context) ([]ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.schema)
	}
	return out, nil
}

// Invoke implements Backend. If name is unregistered, Invoke returns a
// Result carrying Err rather than a Go error, matching spec §6's { error:
// {kind, message} } shape — invocation failures are data, not transport
// failures.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage, deadline time.Time) (Result, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Err: &Error{Kind: "unknown_tool", Message: fmt.Sprintf("no tool registered with name %q", name)}}, nil
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	out, err := reg.handler(callCtx, args)
	if err != nil {
		return Result{Err: &Error{Kind: "tool_error", Message: err.Error()}}, nil
	}
	return Result{OK: out}, nil
}
