// Package taskengine abstracts the execution backend for a single task
// dispatch attempt, so ParallelExecutor's task drivers can run in-process
// (the default) or durably via Temporal without changing their own logic
// (spec §6 DOMAIN STACK: "durable alternative Engine backing
// ParallelExecutor task drivers, alongside the default in-memory engine").
//
// This is deliberately narrower than a general workflow engine: a task
// driver's suspension points (governor slot, worker selection, next_event)
// already live in parallelexec, so Engine only needs to execute one named
// activity and return its result — it does not need workflow registration,
// signals, or child workflows.
package taskengine

import (
	"context"
	"time"
)

type (
	// Engine executes named activities, either in-process or on a durable
	// backend.
	Engine interface {
		// RegisterActivity registers handler under def.Name. Safe to call
		// multiple times with the same name; later registrations replace
		// earlier ones (callers only register once at startup in practice).
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// ExecuteActivity runs the activity named by req.Name and returns
		// its result. Blocks until the activity completes, fails, or ctx is
		// done.
		ExecuteActivity(ctx context.Context, req ActivityRequest) (any, error)
	}

	// ActivityDefinition binds a handler to a logical activity name.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
	}

	// ActivityFunc executes one activity invocation. Unlike a workflow
	// function, it may perform I/O and need not be deterministic.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityRequest describes one activity invocation.
	ActivityRequest struct {
		Name    string
		Input   any
		Timeout time.Duration
	}
)
