// Package tracestore provides a durable, append-only trace record store for
// executed plans (spec §6 "Persisted state layout").
//
// The core persists only a per-plan trace record; no worker state is
// persisted. A store is write-only from the orchestrator's perspective — it
// is never read back to recover or re-admit a plan, which keeps this an
// audit trail rather than a queue (spec's non-goal on persistent queueing).
package tracestore

import (
	"context"
	"time"
)

type (
	// Outcome is the terminal state of a single task within a plan, as
	// recorded for audit.
	Outcome struct {
		// TaskID identifies the task within the plan.
		TaskID string
		// WorkerID is the worker the task ultimately ran on, if any was
		// assigned.
		WorkerID string
		// Kind is the terminal outcome kind (a result.Outcome value such as
		// "Success" or "PartialSuccess", or an orcherr.Kind string for
		// failures).
		Kind string
		// Attempts is the number of dispatch attempts the task took
		// (1 + retries).
		Attempts int
	}

	// Record is a single immutable per-plan trace record appended once a plan
	// reaches a terminal state.
	Record struct {
		// PlanID is the store key. IDs are opaque and never reused.
		PlanID string
		// CreatedAt is when the LeadAgent started handling the query,
		// before analysis and admission.
		CreatedAt time.Time
		// QueryTextHash is a content hash of the originating query text. The
		// store never retains raw query text, only its hash, so the trace
		// record stays safe to retain long-term.
		QueryTextHash string
		// Complexity is the QueryComplexity tag the analyzer assigned.
		Complexity string
		// TaskIDs lists the plan's declared task order.
		TaskIDs []string
		// Outcomes lists the terminal outcome of every task, in TaskIDs order.
		Outcomes []Outcome
		// Duration is the plan's total wall-clock execution time.
		Duration time.Duration
	}

	// Store is an append-only trace record store keyed by plan_id.
	//
	// Implementations must provide stable ordering within a plan_id's history
	// (a plan_id is appended at most once in practice, since plan_ids are
	// unique, but Store does not reject a duplicate append — callers own that
	// invariant).
	Store interface {
		// Append persists record. Append must be durable: failures are
		// surfaced to callers so the LeadAgent can decide whether to retry
		// or merely log the persistence failure without failing the query.
		Append(ctx context.Context, record *Record) error

		// Get returns the trace record for planID, or (nil, false) if none
		// has been recorded.
		Get(ctx context.Context, planID string) (*Record, bool, error)
	}
)
