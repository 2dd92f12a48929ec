package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType discriminates the runtime events published while a plan executes.
// These mirror the worker-observable events of spec §4.1 (next_event) plus
// the plan-level lifecycle transitions of §4.9.
type EventType string

const (
	// EventHeartbeat reports a worker heartbeat.
	EventHeartbeat EventType = "heartbeat"
	// EventToolCall reports a worker-issued tool call forwarded to the
	// ToolBackend.
	EventToolCall EventType = "tool_call"
	// EventProgress reports a progress snippet from a worker.
	EventProgress EventType = "progress"
	// EventWorkerResult reports a completed per-task WorkerResult.
	EventWorkerResult EventType = "worker_result"
	// EventWorkerTerminated reports a worker process terminating.
	EventWorkerTerminated EventType = "worker_terminated"
	// EventPlanAdmitted reports a plan's successful admission.
	EventPlanAdmitted EventType = "plan_admitted"
	// EventPlanRejected reports a plan's admission rejection.
	EventPlanRejected EventType = "plan_rejected"
	// EventPlanSynthesized reports a plan reaching the Done/Failed state with
	// a SynthesizedResult produced.
	EventPlanSynthesized EventType = "plan_synthesized"
)

// Event is a single immutable runtime event. Payload carries the
// type-specific, JSON-encodable detail (for example a WorkerResult or a tool
// call name/args pair); subscribers decode it according to Type.
type Event struct {
	// Type discriminates the event.
	Type EventType
	// PlanID identifies the owning ExecutionPlan, empty for worker-registry
	// wide events.
	PlanID string
	// TaskID identifies the task this event is attributed to, when applicable.
	TaskID string
	// WorkerID identifies the worker this event is attributed to, when
	// applicable.
	WorkerID string
	// Payload is the canonical JSON-encoded event detail.
	Payload json.RawMessage
	// Timestamp is the event time.
	Timestamp time.Time
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}
