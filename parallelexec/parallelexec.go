// Package parallelexec implements ParallelExecutor, running an
// ExecutionPlan's delegations concurrently with cancellation and
// backpressure (spec §4.5).
package parallelexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fleetcode/orchestrator/channel"
	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/governor"
	"github.com/fleetcode/orchestrator/orcherr"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/result"
	"github.com/fleetcode/orchestrator/taskengine"
	"github.com/fleetcode/orchestrator/telemetry"
	"github.com/fleetcode/orchestrator/toolbackend"
	"github.com/fleetcode/orchestrator/worker"
	"github.com/fleetcode/orchestrator/workerregistry"
)

// dispatchActivityName is the taskengine activity name a task driver's
// dispatch attempt runs under when an Engine is configured.
const dispatchActivityName = "parallelexec.dispatch_task"

// dispatchInput is the payload for one dispatch-attempt activity
// invocation. TaskDelegation's fields are unexported, so the delegation
// travels as its canonical bytes (delegation.Canonical) rather than the Go
// value itself — this is what lets the payload survive an engine that
// serializes activity input over the wire (taskengine/temporal's JSON data
// converter), not just an in-process one (taskengine/inmem).
type dispatchInput struct {
	TaskID     string
	Delegation []byte
}

type (
	// SpawnFunc launches a fresh worker advertising requiredCapabilities
	// and returns its Process handle, registering it with the registry.
	// Implementations typically wrap worker.Spawn plus
	// workerregistry.Registry.Register.
	SpawnFunc func(ctx context.Context, requiredCapabilities []string) (workerID string, proc *worker.Process, err error)

	// Option configures an Executor at construction time.
	Option func(*Executor)

	// Executor runs ExecutionPlans end to end (spec §4.5 "ParallelExecutor").
	Executor struct {
		registry *workerregistry.Registry
		governor *governor.Governor
		backend  toolbackend.Backend
		spawn    SpawnFunc
		engine   taskengine.Engine

		gracePeriod time.Duration
		selectPoll  time.Duration

		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu       sync.Mutex
		workers  map[string]*worker.Process
		progress map[string]string // task_id -> most recent Progress text
	}

	// taskOutcome pairs a task_id with its terminal WorkerResult or error,
	// the unit this package returns in declared task order (spec §4.5
	// "Output").
	taskOutcome struct {
		taskID string
		res    result.WorkerResult
		err    error
	}
)

// WithGracePeriod sets how long a deadline-expired task waits for
// cooperative termination before Shutdown is escalated (spec §4.5 step 6,
// default from spec §6 is 10s).
func WithGracePeriod(d time.Duration) Option {
	return func(e *Executor) { e.gracePeriod = d }
}

// WithSelectPollInterval sets how often a task driver retries worker
// selection while waiting for capacity (spec §4.5 step 2 "if the cap is
// hit, wait").
func WithSelectPollInterval(d time.Duration) Option {
	return func(e *Executor) { e.selectPoll = d }
}

// WithLogger installs a structured logger; defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics installs a metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithEngine routes every task driver's dispatch attempt through eng as a
// named activity instead of running it directly in-process. Left unset (the
// default), attemptTask runs as a plain method call.
func WithEngine(eng taskengine.Engine) Option {
	return func(e *Executor) { e.engine = eng }
}

// New constructs an Executor backed by registry, gov, backend, and spawn.
func New(registry *workerregistry.Registry, gov *governor.Governor, backend toolbackend.Backend, spawn SpawnFunc, opts ...Option) *Executor {
	e := &Executor{
		registry:    registry,
		governor:    gov,
		backend:     backend,
		spawn:       spawn,
		gracePeriod: 10 * time.Second,
		selectPoll:  25 * time.Millisecond,
		logger:      telemetry.NoopLogger{},
		metrics:     telemetry.NoopMetrics{},
		workers:     make(map[string]*worker.Process),
		progress:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.engine != nil {
		_ = e.engine.RegisterActivity(context.Background(), taskengine.ActivityDefinition{
			Name:    dispatchActivityName,
			Handler: e.dispatchActivity,
		})
	}
	return e
}

// dispatchActivity adapts attemptTask to taskengine.ActivityFunc.
func (e *Executor) dispatchActivity(ctx context.Context, input any) (any, error) {
	in, ok := input.(dispatchInput)
	if !ok {
		return nil, fmt.Errorf("parallelexec: unexpected dispatch activity input %T", input)
	}
	d, err := delegation.FromCanonical(in.Delegation)
	if err != nil {
		return nil, fmt.Errorf("parallelexec: decode dispatched delegation: %w", err)
	}
	return e.attemptTask(ctx, in.TaskID, d)
}

// Progress returns the most recently observed Progress event text for
// taskID, if any (spec §4.5 step 4 "Progress events update the caller-
// visible status").
func (e *Executor) Progress(taskID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.progress[taskID]
	return p, ok
}

// Run executes p's delegations concurrently — one task driver per
// delegation, each an independent goroutine that may suspend at the
// explicit points listed in spec §4.5/§5. Results are returned in the
// plan's declared task order regardless of completion order (spec §4.5
// "Ordering guarantees").
func (e *Executor) Run(ctx context.Context, p *plan.ExecutionPlan) ([]result.WorkerResult, map[string]error) {
	n := len(p.Delegations)
	outcomes := make(chan taskOutcome, n)

	runCtx, cancel := context.WithDeadline(ctx, p.Deadline)
	defer cancel()

	var wg sync.WaitGroup
	for i, d := range p.Delegations {
		wg.Add(1)
		go func(taskID string, d *delegation.TaskDelegation) {
			defer wg.Done()
			res, err := e.driveTask(runCtx, taskID, d)
			outcomes <- taskOutcome{taskID: taskID, res: res, err: err}
		}(p.TaskID(i), d)
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	byTaskID := make(map[string]taskOutcome, n)
	for o := range outcomes {
		byTaskID[o.taskID] = o
	}

	results := make([]result.WorkerResult, n)
	errs := make(map[string]error)
	for i := range p.Delegations {
		taskID := p.TaskID(i)
		o := byTaskID[taskID]
		results[i] = o.res
		if o.err != nil {
			errs[taskID] = o.err
		}
	}
	return results, errs
}

// driveTask is one task driver: it owns the full lifecycle of a single
// delegation from admission through terminal result, including retries
// (spec §4.5, §4.7 "Retry policy").
func (e *Executor) driveTask(ctx context.Context, taskID string, d *delegation.TaskDelegation) (result.WorkerResult, error) {
	attempt := 0
	for {
		attempt++
		res, err := e.runAttempt(ctx, taskID, d)
		res.Attempts = attempt
		if err == nil {
			return res, nil
		}

		var oe *orcherr.Error
		retryable := false
		if asOrcherr(err, &oe) {
			retryable = orcherr.IsRetryable(oe.Kind) && containsKind(d.Retry().OnKinds, string(oe.Kind))
		}
		if !retryable || attempt >= d.Retry().MaxAttempts {
			return res, err
		}
		e.logger.Warn(ctx, "retrying task", "task_id", taskID, "attempt", attempt, "err", err)
	}
}

func asOrcherr(err error, target **orcherr.Error) bool {
	oe, ok := err.(*orcherr.Error)
	if ok {
		*target = oe
	}
	return ok
}

func containsKind(kinds []string, k string) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// runAttempt dispatches one attempt directly in-process, or via e.engine
// when one is configured (WithEngine).
func (e *Executor) runAttempt(ctx context.Context, taskID string, d *delegation.TaskDelegation) (result.WorkerResult, error) {
	if e.engine == nil {
		return e.attemptTask(ctx, taskID, d)
	}

	out, err := e.engine.ExecuteActivity(ctx, taskengine.ActivityRequest{
		Name:    dispatchActivityName,
		Input:   dispatchInput{TaskID: taskID, Delegation: d.Canonical()},
		Timeout: d.Bounds().Timeout,
	})
	res, ok := out.(result.WorkerResult)
	if !ok {
		res = result.WorkerResult{TaskID: taskID, Outcome: result.Failure, FailureReason: "process_exit"}
	}
	return res, err
}

// attemptTask runs a single dispatch attempt of d: acquire a slot, select
// or spawn a worker, dispatch, then drive next_event until terminal.
func (e *Executor) attemptTask(ctx context.Context, taskID string, d *delegation.TaskDelegation) (result.WorkerResult, error) {
	slot, err := e.governor.AllocateSlot(ctx, d)
	if err != nil {
		return result.WorkerResult{TaskID: taskID, Outcome: result.Failure, FailureReason: "cancelled"},
			orcherr.ForTask(taskID, orcherr.KindCancelled, "allocate slot: "+err.Error())
	}
	defer e.governor.ReleaseSlot(slot)

	workerID, proc, err := e.selectOrSpawnWorker(ctx, taskID, d.RequiredCapabilities())
	if err != nil {
		return result.WorkerResult{TaskID: taskID, Outcome: result.Failure, FailureReason: "no_suitable_worker"},
			orcherr.ForTask(taskID, orcherr.KindNoSuitableWorker, err.Error())
	}

	if err := proc.Dispatch(ctx, taskID, d); err != nil {
		e.registry.MarkFailed(workerID)
		return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "process_exit"},
			orcherr.ForTask(taskID, orcherr.KindTransient, "dispatch failed: "+err.Error())
	}

	start := time.Now()
	res, err := e.driveWorkerEvents(ctx, taskID, workerID, proc, d, start)
	return res, err
}

// driveWorkerEvents loops on next_event until Result, Terminated, deadline,
// or the worker goes unresponsive, forwarding ToolCall events to the
// ToolBackend and applying bounds (spec §4.5 step 4).
func (e *Executor) driveWorkerEvents(ctx context.Context, taskID, workerID string, proc *worker.Process, d *delegation.TaskDelegation, start time.Time) (result.WorkerResult, error) {
	toolCallsUsed := 0
	deadline := start.Add(d.Bounds().Timeout)
	// A worker that sends no heartbeat for the registry's unresponsive
	// threshold fails the task as unresponsive.
	threshold := e.registry.UnresponsiveThreshold()
	lastHeartbeat := start

	for {
		waitUntil := deadline
		if silent := lastHeartbeat.Add(threshold); threshold > 0 && silent.Before(waitUntil) {
			waitUntil = silent
		}
		evt, err := proc.NextEvent(ctx, waitUntil)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelTask(ctx, taskID, workerID, proc)
			}
			// deadline exceeded or channel error: treat as timeout if the
			// wall clock is past deadline, as unresponsive if the heartbeat
			// wait ran out, else a transient channel fault.
			if time.Now().After(deadline) {
				return e.timeoutTask(taskID, workerID, proc)
			}
			if waitUntil.Before(deadline) && !time.Now().Before(waitUntil) {
				e.registry.MarkFailed(workerID)
				return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "unresponsive"},
					orcherr.ForTask(taskID, orcherr.KindUnresponsive, "no heartbeat within "+threshold.String())
			}
			e.registry.MarkFailed(workerID)
			return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "process_exit"},
				orcherr.ForTask(taskID, orcherr.KindTransient, "channel error: "+err.Error())
		}

		switch evt.Kind {
		case channel.EventHeartbeat:
			e.registry.RecordHeartbeat(workerID)
			lastHeartbeat = time.Now()

		case channel.EventProgress:
			e.mu.Lock()
			e.progress[taskID] = evt.Text
			e.mu.Unlock()

		case channel.EventToolCall:
			if toolCallsUsed >= d.Bounds().MaxToolCalls {
				_ = proc.Send(ctx, channel.Envelope{
					Kind:    channel.EnvelopeToolResult,
					CallID:  evt.CallID,
					Payload: errorPayload("max_tool_calls exceeded"),
				})
				continue
			}
			toolCallsUsed++
			toolDeadline := deadline
			res, ierr := e.backend.Invoke(ctx, evt.Name, evt.Args, toolDeadline)
			payload := toolResultPayload(res, ierr, d.Bounds().MaxOutputBytes)
			if sendErr := proc.Send(ctx, channel.Envelope{Kind: channel.EnvelopeToolResult, CallID: evt.CallID, Payload: payload}); sendErr != nil {
				e.registry.MarkFailed(workerID)
				return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "process_exit"},
					orcherr.ForTask(taskID, orcherr.KindTransient, "channel error: "+sendErr.Error())
			}

		case channel.EventResult:
			if len(evt.Output) > d.Bounds().MaxOutputBytes {
				e.registry.MarkIdle(workerID)
				return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "protocol_error"},
					orcherr.ForTask(taskID, orcherr.KindProtocolError, "output exceeds max_output_bytes")
			}
			e.registry.MarkIdle(workerID)
			return result.WorkerResult{
				TaskID:        taskID,
				WorkerID:      workerID,
				Outcome:       result.Outcome(evt.Outcome),
				Output:        evt.Output,
				Duration:      time.Since(start),
				ToolCallsUsed: evt.Counters.ToolCallsUsed,
				TokensUsed:    evt.Counters.TokensUsed,
				CostUnits:     evt.Counters.CostUnits,
			}, nil

		case channel.EventTerminated:
			e.registry.MarkFailed(workerID)
			return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "process_exit"},
				orcherr.ForTask(taskID, orcherr.KindTransient, "worker terminated: "+evt.Reason)
		}
	}
}

// cancelTask implements spec §4.5 step 6's cancellation path: send a cancel
// envelope, wait up to the grace period for cooperative termination, then
// escalate to shutdown.
func (e *Executor) cancelTask(ctx context.Context, taskID, workerID string, proc *worker.Process) (result.WorkerResult, error) {
	graceCtx, cancel := context.WithTimeout(context.Background(), e.gracePeriod)
	defer cancel()
	_ = proc.Send(graceCtx, channel.Envelope{Kind: channel.EnvelopeCancel})

	evt, err := proc.NextEvent(graceCtx, time.Now().Add(e.gracePeriod))
	if err == nil && evt.Kind == channel.EventResult {
		e.registry.MarkIdle(workerID)
		return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.PartialSuccess, Output: evt.Output}, nil
	}

	_ = proc.Shutdown(graceCtx, e.gracePeriod)
	e.registry.MarkFailed(workerID)
	return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "cancelled"},
		orcherr.ForTask(taskID, orcherr.KindCancelled, "plan cancelled")
}

// timeoutTask handles a task or plan deadline expiry (spec §7 "Timeout").
func (e *Executor) timeoutTask(taskID, workerID string, proc *worker.Process) (result.WorkerResult, error) {
	graceCtx, cancel := context.WithTimeout(context.Background(), e.gracePeriod)
	defer cancel()
	_ = proc.Send(graceCtx, channel.Envelope{Kind: channel.EnvelopeCancel})
	_ = proc.Shutdown(graceCtx, e.gracePeriod)
	e.registry.MarkFailed(workerID)
	return result.WorkerResult{TaskID: taskID, WorkerID: workerID, Outcome: result.Failure, FailureReason: "timeout"},
		orcherr.ForTask(taskID, orcherr.KindTimeout, "task deadline expired")
}

// selectOrSpawnWorker selects an Idle worker matching capabilities,
// spawning one if none exists and capacity allows, else waiting (spec §4.5
// step 2). Selection and the Idle->Busy transition happen atomically in the
// registry (SelectIdleAndMarkBusy / ActivateAsBusy) so two concurrent task
// drivers can never be handed the same worker_id (spec §4.2 invariant: "at
// most one task is associated with a Busy worker").
func (e *Executor) selectOrSpawnWorker(ctx context.Context, taskID string, capabilities []string) (string, *worker.Process, error) {
	for {
		if id, ok := e.registry.SelectIdleAndMarkBusy(capabilities, taskID); ok {
			e.mu.Lock()
			proc := e.workers[id]
			e.mu.Unlock()
			if proc != nil {
				return id, proc, nil
			}
			// proc bookkeeping lost a race with registration; release the
			// claim and keep looking.
			e.registry.MarkIdle(id)
		}

		if e.governor.ReserveWorker() {
			id, proc, err := e.spawn(ctx, capabilities)
			if err != nil {
				e.governor.ReleaseWorker()
				return "", nil, fmt.Errorf("spawn worker: %w", err)
			}
			e.mu.Lock()
			e.workers[id] = proc
			e.mu.Unlock()

			// Wait for the worker's first heartbeat (Starting -> Idle)
			// before handing it back for dispatch, then claim it as Busy in
			// the same registry call so no concurrent selector ever observes
			// it as Idle.
			if _, err := proc.NextEvent(ctx, time.Now().Add(e.gracePeriod)); err != nil {
				return "", nil, fmt.Errorf("wait for first heartbeat: %w", err)
			}
			e.registry.ActivateAsBusy(id, taskID)
			return id, proc, nil
		}

		select {
		case <-time.After(e.selectPoll):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
}

func errorPayload(message string) json.RawMessage {
	out, _ := json.Marshal(struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}{Error: struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{Kind: "limit_exceeded", Message: message}})
	return out
}

func toolResultPayload(res toolbackend.Result, err error, maxOutputBytes int) json.RawMessage {
	if err != nil {
		return errorPayload(err.Error())
	}
	if res.Err != nil {
		out, _ := json.Marshal(struct {
			Error toolbackend.Error `json:"error"`
		}{Error: *res.Err})
		return out
	}
	if len(res.OK) > maxOutputBytes {
		return errorPayload("tool output exceeds max_output_bytes")
	}
	out, _ := json.Marshal(struct {
		OK json.RawMessage `json:"ok"`
	}{OK: res.OK})
	return out
}
