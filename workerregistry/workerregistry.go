// Package workerregistry tracks the set of live WorkerProcess handles, their
// capabilities, status, and capacity (spec §4.2 "WorkerRegistry").
package workerregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcode/orchestrator/telemetry"
)

type (
	// Status is a worker's lifecycle state (spec §3 "WorkerInfo").
	Status string

	// Handle is the shared, refcounted capability the registry hands out
	// for a live worker. Callers obtain one via Lookup (SelectIdle returns
	// the worker_id to look up) and use it to drive the worker; the registry remains the lifetime root
	// (spec §3 "Ownership").
	Handle interface {
		// Shutdown requests cooperative termination, escalating to a
		// forced kill after grace expires.
		Shutdown(ctx context.Context, grace time.Duration) error
	}

	// Info is the registry's public view of one worker (spec §3
	// "WorkerInfo").
	Info struct {
		WorkerID        string
		DisplayName     string
		Capabilities    map[string]bool
		Status          Status
		CurrentTaskID   string
		StartedAt       time.Time
		LastHeartbeatAt time.Time
		lastUsedAt      time.Time
	}

	entry struct {
		info   Info
		handle Handle
	}

	// Option configures a Registry at construction time.
	Option func(*Registry)

	// Registry maintains the set of live WorkerProcess handles. All state
	// changes happen behind a single mutex (spec §4.2 "Concurrency");
	// Snapshot returns an immutable copy safe for lock-free reads.
	Registry struct {
		mu                          sync.Mutex
		workers                     map[string]*entry
		heartbeatInterval           time.Duration
		heartbeatMissesUnresponsive int
		logger                      telemetry.Logger
		metrics                     telemetry.Metrics

		unresponsiveCh chan string
	}
)

const (
	Starting   Status = "Starting"
	Idle       Status = "Idle"
	Busy       Status = "Busy"
	Draining   Status = "Draining"
	Failed     Status = "Failed"
	Terminated Status = "Terminated"
)

// WithHeartbeat configures the expected heartbeat interval and the number of
// consecutive misses before a worker is declared unresponsive (spec §4.1).
func WithHeartbeat(interval time.Duration, missesBeforeUnresponsive int) Option {
	return func(r *Registry) {
		r.heartbeatInterval = interval
		r.heartbeatMissesUnresponsive = missesBeforeUnresponsive
	}
}

// WithLogger installs a structured logger; defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics installs a metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		workers:                     make(map[string]*entry),
		heartbeatInterval:           2 * time.Second,
		heartbeatMissesUnresponsive: 2,
		logger:                      telemetry.NoopLogger{},
		metrics:                     telemetry.NoopMetrics{},
		unresponsiveCh:              make(chan string, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts a new worker with a freshly assigned worker_id and
// returns it. Capability sets are immutable after registration (spec §4.2
// invariant).
func (r *Registry) Register(displayName string, capabilities []string, handle Handle) string {
	workerID := uuid.NewString()
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	r.mu.Lock()
	r.workers[workerID] = &entry{
		info: Info{
			WorkerID:     workerID,
			DisplayName:  displayName,
			Capabilities: caps,
			Status:       Starting,
			StartedAt:    time.Now(),
		},
		handle: handle,
	}
	r.mu.Unlock()
	r.metrics.IncCounter("workerregistry.registered", 1, "worker_id", workerID)
	return workerID
}

// Unregister removes workerID and returns its handle, or (nil, false) if
// not present. worker_ids are never reused in a single process lifetime
// (spec §4.2 invariant) — callers must not Register with a reused id.
func (r *Registry) Unregister(workerID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	delete(r.workers, workerID)
	return e.handle, true
}

// Lookup returns the handle for workerID if present.
func (r *Registry) Lookup(workerID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// SelectIdle returns an Idle worker whose capability set is a superset of
// requiredCapabilities, tie-broken by lowest last_used_at then by worker_id
// ascending for determinism (spec §4.2). Returns ("", false) if none match.
func (r *Registry) SelectIdle(requiredCapabilities []string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*entry
	for _, e := range r.workers {
		if e.info.Status != Idle {
			continue
		}
		if hasAll(e.info.Capabilities, requiredCapabilities) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].info, candidates[j].info
		if !a.lastUsedAt.Equal(b.lastUsedAt) {
			return a.lastUsedAt.Before(b.lastUsedAt)
		}
		return a.WorkerID < b.WorkerID
	})
	return candidates[0].info.WorkerID, true
}

// SelectIdleAndMarkBusy atomically selects an Idle worker the same way
// SelectIdle does and transitions it to Busy with taskID attached before
// releasing the lock, so two concurrent callers can never be handed the same
// worker_id (spec §4.2 invariant: "at most one task is associated with a Busy
// worker"). Returns ("", false) if none match.
func (r *Registry) SelectIdleAndMarkBusy(requiredCapabilities []string, taskID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*entry
	for _, e := range r.workers {
		if e.info.Status != Idle {
			continue
		}
		if hasAll(e.info.Capabilities, requiredCapabilities) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].info, candidates[j].info
		if !a.lastUsedAt.Equal(b.lastUsedAt) {
			return a.lastUsedAt.Before(b.lastUsedAt)
		}
		return a.WorkerID < b.WorkerID
	})
	chosen := candidates[0]
	chosen.info.Status = Busy
	chosen.info.CurrentTaskID = taskID
	return chosen.info.WorkerID, true
}

func hasAll(have map[string]bool, want []string) bool {
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

// Snapshot returns an immutable copy of every worker's Info.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// MarkIdle transitions workerID to Idle, clearing any current task and
// recording last_used_at for SelectIdle's tie-break (spec §4.1 lifecycle:
// "first heartbeat ⇒ Idle", "Result ⇒ Idle").
func (r *Registry) MarkIdle(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return
	}
	e.info.Status = Idle
	e.info.CurrentTaskID = ""
	e.info.lastUsedAt = time.Now()
}

// MarkBusy transitions workerID to Busy with the given task attached.
func (r *Registry) MarkBusy(workerID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return
	}
	e.info.Status = Busy
	e.info.CurrentTaskID = taskID
}

// MarkDraining transitions workerID to Draining (spec §3 lifecycle: entered
// on shutdown).
func (r *Registry) MarkDraining(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.workers[workerID]; ok {
		e.info.Status = Draining
	}
}

// MarkFailed transitions workerID to Failed, e.g. after an unresponsive or
// crashed worker is observed by the caller (the registry does not run its
// own heartbeat timer; ParallelExecutor/WorkerProcess observe heartbeats and
// report unresponsiveness here).
func (r *Registry) MarkFailed(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.workers[workerID]; ok {
		e.info.Status = Failed
	}
}

// MarkTerminated transitions workerID to Terminated, absorbing.
func (r *Registry) MarkTerminated(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.workers[workerID]; ok {
		e.info.Status = Terminated
	}
}

// RecordHeartbeat updates workerID's last_heartbeat_at, and transitions a
// Starting worker to Idle on its first heartbeat (spec §4.1).
func (r *Registry) RecordHeartbeat(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return
	}
	e.info.LastHeartbeatAt = time.Now()
	if e.info.Status == Starting {
		e.info.Status = Idle
		e.info.lastUsedAt = e.info.LastHeartbeatAt
	}
}

// ActivateAsBusy records a freshly spawned worker's first heartbeat and
// transitions it directly to Busy with taskID attached, atomically, so the
// worker is never visible to SelectIdle/SelectIdleAndMarkBusy in the window
// between its first heartbeat and its spawning driver claiming it.
func (r *Registry) ActivateAsBusy(workerID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[workerID]
	if !ok {
		return
	}
	now := time.Now()
	e.info.LastHeartbeatAt = now
	e.info.lastUsedAt = now
	e.info.Status = Busy
	e.info.CurrentTaskID = taskID
}

// UnresponsiveThreshold returns the duration after which a worker that has
// missed heartbeats is declared unresponsive (heartbeat_interval *
// (misses_before_unresponsive + 1), giving the worker a final interval to
// recover before the threshold trips).
func (r *Registry) UnresponsiveThreshold() time.Duration {
	return time.Duration(r.heartbeatMissesUnresponsive+1) * r.heartbeatInterval
}
