// Package governor enforces the global, per-worker, and optional per-tenant
// resource limits admission control depends on (spec §4.4
// "ResourceGovernor").
package governor

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/orcherr"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/telemetry"
)

type (
	// Limits is the Governor's global and per-worker configuration
	// (spec §6 configuration table).
	Limits struct {
		MaxConcurrentWorkers  int
		MaxInFlightTasks      int
		MaxToolCallsPerPlan   int
		MaxWallTimePerPlan    time.Duration
		MaxToolCallsPerTask   int
		MaxOutputBytesPerTask int
	}

	// Token proves the Governor has reserved plan-level capacity. Must be
	// held for the plan's lifetime and released exactly once.
	Token struct {
		planID       string
		toolCalls    int
		workersAdded int
	}

	// Slot proves the Governor has reserved a single task's admission
	// capacity. Must be released exactly once.
	Slot struct {
		planID   string
		priority int
	}

	// TenantLimiter optionally enforces a per-tenant (workspace) sliding
	// window admission rate. A nil TenantLimiter disables the check.
	TenantLimiter interface {
		// Allow reports whether tenant may admit one more task right now.
		Allow(ctx context.Context, tenant string) bool
	}

	// Option configures a Governor at construction time.
	Option func(*Governor)

	waiter struct {
		priority  int
		seq       int
		readyCh   chan struct{}
		cancelled bool
	}

	// Governor enforces admission control and tracks live resource usage.
	Governor struct {
		limits Limits
		tenant TenantLimiter
		logger telemetry.Logger
		metrics telemetry.Metrics

		mu             sync.Mutex
		activeWorkers  int
		inFlightTasks  int
		planToolCalls  map[string]int
		waitQueue      *list.List // of *waiter, ordered by priority then FIFO
		waitSeq        int

		workerRate *rate.Limiter
	}
)

// WithTenantLimiter installs a per-tenant sliding window rate limiter.
func WithTenantLimiter(tl TenantLimiter) Option {
	return func(g *Governor) { g.tenant = tl }
}

// WithLogger installs a structured logger; defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// WithMetrics installs a metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// New constructs a Governor enforcing limits.
func New(limits Limits, opts ...Option) *Governor {
	g := &Governor{
		limits:        limits,
		logger:        telemetry.NoopLogger{},
		metrics:       telemetry.NoopMetrics{},
		planToolCalls: make(map[string]int),
		waitQueue:     list.New(),
		workerRate:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PlanBudget implements analyzer.TentativeBudget, reporting the plan-level
// tool-call and wall-time budget a new plan may request (spec §4.7 step 4:
// "Ask the Governor for a tentative plan-level budget").
func (g *Governor) PlanBudget() (maxToolCalls int, maxWallTime time.Duration) {
	return g.limits.MaxToolCallsPerPlan, g.limits.MaxWallTimePerPlan
}

// Admit reserves plan-level capacity for p, applying checks in the order
// stated in spec §4.4: tenant rate, plan tool-call budget, plan wall-time
// budget. The first failing rule is reported (spec §4.4 "Rejection is
// deterministic").
func (g *Governor) Admit(ctx context.Context, p *plan.ExecutionPlan, tenant string) (*Token, error) {
	if g.tenant != nil && tenant != "" && !g.tenant.Allow(ctx, tenant) {
		return nil, orcherr.Rejected(orcherr.ReasonRateLimited, "tenant admission rate exceeded")
	}

	var toolCalls int
	for _, d := range p.Delegations {
		toolCalls += d.Bounds().MaxToolCalls
	}
	if toolCalls > g.limits.MaxToolCallsPerPlan {
		return nil, orcherr.Rejected(orcherr.ReasonPlanTooLarge, "plan exceeds max tool calls per plan")
	}
	if g.limits.MaxWallTimePerPlan > 0 && p.ResourceAllocation.MaxWallTime > g.limits.MaxWallTimePerPlan {
		return nil, orcherr.Rejected(orcherr.ReasonPlanTooLarge, "plan exceeds max wall time per plan")
	}

	g.mu.Lock()
	g.planToolCalls[p.PlanID] = toolCalls
	g.mu.Unlock()

	g.metrics.IncCounter("governor.admitted", 1, "plan_id", p.PlanID)
	return &Token{planID: p.PlanID, toolCalls: toolCalls}, nil
}

// AllocateSlot reserves admission capacity for one task, blocking until a
// slot frees or ctx is cancelled. Queued tasks wait in priority order
// (higher priority first; FIFO within equal priority), per spec §4.4.
func (g *Governor) AllocateSlot(ctx context.Context, d *delegation.TaskDelegation) (*Slot, error) {
	g.mu.Lock()
	if g.inFlightTasks < g.limits.MaxInFlightTasks {
		g.inFlightTasks++
		g.mu.Unlock()
		return &Slot{priority: d.Priority()}, nil
	}

	g.waitSeq++
	w := &waiter{priority: d.Priority(), seq: g.waitSeq, readyCh: make(chan struct{})}
	elem := g.insertWaiterLocked(w)
	g.mu.Unlock()

	select {
	case <-w.readyCh:
		return &Slot{priority: d.Priority()}, nil
	case <-ctx.Done():
		g.mu.Lock()
		if !w.cancelled {
			g.waitQueue.Remove(elem)
			g.mu.Unlock()
			return nil, ctx.Err()
		}
		// ReleaseSlot already transferred a slot to us (closed readyCh)
		// concurrently with ctx being cancelled, and select may have taken
		// this branch anyway. We're declining the slot, so hand it off (or
		// return it to the free pool) exactly as ReleaseSlot would, instead
		// of leaving inFlightTasks permanently elevated.
		g.releaseSlotLocked()
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// insertWaiterLocked inserts w into the wait queue ordered by priority
// descending then sequence ascending. Callers must hold g.mu.
func (g *Governor) insertWaiterLocked(w *waiter) *list.Element {
	for e := g.waitQueue.Front(); e != nil; e = e.Next() {
		other := e.Value.(*waiter)
		if w.priority > other.priority {
			return g.waitQueue.InsertBefore(w, e)
		}
	}
	return g.waitQueue.PushBack(w)
}

// ReleaseSlot releases a task admission slot, waking the next queued waiter
// if any. Idempotent against a nil slot.
func (g *Governor) ReleaseSlot(s *Slot) {
	if s == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseSlotLocked()
}

// releaseSlotLocked hands off one admission slot to the next queued waiter,
// or returns it to the free pool if the queue is empty. Callers must hold
// g.mu.
func (g *Governor) releaseSlotLocked() {
	if front := g.waitQueue.Front(); front != nil {
		w := front.Value.(*waiter)
		g.waitQueue.Remove(front)
		w.cancelled = true
		close(w.readyCh)
		return
	}
	if g.inFlightTasks > 0 {
		g.inFlightTasks--
	}
}

// Release releases a plan-level admission token, returning Governor
// counters toward their pre-admission values. Idempotent.
func (g *Governor) Release(t *Token) {
	if t == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.planToolCalls, t.planID)
	if t.workersAdded > 0 {
		g.activeWorkers -= t.workersAdded
		if g.activeWorkers < 0 {
			g.activeWorkers = 0
		}
	}
}

// ReserveWorker accounts for a newly spawned worker against
// MaxConcurrentWorkers, returning false if the cap is already reached.
func (g *Governor) ReserveWorker() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeWorkers >= g.limits.MaxConcurrentWorkers {
		return false
	}
	g.activeWorkers++
	return true
}

// ReleaseWorker returns one unit of worker capacity.
func (g *Governor) ReleaseWorker() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeWorkers > 0 {
		g.activeWorkers--
	}
}

// ActiveWorkers returns the current count of capacity-reserved workers.
func (g *Governor) ActiveWorkers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeWorkers
}

// InFlightTasks returns the current count of admitted, unreleased task
// slots.
func (g *Governor) InFlightTasks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlightTasks
}
