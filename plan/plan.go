// Package plan defines ExecutionPlan, the ordered set of TaskDelegations
// produced from a single query (spec §3 "ExecutionPlan").
package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/query"
)

type (
	// ResourceAllocation is the tentative plan-level budget reserved by the
	// Governor at analysis time (spec §4.7 step 4).
	ResourceAllocation struct {
		MaxToolCalls int
		MaxWallTime  time.Duration
	}

	// ExecutionPlan is the immutable output of the QueryAnalyzer: an
	// ordered set of delegations plus the budget and deadline they must
	// run within.
	ExecutionPlan struct {
		PlanID             string
		Complexity         query.Complexity
		Delegations        []*delegation.TaskDelegation
		ResourceAllocation ResourceAllocation
		Deadline           time.Time
		// OutputFormat names the JSON schema every task in this plan's
		// output must satisfy, as declared by the matched ExecutionStrategy
		// (spec §3 "ExecutionStrategy.output_format"). All tasks in a single
		// plan share one strategy, so one name covers the whole plan.
		OutputFormat string
	}
)

// New constructs an ExecutionPlan with a fresh plan_id, validating the
// invariant that the sum of per-task max_tool_calls does not exceed the
// plan's resource allocation (spec §3 invariant).
func New(complexity query.Complexity, delegations []*delegation.TaskDelegation, alloc ResourceAllocation, deadline time.Time, outputFormat string) (*ExecutionPlan, error) {
	var total int
	for _, d := range delegations {
		total += d.Bounds().MaxToolCalls
	}
	if total > alloc.MaxToolCalls {
		return nil, fmt.Errorf("plan too large: declared tasks require %d tool calls, budget allows %d", total, alloc.MaxToolCalls)
	}
	return &ExecutionPlan{
		PlanID:             uuid.NewString(),
		Complexity:         complexity,
		Delegations:        delegations,
		ResourceAllocation: alloc,
		Deadline:           deadline,
		OutputFormat:       outputFormat,
	}, nil
}

// TaskID returns the deterministic task id for the delegation at index i
// within this plan (spec §4.7 step 5: "{plan_id}:{template_index}").
func (p *ExecutionPlan) TaskID(i int) string {
	return fmt.Sprintf("%s:%d", p.PlanID, i)
}

// TaskIDs returns the plan's declared task order as task ids.
func (p *ExecutionPlan) TaskIDs() []string {
	ids := make([]string, len(p.Delegations))
	for i, d := range p.Delegations {
		ids[i] = d.ID()
	}
	return ids
}
