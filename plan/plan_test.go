package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/query"
)

func buildDelegation(t *testing.T, id string, maxToolCalls int) *delegation.TaskDelegation {
	t.Helper()
	d, err := delegation.Builder{
		ID:              id,
		Objective:       "scan module",
		Bounds:          delegation.Bounds{MaxToolCalls: maxToolCalls, Timeout: time.Second, MaxOutputBytes: 1024},
		AllowEmptyScope: true,
	}.Build()
	require.NoError(t, err)
	return d
}

func TestNewAssignsUniquePlanIDAndTaskIDs(t *testing.T) {
	d := buildDelegation(t, "pending:0", 5)
	p, err := plan.New(query.Simple, []*delegation.TaskDelegation{d}, plan.ResourceAllocation{MaxToolCalls: 10}, time.Now().Add(time.Minute), "fact_list.v1")
	require.NoError(t, err)
	require.NotEmpty(t, p.PlanID)
	require.Equal(t, p.PlanID+":0", p.TaskID(0))
	require.Equal(t, "fact_list.v1", p.OutputFormat)
}

func TestNewRejectsPlanExceedingToolCallBudget(t *testing.T) {
	d1 := buildDelegation(t, "pending:0", 8)
	d2 := buildDelegation(t, "pending:1", 8)
	_, err := plan.New(query.Medium, []*delegation.TaskDelegation{d1, d2}, plan.ResourceAllocation{MaxToolCalls: 10}, time.Now().Add(time.Minute), "finding_list.v1")
	require.Error(t, err)
}

func TestTaskIDsReflectsDeclaredOrder(t *testing.T) {
	d1 := buildDelegation(t, "pending:0", 5)
	d2 := buildDelegation(t, "pending:1", 5)
	p, err := plan.New(query.Medium, []*delegation.TaskDelegation{d1, d2}, plan.ResourceAllocation{MaxToolCalls: 10}, time.Now().Add(time.Minute), "finding_list.v1")
	require.NoError(t, err)
	require.Equal(t, []string{"pending:0", "pending:1"}, p.TaskIDs())
}
