package analyzer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/analyzer"
	"github.com/fleetcode/orchestrator/query"
	"github.com/fleetcode/orchestrator/strategy"
)

type fixedBudget struct {
	toolCalls int
	wallTime  time.Duration
}

func (f fixedBudget) PlanBudget() (int, time.Duration) { return f.toolCalls, f.wallTime }

func TestAnalyzeSimpleQuerySingleWorker(t *testing.T) {
	lib := strategy.New()
	a := analyzer.New(lib, fixedBudget{toolCalls: 100, wallTime: time.Minute}, 12, 80, 240, 25, 30*time.Second)

	p, err := a.Analyze(query.Query{Text: "list public functions"}, analyzer.Hints{})
	require.NoError(t, err)
	require.Equal(t, query.Simple, p.Complexity)
	require.Len(t, p.Delegations, 1)
}

func TestAnalyzeRejectsOversizedPlan(t *testing.T) {
	lib := strategy.New()
	a := analyzer.New(lib, fixedBudget{toolCalls: 1, wallTime: time.Minute}, 12, 80, 240, 25, 30*time.Second)

	_, err := a.Analyze(query.Query{Text: "list public functions"}, analyzer.Hints{})
	require.Error(t, err)
}

func TestAnalyzeComplexQueryWithoutWorkspaceStillPlans(t *testing.T) {
	lib := strategy.New()
	a := analyzer.New(lib, fixedBudget{toolCalls: 1000, wallTime: time.Hour}, 12, 80, 240, 25, 30*time.Second)

	p, err := a.Analyze(query.Query{Text: "find security issues in auth module"}, analyzer.Hints{ForceComplexity: query.Complex})
	require.NoError(t, err)
	require.Equal(t, query.Complex, p.Complexity)
	require.NotEmpty(t, p.Delegations)
	for _, d := range p.Delegations {
		require.NotEmpty(t, d.Scope(), "a workspace-less Medium/Complex query must still get a non-empty scope")
	}
}

func TestAnalyzeAssignsTaskIDsInPlanOrder(t *testing.T) {
	lib := strategy.New()
	a := analyzer.New(lib, fixedBudget{toolCalls: 1000, wallTime: time.Hour}, 12, 80, 240, 25, 30*time.Second)

	p, err := a.Analyze(query.Query{Text: "find security issues across all modules in the entire codebase"}, analyzer.Hints{})
	require.NoError(t, err)
	for i, d := range p.Delegations {
		require.Equal(t, p.TaskID(i), d.ID())
	}
}
