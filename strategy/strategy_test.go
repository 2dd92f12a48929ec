package strategy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetcode/orchestrator/strategy"
)

func TestMatchQueryScenarioTwoChoosesBreadthFirstScan(t *testing.T) {
	lib := strategy.New()

	m := lib.MatchQuery("find security issues in auth module")
	require.Equal(t, strategy.BreadthFirstScan, m.Pattern)

	strat, ok := lib.StrategyFor(m.Pattern)
	require.True(t, ok)
	require.Len(t, strat.Templates, 3)
}

func TestMatchQueryFallsBackBelowMinConfidence(t *testing.T) {
	lib := strategy.New()

	m := lib.MatchQuery("hello")
	require.Equal(t, strategy.FactRetrieval, m.Pattern)
}

func TestMatchQueryIsDeterministic(t *testing.T) {
	lib := strategy.New()

	text := "why does the login handler fail, trace the root cause"
	first := lib.MatchQuery(text)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, lib.MatchQuery(text))
	}
}

func TestMatchQueryPrefersRefactorKeywords(t *testing.T) {
	lib := strategy.New()

	m := lib.MatchQuery("refactor the auth module and rename the client type")
	require.Equal(t, strategy.Refactor, m.Pattern)
}

func TestStrategyForUnknownTagReturnsFalse(t *testing.T) {
	lib := strategy.New()
	_, ok := lib.StrategyFor(strategy.PatternTag("unknown"))
	require.False(t, ok)
}

func TestRegisterOverridesStrategy(t *testing.T) {
	lib := strategy.New()
	lib.Register(strategy.ExecutionStrategy{
		PatternTag:   strategy.FactRetrieval,
		Templates:    []strategy.TaskTemplate{{Objective: "custom"}},
		OutputFormat: "custom.v1",
	})

	strat, ok := lib.StrategyFor(strategy.FactRetrieval)
	require.True(t, ok)
	require.Equal(t, "custom.v1", strat.OutputFormat)
	require.Len(t, strat.Templates, 1)
}
