// Package analyzer implements QueryAnalyzer, producing an ExecutionPlan from
// an incoming Query (spec §4.7).
package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fleetcode/orchestrator/delegation"
	"github.com/fleetcode/orchestrator/orcherr"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/query"
	"github.com/fleetcode/orchestrator/strategy"
)

type (
	// TentativeBudget is consulted to fail fast if a plan cannot possibly
	// fit (spec §4.7 step 4). Implemented by governor.Governor in
	// production; kept as a narrow interface here so this package does not
	// depend on governor's admission-queue machinery.
	TentativeBudget interface {
		// PlanBudget returns the plan-level tool-call and wall-time
		// budget available for a new plan.
		PlanBudget() (maxToolCalls int, maxWallTime time.Duration)
	}

	// Hints carries explicit caller-supplied signals that influence
	// complexity classification (spec §4.7 step 2: "a function of
	// strategy, query length, and explicit hints").
	Hints struct {
		ForceComplexity query.Complexity
	}

	// Option configures an Analyzer.
	Option func(*Analyzer)

	// Analyzer implements QueryAnalyzer.
	Analyzer struct {
		library               *strategy.Library
		budget                TentativeBudget
		maxFanout              int
		simpleMaxChars         int
		complexMinChars        int
		defaultMaxToolCalls    int
		defaultTimeout         time.Duration
		knownCapabilities      map[string]bool
	}
)

// WithKnownCapabilities installs the closed set of capability tags the
// Registry recognizes (spec §4.3 "Capability tags drawn from a closed set
// known to the Registry").
func WithKnownCapabilities(caps []string) Option {
	return func(a *Analyzer) {
		a.knownCapabilities = make(map[string]bool, len(caps))
		for _, c := range caps {
			a.knownCapabilities[c] = true
		}
	}
}

// New constructs an Analyzer backed by library and budget, applying bounds
// from the orchestrator's configuration table (spec §6).
func New(library *strategy.Library, budget TentativeBudget, maxFanout, simpleMaxChars, complexMinChars, defaultMaxToolCalls int, defaultTimeout time.Duration, opts ...Option) *Analyzer {
	a := &Analyzer{
		library:             library,
		budget:              budget,
		maxFanout:           maxFanout,
		simpleMaxChars:      simpleMaxChars,
		complexMinChars:     complexMinChars,
		defaultMaxToolCalls: defaultMaxToolCalls,
		defaultTimeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze produces an ExecutionPlan for q, following spec §4.7's five steps.
func (a *Analyzer) Analyze(q query.Query, hints Hints) (*plan.ExecutionPlan, error) {
	match := a.library.MatchQuery(q.Text)
	strat, ok := a.library.StrategyFor(match.Pattern)
	if !ok {
		return nil, fmt.Errorf("analyzer: no strategy registered for pattern %q", match.Pattern)
	}

	complexity := a.classify(q, strat, hints)
	profile := complexityProfile(complexity, len(strat.Templates), a.maxFanout)
	if err := profile.Validate(a.maxFanout); err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	templates := strat.Templates
	if len(templates) > profile.RecommendedWorkers {
		templates = templates[:profile.RecommendedWorkers]
	}

	maxToolCalls, maxWallTime := a.budget.PlanBudget()

	delegations := make([]*delegation.TaskDelegation, 0, len(templates))
	for i, tmpl := range templates {
		maxCalls := tmpl.DefaultMaxToolCalls
		if maxCalls <= 0 {
			maxCalls = a.defaultMaxToolCalls
		}
		timeout := time.Duration(tmpl.DefaultTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = a.defaultTimeout
		}

		d, err := delegation.Builder{
			ID:                   fmt.Sprintf("pending:%d", i), // rewritten to the real plan_id below
			Objective:            tmpl.Objective,
			Scope:                scopeFor(q, i),
			RequiredCapabilities: tmpl.RequiredCapabilities,
			Bounds: delegation.Bounds{
				MaxToolCalls:   maxCalls,
				Timeout:        timeout,
				MaxOutputBytes: 10 * 1024 * 1024,
			},
			Priority:            0,
			KnownCapabilities:   a.knownCapabilities,
			RequireCapabilities: complexity != query.Simple,
			AllowEmptyScope:     complexity == query.Simple,
			Retry: delegation.RetryPolicy{
				MaxAttempts: 2,
				OnKinds:     []string{string(orcherr.KindTransient), string(orcherr.KindUnresponsive), string(orcherr.KindNoSuitableWorker)},
			},
		}.Build()
		if err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}

	alloc := plan.ResourceAllocation{MaxToolCalls: maxToolCalls, MaxWallTime: maxWallTime}
	deadline := time.Now().Add(maxWallTime)
	p, err := plan.New(complexity, delegations, alloc, deadline, strat.OutputFormat)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w", err)
	}

	for i, d := range p.Delegations {
		rebuilt, rerr := rebuildWithID(d, p.TaskID(i))
		if rerr != nil {
			return nil, rerr
		}
		p.Delegations[i] = rebuilt
	}
	return p, nil
}

func (a *Analyzer) classify(q query.Query, strat strategy.ExecutionStrategy, hints Hints) query.Complexity {
	if hints.ForceComplexity != "" {
		return hints.ForceComplexity
	}
	n := len(q.Text)
	switch {
	case n <= a.simpleMaxChars && len(strat.Templates) <= 1:
		return query.Simple
	case n >= a.complexMinChars || len(strat.Templates) >= 4:
		return query.Complex
	default:
		return query.Medium
	}
}

func complexityProfile(c query.Complexity, templateCount, maxFanout int) query.ComplexityProfile {
	switch c {
	case query.Simple:
		return query.ComplexityProfile{Tag: query.Simple, RecommendedWorkers: 1}
	case query.Medium:
		w := clampInt(templateCount, 2, 4)
		return query.ComplexityProfile{Tag: query.Medium, RecommendedWorkers: w}
	default:
		w := clampInt(templateCount, 4, maxFanout)
		return query.ComplexityProfile{Tag: query.Complex, RecommendedWorkers: w}
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func rebuildWithID(d *delegation.TaskDelegation, id string) (*delegation.TaskDelegation, error) {
	return delegation.Builder{
		ID:                   id,
		Objective:            d.Objective(),
		Scope:                d.Scope(),
		Constraints:          d.Constraints(),
		RequiredCapabilities: d.RequiredCapabilities(),
		Bounds:               d.Bounds(),
		Priority:             d.Priority(),
		Retry:                d.Retry(),
		AllowEmptyScope:      true,
	}.Build()
}

// scopeFor binds query context into a template's scope (spec §4.7 step 3).
// The reference analyzer has no semantic scoping source of its own (that
// lives in the knowledge store, reached only via ToolBackend), so it scopes
// every task to the caller's workspace id when present. §3 makes workspace
// optional, so a workspace-less Medium/Complex query (which requires a
// non-empty scope) instead gets a scope derived from the query text itself,
// rather than failing to plan on an otherwise valid input.
func scopeFor(q query.Query, _ int) []string {
	if q.WorkspaceID != "" {
		return []string{q.WorkspaceID}
	}
	return []string{"query:" + queryScopeHash(q.Text)}
}

// queryScopeHash derives a stable scope identifier from query text, so two
// Analyze calls for the same workspace-less query produce the same scope.
func queryScopeHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
