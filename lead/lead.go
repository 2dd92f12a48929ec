// Package lead implements LeadAgent, the top-level coordinator driving a
// single query from analysis through synthesis (spec §4.9).
package lead

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetcode/orchestrator/analyzer"
	"github.com/fleetcode/orchestrator/governor"
	"github.com/fleetcode/orchestrator/orcherr"
	"github.com/fleetcode/orchestrator/parallelexec"
	"github.com/fleetcode/orchestrator/plan"
	"github.com/fleetcode/orchestrator/query"
	"github.com/fleetcode/orchestrator/result"
	"github.com/fleetcode/orchestrator/synth"
	"github.com/fleetcode/orchestrator/telemetry"
	"github.com/fleetcode/orchestrator/tracestore"
)

// State is one stage of a query's lifecycle (spec §4.9 "LeadAgent state
// machine").
type State string

const (
	StateAnalyzing    State = "Analyzing"
	StateAdmitted     State = "Admitted"
	StateExecuting    State = "Executing"
	StateSynthesizing State = "Synthesizing"
	StateDone         State = "Done"
	StateFailed       State = "Failed"
	StateCancelled    State = "Cancelled"
)

type (
	// Option configures a LeadAgent at construction time.
	Option func(*LeadAgent)

	// LeadAgent owns the full Analyzing -> Admitted -> Executing ->
	// Synthesizing -> Done|Failed|Cancelled lifecycle for every query it
	// runs (spec §4.9).
	LeadAgent struct {
		analyzer    *analyzer.Analyzer
		governor    *governor.Governor
		executor    *parallelexec.Executor
		synthesizer *synth.Synthesizer
		parsers     map[string]*synth.OutputParser // output_format -> parser
		store       tracestore.Store

		logger  telemetry.Logger
		metrics telemetry.Metrics

		mu     sync.Mutex
		states map[string]State // plan_id -> current state, retained for the query's lifetime
	}
)

// WithOutputParser registers the schema-validating parser for outputFormat.
// Plans whose strategy declares an unregistered output_format are parsed
// without schema validation (spec §4.8 "parsers missing an entry").
func WithOutputParser(outputFormat string, parser *synth.OutputParser) Option {
	return func(a *LeadAgent) { a.parsers[outputFormat] = parser }
}

// WithLogger installs a structured logger; defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(a *LeadAgent) { a.logger = l }
}

// WithMetrics installs a metrics sink; defaults to a no-op.
func WithMetrics(m telemetry.Metrics) Option {
	return func(a *LeadAgent) { a.metrics = m }
}

// New constructs a LeadAgent wiring together the four components that carry
// a query from intake to synthesized result.
func New(an *analyzer.Analyzer, gov *governor.Governor, exec *parallelexec.Executor, synthesizer *synth.Synthesizer, store tracestore.Store, opts ...Option) *LeadAgent {
	a := &LeadAgent{
		analyzer:    an,
		governor:    gov,
		executor:    exec,
		synthesizer: synthesizer,
		parsers:     make(map[string]*synth.OutputParser),
		store:       store,
		logger:      telemetry.NoopLogger{},
		metrics:     telemetry.NoopMetrics{},
		states:      make(map[string]State),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State reports the current lifecycle state of planID, if known.
func (a *LeadAgent) State(planID string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[planID]
	return s, ok
}

func (a *LeadAgent) setState(planID string, s State) {
	a.mu.Lock()
	a.states[planID] = s
	a.mu.Unlock()
	a.metrics.IncCounter("lead.state_transition", 1, "state", string(s))
}

// Run drives q through the full lifecycle, returning the SynthesizedResult.
// tenant identifies the caller's workspace for the Governor's optional
// per-tenant admission check; pass "" to skip it.
func (a *LeadAgent) Run(ctx context.Context, q query.Query, hints analyzer.Hints, tenant string) (*result.SynthesizedResult, error) {
	queryID := uuid.NewString()
	start := time.Now()

	p, err := a.analyzer.Analyze(q, hints)
	if err != nil {
		a.logger.Error(ctx, "analysis failed", "query_id", queryID, "err", err)
		return nil, fmt.Errorf("lead: analyze: %w", err)
	}
	a.setState(p.PlanID, StateAnalyzing)

	token, err := a.governor.Admit(ctx, p, tenant)
	if err != nil {
		a.setState(p.PlanID, StateFailed)
		a.logger.Warn(ctx, "plan rejected", "plan_id", p.PlanID, "err", err)
		return nil, err
	}
	defer a.governor.Release(token)
	a.setState(p.PlanID, StateAdmitted)

	a.setState(p.PlanID, StateExecuting)
	results, taskErrs := a.executor.Run(ctx, p)

	if ctx.Err() != nil {
		a.setState(p.PlanID, StateCancelled)
		a.appendTrace(context.Background(), q, p, results, taskErrs, start)
		return nil, fmt.Errorf("lead: %w", ctx.Err())
	}

	a.setState(p.PlanID, StateSynthesizing)
	resultsByTaskID := make(map[string]result.WorkerResult, len(results))
	for i, wr := range results {
		resultsByTaskID[p.TaskID(i)] = wr
	}
	parsers := a.parsersForPlan(p)
	synthesized := a.synthesizer.Synthesize(queryID, p.TaskIDs(), resultsByTaskID, parsers)

	a.appendTrace(context.Background(), q, p, results, taskErrs, start)
	a.setState(p.PlanID, StateDone)
	return &synthesized, nil
}

// parsersForPlan builds the per-task_id parser map every task in p should
// use: all tasks in a plan share one ExecutionStrategy, hence one
// output_format (spec §3).
func (a *LeadAgent) parsersForPlan(p *plan.ExecutionPlan) map[string]*synth.OutputParser {
	parser := a.parsers[p.OutputFormat]
	if parser == nil {
		return nil
	}
	out := make(map[string]*synth.OutputParser, len(p.Delegations))
	for i := range p.Delegations {
		out[p.TaskID(i)] = parser
	}
	return out
}

func (a *LeadAgent) appendTrace(ctx context.Context, q query.Query, p *plan.ExecutionPlan, results []result.WorkerResult, taskErrs map[string]error, start time.Time) {
	if a.store == nil {
		return
	}
	outcomes := make([]tracestore.Outcome, 0, len(results))
	for i, wr := range results {
		taskID := p.TaskID(i)
		kind := string(wr.Outcome)
		if err, ok := taskErrs[taskID]; ok {
			var oe *orcherr.Error
			if asOrcherr(err, &oe) {
				kind = string(oe.Kind)
			} else {
				kind = "transient"
			}
		}
		attempts := wr.Attempts
		if attempts < 1 {
			attempts = 1
		}
		outcomes = append(outcomes, tracestore.Outcome{TaskID: taskID, WorkerID: wr.WorkerID, Kind: kind, Attempts: attempts})
	}
	record := &tracestore.Record{
		PlanID:        p.PlanID,
		CreatedAt:     start,
		QueryTextHash: hashQueryText(q.Text),
		Complexity:    string(p.Complexity),
		TaskIDs:       p.TaskIDs(),
		Outcomes:      outcomes,
		Duration:      time.Since(start),
	}
	if err := a.store.Append(ctx, record); err != nil {
		a.logger.Error(ctx, "trace append failed", "plan_id", p.PlanID, "err", err)
	}
}

func asOrcherr(err error, target **orcherr.Error) bool {
	oe, ok := err.(*orcherr.Error)
	if ok {
		*target = oe
	}
	return ok
}

func hashQueryText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
