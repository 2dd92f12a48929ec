// Package synth implements ResultSynthesizer, merging WorkerResults into a
// single SynthesizedResult (spec §4.8).
package synth

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fleetcode/orchestrator/result"
)

type (
	// Weights is the policy constant governing confidence combination
	// (spec §9 Open Question: "exact numeric weights... left as a policy
	// constant"). The only contract is ordering independence and the
	// [0,1] bound.
	Weights struct {
		// PerFindingWeight returns the weight of one finding's confidence
		// in the overall weighted mean, given the number of distinct
		// worker_ids attributed to it.
		PerFindingWeight func(distinctWorkers int) float64
	}

	// OutputParser extracts Findings and Recommendations from one worker's
	// raw Output, validated against the strategy's declared output_format
	// schema.
	OutputParser struct {
		schema *jsonschema.Schema
	}

	// Option configures a Synthesizer.
	Option func(*Synthesizer)

	// Synthesizer implements spec §4.8's merge algorithm.
	Synthesizer struct {
		weights           Weights
		coveragePartialMin float64
	}

	parsedOutput struct {
		Findings        []result.Finding        `json:"findings"`
		Recommendations []result.Recommendation `json:"recommendations"`
	}
)

// DefaultWeights weights each finding's confidence by its distinct-worker
// attribution count, matching spec.md's resolved Open Question (see
// DESIGN.md).
var DefaultWeights = Weights{
	PerFindingWeight: func(distinctWorkers int) float64 {
		if distinctWorkers < 1 {
			return 1
		}
		return float64(distinctWorkers)
	},
}

// WithWeights overrides the confidence-combination policy constant.
func WithWeights(w Weights) Option {
	return func(s *Synthesizer) { s.weights = w }
}

// WithCoveragePartialThreshold sets the minimum coverage below which a
// synthesis is marked PartialSuccess (spec §4.8, default from spec §6 is
// 0.5; callers typically pass config.Config.CoveragePartialThreshold).
func WithCoveragePartialThreshold(min float64) Option {
	return func(s *Synthesizer) { s.coveragePartialMin = min }
}

// New constructs a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{weights: DefaultWeights, coveragePartialMin: 0.5}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewOutputParser compiles schemaJSON (a JSON Schema document) for
// validating worker outputs of one output_format.
func NewOutputParser(schemaJSON []byte) (*OutputParser, error) {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, fmt.Errorf("synth: parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	const resourceName = "output_format.json"
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("synth: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("synth: compile schema: %w", err)
	}
	return &OutputParser{schema: schema}, nil
}

// Parse validates output against the parser's schema and decodes it into
// findings/recommendations. A schema validation failure is reported as an
// error so the caller can record the task as Failure("invalid_output")
// without aborting the rest of synthesis (spec §4.8).
func (p *OutputParser) Parse(output json.RawMessage) ([]result.Finding, []result.Recommendation, error) {
	var doc any
	if err := json.Unmarshal(output, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid_output: not valid JSON: %w", err)
	}
	if p.schema != nil {
		if err := p.schema.Validate(doc); err != nil {
			return nil, nil, fmt.Errorf("invalid_output: schema validation failed: %w", err)
		}
	}
	var parsed parsedOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, nil, fmt.Errorf("invalid_output: %w", err)
	}
	return parsed.Findings, parsed.Recommendations, nil
}

// Synthesize merges results into a SynthesizedResult. parsers maps a
// task_id to the OutputParser appropriate for that task's declared
// output_format; results missing an entry are parsed with no schema
// validation. The result is independent of the order of results (spec §4.8
// "Ordering independence").
func (s *Synthesizer) Synthesize(queryID string, taskOrder []string, results map[string]result.WorkerResult, parsers map[string]*OutputParser) result.SynthesizedResult {
	findingsBySubject := make(map[string]*result.Finding)
	var findingOrder []string

	type recKey struct{ action, target string }
	recsByKey := make(map[recKey]*result.Recommendation)
	var recOrder []recKey
	nextInsertionIndex := 0

	var failedTasks []result.FailedTask
	var sources []string
	successCount := 0

	for _, taskID := range taskOrder {
		wr, ok := results[taskID]
		if !ok {
			continue
		}
		sources = append(sources, wr.WorkerID)

		if wr.Outcome == result.Failure {
			failedTasks = append(failedTasks, result.FailedTask{TaskID: wr.TaskID, WorkerID: wr.WorkerID, Kind: wr.FailureReason})
			continue
		}

		parser := parsers[taskID]
		var findings []result.Finding
		var recs []result.Recommendation
		var err error
		if parser != nil {
			findings, recs, err = parser.Parse(wr.Output)
		} else {
			var po parsedOutput
			if e := json.Unmarshal(wr.Output, &po); e != nil {
				err = e
			} else {
				findings, recs = po.Findings, po.Recommendations
			}
		}
		if err != nil {
			failedTasks = append(failedTasks, result.FailedTask{TaskID: wr.TaskID, WorkerID: wr.WorkerID, Kind: "invalid_output"})
			continue
		}

		successCount++

		for _, f := range findings {
			if existing, ok := findingsBySubject[f.SubjectKey]; ok {
				existing.WorkerIDs = mergeWorkerIDs(existing.WorkerIDs, append([]string(nil), f.WorkerIDs...), wr.WorkerID)
				if f.Confidence > existing.Confidence {
					existing.Confidence = f.Confidence
				}
				continue
			}
			cp := f
			cp.WorkerIDs = mergeWorkerIDs(nil, append([]string(nil), f.WorkerIDs...), wr.WorkerID)
			findingsBySubject[f.SubjectKey] = &cp
			findingOrder = append(findingOrder, f.SubjectKey)
		}

		for _, r := range recs {
			key := recKey{action: r.Action, target: r.Target}
			if existing, ok := recsByKey[key]; ok {
				if r.Priority > existing.Priority {
					existing.Priority = r.Priority
				}
				continue
			}
			cp := r
			cp.InsertionIndex = nextInsertionIndex
			nextInsertionIndex++
			recsByKey[key] = &cp
			recOrder = append(recOrder, key)
		}
	}

	sort.Strings(findingOrder)
	findings := make([]result.Finding, 0, len(findingOrder))
	var totalWeight, weightedSum float64
	for _, key := range findingOrder {
		f := *findingsBySubject[key]
		sort.Strings(f.WorkerIDs)
		findings = append(findings, f)
		w := s.weights.PerFindingWeight(len(f.WorkerIDs))
		totalWeight += w
		weightedSum += w * f.Confidence
	}

	sort.SliceStable(recOrder, func(i, j int) bool {
		a, b := recsByKey[recOrder[i]], recsByKey[recOrder[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.InsertionIndex < b.InsertionIndex
	})
	recommendations := make([]result.Recommendation, 0, len(recOrder))
	for _, key := range recOrder {
		recommendations = append(recommendations, *recsByKey[key])
	}

	var confidence float64
	if totalWeight > 0 {
		confidence = weightedSum / totalWeight
	}
	confidence = clamp01(confidence)

	var coverage float64
	if len(taskOrder) > 0 {
		coverage = float64(successCount) / float64(len(taskOrder))
	}

	status := result.StatusComplete
	if coverage < s.coveragePartialMin {
		status = result.StatusPartial
	}

	sort.Strings(sources)
	sources = dedupeSorted(sources)

	return result.SynthesizedResult{
		QueryID:         queryID,
		Status:          status,
		Findings:        findings,
		Recommendations: recommendations,
		Confidence:      confidence,
		Coverage:        clamp01(coverage),
		Sources:         sources,
		FailedTasks:     failedTasks,
	}
}

func mergeWorkerIDs(existing, additional []string, plus string) []string {
	set := make(map[string]bool, len(existing)+len(additional)+1)
	var out []string
	add := func(id string) {
		if id == "" || set[id] {
			return
		}
		set[id] = true
		out = append(out, id)
	}
	for _, id := range existing {
		add(id)
	}
	for _, id := range additional {
		add(id)
	}
	add(plus)
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dedupeSorted(in []string) []string {
	out := in[:0]
	var prev string
	first := true
	for _, s := range in {
		if !first && s == prev {
			continue
		}
		out = append(out, s)
		prev = s
		first = false
	}
	return out
}
