// Package strategy provides the read-mostly catalogue mapping query pattern
// tags to execution strategies (spec §4.6 "StrategyLibrary").
package strategy

import (
	"sort"
	"strings"
	"sync"
)

type (
	// PatternTag identifies a recognized query shape.
	PatternTag string

	// TaskTemplate is one task slot within an ExecutionStrategy: a text
	// objective with required capability tags and default bounds.
	TaskTemplate struct {
		// Objective is the template's text objective; may reference query
		// context via the caller's own binding step (spec §4.7 step 3).
		Objective string
		// RequiredCapabilities is the set of capability tags a worker must
		// advertise to run this template.
		RequiredCapabilities []string
		// DefaultMaxToolCalls and DefaultTimeoutSeconds seed the template's
		// delegation bounds; callers may override either at binding time.
		DefaultMaxToolCalls   int
		DefaultTimeoutSeconds int
	}

	// ExecutionStrategy is an ordered recipe for answering a recognized
	// query pattern (spec §3 "ExecutionStrategy").
	ExecutionStrategy struct {
		PatternTag PatternTag
		Templates  []TaskTemplate
		// OutputFormat names the JSON schema (resolved by the synthesizer)
		// that worker outputs for this strategy must satisfy.
		OutputFormat string
		// SuccessCriteria is a human-readable description of what counts as
		// a successful run of this strategy; recorded for audit only.
		SuccessCriteria string
	}

	// Match is the result of classifying a query's text against the
	// library's catalogue.
	Match struct {
		Pattern    PatternTag
		Confidence float64
	}

	// Library is a deterministic, read-mostly catalogue of
	// pattern_tag -> ExecutionStrategy.
	Library struct {
		mu         sync.RWMutex
		strategies map[PatternTag]ExecutionStrategy
		defaultTag PatternTag
	}
)

const (
	BreadthFirstScan  PatternTag = "BreadthFirstScan"
	DepthFirstAnalyze PatternTag = "DepthFirstAnalysis"
	FactRetrieval     PatternTag = "FactRetrieval"
	Refactor          PatternTag = "Refactor"
)

// minConfidence is the threshold below which match_query falls back to the
// library's default pattern (spec §4.7 step 1).
const minConfidence = 0.35

// New constructs a Library seeded with the built-in pattern catalogue.
// Callers may add or override strategies via Register.
func New() *Library {
	l := &Library{
		strategies: make(map[PatternTag]ExecutionStrategy),
		defaultTag: FactRetrieval,
	}
	for _, s := range defaultStrategies() {
		l.strategies[s.PatternTag] = s
	}
	return l
}

// Register inserts or replaces the strategy for s.PatternTag.
func (l *Library) Register(s ExecutionStrategy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strategies[s.PatternTag] = s
}

// StrategyFor returns the strategy registered for tag, and whether one was
// found.
func (l *Library) StrategyFor(tag PatternTag) (ExecutionStrategy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.strategies[tag]
	return s, ok
}

// MatchQuery classifies text using deterministic heuristics over its shape:
// length, keyword presence, explicit verbs, and structural markers. Given
// identical text and identical library state, MatchQuery returns the same
// result on every host (spec §4.6 "Determinism").
func (l *Library) MatchQuery(text string) Match {
	lower := strings.ToLower(text)

	type score struct {
		tag   PatternTag
		score float64
	}
	var scores []score

	addIfAny := func(tag PatternTag, weight float64, keywords ...string) {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits == 0 {
			return
		}
		// Confidence scales with weight and saturates with additional hits
		// within the category (diminishing returns), rather than being
		// diluted by how many keywords the category happens to list: a
		// single strong keyword match ("security issues") is already a
		// confident signal and must not score lower just because its
		// category's keyword list is longer than another's (spec §8
		// scenario 2: "find security issues in auth module" must resolve to
		// BreadthFirstScan, not fall back to FactRetrieval on low
		// confidence).
		s := weight * (1.0 - 1.0/float64(hits+1))
		scores = append(scores, score{tag: tag, score: s})
	}

	addIfAny(Refactor, 1.0, "refactor", "rename", "extract", "migrate")
	addIfAny(FactRetrieval, 0.9, "list", "what is", "where is", "find the", "show me")
	addIfAny(DepthFirstAnalyze, 0.85, "why does", "trace", "root cause", "debug", "analyze")
	addIfAny(BreadthFirstScan, 0.8, "across", "all modules", "entire codebase", "security issues", "audit")

	if len(scores) == 0 {
		return Match{Pattern: l.defaultTag, Confidence: 0}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].tag < scores[j].tag
	})

	best := scores[0]
	if best.score < minConfidence {
		return Match{Pattern: l.defaultTag, Confidence: best.score}
	}
	return Match{Pattern: best.tag, Confidence: best.score}
}

func defaultStrategies() []ExecutionStrategy {
	return []ExecutionStrategy{
		{
			PatternTag: FactRetrieval,
			Templates: []TaskTemplate{
				{
					Objective:             "Answer the query directly using read-only lookups.",
					RequiredCapabilities:  nil,
					DefaultMaxToolCalls:   5,
					DefaultTimeoutSeconds: 30,
				},
			},
			OutputFormat:    "fact_list.v1",
			SuccessCriteria: "at least one finding with confidence >= 0.5",
		},
		{
			PatternTag: DepthFirstAnalyze,
			Templates: []TaskTemplate{
				{
					Objective:             "Trace the primary code path relevant to the query.",
					RequiredCapabilities:  []string{"code-analysis"},
					DefaultMaxToolCalls:   15,
					DefaultTimeoutSeconds: 90,
				},
				{
					Objective:             "Identify root-cause candidates and supporting evidence.",
					RequiredCapabilities:  []string{"code-analysis"},
					DefaultMaxToolCalls:   15,
					DefaultTimeoutSeconds: 90,
				},
			},
			OutputFormat:    "analysis_report.v1",
			SuccessCriteria: "root cause identified with at least one supporting finding",
		},
		{
			PatternTag: BreadthFirstScan,
			Templates: []TaskTemplate{
				{
					Objective:             "Scan partition 1 of the codebase for the requested condition.",
					RequiredCapabilities:  []string{"code-review"},
					DefaultMaxToolCalls:   20,
					DefaultTimeoutSeconds: 120,
				},
				{
					Objective:             "Scan partition 2 of the codebase for the requested condition.",
					RequiredCapabilities:  []string{"code-review"},
					DefaultMaxToolCalls:   20,
					DefaultTimeoutSeconds: 120,
				},
				{
					Objective:             "Scan partition 3 of the codebase for the requested condition.",
					RequiredCapabilities:  []string{"code-review"},
					DefaultMaxToolCalls:   20,
					DefaultTimeoutSeconds: 120,
				},
			},
			OutputFormat:    "finding_list.v1",
			SuccessCriteria: "coverage across all partitions >= configured minimum",
		},
		{
			PatternTag: Refactor,
			Templates: []TaskTemplate{
				{
					Objective:             "Propose a refactor plan for the requested scope.",
					RequiredCapabilities:  []string{"refactoring"},
					DefaultMaxToolCalls:   25,
					DefaultTimeoutSeconds: 150,
				},
				{
					Objective:             "Validate the proposed refactor against existing tests.",
					RequiredCapabilities:  []string{"testing"},
					DefaultMaxToolCalls:   25,
					DefaultTimeoutSeconds: 150,
				},
			},
			OutputFormat:    "recommendation_list.v1",
			SuccessCriteria: "at least one actionable recommendation",
		},
	}
}
