// Package result defines the shapes that flow out of a single task
// (WorkerResult) and out of a whole plan (SynthesizedResult), per spec.md
// §3 "WorkerResult" and "SynthesizedResult".
package result

import (
	"encoding/json"
	"time"
)

type (
	// Outcome discriminates a task's terminal state.
	Outcome string

	// WorkerResult is the terminal outcome of a single dispatched task
	// (spec §3 "WorkerResult").
	WorkerResult struct {
		TaskID        string
		WorkerID      string
		Outcome       Outcome
		FailureReason string // set when Outcome == Failure
		Output        json.RawMessage
		Duration      time.Duration
		ToolCallsUsed int
		TokensUsed    int
		CostUnits     float64
		// Attempts is the number of dispatch attempts driveTask made before
		// reaching this terminal outcome, including the first (spec §4.7
		// "Retry policy"); always >= 1.
		Attempts int
	}

	// Finding is a typed, deduplicated claim extracted from one or more
	// worker outputs (spec §3 "SynthesizedResult").
	Finding struct {
		// SubjectKey is the normalized key findings are deduplicated on.
		SubjectKey string   `json:"subject_key"`
		Type       string   `json:"type"`
		Claim      string   `json:"claim"`
		Confidence float64  `json:"confidence"`
		// WorkerIDs lists every worker whose output contributed to this
		// finding, sorted ascending so ordering-independence holds
		// regardless of input permutation (spec §4.8).
		WorkerIDs []string `json:"worker_ids,omitempty"`
	}

	// Recommendation is an actionable suggestion with a priority tag.
	Recommendation struct {
		Action   string `json:"action"`
		Target   string `json:"target"`
		Priority int    `json:"priority"`
		// InsertionIndex is internal ordering used only as the
		// ResultSynthesizer's secondary sort key; exported fields fully
		// determine equality across permutations (spec §4.8).
		InsertionIndex int `json:"-"`
	}

	// FailedTask records a task that did not produce a usable result, for
	// the caller-visible summary block (spec §7 "User-visible failure
	// behavior").
	FailedTask struct {
		TaskID   string
		WorkerID string
		Kind     string
	}

	// Status discriminates whether a SynthesizedResult reflects a complete
	// or partial run.
	Status string

	// SynthesizedResult is the LeadAgent's final output (spec §3
	// "SynthesizedResult").
	SynthesizedResult struct {
		QueryID         string
		Status          Status
		Findings        []Finding
		Recommendations []Recommendation
		Confidence      float64
		Coverage        float64
		Sources         []string
		FailedTasks     []FailedTask
	}
)

const (
	Success        Outcome = "Success"
	PartialSuccess Outcome = "PartialSuccess"
	Failure        Outcome = "Failure"
)

const (
	StatusComplete Status = "Complete"
	StatusPartial  Status = "PartialSuccess"
)
