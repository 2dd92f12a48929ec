// Package delegation builds and canonically serializes TaskDelegation value
// objects (spec §4.3).
package delegation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetcode/orchestrator/orcherr"
)

type (
	// Bounds caps a delegation's resource usage. All fields must be
	// strictly positive once built.
	Bounds struct {
		MaxToolCalls   int           `json:"max_tool_calls"`
		Timeout        time.Duration `json:"timeout"`
		MaxOutputBytes int           `json:"max_output_bytes"`
	}

	// RetryPolicy governs whether and how a task is retried after failure
	// (spec §4.7).
	RetryPolicy struct {
		MaxAttempts int      `json:"max_attempts"` // in {1,2,3}
		OnKinds     []string `json:"on_kinds"`      // subset of orcherr.Kind string values, e.g. "transient"
	}

	// TaskDelegation is an immutable, validated description of a subtask
	// (spec §3 "TaskDelegation"). Construct via Builder; the zero value is
	// not valid.
	TaskDelegation struct {
		id                   string
		objective            string
		scope                []string
		constraints          []string
		requiredCapabilities []string
		bounds               Bounds
		priority             int
		retry                RetryPolicy
		canonical            []byte
	}

	// canonicalForm is the field-ordered JSON shape written to the wire; the
	// field order here is what makes the serialization byte-exact across
	// builds (spec §4.3 "Serialization").
	canonicalForm struct {
		ID                   string      `json:"id"`
		Objective            string      `json:"objective"`
		Scope                []string    `json:"scope"`
		Constraints          []string    `json:"constraints"`
		RequiredCapabilities []string    `json:"required_capabilities"`
		Bounds               boundsWire  `json:"bounds"`
		Priority             int         `json:"priority"`
		Retry                RetryPolicy `json:"retry"`
	}

	boundsWire struct {
		MaxToolCalls   int   `json:"max_tool_calls"`
		TimeoutNanos   int64 `json:"timeout_nanos"`
		MaxOutputBytes int   `json:"max_output_bytes"`
	}
)

// ID returns the delegation's plan-unique identifier.
func (d *TaskDelegation) ID() string { return d.id }

// Objective returns the delegation's text objective.
func (d *TaskDelegation) Objective() string { return d.objective }

// Scope returns the delegation's ordered, deduplicated scope identifiers.
func (d *TaskDelegation) Scope() []string { return append([]string(nil), d.scope...) }

// Constraints returns the delegation's ordered prohibitions.
func (d *TaskDelegation) Constraints() []string { return append([]string(nil), d.constraints...) }

// RequiredCapabilities returns the capability tags a worker must advertise.
func (d *TaskDelegation) RequiredCapabilities() []string {
	return append([]string(nil), d.requiredCapabilities...)
}

// Bounds returns the delegation's resource bounds.
func (d *TaskDelegation) Bounds() Bounds { return d.bounds }

// Priority returns the delegation's admission priority (higher wins ties).
func (d *TaskDelegation) Priority() int { return d.priority }

// Retry returns the delegation's retry policy.
func (d *TaskDelegation) Retry() RetryPolicy { return d.retry }

// Canonical returns the delegation's canonical byte-exact representation,
// computed once at build time. This is the unit of at-most-once delivery:
// callers key dispatch records by (plan_id, task_id) and store these bytes
// before sending them to a worker (spec §4.3 "Serialization").
func (d *TaskDelegation) Canonical() []byte { return append([]byte(nil), d.canonical...) }

// Builder validates and constructs a TaskDelegation. The zero value is
// usable; set fields then call Build.
type Builder struct {
	ID                   string
	Objective            string
	Scope                []string
	Constraints          []string
	RequiredCapabilities []string
	Bounds               Bounds
	Priority             int
	Retry                RetryPolicy

	// MaxObjectiveChars caps Objective's length. Zero means "use 4096".
	MaxObjectiveChars int
	// KnownCapabilities is the closed set of capability tags the Registry
	// recognizes; RequiredCapabilities must be drawn from this set if
	// non-nil. A nil set skips the check (used in tests).
	KnownCapabilities map[string]bool
	// RequireCapabilities reports whether the task's complexity
	// mandates a non-empty RequiredCapabilities set (spec §3 invariant:
	// "required_capabilities non-empty for Medium/Complex tasks").
	RequireCapabilities bool
	// AllowEmptyScope permits an empty Scope (spec §3 invariant: "scope
	// may be empty only for Simple tasks").
	AllowEmptyScope bool
}

// Build validates the builder's fields and returns an immutable
// TaskDelegation, or an *orcherr.Error of kind InvalidDelegation describing
// the first violation found.
func (b Builder) Build() (*TaskDelegation, error) {
	if b.ID == "" {
		return nil, orcherr.New(orcherr.KindInvalidDelegation, "id is required")
	}
	maxChars := b.MaxObjectiveChars
	if maxChars <= 0 {
		maxChars = 4096
	}
	if b.Objective == "" {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "objective must be non-empty")
	}
	if len(b.Objective) > maxChars {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, fmt.Sprintf("objective exceeds %d characters", maxChars))
	}
	if b.Bounds.MaxToolCalls <= 0 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "bounds.max_tool_calls must be positive")
	}
	if b.Bounds.Timeout <= 0 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "bounds.timeout must be positive")
	}
	if b.Bounds.MaxOutputBytes <= 0 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "bounds.max_output_bytes must be positive")
	}
	if !b.AllowEmptyScope && len(b.Scope) == 0 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "scope must be non-empty")
	}
	if b.RequireCapabilities && len(b.RequiredCapabilities) == 0 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "required_capabilities must be non-empty")
	}
	if b.KnownCapabilities != nil {
		for _, c := range b.RequiredCapabilities {
			if !b.KnownCapabilities[c] {
				return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, fmt.Sprintf("unknown capability tag %q", c))
			}
		}
	}
	for _, s := range b.Scope {
		if !isValidScopeIdentifier(s) {
			return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, fmt.Sprintf("invalid scope identifier %q", s))
		}
	}
	if b.Retry.MaxAttempts == 0 {
		b.Retry.MaxAttempts = 1
	}
	if b.Retry.MaxAttempts < 1 || b.Retry.MaxAttempts > 3 {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, "retry.max_attempts must be in {1,2,3}")
	}

	d := &TaskDelegation{
		id:                   b.ID,
		objective:            b.Objective,
		scope:                dedupeOrdered(b.Scope),
		constraints:          append([]string(nil), b.Constraints...),
		requiredCapabilities: dedupeOrdered(b.RequiredCapabilities),
		bounds:               b.Bounds,
		priority:             b.Priority,
		retry:                b.Retry,
	}

	canonical, err := marshalCanonical(d)
	if err != nil {
		return nil, orcherr.ForTask(b.ID, orcherr.KindInvalidDelegation, fmt.Sprintf("canonical encode: %v", err))
	}
	d.canonical = canonical
	return d, nil
}

// FromCanonical rebuilds a TaskDelegation from bytes produced by Canonical.
// This is how a delegation crosses a wire that cannot carry unexported Go
// struct fields (e.g. Temporal's JSON data converter): the sender calls
// Canonical before handing the bytes to the transport, the receiver calls
// FromCanonical on the other side. The rebuilt value re-validates every
// field, so a forged or corrupted payload is rejected the same way a bad
// Builder would be.
func FromCanonical(data []byte) (*TaskDelegation, error) {
	var form canonicalForm
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("delegation: decode canonical form: %w", err)
	}
	return Builder{
		ID:                   form.ID,
		Objective:            form.Objective,
		Scope:                form.Scope,
		Constraints:          form.Constraints,
		RequiredCapabilities: form.RequiredCapabilities,
		Bounds: Bounds{
			MaxToolCalls:   form.Bounds.MaxToolCalls,
			Timeout:        time.Duration(form.Bounds.TimeoutNanos),
			MaxOutputBytes: form.Bounds.MaxOutputBytes,
		},
		Priority:        form.Priority,
		Retry:           form.Retry,
		AllowEmptyScope: true,
	}.Build()
}

func marshalCanonical(d *TaskDelegation) ([]byte, error) {
	form := canonicalForm{
		ID:                   d.id,
		Objective:            d.objective,
		Scope:                d.scope,
		Constraints:          d.constraints,
		RequiredCapabilities: d.requiredCapabilities,
		Bounds: boundsWire{
			MaxToolCalls:   d.bounds.MaxToolCalls,
			TimeoutNanos:   int64(d.bounds.Timeout),
			MaxOutputBytes: d.bounds.MaxOutputBytes,
		},
		Priority: d.priority,
		Retry:    d.retry,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(form); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func dedupeOrdered(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isValidScopeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/', r == '_', r == '-', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
