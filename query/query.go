// Package query defines the incoming query shape and its derived complexity
// classification (spec §3 "Query", "QueryComplexity").
package query

import "fmt"

type (
	// Query is a free-form request to the orchestrator.
	Query struct {
		// Text is the free-form query text.
		Text string
		// WorkspaceID optionally scopes the query to a workspace. Opaque.
		WorkspaceID string
		// SessionID optionally correlates the query with a caller session. Opaque.
		SessionID string
	}

	// Complexity is the {Simple, Medium, Complex} tag derived for a query.
	Complexity string

	// ComplexityProfile pairs a Complexity tag with its derived fanout and
	// timeout recommendations.
	ComplexityProfile struct {
		Tag                Complexity
		RecommendedWorkers int
		RecommendedTimeout int64 // nanoseconds, avoids importing time here
	}
)

const (
	Simple  Complexity = "Simple"
	Medium  Complexity = "Medium"
	Complex Complexity = "Complex"
)

// Validate reports whether the profile satisfies spec.md's invariant:
// Simple -> 1 worker, Medium -> 2..4, Complex -> 4..maxFanout.
func (p ComplexityProfile) Validate(maxFanout int) error {
	switch p.Tag {
	case Simple:
		if p.RecommendedWorkers != 1 {
			return fmt.Errorf("simple complexity must recommend exactly 1 worker, got %d", p.RecommendedWorkers)
		}
	case Medium:
		if p.RecommendedWorkers < 2 || p.RecommendedWorkers > 4 {
			return fmt.Errorf("medium complexity must recommend 2..4 workers, got %d", p.RecommendedWorkers)
		}
	case Complex:
		if p.RecommendedWorkers < 4 || p.RecommendedWorkers > maxFanout {
			return fmt.Errorf("complex complexity must recommend 4..%d workers, got %d", maxFanout, p.RecommendedWorkers)
		}
	default:
		return fmt.Errorf("unknown complexity tag %q", p.Tag)
	}
	return nil
}
