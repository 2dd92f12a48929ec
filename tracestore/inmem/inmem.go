// Package inmem provides an in-memory implementation of tracestore.Store.
//
// The in-memory store is intended for tests and local development. It is not
// durable and should not be used in production.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetcode/orchestrator/tracestore"
)

// Store implements tracestore.Store in memory.
type Store struct {
	mu      sync.Mutex
	records map[string]*tracestore.Record
}

// New returns a new in-memory trace record store.
func New() *Store {
	return &Store{records: make(map[string]*tracestore.Record)}
}

// Append implements tracestore.Store.
func (s *Store) Append(_ context.Context, r *tracestore.Record) error {
	if r == nil {
		return fmt.Errorf("record is required")
	}
	if r.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.TaskIDs = append([]string(nil), r.TaskIDs...)
	cp.Outcomes = append([]tracestore.Outcome(nil), r.Outcomes...)
	s.records[r.PlanID] = &cp
	return nil
}

// Get implements tracestore.Store.
func (s *Store) Get(_ context.Context, planID string) (*tracestore.Record, bool, error) {
	if planID == "" {
		return nil, false, fmt.Errorf("plan_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[planID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}
