// Package memory keeps catalog runs in process memory as encoded JSON.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"blendcore/internal/catalog/core"
)

// Store is an in-memory catalog. Records are stored encoded so callers never
// share row maps with the catalog.
type Store struct {
	mu   sync.RWMutex
	runs map[string][]byte
	sums map[string]core.RunSummary
}

// New returns an empty catalog.
func New() *Store {
	return &Store{runs: make(map[string][]byte), sums: make(map[string]core.RunSummary)}
}

// Driver implements core.Catalog.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Write stores a run. Existing ids are rejected.
func (s *Store) Write(_ context.Context, run core.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunExists)
	}
	s.runs[run.ID] = payload
	s.sums[run.ID] = run.Summary()
	return nil
}

// Read returns a decoded copy of a run.
func (s *Store) Read(_ context.Context, id string) (core.RunRecord, error) {
	s.mu.RLock()
	payload, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return core.RunRecord{}, fmt.Errorf("run %s: %w", id, core.ErrRunNotFound)
	}
	var run core.RunRecord
	if err := json.Unmarshal(payload, &run); err != nil {
		return core.RunRecord{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// List returns run summaries, newest first.
func (s *Store) List(context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	out := make([]core.RunSummary, 0, len(s.sums))
	for _, sum := range s.sums {
		out = append(out, sum)
	}
	s.mu.RUnlock()
	core.SortSummaries(out)
	return out, nil
}

// Close implements core.Catalog.
func (s *Store) Close() error { return nil }

var _ core.Catalog = (*Store)(nil)
