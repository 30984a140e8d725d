// Package memory provides an in-memory run-history repository for tests
// and database-less runs.
package memory

import (
	"context"
	"sync"

	"github.com/regdata/harvester/internal/harvest"
)

// RunStore keeps run history in memory, newest first.
type RunStore struct {
	mu   sync.Mutex
	runs []harvest.RunStats
}

// New creates an empty RunStore.
func New() *RunStore {
	return &RunStore{}
}

// SaveRun records one completed run.
func (s *RunStore) SaveRun(_ context.Context, stats harvest.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append([]harvest.RunStats{stats}, s.runs...)
	return nil
}

// LastRuns returns up to limit most recent runs.
func (s *RunStore) LastRuns(_ context.Context, limit int) ([]harvest.RunStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]harvest.RunStats, limit)
	copy(out, s.runs[:limit])
	return out, nil
}
