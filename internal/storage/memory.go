package storage

import (
	"context"
	"sync"

	"tracel-engine/internal/model"
)

const defaultMaxRecords = 10000

// MemoryStore keeps a bounded window of the most recent classified records.
// It is the always-available fallback behind the durable collaborator.
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.Record
	max     int
}

// NewMemoryStore creates a store retaining at most max records.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = defaultMaxRecords
	}
	return &MemoryStore{
		records: make([]model.Record, 0),
		max:     max,
	}
}

// Append stores a record, evicting the oldest once over capacity.
func (s *MemoryStore) Append(_ context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if len(s.records) > s.max {
		s.records = s.records[len(s.records)-s.max:]
	}
	return nil
}

// Query returns matching records newest first. Callers set the limit; a
// missing limit falls back to the default. Upper-bound clamping belongs to
// the API layer, which knows its endpoint's budget.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]model.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(result) < limit; i-- {
		rec := s.records[i]

		if rec.OwnerID != f.Owner {
			continue
		}
		if f.AnomaliesOnly && !rec.IsAnomaly {
			continue
		}
		if f.SourceIP != "" && rec.SourceIP != f.SourceIP {
			continue
		}
		if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
			continue
		}

		result = append(result, rec)
	}

	return result, nil
}

// Len reports the current record count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
