package storage

import (
	"context"
	"time"

	"tracel-engine/internal/model"

	"github.com/sirupsen/logrus"
)

// Query limit bounds. Out-of-range or missing limits are clamped, never
// rejected: the read path stays available under malformed input.
const (
	DefaultQueryLimit = 200
	MaxQueryLimit     = 1000
)

// Filter selects classified records. Owner is always required; the other
// fields are optional narrowing criteria.
type Filter struct {
	Owner         string
	AnomaliesOnly bool
	SourceIP      string
	Since         time.Time
	Limit         int
}

// ClampLimit applies the query limit bounds.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Store is the persistence collaborator for classified records. Append is
// best-effort from the pipeline's perspective; Query returns records
// newest first.
type Store interface {
	Append(ctx context.Context, rec model.Record) error
	Query(ctx context.Context, f Filter) ([]model.Record, error)
}

// TeeStore writes every record to the in-memory store and, when a durable
// backend is configured, to it as well. Reads prefer the durable backend
// and fall back to memory, so the engine stays observable with zero
// durable storage.
type TeeStore struct {
	durable Store // nil when no backend is configured
	memory  *MemoryStore
	logger  *logrus.Logger
}

// NewTeeStore wires the composite. durable may be nil.
func NewTeeStore(durable Store, memory *MemoryStore, logger *logrus.Logger) *TeeStore {
	return &TeeStore{durable: durable, memory: memory, logger: logger}
}

// Append never fails: the memory write always succeeds and durable errors
// are logged and swallowed.
func (t *TeeStore) Append(ctx context.Context, rec model.Record) error {
	_ = t.memory.Append(ctx, rec)

	if t.durable != nil {
		if err := t.durable.Append(ctx, rec); err != nil {
			t.logger.Warnf("Durable store append failed: %v", err)
		}
	}
	return nil
}

// Query consults the durable backend first, degrading to memory on error.
func (t *TeeStore) Query(ctx context.Context, f Filter) ([]model.Record, error) {
	if t.durable != nil {
		recs, err := t.durable.Query(ctx, f)
		if err == nil {
			return recs, nil
		}
		t.logger.Warnf("Durable store query failed, serving from memory: %v", err)
	}
	return t.memory.Query(ctx, f)
}
