package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	telemetry "sensor-gateway/internal/telemetry/domain"
)

// RecordStore keeps records in process memory. It is meant for local runs and tests.
type RecordStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]telemetry.Record
}

// NewRecordStore constructs an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]telemetry.Record)}
}

// CreateRecord stores a copy of record.
func (s *RecordStore) CreateRecord(ctx context.Context, record telemetry.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = record
	s.order = append(s.order, id)
	return id, nil
}

// Get returns a stored record.
func (s *RecordStore) Get(id string) (telemetry.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok
}

// Len returns the number of stored records.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// All returns records in insertion order.
func (s *RecordStore) All() []telemetry.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}
