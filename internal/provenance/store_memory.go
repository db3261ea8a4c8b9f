package provenance

import (
	"context"
	"fmt"
	"sync"

	"cna/pkg/platform/sentinel"
)

// InMemoryStore is an append-only record store. The mutex makes it safe for the
// concurrent analysis mode; under the sequential pipeline it is uncontended.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("trace %s: %w", record.ID, sentinel.ErrConflict)
	}
	s.records[record.ID] = record
	s.order = append(s.order, record.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, fmt.Errorf("trace %s: %w", id, sentinel.ErrNotFound)
	}
	return record, nil
}

func (s *InMemoryStore) Has(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok
}

// List returns all records in append order.
func (s *InMemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}
