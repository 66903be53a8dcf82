package auditstore

import (
	"context"
	"sync"
)

// InMemoryStore is a thread-safe, in-process record store. It backs tests and
// single-process deployments behind the same interface as FirestoreStore.
type InMemoryStore[T any] struct {
	mu   sync.RWMutex
	data map[string]T
}

// NewInMemoryStore creates a new in-memory record store.
func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{data: make(map[string]T)}
}

// Fetch retrieves the record stored under key, or ErrRecordNotFound.
func (s *InMemoryStore[T]) Fetch(_ context.Context, key string) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	// Return a copy so callers mutate their own attempt state, not the store.
	out := record
	return &out, nil
}

// Save upserts a copy of the record under key.
func (s *InMemoryStore[T]) Save(_ context.Context, key string, record *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = *record
	return nil
}

// Len returns the number of stored records.
func (s *InMemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
