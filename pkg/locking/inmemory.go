package locking

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryLock is a process-local implementation of the message lock, for
// tests and single-process deployments.
type InMemoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewInMemoryLock creates a new in-memory message lock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{held: make(map[string]struct{})}
}

// TryLock takes the lock for key, returning (false, nil) on contention.
func (l *InMemoryLock) TryLock(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return false, nil
	}
	l.held[key] = struct{}{}
	return true, nil
}

// Unlock releases the lock for key.
func (l *InMemoryLock) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; !taken {
		return fmt.Errorf("lock %s is not held", key)
	}
	delete(l.held, key)
	return nil
}
