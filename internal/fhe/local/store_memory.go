package local

import (
	"context"
	"sync"

	"credrep/internal/fhe"
	"credrep/pkg/platform/sentinel"
)

// InMemoryStore keeps ciphertext entries in a map.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[fhe.Handle]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[fhe.Handle]Entry)}
}

func (s *InMemoryStore) Put(_ context.Context, h fhe.Handle, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[h] = e
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, h fhe.Handle) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[h]
	if !ok {
		return Entry{}, sentinel.ErrNotFound
	}
	return e, nil
}

// Len returns the number of stored ciphertexts.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
