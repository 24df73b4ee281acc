package core

import (
	"context"
	"sync"
)

// MemorySecureStore keeps encrypted payloads in process memory. It is the
// default SecureStore and the fixture used across unit tests; production
// deployments swap in the SQL-backed store.
type MemorySecureStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemorySecureStore() *MemorySecureStore {
	return &MemorySecureStore{
		entries: map[string][]byte{},
	}
}

func (s *MemorySecureStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string][]byte{}
	}
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemorySecureStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *MemorySecureStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
