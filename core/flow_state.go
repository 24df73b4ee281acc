package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryFlowStateStore keeps interactive-flow state in process memory.
// Records are single-use and expire after the configured TTL.
type MemoryFlowStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]FlowStateRecord
}

func NewMemoryFlowStateStore(ttl time.Duration) *MemoryFlowStateStore {
	if ttl <= 0 {
		ttl = defaultFlowStateTTL
	}
	return &MemoryFlowStateStore{
		ttl:     ttl,
		entries: map[string]FlowStateRecord{},
	}
}

func (s *MemoryFlowStateStore) Save(_ context.Context, record FlowStateRecord) error {
	if s == nil {
		return fmt.Errorf("core: flow state store is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return fmt.Errorf("core: flow state is required")
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[state] = cloneFlowStateRecord(record)
	s.mu.Unlock()

	return nil
}

func (s *MemoryFlowStateStore) Consume(_ context.Context, state string) (FlowStateRecord, error) {
	if s == nil {
		return FlowStateRecord{}, fmt.Errorf("core: flow state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return FlowStateRecord{}, fmt.Errorf("core: flow state is required")
	}

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return FlowStateRecord{}, fmt.Errorf("core: flow state not found")
	}
	if !record.ExpiresAt.IsZero() && time.Now().UTC().After(record.ExpiresAt) {
		return FlowStateRecord{}, fmt.Errorf("core: flow state expired")
	}

	return cloneFlowStateRecord(record), nil
}

func generateFlowState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate flow state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func cloneFlowStateRecord(record FlowStateRecord) FlowStateRecord {
	cloned := record
	cloned.Scopes = append([]string(nil), record.Scopes...)
	return cloned
}

var _ FlowStateStore = (*MemoryFlowStateStore)(nil)
