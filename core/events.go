package core

import (
	"context"
	"sync"
	"time"
)

// MemorySessionEventBus fans session-invalidation events out to subscribers
// synchronously, in subscription order.
type MemorySessionEventBus struct {
	mu       sync.RWMutex
	handlers []SessionEventHandler
}

func NewMemorySessionEventBus() *MemorySessionEventBus {
	return &MemorySessionEventBus{}
}

func (b *MemorySessionEventBus) Subscribe(handler SessionEventHandler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

func (b *MemorySessionEventBus) Publish(ctx context.Context, event SessionEvent) {
	if b == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := append([]SessionEventHandler(nil), b.handlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler.OnSessionInvalidated(ctx, event)
	}
}

var _ SessionEventBus = (*MemorySessionEventBus)(nil)
