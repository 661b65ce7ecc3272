package entitlements

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps expirations in process memory. Nothing survives a restart;
// it backs tests and the "memory" store setting.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (*time.Time, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value *time.Time) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]time.Time)
	}
	if value == nil {
		delete(m.data, key)
		return nil
	}
	m.data[key] = *value
	return nil
}
