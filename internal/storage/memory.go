package storage

import (
	"context"
	"sync"
)

// Memory implements an in-memory KV. Values do not survive a restart of the
// process.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory creates a new Memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]map[string][]byte),
	}
}

// Get returns the present values for the given keys.
func (m *Memory) Get(ctx context.Context, namespace string, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	ns, ok := m.data[namespace]
	if !ok {
		return out, nil
	}

	for _, k := range keys {
		if v, ok := ns[k]; ok {
			out[k] = copyBytes(v)
		}
	}

	kvGetCounter(TypeMemory).Inc()
	return out, nil
}

// Set stores the given values.
func (m *Memory) Set(ctx context.Context, namespace string, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}

	for k, v := range values {
		ns[k] = copyBytes(v)
	}

	kvSetCounter(TypeMemory).Inc()
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
