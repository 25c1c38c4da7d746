package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps serialized entries in a map. Values go through the same
// JSON encoding as the other backends so a round trip behaves identically.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Read implements Reader.
func (m *MemoryStore) Read(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return decodeEntry(b)
}

// Write implements Writer.
func (m *MemoryStore) Write(_ context.Context, key string, entry *Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

// Remove implements Remover.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// RemoveByPrefix implements Remover.
func (m *MemoryStore) RemoveByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

// Clear implements Remover.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}

// Keys lists the stored keys. Order is unspecified.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// SetRaw stores b under key verbatim, bypassing encoding. Tests use it to
// plant corrupt values.
func (m *MemoryStore) SetRaw(key string, b []byte) {
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
}
