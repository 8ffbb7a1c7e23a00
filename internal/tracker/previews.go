package tracker

import "sync"

// PreviewStore holds short-lived preview bytes for image records. Previews
// are acquired when a record is created and released when it is removed,
// regardless of why it was removed.
type PreviewStore interface {
	Put(key string, data []byte)
	Get(key string) ([]byte, bool)
	Delete(key string)
}

// MemoryPreviews is the in-process PreviewStore used by the standalone
// server. The durable pipeline stores previews in the preview bucket instead.
type MemoryPreviews struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryPreviews constructs an empty store.
func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{data: make(map[string][]byte)}
}

// Put stores a copy of data under key.
func (m *MemoryPreviews) Put(key string, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = buf
}

// Get returns the bytes stored under key.
func (m *MemoryPreviews) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	return data, ok
}

// Delete releases the bytes stored under key.
func (m *MemoryPreviews) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Len reports how many previews are currently held.
func (m *MemoryPreviews) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
