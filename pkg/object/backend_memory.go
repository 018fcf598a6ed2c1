package object

import "sync"

// MemoryBackend keeps object envelopes in a hash-keyed arena.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[Hash][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[Hash][]byte)}
}

func (m *MemoryBackend) Has(h Hash) bool {
	m.mu.RLock()
	_, ok := m.objects[h]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryBackend) Get(h Hash) ([]byte, error) {
	m.mu.RLock()
	raw, ok := m.objects[h]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *MemoryBackend) Put(h Hash, raw []byte) error {
	stored := make([]byte, len(raw))
	copy(stored, raw)
	m.mu.Lock()
	if _, ok := m.objects[h]; !ok {
		m.objects[h] = stored
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Destroy() error {
	m.mu.Lock()
	m.objects = make(map[Hash][]byte)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
