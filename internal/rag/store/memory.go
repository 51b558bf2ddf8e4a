package store

import (
	"context"
	"sync"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-memory Store for tests and ephemeral runs.
type Memory struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the last saved snapshot, or an empty one.
func (m *Memory) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snap == nil {
		return &Snapshot{Vectors: make(map[string][]float32)}, nil
	}
	return copySnapshot(m.snap), nil
}

// Save stores a copy of snap.
func (m *Memory) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = copySnapshot(snap)
	return nil
}

// Clear drops the stored snapshot.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

// Close is a no-op for memory storage.
func (m *Memory) Close() error { return nil }

func copySnapshot(snap *Snapshot) *Snapshot {
	out := &Snapshot{
		Records: make([]Record, len(snap.Records)),
		Vectors: make(map[string][]float32, len(snap.Vectors)),
	}
	copy(out.Records, snap.Records)
	for id, vec := range snap.Vectors {
		v := make([]float32, len(vec))
		copy(v, vec)
		out.Vectors[id] = v
	}
	return out
}
