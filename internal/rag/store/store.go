// Package store persists the retrieval index's document collection so it
// survives process restarts. Documents live in a human-inspectable file
// and vectors in a compact binary file (or the SQLite equivalent), joined
// by id on load.
package store

import (
	"context"
	"time"
)

// Record is the persisted form of a document, without its vector.
type Record struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Type      string            `json:"type"`
	Extra     map[string]string `json:"extra,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Snapshot is the full persisted state of the index. A record without an
// entry in Vectors is loaded as a document without an embedding.
type Snapshot struct {
	Records []Record
	Vectors map[string][]float32
}

// Store loads and saves index snapshots.
type Store interface {
	// Load reads the persisted snapshot. Missing state yields an empty
	// snapshot, not an error.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the persisted snapshot with snap.
	Save(ctx context.Context, snap *Snapshot) error

	// Clear removes all persisted state.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}
