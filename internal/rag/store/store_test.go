package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Records: []Record{
			{
				ID:        "doc-a",
				Content:   "HLSO shrimp price sheet",
				Type:      "price",
				Extra:     map[string]string{"product": "HLSO", "size": "16/20"},
				CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
			{
				ID:        "doc-b",
				Content:   "frequently asked shipping question",
				Type:      "faq",
				CreatedAt: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
			},
		},
		Vectors: map[string][]float32{
			"doc-a": {0.1, 0.2, 0.3},
			"doc-b": {0.4, 0.5, 0.6},
		},
	}
}

// assertSnapshotEqual compares snapshots ignoring record order, which no
// backend guarantees.
func assertSnapshotEqual(t *testing.T, want, got *Snapshot) {
	t.Helper()
	require.Len(t, got.Records, len(want.Records))

	gotByID := make(map[string]Record)
	for _, rec := range got.Records {
		gotByID[rec.ID] = rec
	}
	for _, rec := range want.Records {
		loaded, ok := gotByID[rec.ID]
		require.True(t, ok, "missing record %s", rec.ID)
		assert.Equal(t, rec.Content, loaded.Content)
		assert.Equal(t, rec.Type, loaded.Type)
		assert.Equal(t, rec.Extra, loaded.Extra)
		assert.True(t, rec.CreatedAt.Equal(loaded.CreatedAt),
			"created_at mismatch for %s: %v vs %v", rec.ID, rec.CreatedAt, loaded.CreatedAt)
	}
	assert.Equal(t, want.Vectors, got.Vectors)
}

func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty load", func(t *testing.T) {
		s := open(t)
		snap, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Records)
		assert.Empty(t, snap.Vectors)
	})

	t.Run("round trip", func(t *testing.T) {
		s := open(t)
		want := testSnapshot()
		require.NoError(t, s.Save(ctx, want))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assertSnapshotEqual(t, want, got)
	})

	t.Run("save replaces previous state", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, testSnapshot()))

		smaller := &Snapshot{
			Records: []Record{{ID: "only", Content: "one", Type: "general", CreatedAt: time.Now().UTC()}},
			Vectors: map[string][]float32{"only": {1, 0}},
		}
		require.NoError(t, s.Save(ctx, smaller))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		require.Len(t, got.Records, 1)
		assert.Equal(t, "only", got.Records[0].ID)
	})

	t.Run("record without vector survives", func(t *testing.T) {
		s := open(t)
		snap := testSnapshot()
		delete(snap.Vectors, "doc-b")
		require.NoError(t, s.Save(ctx, snap))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, got.Records, 2)
		_, ok := got.Vectors["doc-b"]
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Save(ctx, testSnapshot()))
		require.NoError(t, s.Clear(ctx))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, got.Records)
		assert.Empty(t, got.Vectors)
	})
}

func TestFileStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewFile(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "rag.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestFileStore_DocumentsFileIsReadableJSON(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), testSnapshot()))

	data, err := os.ReadFile(filepath.Join(dir, "documents", "documents.json"))
	require.NoError(t, err)

	var byID map[string]Record
	require.NoError(t, json.Unmarshal(data, &byID))
	assert.Contains(t, byID, "doc-a")
	// Vectors live in the binary file, not here.
	assert.NotContains(t, string(data), "embedding")
}

func TestFileStore_MissingVectorsFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), testSnapshot()))
	require.NoError(t, os.Remove(filepath.Join(dir, "index", "embeddings.bin")))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Records, 2)
	assert.Empty(t, got.Vectors)
}

func TestFileStore_CorruptVectorsFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), testSnapshot()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index", "embeddings.bin"), []byte("garbage!"), 0o644))

	_, err = s.Load(context.Background())
	require.Error(t, err)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := map[string][]float32{
		"a":     {1.5, -2.25, 0},
		"other": {0.0001},
		"empty": {},
	}
	out, err := decodeVectors(encodeVectors(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
