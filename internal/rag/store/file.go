package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Compile-time interface check.
var _ Store = (*File)(nil)

const (
	documentsFile  = "documents.json"
	embeddingsFile = "embeddings.bin"

	// vectorsMagic marks the embeddings file format.
	vectorsMagic = uint32(0x43414D56) // "CAMV"
)

// File persists snapshots as two files under a data directory:
// documents/documents.json holds content and metadata (no vectors, so it
// stays readable), index/embeddings.bin holds the vectors keyed by id.
type File struct {
	docsPath    string
	vectorsPath string
}

// NewFile creates a file store rooted at dataDir, creating the directory
// layout if needed.
func NewFile(dataDir string) (*File, error) {
	docsDir := filepath.Join(dataDir, "documents")
	indexDir := filepath.Join(dataDir, "index")
	for _, dir := range []string{dataDir, docsDir, indexDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return &File{
		docsPath:    filepath.Join(docsDir, documentsFile),
		vectorsPath: filepath.Join(indexDir, embeddingsFile),
	}, nil
}

// Load reads both files if present and joins them by id. A missing
// documents file means an empty store; a missing vectors file loads every
// record without an embedding.
func (f *File) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Vectors: make(map[string][]float32)}

	data, err := os.ReadFile(f.docsPath)
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.docsPath, err)
	}

	byID := make(map[string]Record)
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.docsPath, err)
	}
	for id, rec := range byID {
		rec.ID = id
		snap.Records = append(snap.Records, rec)
	}

	vectors, err := f.loadVectors()
	if os.IsNotExist(err) {
		return snap, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Vectors = vectors
	return snap, nil
}

// Save writes both files. Each goes through a temp file and rename so a
// crash mid-write never leaves a half-written file behind.
func (f *File) Save(ctx context.Context, snap *Snapshot) error {
	byID := make(map[string]Record, len(snap.Records))
	for _, rec := range snap.Records {
		byID[rec.ID] = rec
	}
	data, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	if err := writeFileAtomic(f.docsPath, data); err != nil {
		return fmt.Errorf("write %s: %w", f.docsPath, err)
	}

	if err := writeFileAtomic(f.vectorsPath, encodeVectors(snap.Vectors)); err != nil {
		return fmt.Errorf("write %s: %w", f.vectorsPath, err)
	}
	return nil
}

// Clear removes both snapshot files.
func (f *File) Clear(ctx context.Context) error {
	for _, path := range []string{f.docsPath, f.vectorsPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}

// Close is a no-op for the file store.
func (f *File) Close() error { return nil }

// loadVectors reads the binary vectors file.
func (f *File) loadVectors() (map[string][]float32, error) {
	data, err := os.ReadFile(f.vectorsPath)
	if err != nil {
		return nil, err
	}
	vectors, err := decodeVectors(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.vectorsPath, err)
	}
	return vectors, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Vectors file layout, all little-endian:
//
//	magic uint32 | count uint32 | count x (idLen uint32 | id | dim uint32 | dim x float32)

func encodeVectors(vectors map[string][]float32) []byte {
	size := 8
	for id, vec := range vectors {
		size += 8 + len(id) + 4*len(vec)
	}
	buf := make([]byte, 0, size)

	buf = binary.LittleEndian.AppendUint32(buf, vectorsMagic)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vectors)))
	for id, vec := range vectors {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(id)))
		buf = append(buf, id...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(vec)))
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}

func decodeVectors(data []byte) (map[string][]float32, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("vectors file too short (%d bytes)", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != vectorsMagic {
		return nil, fmt.Errorf("bad vectors file magic %#x", magic)
	}
	count := binary.LittleEndian.Uint32(data[4:])
	pos := 8

	vectors := make(map[string][]float32, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("truncated vectors file at entry %d", i)
		}
		idLen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+idLen+4 > len(data) {
			return nil, fmt.Errorf("truncated vectors file at entry %d", i)
		}
		id := string(data[pos : pos+idLen])
		pos += idLen

		dim := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+4*dim > len(data) {
			return nil, fmt.Errorf("truncated vectors file at entry %d", i)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		vectors[id] = vec
	}
	return vectors, nil
}
