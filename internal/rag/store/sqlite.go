package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLite)(nil)

// SQLite persists snapshots in a single SQLite database: a documents
// table for content and metadata, a vectors table for embeddings.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) a SQLite store at the given path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			doc_type TEXT NOT NULL,
			extra TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS vectors (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Load reads all documents and vectors.
func (s *SQLite) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Vectors: make(map[string][]float32)}

	rows, err := s.db.QueryContext(ctx, "SELECT id, content, doc_type, extra, created_at FROM documents")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var extraJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.Type, &extraJSON, &createdAt); err != nil {
			return nil, err
		}
		if extraJSON.Valid && extraJSON.String != "" {
			json.Unmarshal([]byte(extraJSON.String), &rec.Extra)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM vectors")
	if err != nil {
		return nil, err
	}
	defer vrows.Close()

	for vrows.Next() {
		var id string
		var blob []byte
		if err := vrows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		snap.Vectors[id] = decodeFloat32Slice(blob)
	}
	return snap, vrows.Err()
}

// Save replaces both tables with the snapshot contents in one transaction.
func (s *SQLite) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return err
	}

	docStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO documents (id, content, doc_type, extra, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer docStmt.Close()

	for _, rec := range snap.Records {
		var extraJSON []byte
		if rec.Extra != nil {
			extraJSON, _ = json.Marshal(rec.Extra)
		}
		if _, err := docStmt.ExecContext(ctx, rec.ID, rec.Content, rec.Type,
			extraJSON, rec.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vectors (id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for id, vec := range snap.Vectors {
		if _, err := vecStmt.ExecContext(ctx, id, encodeFloat32Slice(vec)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Clear removes all documents and vectors.
func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// encodeFloat32Slice converts []float32 to []byte.
func encodeFloat32Slice(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeFloat32Slice converts []byte to []float32.
func decodeFloat32Slice(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
