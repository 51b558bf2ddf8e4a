package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Indexer scans a sources directory of text files (price sheets, FAQs,
// policies) and indexes them. File content hashes are tracked so only
// new or changed files are re-embedded; files removed from disk are
// removed from the index.
type Indexer struct {
	svc        *Service
	sourcesDir string

	mu     sync.Mutex
	hashes map[string]string // relPath -> SHA-256 hex
}

// typeForPath infers the document classifier from the first path
// element under the sources directory.
var typeForPath = map[string]string{
	"prices":        TypePrice,
	"faqs":          TypeFAQ,
	"policies":      TypePolicy,
	"products":      TypeProduct,
	"conversations": TypeConversation,
}

// NewIndexer creates a sources indexer feeding svc.
func NewIndexer(svc *Service, sourcesDir string) *Indexer {
	return &Indexer{
		svc:        svc,
		sourcesDir: sourcesDir,
		hashes:     make(map[string]string),
	}
}

// ScanResult summarizes one indexing run.
type ScanResult struct {
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	FilesScanned int           `json:"files_scanned"`
	FilesIndexed int           `json:"files_indexed"`
	FilesSkipped int           `json:"files_skipped"`
	FilesRemoved int           `json:"files_removed"`
	Errors       []string      `json:"errors,omitempty"`
}

// IndexNow scans the sources directory and indexes new or changed
// files. Stale entries are deleted from the index.
func (idx *Indexer) IndexNow(ctx context.Context) (*ScanResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	result := &ScanResult{StartTime: time.Now()}
	if idx.sourcesDir == "" {
		return result, nil
	}

	var files []string
	err := filepath.WalkDir(idx.sourcesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk sources directory: %w", err)
	}
	result.FilesScanned = len(files)

	currentPaths := make(map[string]bool, len(files))

	for _, fullPath := range files {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		relPath, relErr := filepath.Rel(idx.sourcesDir, fullPath)
		if relErr != nil {
			log.Printf("rag indexer: cannot relativize %s: %v", fullPath, relErr)
			continue
		}
		currentPaths[relPath] = true

		changed, indexErr := idx.indexFileIfChanged(ctx, fullPath, relPath)
		if indexErr != nil {
			log.Printf("rag indexer: error indexing %s: %v", relPath, indexErr)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", relPath, indexErr))
			continue
		}
		if changed {
			result.FilesIndexed++
		} else {
			result.FilesSkipped++
		}
	}

	// Remove entries whose files no longer exist on disk.
	for relPath := range idx.hashes {
		if !currentPaths[relPath] {
			if idx.svc.Delete(ctx, docIDForPath(relPath)) {
				result.FilesRemoved++
			}
			delete(idx.hashes, relPath)
		}
	}

	result.Duration = time.Since(result.StartTime)
	return result, nil
}

// indexFileIfChanged reads a file, compares its content hash against the
// last scan, and re-indexes it when changed. Returns whether the file
// was (re-)indexed.
func (idx *Indexer) indexFileIfChanged(ctx context.Context, fullPath, relPath string) (bool, error) {
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", relPath, err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	if existing, ok := idx.hashes[relPath]; ok && existing == hash {
		return false, nil
	}
	if strings.TrimSpace(string(data)) == "" {
		// A file emptied since the last scan drops out of the index.
		idx.svc.Delete(ctx, docIDForPath(relPath))
		idx.hashes[relPath] = hash
		return false, nil
	}

	name := filepath.Base(relPath)
	extra := map[string]string{
		"source": "file",
		"path":   relPath,
		"title":  strings.TrimSuffix(name, filepath.Ext(name)),
	}

	_, err = idx.svc.Index(ctx, string(data), docTypeForPath(relPath), extra, docIDForPath(relPath))
	if err != nil {
		return false, err
	}

	idx.hashes[relPath] = hash
	return true, nil
}

// Tracked returns the number of files currently tracked by the indexer.
func (idx *Indexer) Tracked() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.hashes)
}

// docTypeForPath maps the first path element to a document type.
func docTypeForPath(relPath string) string {
	first, _, found := strings.Cut(filepath.ToSlash(relPath), "/")
	if !found {
		return TypeGeneral
	}
	if docType, ok := typeForPath[strings.ToLower(first)]; ok {
		return docType
	}
	return TypeGeneral
}

// docIDForPath gives files a stable id so re-indexing replaces instead
// of duplicating.
func docIDForPath(relPath string) string {
	return "file:" + filepath.ToSlash(relPath)
}
