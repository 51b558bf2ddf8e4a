package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"camaron/internal/rag/embed"
	"camaron/internal/rag/store"
)

// ErrEmptyContent rejects index requests whose content is empty after
// trimming. Validation happens before any provider call or state change.
var ErrEmptyContent = errors.New("rag: document content is empty")

// Defaults used when a query leaves options unset.
const (
	DefaultTopK             = 3
	DefaultMinSimilarity    = 0.7
	DefaultMaxContextTokens = 2000
)

// Config wires a Service.
type Config struct {
	// Provider generates embeddings. It is wrapped in a content-hash
	// cache internally; pass the raw provider.
	Provider embed.Provider

	// Store persists snapshots. Defaults to an in-memory store.
	Store store.Store

	// MaxChars is the embedding input truncation budget, used for cache
	// keying. Defaults to the provider's own 8000-char budget.
	MaxChars int

	// TopK and MinSimilarity override the query defaults.
	TopK          int
	MinSimilarity float64

	Verbose bool
}

// Service is the retrieval index. All mutating operations are serialized
// under one write lock covering the document map, the matrix rebuild,
// and the snapshot write; searches take the read lock and never observe
// a partially rebuilt matrix.
type Service struct {
	cache *embed.Cache
	store store.Store

	topK          int
	minSimilarity float64
	verbose       bool

	mu        sync.RWMutex
	documents map[string]*Document
	matrixIDs []string    // ids of searchable documents, lexicographic
	matrix    [][]float32 // L2-normalized rows, parallel to matrixIDs

	documentsIndexed uint64
	queriesProcessed uint64
	avgRetrievalMS   float64
}

// New creates a Service and loads any persisted snapshot. A load failure
// is logged and yields an empty store rather than an error.
func New(cfg Config) (*Service, error) {
	if cfg.Provider == nil {
		return nil, errors.New("rag: embedding provider is required")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}

	s := &Service{
		cache:         embed.NewCache(cfg.Provider, cfg.MaxChars),
		store:         cfg.Store,
		topK:          cfg.TopK,
		minSimilarity: cfg.MinSimilarity,
		verbose:       cfg.Verbose,
		documents:     make(map[string]*Document),
	}

	s.load()
	log.Printf("rag: service initialized with %d documents", len(s.documents))
	return s, nil
}

// Available reports whether the embedding provider has credentials.
func (s *Service) Available() bool {
	return s.cache.Available()
}

// Index inserts or replaces a document. An empty docID derives one from
// the content and a time salt; passing an existing id overwrites that
// document. Returns the stored document's id.
func (s *Service) Index(ctx context.Context, content, docType string, extra map[string]string, docID string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if docID == "" {
		docID = deriveID(content)
	}

	vector, err := s.cache.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("rag: embed document %s: %w", docID, err)
	}

	doc := &Document{
		ID:        docID,
		Content:   content,
		Metadata:  Metadata{Type: normalizeType(docType), Extra: extra},
		Embedding: vector,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.documents[docID] = doc
	s.rebuildMatrix()
	s.documentsIndexed++
	s.persist(ctx)
	s.mu.Unlock()

	if s.verbose {
		log.Printf("rag: indexed document %s (type: %s)", docID, doc.Metadata.Type)
	}
	return docID, nil
}

// BatchDocument is one item of an IndexBatch request.
type BatchDocument struct {
	Content string
	Type    string
	Extra   map[string]string
}

// IndexBatch indexes documents in one embedding request. Items whose
// content is empty or whose embedding failed are skipped silently; the
// returned ids are the successfully indexed documents, in input order.
func (s *Service) IndexBatch(ctx context.Context, docs []BatchDocument) []string {
	var contents []string
	var kept []BatchDocument
	for _, d := range docs {
		d.Content = strings.TrimSpace(d.Content)
		if d.Content == "" {
			continue
		}
		contents = append(contents, d.Content)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil
	}

	vectors, err := s.cache.EmbedBatch(ctx, contents)
	if err != nil {
		log.Printf("rag: batch embedding failed, %d documents skipped: %v", len(kept), err)
		return nil
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(kept))

	s.mu.Lock()
	for i, d := range kept {
		if vectors[i] == nil {
			continue
		}
		id := deriveID(fmt.Sprintf("%s#%d", d.Content, i))
		s.documents[id] = &Document{
			ID:        id,
			Content:   d.Content,
			Metadata:  Metadata{Type: normalizeType(d.Type), Extra: d.Extra},
			Embedding: vectors[i],
			CreatedAt: now,
		}
		ids = append(ids, id)
	}
	s.rebuildMatrix()
	s.documentsIndexed += uint64(len(ids))
	s.persist(ctx)
	s.mu.Unlock()

	log.Printf("rag: batch indexed %d documents", len(ids))
	return ids
}

// IndexConversation indexes a successful user/assistant exchange as a
// retrieval example.
func (s *Service) IndexConversation(ctx context.Context, userMessage, assistantResponse string, extra map[string]string) (string, error) {
	content := fmt.Sprintf("User: %s\nAssistant: %s", userMessage, assistantResponse)

	merged := map[string]string{
		"user_message_length": fmt.Sprintf("%d", len(userMessage)),
		"response_length":     fmt.Sprintf("%d", len(assistantResponse)),
	}
	for k, v := range extra {
		merged[k] = v
	}
	return s.Index(ctx, content, TypeConversation, merged, "")
}

// Delete removes a document and its vector. Returns whether it existed.
func (s *Service) Delete(ctx context.Context, docID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[docID]; !ok {
		return false
	}
	delete(s.documents, docID)
	s.rebuildMatrix()
	s.persist(ctx)

	log.Printf("rag: deleted document %s", docID)
	return true
}

// Clear removes all documents, the embedding cache, and the on-disk
// snapshot.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make(map[string]*Document)
	s.matrixIDs = nil
	s.matrix = nil
	s.cache.Clear()

	if err := s.store.Clear(ctx); err != nil {
		log.Printf("rag: clearing snapshot failed: %v", err)
		return fmt.Errorf("rag: clear snapshot: %w", err)
	}
	log.Printf("rag: index cleared")
	return nil
}

// Get returns a document by id.
func (s *Service) Get(docID string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[docID]
	if !ok {
		return nil, false
	}
	cp := *doc
	return &cp, true
}

// List returns the total number of matching documents at call time and
// one page of summaries. Pagination is by id order; concurrent mutation
// between two calls may shift pages.
func (s *Service) List(typeFilter string, limit, offset int) (int, []Summary) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.documents))
	for id, doc := range s.documents {
		if typeFilter != "" && doc.Metadata.Type != typeFilter {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]Summary, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, summarize(s.documents[id]))
	}
	return total, page
}

// persist writes the current state to the store. Called with the write
// lock held. A failure is logged and leaves the in-memory state as the
// only source of truth until the next successful save.
func (s *Service) persist(ctx context.Context) {
	snap := &store.Snapshot{
		Records: make([]store.Record, 0, len(s.documents)),
		Vectors: make(map[string][]float32),
	}
	for id, doc := range s.documents {
		snap.Records = append(snap.Records, store.Record{
			ID:        id,
			Content:   doc.Content,
			Type:      doc.Metadata.Type,
			Extra:     doc.Metadata.Extra,
			CreatedAt: doc.CreatedAt,
		})
		if doc.Embedding != nil {
			snap.Vectors[id] = doc.Embedding
		}
	}
	if err := s.store.Save(ctx, snap); err != nil {
		log.Printf("rag: saving snapshot failed: %v", err)
	}
}

// load reads the persisted snapshot into memory. A read failure degrades
// to an empty store.
func (s *Service) load() {
	snap, err := s.store.Load(context.Background())
	if err != nil {
		log.Printf("rag: loading snapshot failed, starting empty: %v", err)
		return
	}

	dims := s.cache.Dimensions()
	for _, rec := range snap.Records {
		doc := &Document{
			ID:        rec.ID,
			Content:   rec.Content,
			Metadata:  Metadata{Type: normalizeType(rec.Type), Extra: rec.Extra},
			CreatedAt: rec.CreatedAt,
		}
		if vec, ok := snap.Vectors[rec.ID]; ok {
			if len(vec) == dims {
				doc.Embedding = vec
			} else {
				log.Printf("rag: document %s has a %d-dim vector, provider expects %d; treating as unembedded",
					rec.ID, len(vec), dims)
			}
		}
		s.documents[rec.ID] = doc
	}
	s.rebuildMatrix()
}

// deriveID hashes content with a nanosecond salt so repeated identical
// content still yields distinct ids unless the caller supplies one.
func deriveID(content string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d", content, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}
