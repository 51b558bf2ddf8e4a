package rag

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"camaron/internal/mathutil"
)

// QueryOptions tune a Retrieve call. Zero values fall back to the
// service defaults (TopK 3, MinSimilarity 0.7, no type filter).
type QueryOptions struct {
	TopK          int
	MinSimilarity float64
	Type          string
}

// rebuildMatrix recomputes the ordered id list and normalized vector
// rows from the document map. Called with the write lock held after
// every mutation. Ids are sorted so ranking ties break the same way on
// every call.
//
// This is a full rebuild on purpose: the corpus is small (hundreds to
// low thousands of documents). If it ever grows past that, this is the
// first place to replace with an incremental approximate-NN index.
func (s *Service) rebuildMatrix() {
	s.matrixIDs = s.matrixIDs[:0]
	for id, doc := range s.documents {
		if doc.Embedding != nil {
			s.matrixIDs = append(s.matrixIDs, id)
		}
	}
	sort.Strings(s.matrixIDs)

	s.matrix = make([][]float32, len(s.matrixIDs))
	for i, id := range s.matrixIDs {
		s.matrix[i] = mathutil.Normalize(s.documents[id].Embedding)
	}
}

// Retrieve embeds the query and returns the documents ranked by cosine
// similarity, descending. Results below MinSimilarity are excluded, the
// type filter applies after that, and TopK counts what survives both
// filters. An empty store returns an empty list without calling the
// embedding provider.
func (s *Service) Retrieve(ctx context.Context, query string, opts QueryOptions) ([]Match, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("rag: %w", ErrEmptyContent)
	}
	if opts.TopK <= 0 {
		opts.TopK = s.topK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = s.minSimilarity
	}

	// Short-circuit before spending an embedding call on an empty index.
	s.mu.RLock()
	empty := len(s.matrixIDs) == 0
	s.mu.RUnlock()
	if empty {
		return []Match{}, nil
	}

	queryVector, err := s.cache.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	queryNorm := mathutil.Normalize(queryVector)

	s.mu.RLock()
	matches := s.rank(queryNorm, opts)
	s.mu.RUnlock()

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	s.mu.Lock()
	s.queriesProcessed++
	n := float64(s.queriesProcessed)
	s.avgRetrievalMS = (s.avgRetrievalMS*(n-1) + elapsed) / n
	s.mu.Unlock()

	if s.verbose {
		log.Printf("rag: retrieved %d documents in %.1fms", len(matches), elapsed)
	}
	return matches, nil
}

// rank scores every matrix row against the normalized query vector and
// applies the similarity, type, and top-k filters. Called with the read
// lock held.
func (s *Service) rank(queryNorm []float32, opts QueryOptions) []Match {
	type scored struct {
		idx int
		sim float64
	}
	scores := make([]scored, len(s.matrix))
	for i, row := range s.matrix {
		scores[i] = scored{idx: i, sim: float64(mathutil.DotProduct(row, queryNorm))}
	}
	// Stable keeps matrix order on equal similarity.
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].sim > scores[b].sim })

	matches := []Match{}
	for _, sc := range scores {
		if len(matches) >= opts.TopK {
			break
		}
		if sc.sim < opts.MinSimilarity {
			// Scores only descend from here.
			break
		}
		doc := s.documents[s.matrixIDs[sc.idx]]
		if opts.Type != "" && doc.Metadata.Type != opts.Type {
			continue
		}
		matches = append(matches, Match{
			ID:         doc.ID,
			Content:    doc.Content,
			Metadata:   doc.Metadata,
			Similarity: sc.sim,
		})
	}
	return matches
}

// minContextTailChars is the smallest budget remainder worth filling
// with a truncated entry.
const minContextTailChars = 100

// RetrieveContext formats the top results as a single text block for
// prompt injection. Each entry is tagged with its document type; the
// block never exceeds maxTokens * 4 characters, cutting mid-entry when
// at least 100 characters of budget remain and stopping otherwise.
func (s *Service) RetrieveContext(ctx context.Context, query string, topK, maxTokens int) (string, error) {
	if topK <= 0 {
		topK = s.topK
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	matches, err := s.Retrieve(ctx, query, QueryOptions{TopK: topK})
	if err != nil {
		return "", err
	}
	return formatContext(matches, maxTokens*4), nil
}

func formatContext(matches []Match, maxChars int) string {
	var b strings.Builder

	for _, m := range matches {
		prefix := "[" + strings.ToUpper(m.Metadata.Type) + "] "
		if b.Len() > 0 {
			prefix = "\n\n" + prefix
		}

		content := m.Content
		if b.Len()+len(prefix)+len(content) > maxChars {
			// The tag, separator, and ellipsis all count against the
			// budget; the block must never exceed it.
			remaining := maxChars - b.Len() - len(prefix) - len("...")
			if remaining <= minContextTailChars {
				break
			}
			content = cutAtRune(content, remaining) + "..."
		}
		b.WriteString(prefix)
		b.WriteString(content)
	}
	return b.String()
}

// Stats is a point-in-time view of the index.
type Stats struct {
	TotalDocuments      int            `json:"total_documents"`
	DocumentsByType     map[string]int `json:"documents_by_type"`
	IndexSizeMB         float64        `json:"index_size_mb"`
	DocumentsIndexed    uint64         `json:"documents_indexed"`
	QueriesProcessed    uint64         `json:"queries_processed"`
	EmbeddingsGenerated uint64         `json:"embeddings_generated"`
	CacheHits           uint64         `json:"cache_hits"`
	EmbeddingCacheSize  int            `json:"embedding_cache_size"`
	AvgRetrievalTimeMS  float64        `json:"avg_retrieval_time_ms"`
}

// Stats returns index and cache counters.
func (s *Service) Stats() Stats {
	cacheStats := s.cache.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := make(map[string]int)
	for _, doc := range s.documents {
		byType[doc.Metadata.Type]++
	}

	var matrixBytes int
	for _, row := range s.matrix {
		matrixBytes += 4 * len(row)
	}

	return Stats{
		TotalDocuments:      len(s.documents),
		DocumentsByType:     byType,
		IndexSizeMB:         float64(matrixBytes) / (1024 * 1024),
		DocumentsIndexed:    s.documentsIndexed,
		QueriesProcessed:    s.queriesProcessed,
		EmbeddingsGenerated: cacheStats.Generated,
		CacheHits:           cacheStats.Hits,
		EmbeddingCacheSize:  cacheStats.Size,
		AvgRetrievalTimeMS:  s.avgRetrievalMS,
	}
}
