// Package rag implements the retrieval index that grounds quoting-bot
// answers: an in-memory document store with cosine-similarity search,
// synchronized to an on-disk snapshot.
package rag

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Document type classifiers. The set is extensible; these are the
// categories the quoting bot indexes out of the box.
const (
	TypePrice        = "price"
	TypeFAQ          = "faq"
	TypeConversation = "conversation"
	TypeProduct      = "product"
	TypePolicy       = "policy"
	TypeGeneral      = "general"
)

// Metadata classifies a document and carries open extension fields.
type Metadata struct {
	Type  string            `json:"type"`
	Extra map[string]string `json:"extra,omitempty"`
}

// Document is the atomic indexed unit: text content plus metadata plus
// its embedding. Embedding is nil when generation failed; such documents
// are listable and deletable but excluded from similarity search.
type Document struct {
	ID        string
	Content   string
	Metadata  Metadata
	Embedding []float32
	CreatedAt time.Time
}

// Match is a single similarity-search result.
type Match struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float64  `json:"similarity"`
}

// Summary is the listing view of a document; content is truncated so
// listings stay small.
type Summary struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Metadata     Metadata  `json:"metadata"`
	CreatedAt    time.Time `json:"created_at"`
	HasEmbedding bool      `json:"has_embedding"`
}

// summaryContentChars caps content in listing responses.
const summaryContentChars = 200

func summarize(doc *Document) Summary {
	content := doc.Content
	if len(content) > summaryContentChars {
		content = cutAtRune(content, summaryContentChars) + "..."
	}
	return Summary{
		ID:           doc.ID,
		Content:      content,
		Metadata:     doc.Metadata,
		CreatedAt:    doc.CreatedAt,
		HasEmbedding: doc.Embedding != nil,
	}
}

// cutAtRune shortens s to at most n bytes, backing off so a multi-byte
// rune is never split at the cut point.
func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// normalizeType lowercases a classifier and falls back to general.
func normalizeType(docType string) string {
	docType = strings.ToLower(strings.TrimSpace(docType))
	if docType == "" {
		return TypeGeneral
	}
	return docType
}
