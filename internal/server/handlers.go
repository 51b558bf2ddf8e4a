package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"camaron/internal/rag"
	"camaron/internal/rag/embed"
	"camaron/internal/version"
)

// handleHealth handles GET /rag/health
// Response: {"status": "ok", "provider_available": true, ...}
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"provider_available": s.svc.Available(),
		"total_documents":    s.svc.Stats().TotalDocuments,
		"version":            version.Info(),
	})
}

// handleStats handles GET /rag/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := map[string]interface{}{
		"index": s.svc.Stats(),
	}
	if s.sched != nil {
		lastScan, lastErr := s.sched.LastRun()
		if lastScan != nil {
			resp["last_scan"] = lastScan
		}
		if lastErr != nil {
			resp["last_scan_error"] = lastErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIndex handles POST /rag/index
// Request: {"content": "...", "doc_type": "price", "metadata": {...}, "id": ""}
// Response: {"id": "...", "status": "indexed"}
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Content  string            `json:"content"`
		DocType  string            `json:"doc_type,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
		ID       string            `json:"id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	id, err := s.svc.Index(r.Context(), req.Content, req.DocType, req.Metadata, req.ID)
	if err != nil {
		writeIndexError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "indexed",
	})
}

// handleIndexBatch handles POST /rag/index/batch
// Request: {"documents": [{"content": "...", "doc_type": "faq"}, ...]}
// Response: {"ids": [...], "indexed": 2}
func (s *Server) handleIndexBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Documents []struct {
			Content  string            `json:"content"`
			DocType  string            `json:"doc_type,omitempty"`
			Metadata map[string]string `json:"metadata,omitempty"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeJSONError(w, http.StatusBadRequest, "documents is required")
		return
	}
	if !s.svc.Available() {
		writeJSONError(w, http.StatusServiceUnavailable, "embedding provider not configured")
		return
	}

	docs := make([]rag.BatchDocument, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = rag.BatchDocument{Content: d.Content, Type: d.DocType, Extra: d.Metadata}
	}
	ids := s.svc.IndexBatch(r.Context(), docs)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ids":     ids,
		"indexed": len(ids),
	})
}

// handleIndexConversation handles POST /rag/index/conversation
// Request: {"user_message": "...", "assistant_response": "...", "metadata": {...}}
func (s *Server) handleIndexConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		UserMessage       string            `json:"user_message"`
		AssistantResponse string            `json:"assistant_response"`
		Metadata          map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserMessage == "" || req.AssistantResponse == "" {
		writeJSONError(w, http.StatusBadRequest, "user_message and assistant_response are required")
		return
	}

	id, err := s.svc.IndexConversation(r.Context(), req.UserMessage, req.AssistantResponse, req.Metadata)
	if err != nil {
		writeIndexError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "indexed",
	})
}

// handleQuery handles POST /rag/query
// Request: {"query": "...", "top_k": 3, "doc_type": "price", "min_similarity": 0.7,
// "return_context": true, "max_context_tokens": 2000}
// Response: {"results": [...], "context": "..."}
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Query            string  `json:"query"`
		TopK             int     `json:"top_k,omitempty"`
		DocType          string  `json:"doc_type,omitempty"`
		MinSimilarity    float64 `json:"min_similarity,omitempty"`
		ReturnContext    bool    `json:"return_context,omitempty"`
		MaxContextTokens int     `json:"max_context_tokens,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, http.StatusBadRequest, "query is required")
		return
	}

	matches, err := s.svc.Retrieve(r.Context(), req.Query, rag.QueryOptions{
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		Type:          req.DocType,
	})
	if err != nil {
		// A degraded embedding provider must not break the chat flow;
		// callers get an empty result set instead of an error.
		log.Printf("query failed, returning empty results: %v", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": []rag.Match{},
		})
		return
	}

	resp := map[string]interface{}{
		"results": matches,
	}
	if req.ReturnContext {
		block, err := s.svc.RetrieveContext(r.Context(), req.Query, req.TopK, req.MaxContextTokens)
		if err == nil {
			resp["context"] = block
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDocuments handles GET /rag/documents?doc_type=faq&limit=20&offset=0
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)

	total, documents := s.svc.List(q.Get("doc_type"), limit, offset)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"documents": documents,
	})
}

// handleDocumentByID handles GET and DELETE /rag/documents/{id}
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/rag/documents/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONError(w, http.StatusNotFound, "document not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, ok := s.svc.Get(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":            doc.ID,
			"content":       doc.Content,
			"metadata":      doc.Metadata,
			"created_at":    doc.CreatedAt,
			"has_embedding": doc.Embedding != nil,
		})

	case http.MethodDelete:
		if !s.svc.Delete(r.Context(), id) {
			writeJSONError(w, http.StatusNotFound, "document not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleClear handles DELETE /rag/clear
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.svc.Clear(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "clear failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleReindex handles POST /rag/reindex, triggering an immediate
// source scan.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sched == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no sources directory configured")
		return
	}

	result, err := s.sched.RunNow(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "scan failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeIndexError maps indexing failures to status codes.
func writeIndexError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyContent):
		writeJSONError(w, http.StatusBadRequest, "content is required")
	case errors.Is(err, embed.ErrProviderUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, "embedding provider not configured")
	default:
		writeJSONError(w, http.StatusInternalServerError, "index failed: "+err.Error())
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
