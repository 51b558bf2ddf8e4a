package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"camaron/internal/rag"
	"camaron/internal/scheduler"
	"camaron/internal/version"
)

// Server exposes the retrieval index over HTTP.
type Server struct {
	svc   *rag.Service
	sched *scheduler.Scheduler // nil when no sources directory is configured
	port  int
}

// New creates a server for svc. sched may be nil.
func New(svc *rag.Service, sched *scheduler.Scheduler, port int) *Server {
	return &Server{svc: svc, sched: sched, port: port}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/rag/health", s.handleHealth)
	mux.HandleFunc("/rag/stats", s.handleStats)
	mux.HandleFunc("/rag/index", s.handleIndex)
	mux.HandleFunc("/rag/index/batch", s.handleIndexBatch)
	mux.HandleFunc("/rag/index/conversation", s.handleIndexConversation)
	mux.HandleFunc("/rag/query", s.handleQuery)
	mux.HandleFunc("/rag/documents", s.handleDocuments)
	mux.HandleFunc("/rag/documents/", s.handleDocumentByID)
	mux.HandleFunc("/rag/clear", s.handleClear)
	mux.HandleFunc("/rag/reindex", s.handleReindex)

	return s.accessLog(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("Server listening on port %d (%s)", s.port, version.Full())

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// accessLog tags each request with an id and logs method, path, status
// and duration.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Printf("[%s] %s %s -> %d (%s)",
			requestID, r.Method, r.URL.Path, rec.status,
			time.Since(start).Round(time.Microsecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
