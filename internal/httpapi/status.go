// Package httpapi is the pipeline's one observability surface: a single read-only
// GET /status endpoint reporting queue counts and running totals as JSON. There is no
// per-item inspection API and no pause/cancel operation in this state machine, so the
// surface stays deliberately small.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/danielloader/sqlite-pipeline/internal/metrics"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
)

// Server serves GET /status on addr until Shutdown is called. It opens no store handle
// of its own: it queries through whatever Queue it is given, which in the Orchestrator
// is the progress sampler's read-only monitor handle.
type Server struct {
	http *http.Server
}

// NewServer builds the status server. q must be backed by a read-only *store.Store;
// the Orchestrator owns the handle's lifetime.
func NewServer(addr string, q *queue.Queue, m *metrics.Pipeline) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		counts, err := q.StatusCounts(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":         counts[queue.StatusPending],
			"processing":      counts[queue.StatusProcessing],
			"done":            counts[queue.StatusDone],
			"failed":          counts[queue.StatusFailed],
			"rows_produced":   m.RowsProduced(),
			"items_processed": m.ItemsProcessed(),
		})
	})

	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve runs the server until Shutdown is called; ErrServerClosed is swallowed since
// it is the expected outcome of a clean shutdown.
func (s *Server) Serve() {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("httpapi: serve error: %v", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}

// Handler exposes the underlying mux for tests to drive with httptest.Server without
// binding a real listener via Serve.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
