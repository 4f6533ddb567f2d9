package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/danielloader/sqlite-pipeline/internal/metrics"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
	"github.com/danielloader/sqlite-pipeline/internal/store"
)

func TestStatusEndpointReportsCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	if err := store.InitSchema(path); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	s, err := store.Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	q := queue.New(s)
	if err := q.EnqueueBatch(context.Background(), []queue.Row{{SourceID: 1, Payload: "{}"}, {SourceID: 2, Payload: "{}"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	m := &metrics.Pipeline{}
	m.AddRowsProduced(2)

	ro, err := store.Open(path, true)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()

	status := NewServer("unused:0", queue.New(ro), m)
	srv := httptest.NewServer(status.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pending"].(float64) != 2 {
		t.Fatalf("want pending=2, got %v", body["pending"])
	}
	if body["rows_produced"].(float64) != 2 {
		t.Fatalf("want rows_produced=2, got %v", body["rows_produced"])
	}
}
