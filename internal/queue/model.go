// Package queue implements the work-queue state machine on top of a single-writer
// SQLite store: the schema, the atomic claim protocol, and the status aggregates the
// rest of the pipeline is built around.
package queue

import "time"

// Status is one of the four states a WorkItem moves through. Transitions are linear:
// pending -> processing -> {done, failed}, with the shutdown-time orphan reset the only
// exception (processing -> pending).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Result holds the outcome of one of the three parallel HTTP calls issued for a
// WorkItem. All three fields are set together or not at all.
type Result struct {
	Body       string
	StatusCode int
	DurationMs float64
}

// WorkItem is a single row of the work_queue table.
type WorkItem struct {
	ID          int64
	SourceID    int64
	Payload     string
	Status      Status
	CreatedAt   time.Time
	ProcessedAt *time.Time
	Results     [3]*Result // index 0..2 correspond to the three concurrent calls
}

// Row is what the Producer hands to EnqueueBatch: the upstream-assigned identifier and
// its JSON-serialized payload. It carries no status; EnqueueBatch always inserts rows
// pending.
type Row struct {
	SourceID int64
	Payload  string
}
