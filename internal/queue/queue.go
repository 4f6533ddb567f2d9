package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielloader/sqlite-pipeline/internal/store"
)

// Queue is the single place that encodes the work_queue state machine: pending ->
// processing -> done/failed. It owns no connection of its own; it wraps whichever
// *store.Store handle its caller (Producer, one Consumer, or the Orchestrator) opened
// for itself.
type Queue struct {
	s *store.Store
}

func New(s *store.Store) *Queue { return &Queue{s: s} }

// EnqueueBatch inserts rows in one write transaction, all-or-nothing. Every row lands
// as status=pending.
func (q *Queue) EnqueueBatch(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	return q.s.WithImmediateTx(ctx, func(tx *store.ImmediateTx) error {
		now := time.Now().UTC()
		for _, r := range rows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO work_queue (source_id, payload, status, created_at)
				VALUES (?, ?, 'pending', ?)`,
				r.SourceID, r.Payload, now,
			); err != nil {
				return fmt.Errorf("queue: enqueue batch: %w", err)
			}
		}
		return nil
	})
}

// ClaimOne atomically selects one pending row, transitions it to processing, stamps
// processed_at, and returns the full row. It runs inside a transaction that has
// already taken the write lock (WithImmediateTx), so two concurrent claimers can
// never both select the same pending row: whichever gets the write lock second simply
// finds nothing pending that the first one left behind, or blocks until the
// busy-timeout and retries.
//
// Returns (nil, nil) when no row is pending. A busy-timeout error is returned wrapped
// as store.ErrBusy for the caller to retry after a backoff; any other error is fatal.
func (q *Queue) ClaimOne(ctx context.Context) (*WorkItem, error) {
	var item *WorkItem
	err := q.s.WithImmediateTx(ctx, func(tx *store.ImmediateTx) error {
		var id int64
		now := time.Now().UTC()
		// One statement selects and claims the candidate while BEGIN IMMEDIATE holds
		// the write lock, so no other claimer can see this row as pending.
		row := tx.QueryRow(ctx, `
			UPDATE work_queue SET status = 'processing', processed_at = ?
			WHERE id = (SELECT id FROM work_queue WHERE status = 'pending' LIMIT 1)
			RETURNING id`, now)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil // nothing pending; item stays nil
			}
			return fmt.Errorf("queue: claim update: %w", err)
		}

		item = &WorkItem{
			ID:          id,
			Status:      StatusProcessing,
			ProcessedAt: &now,
		}
		srcRow := tx.QueryRow(ctx, `SELECT source_id, payload, created_at FROM work_queue WHERE id = ?`, id)
		if err := srcRow.Scan(&item.SourceID, &item.Payload, &item.CreatedAt); err != nil {
			return fmt.Errorf("queue: claim reload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// MarkDone transitions a row processing -> done and writes all nine result fields.
// Finding the row not in processing is an invariant violation, not a recoverable
// runtime condition.
func (q *Queue) MarkDone(ctx context.Context, id int64, results [3]Result) error {
	return q.s.WithImmediateTx(ctx, func(tx *store.ImmediateTx) error {
		res, err := tx.Exec(ctx, `
			UPDATE work_queue SET
				status = 'done',
				result_1_body = ?, result_1_status = ?, result_1_duration_ms = ?,
				result_2_body = ?, result_2_status = ?, result_2_duration_ms = ?,
				result_3_body = ?, result_3_status = ?, result_3_duration_ms = ?
			WHERE id = ? AND status = 'processing'`,
			results[0].Body, results[0].StatusCode, results[0].DurationMs,
			results[1].Body, results[1].StatusCode, results[1].DurationMs,
			results[2].Body, results[2].StatusCode, results[2].DurationMs,
			id,
		)
		if err != nil {
			return fmt.Errorf("queue: mark done: %w", err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			return fmt.Errorf("queue: mark done: item %d is not processing: %w", id, ErrInvariant)
		}
		return nil
	})
}

// MarkFailed transitions a row processing -> failed. Result columns remain null:
// partial results from the three calls are discarded rather than persisted.
func (q *Queue) MarkFailed(ctx context.Context, id int64) error {
	return q.s.WithImmediateTx(ctx, func(tx *store.ImmediateTx) error {
		res, err := tx.Exec(ctx, `UPDATE work_queue SET status = 'failed' WHERE id = ? AND status = 'processing'`, id)
		if err != nil {
			return fmt.Errorf("queue: mark failed: %w", err)
		}
		n, _ := res.RowsAffected()
		if n != 1 {
			return fmt.Errorf("queue: mark failed: item %d is not processing: %w", id, ErrInvariant)
		}
		return nil
	})
}

// ResetOrphans sets every processing row back to pending, clearing processed_at. Used
// only by the Orchestrator during shutdown; destructively discards the timestamp since
// there is no retry scheduler reading it afterwards.
func (q *Queue) ResetOrphans(ctx context.Context) (int, error) {
	var n int64
	err := q.s.WithImmediateTx(ctx, func(tx *store.ImmediateTx) error {
		res, err := tx.Exec(ctx, `UPDATE work_queue SET status = 'pending', processed_at = NULL WHERE status = 'processing'`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// StatusCounts is a read-only aggregate used by the progress sampler. It does not need
// a write transaction; any connection on the handle (read-only or not) can serve it.
func (q *Queue) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue: status counts: %w", err)
	}
	defer rows.Close()

	out := map[Status]int{StatusPending: 0, StatusProcessing: 0, StatusDone: 0, StatusFailed: 0}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

// ErrInvariant marks a state-machine invariant violation (e.g. MarkDone called on a
// row that was not processing). Spec section 7 treats this as a programming error,
// fatal to the enclosing worker rather than locally recoverable.
var ErrInvariant = errors.New("queue: invariant violation")
