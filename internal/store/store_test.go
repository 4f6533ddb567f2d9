package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestInitSchemaIsIdempotentAndRemovesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	if err := InitSchema(path); err != nil {
		t.Fatalf("first init: %v", err)
	}

	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.WithImmediateTx(context.Background(), func(tx *ImmediateTx) error {
		_, err := tx.Exec(context.Background(), `INSERT INTO work_queue (source_id, payload, status, created_at) VALUES (1, '{}', 'pending', datetime('now'))`)
		return err
	}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	s.Close()

	// A second InitSchema removes the file (and its row) and recreates an empty schema.
	if err := InitSchema(path); err != nil {
		t.Fatalf("second init: %v", err)
	}
	s2, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var n int
	row := s2.DB.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM work_queue`)
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("want empty table after reinit, got %d rows", n)
	}
}

func TestWithImmediateTxRollsBackOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	if err := InitSchema(path); err != nil {
		t.Fatalf("init: %v", err)
	}
	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sentinel := context.Canceled
	err = s.WithImmediateTx(context.Background(), func(tx *ImmediateTx) error {
		if _, err := tx.Exec(context.Background(), `INSERT INTO work_queue (source_id, payload, status, created_at) VALUES (1, '{}', 'pending', datetime('now'))`); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("want sentinel error back, got %v", err)
	}

	var n int
	row := s.DB.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM work_queue`)
	if scanErr := row.Scan(&n); scanErr != nil {
		t.Fatalf("count: %v", scanErr)
	}
	if n != 0 {
		t.Fatalf("want rollback to discard the insert, got %d rows", n)
	}
}
