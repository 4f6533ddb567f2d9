// Package store owns the single SQLite file the whole pipeline run lives in: schema
// bootstrap and the per-worker handle factory. Every worker (Producer, each Consumer,
// the Orchestrator's monitor and shutdown handles) opens its own Store; handles are
// never shared between workers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single *sql.DB handle configured for multi-process access: WAL
// journaling, a 5s busy-timeout, NORMAL synchronous (safe under WAL), and a ~64MiB
// page cache.
type Store struct {
	DB       *sql.DB
	readOnly bool
}

// dsn builds the mattn/go-sqlite3 connection string carrying the pragmas above.
// _busy_timeout is milliseconds; the driver applies it as SQLite's
// sqlite3_busy_timeout, so a writer contending with another handle blocks and retries
// instead of failing immediately with SQLITE_BUSY.
func dsn(path string, readOnly bool) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_synchronous", "NORMAL")
	if readOnly {
		q.Set("mode", "ro")
		q.Set("_query_only", "true")
	}
	return fmt.Sprintf("file:%s?%s", path, q.Encode())
}

// Open returns a single-threaded-use handle onto path. readOnly handles are meant for
// the Orchestrator's progress sampler; they never claim or mutate rows.
func Open(path string, readOnly bool) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path, readOnly))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// SQLite allows only one writer at a time. A write handle is pinned to a single
	// connection so BEGIN IMMEDIATE / COMMIT pairs in Queue always land on the same
	// SQLite connection; read-only monitor handles can fan a few connections out since
	// WAL readers never block each other or the writer.
	if readOnly {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA cache_size = -64000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set cache_size: %w", err)
	}

	return &Store{DB: db, readOnly: readOnly}, nil
}

// Close releases the underlying connection(s).
func (s *Store) Close() error { return s.DB.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS work_queue (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id            INTEGER NOT NULL,
	payload              TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	created_at           TIMESTAMP NOT NULL,
	processed_at         TIMESTAMP,
	result_1_body        TEXT,
	result_1_status      INTEGER,
	result_1_duration_ms REAL,
	result_2_body        TEXT,
	result_2_status      INTEGER,
	result_2_duration_ms REAL,
	result_3_body        TEXT,
	result_3_status      INTEGER,
	result_3_duration_ms REAL
);
CREATE INDEX IF NOT EXISTS idx_work_queue_status ON work_queue(status);
`

// InitSchema removes any stale queue file (and its WAL/SHM auxiliaries) left over from
// a prior run, then creates the schema fresh. Called once by the Orchestrator before
// any worker opens its own handle.
func InitSchema(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove stale %s%s: %w", path, suffix, err)
		}
	}

	s, err := Open(path, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// ImmediateTx is a write transaction that has already acquired SQLite's write lock, as
// opposed to database/sql's default deferred transaction which only upgrades to a write
// lock on first write. Spec section 4.2 calls this out explicitly: acquiring the lock
// upfront, rather than upgrading, is what avoids a deadlock between a Producer's batch
// insert and a Consumer's claim both trying to upgrade at once.
type ImmediateTx struct {
	conn *sql.Conn
}

// WithImmediateTx pins one connection, issues BEGIN IMMEDIATE, runs fn, and commits or
// rolls back based on fn's return value. The Store must be a write handle (not
// readOnly); its single connection makes the pin a formality but keeps the intent
// explicit at the call site.
func (s *Store) WithImmediateTx(ctx context.Context, fn func(*ImmediateTx) error) error {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return classifyBusy(err)
	}

	itx := &ImmediateTx{conn: conn}
	if err := fn(itx); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(ctx, "ROLLBACK")
		return classifyBusy(err)
	}
	return nil
}

// Exec and Query run against the pinned connection inside the transaction.
func (t *ImmediateTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(ctx, query, args...)
}

func (t *ImmediateTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

func (t *ImmediateTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(ctx, query, args...)
}
