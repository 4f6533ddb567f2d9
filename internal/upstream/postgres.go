// Package upstream is the concrete upstream row source: a PostgreSQL table reached
// through pgx/v5 and pgxpool. It implements producer.Source structurally; the
// Producer never imports this package directly, only the orchestrator wiring does.
package upstream

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danielloader/sqlite-pipeline/internal/config"
	"github.com/danielloader/sqlite-pipeline/internal/producer"
)

// Postgres reads rows from a single table, ordered by id ascending, using a keyset
// cursor (WHERE id > $1) rather than OFFSET: an OFFSET-based page walk re-scans and
// discards every row before the offset on each call, which degrades badly over a table
// large enough to need paging at all. Stable key order and a monotonically increasing
// offset are satisfied here by a monotonically increasing cursor position in id order
// rather than a literal OFFSET integer.
type Postgres struct {
	pool *pgxpool.Pool
}

// Dial opens a pool against the table the Producer drains. The pool honors
// PG_HOST/PG_PORT/PG_USER/PG_PASSWORD/PG_DATABASE from Env.
func Dial(ctx context.Context, e *config.Env) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		e.PGUser, e.PGPassword, e.PGHost, e.PGPort, e.PGDatabase)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("upstream: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("upstream: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// FetchPage returns up to limit rows from upstream_rows with id > afterID, ordered by
// id ascending, satisfying producer.Source.
func (p *Postgres) FetchPage(ctx context.Context, afterID int64, limit int) ([]producer.Row, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, body::text
		FROM upstream_rows
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("upstream: fetch page: %w", err)
	}
	defer rows.Close()

	var out []producer.Row
	for rows.Next() {
		var r producer.Row
		if err := rows.Scan(&r.SourceID, &r.Payload); err != nil {
			return nil, fmt.Errorf("upstream: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EnsureSchema creates the upstream_rows table if absent. Only used by integration
// tests and local seeding; a production deployment owns its own upstream schema.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS upstream_rows (
			id   BIGSERIAL PRIMARY KEY,
			body JSONB NOT NULL
		)`)
	return err
}
