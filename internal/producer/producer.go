// Package producer implements the single upstream-draining worker: repeatedly fetch a
// page from the upstream source, enqueue it in one write transaction, and report
// progress to the Orchestrator until the source is exhausted or row_limit is reached.
package producer

import (
	"context"
	"fmt"

	"github.com/danielloader/sqlite-pipeline/internal/events"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
)

// Row is one upstream record, already reduced to the {source_id, payload} shape the
// Queue stores. Payload is the rest of the upstream record serialized as JSON text.
type Row struct {
	SourceID int64
	Payload  string
}

// Source is the paginated upstream iterator: given a cursor (the last seen id, 0
// initially) and a limit, return the next page ordered by id ascending. An empty page
// (possibly nil, possibly len 0) signals exhaustion.
type Source interface {
	FetchPage(ctx context.Context, afterID int64, limit int) ([]Row, error)
}

// Config is the Producer's typed init payload.
type Config struct {
	PageSize int // must be positive
	RowLimit int // 0 means unbounded
}

// Producer pulls pages from Source and hands each non-empty page to the Queue in one
// write transaction per page.
type Producer struct {
	source Source
	q      *queue.Queue
	bus    *events.Bus
	cfg    Config
}

func New(source Source, q *queue.Queue, bus *events.Bus, cfg Config) *Producer {
	return &Producer{source: source, q: q, bus: bus, cfg: cfg}
}

// Run executes the fetch-enqueue loop to completion: it returns nil only after
// emitting producer_done, or a non-nil error for a fatal upstream/store failure, which
// the Orchestrator treats as pipeline-fatal.
func (p *Producer) Run(ctx context.Context) error {
	var afterID int64
	var total int

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageSize := p.cfg.PageSize
		if p.cfg.RowLimit > 0 {
			remaining := p.cfg.RowLimit - total
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		page, err := p.source.FetchPage(ctx, afterID, pageSize)
		if err != nil {
			return fmt.Errorf("producer: fetch page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		rows := make([]queue.Row, len(page))
		for i, r := range page {
			rows[i] = queue.Row{SourceID: r.SourceID, Payload: r.Payload}
		}
		if err := p.q.EnqueueBatch(ctx, rows); err != nil {
			return fmt.Errorf("producer: enqueue batch: %w", err)
		}

		total += len(rows)
		afterID = page[len(page)-1].SourceID
		p.bus.Report(events.Message{Kind: events.KindBatchInserted, Count: len(rows)})
	}

	p.bus.Report(events.Message{Kind: events.KindProducerDone, TotalInserted: total})
	return nil
}
