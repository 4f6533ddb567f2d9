// Package metrics tracks the few in-memory counters the Orchestrator needs that are
// not already derivable from a StatusCounts() query. rows_produced in particular must
// equal the sum of status_counts().values() at shutdown, and is defined as the sum of
// batch_inserted.count values observed by the Orchestrator, not a database read, so it
// has to be tracked independently of the database.
package metrics

import (
	"sync/atomic"
	"time"
)

// Pipeline holds the counters the Orchestrator updates as it observes events on the
// bus, and the progress sampler reads back for logging.
type Pipeline struct {
	rowsProduced   atomic.Int64
	itemsProcessed atomic.Int64
}

func (p *Pipeline) AddRowsProduced(n int)  { p.rowsProduced.Add(int64(n)) }
func (p *Pipeline) IncItemsProcessed()     { p.itemsProcessed.Add(1) }
func (p *Pipeline) RowsProduced() int64    { return p.rowsProduced.Load() }
func (p *Pipeline) ItemsProcessed() int64  { return p.itemsProcessed.Load() }

// Every runs f on a ticker until the returned stop function is called. Used by the
// Orchestrator's progress sampler to drive the periodic StatusCounts log.
func Every(d time.Duration, f func()) func() {
	stop := make(chan struct{})
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				f()
			}
		}
	}()
	return func() { close(stop) }
}
