// Package consumer implements the N parallel poll-loop workers: claim one row, fan out
// three concurrent HTTP calls, persist the outcome, and cooperate with the
// Orchestrator's producer-done/drain signals to know when to stop.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/danielloader/sqlite-pipeline/internal/events"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
	"github.com/danielloader/sqlite-pipeline/internal/remote"
	"github.com/danielloader/sqlite-pipeline/internal/store"
)

// pollInterval and emptyPollThreshold are a coupled tuning pair: a Consumer exits only
// once producer_done is set and its last emptyPollThreshold claim attempts in a row found
// nothing, spaced pollInterval apart, i.e. (emptyPollThreshold-1) * pollInterval of
// quiet-queue observation. Empty polls taken before producer_done arrived count too.
const (
	pollInterval       = 200 * time.Millisecond
	emptyPollThreshold = 3
)

// Consumer owns its own store handle and never shares it with another worker.
type Consumer struct {
	id          string
	q           *queue.Queue
	s           *store.Store
	client      *remote.Client
	bus         *events.Bus
	broadcast   <-chan events.Message
	mockCPULoad bool
}

func New(id string, s *store.Store, client *remote.Client, bus *events.Bus, broadcast <-chan events.Message, mockCPULoad bool) *Consumer {
	return &Consumer{
		id:          id,
		q:           queue.New(s),
		s:           s,
		client:      client,
		bus:         bus,
		broadcast:   broadcast,
		mockCPULoad: mockCPULoad,
	}
}

// Run executes the poll loop to completion. ctx cancellation is the Orchestrator's
// uncooperative hard-termination fallback: it can fire between any two statements
// here, at worst abandoning a claimed row in processing, which ResetOrphans
// resurrects at shutdown.
func (c *Consumer) Run(ctx context.Context) {
	defer c.s.Close()

	var producerDone atomic.Bool
	var draining atomic.Bool
	stopRelay := make(chan struct{})
	defer close(stopRelay)

	go func() {
		for {
			select {
			case <-stopRelay:
				return
			case msg, ok := <-c.broadcast:
				if !ok {
					return
				}
				switch msg.Kind {
				case events.KindProducerDone:
					producerDone.Store(true)
				case events.KindDrain:
					draining.Store(true)
				}
			}
		}
	}()

	emptyPolls := 0
	for {
		select {
		case <-ctx.Done():
			c.done(0)
			return
		default:
		}

		// Checked once per iteration, before any claim attempt, never between a
		// claim and its mark_done/mark_failed: a row already claimed is always
		// finalized before this Consumer exits, otherwise reset_orphans would
		// resurrect it and a subsequent run would duplicate the HTTP calls.
		if draining.Load() {
			c.done(0)
			return
		}

		item, err := c.q.ClaimOne(ctx)
		if err != nil {
			if errors.Is(err, store.ErrBusy) {
				time.Sleep(pollInterval)
				continue
			}
			log.Printf("consumer[%s]: claim error: %v", c.id, err)
			c.bus.Report(events.Message{Kind: events.KindFatal, Source: c.id, Err: err})
			c.done(1)
			return
		}

		if item == nil {
			emptyPolls++
			if producerDone.Load() && emptyPolls >= emptyPollThreshold {
				c.done(0)
				return
			}
			time.Sleep(pollInterval)
			continue
		}
		emptyPolls = 0

		if err := c.process(ctx, item); err != nil {
			log.Printf("consumer[%s]: item source_id=%d: %v", c.id, item.SourceID, err)
			// A busy write lock, or a store call cut short by hard termination, is not
			// fatal; any other store error or an invariant violation stops this worker.
			if !errors.Is(err, store.ErrBusy) && ctx.Err() == nil {
				c.bus.Report(events.Message{Kind: events.KindFatal, Source: c.id, Err: err})
				c.done(1)
				return
			}
		}
		c.bus.Report(events.Message{Kind: events.KindItemProcessed, SourceID: item.SourceID})
		// Reschedule immediately: no sleep, there is likely more work.
	}
}

// process runs the fan-out for one claimed row and finalizes it. An HTTP failure is
// local to the row (it is marked failed); the returned error is a store error from
// MarkDone/MarkFailed.
func (c *Consumer) process(ctx context.Context, item *queue.WorkItem) error {
	delays := [3]string{remote.RandomDelay(), remote.RandomDelay(), remote.RandomDelay()}
	calls, err := c.client.FanOut(ctx, delays)
	if err != nil {
		log.Printf("consumer[%s]: item source_id=%d http fan-out failed: %v", c.id, item.SourceID, err)
		if merr := c.q.MarkFailed(ctx, item.ID); merr != nil {
			return fmt.Errorf("mark failed: %w", merr)
		}
		return nil
	}

	var results [3]queue.Result
	for i, call := range calls {
		results[i] = queue.Result{Body: call.Body, StatusCode: call.StatusCode, DurationMs: call.DurationMs}
	}
	if merr := c.q.MarkDone(ctx, item.ID, results); merr != nil {
		return fmt.Errorf("mark done: %w", merr)
	}

	if c.mockCPULoad {
		burnCPU()
	}
	return nil
}

func (c *Consumer) done(exitCode int) {
	c.bus.Report(events.Message{Kind: events.KindConsumerDone, ConsumerID: c.id, ExitCode: exitCode})
}

// burnCPU runs a deterministic, bounded amount of integer work so MOCK_CPU_LOAD=true
// gives a profiler or scheduler-visibility test something to see across cores without
// depending on timing.
func burnCPU() {
	const iterations = 20_000_000
	x := uint64(1)
	for i := 0; i < iterations; i++ {
		x = x*2862933555777941757 + 3037000493
	}
	if x == 0 {
		// unreachable; keeps the loop from being optimized away as dead code
		fmt.Println(x)
	}
}
