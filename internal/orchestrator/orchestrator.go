// Package orchestrator implements the top-level lifecycle controller: bootstrap the
// store, spawn the Producer and N Consumers, relay the producer_done signal, run the
// progress sampler and deadline timer, and execute shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielloader/sqlite-pipeline/internal/consumer"
	"github.com/danielloader/sqlite-pipeline/internal/events"
	"github.com/danielloader/sqlite-pipeline/internal/httpapi"
	"github.com/danielloader/sqlite-pipeline/internal/logging"
	"github.com/danielloader/sqlite-pipeline/internal/metrics"
	"github.com/danielloader/sqlite-pipeline/internal/producer"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
	"github.com/danielloader/sqlite-pipeline/internal/remote"
	"github.com/danielloader/sqlite-pipeline/internal/store"
)

// progressInterval is how often the progress sampler reports status_counts.
const progressInterval = 2000 * time.Millisecond

// safetyTimeout is the hard-termination fallback: if every Consumer hasn't reported
// consumer_done within this window of the drain broadcast, the Orchestrator
// force-shuts-down rather than waiting forever for a wedged worker.
const safetyTimeout = 30 * time.Second

// Config is the Orchestrator's typed init payload, built from the CLI flags and
// environment.
type Config struct {
	DBPath      string
	Consumers   int
	BatchSize   int
	RowLimit    int
	MaxDuration time.Duration
	HTTPBinURL  string
	MockCPULoad bool
	HTTPAddr    string // empty disables the /status observability server
	LogLevel    string // LOG_LEVEL; gates the sampler/shutdown log lines below
}

// Orchestrator owns exactly two of its own store handles (the read-only progress
// monitor and a brief read-write handle used only during shutdown); every Producer
// and Consumer handle belongs to that worker alone.
type Orchestrator struct {
	cfg    Config
	source producer.Source
}

func New(cfg Config, source producer.Source) *Orchestrator {
	return &Orchestrator{cfg: cfg, source: source}
}

// Run executes the pipeline to completion and returns the process exit code per spec
// section 6.5: 0 on normal or deadline-drained completion, 1 on a fatal producer error
// or a non-zero consumer exit observed before all-done.
func (o *Orchestrator) Run(ctx context.Context) int {
	lg := logging.NewGate(logging.ParseLevel(o.cfg.LogLevel))

	// 1. Bootstrap.
	if err := store.InitSchema(o.cfg.DBPath); err != nil {
		lg.Errorf("orchestrator: bootstrap failed: %v", err)
		return 1
	}

	bus := events.NewBus(4 * o.cfg.Consumers)
	m := &metrics.Pipeline{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	// 2. Spawn the Producer.
	prodStore, err := store.Open(o.cfg.DBPath, false)
	if err != nil {
		lg.Errorf("orchestrator: open producer handle: %v", err)
		return 1
	}
	prod := producer.New(o.source, queue.New(prodStore), bus, producer.Config{
		PageSize: o.cfg.BatchSize,
		RowLimit: o.cfg.RowLimit,
	})
	producerErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer prodStore.Close()
		producerErrCh <- prod.Run(runCtx)
	}()

	// 2. Spawn N Consumers, each with its own handle, its own remote client, and its
	// own registered broadcast channel for the relay in step 3.
	for i := 0; i < o.cfg.Consumers; i++ {
		id := fmt.Sprintf("consumer-%d-%s", i, uuid.NewString()[:8])
		cs, err := store.Open(o.cfg.DBPath, false)
		if err != nil {
			lg.Errorf("orchestrator: open %s handle: %v", id, err)
			return 1
		}
		client := remote.NewClient(o.cfg.HTTPBinURL)
		broadcast := bus.Register(id)
		c := consumer.New(id, cs, client, bus, broadcast, o.cfg.MockCPULoad)
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(runCtx)
		}()
	}

	// 4. Progress sampler: a read-only monitor handle, paused during shutdown below.
	monitorStore, err := store.Open(o.cfg.DBPath, true)
	if err != nil {
		lg.Errorf("orchestrator: open monitor handle: %v", err)
		return 1
	}
	monitorQueue := queue.New(monitorStore)
	stopSampler := metrics.Every(progressInterval, func() {
		counts, err := monitorQueue.StatusCounts(context.Background())
		if err != nil {
			lg.Errorf("orchestrator: status sample failed: %v", err)
			return
		}
		lg.Infof("status pending=%d processing=%d done=%d failed=%d produced=%d processed=%d",
			counts[queue.StatusPending], counts[queue.StatusProcessing],
			counts[queue.StatusDone], counts[queue.StatusFailed],
			m.RowsProduced(), m.ItemsProcessed())
	})

	// Reuses the progress sampler's read-only monitor handle rather than opening a
	// second one.
	var statusSrv *httpapi.Server
	if o.cfg.HTTPAddr != "" {
		statusSrv = httpapi.NewServer(o.cfg.HTTPAddr, monitorQueue, m)
		go statusSrv.Serve()
	}

	// 5. Deadline timer and its safety-timer fallback. safetyTimer is written from the
	// deadlineTimer's own callback goroutine and read from the main goroutine below, so
	// it is guarded by safetyMu rather than assigned directly.
	forceCh := make(chan struct{})
	var safetyMu sync.Mutex
	var deadlineTimer, safetyTimer *time.Timer
	if o.cfg.MaxDuration > 0 {
		deadlineTimer = time.AfterFunc(o.cfg.MaxDuration, func() {
			lg.Infof("orchestrator: max-duration elapsed, broadcasting drain")
			bus.Broadcast(events.Message{Kind: events.KindDrain})
			safetyMu.Lock()
			safetyTimer = time.AfterFunc(safetyTimeout, func() {
				lg.Warnf("orchestrator: safety timeout elapsed, forcing shutdown")
				close(forceCh)
			})
			safetyMu.Unlock()
		})
	}

	exitCode := 0
	consumersDone := 0
	forced := false

poll:
	for consumersDone < o.cfg.Consumers {
		select {
		case <-forceCh:
			forced = true
			break poll

		case err := <-producerErrCh:
			producerErrCh = nil // consumed once; disable this case for the rest of the loop
			if err != nil {
				lg.Errorf("orchestrator: producer fatal: %v", err)
				exitCode = 1
				bus.Broadcast(events.Message{Kind: events.KindDrain})
			}

		case msg := <-bus.Events:
			switch msg.Kind {
			case events.KindBatchInserted:
				m.AddRowsProduced(msg.Count)
			case events.KindProducerDone:
				bus.Broadcast(events.Message{Kind: events.KindProducerDone, TotalInserted: msg.TotalInserted})
			case events.KindItemProcessed:
				m.IncItemsProcessed()
			case events.KindConsumerDone:
				consumersDone++
				if msg.ExitCode != 0 {
					exitCode = 1
					bus.Broadcast(events.Message{Kind: events.KindDrain})
				}
			case events.KindFatal:
				lg.Errorf("orchestrator: fatal from %s: %v", msg.Source, msg.Err)
				exitCode = 1
				bus.Broadcast(events.Message{Kind: events.KindDrain})
			}
		}
	}

	if deadlineTimer != nil {
		deadlineTimer.Stop()
	}
	safetyMu.Lock()
	if safetyTimer != nil {
		safetyTimer.Stop()
	}
	safetyMu.Unlock()
	stopSampler()

	// Keep draining bus.Events while workers wind down: a Consumer or the Producer may
	// still be blocked inside Bus.Report (intentional backpressure) when the poll loop
	// above exits early on a forced shutdown, and nothing else reads the channel.
	drainDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-bus.Events:
			case <-drainDone:
				return
			}
		}
	}()

	cancel() // uncooperative fallback for any Consumer the force-shutdown path didn't wait for
	wg.Wait()
	close(drainDone)

	if forced {
		// A timed-out drain still exits 0, distinct from a consumer reporting a
		// non-zero exit code before all-done.
		exitCode = 0
	}

	// 6. Shutdown: reset_orphans on a fresh handle, then close everything.
	shutdownStore, err := store.Open(o.cfg.DBPath, false)
	if err != nil {
		lg.Errorf("orchestrator: open shutdown handle: %v", err)
	} else {
		n, err := queue.New(shutdownStore).ResetOrphans(context.Background())
		if err != nil {
			lg.Errorf("orchestrator: reset_orphans failed: %v", err)
		} else if n > 0 {
			lg.Infof("orchestrator: reset %d orphaned row(s) to pending", n)
		}
		shutdownStore.Close()
	}

	if statusSrv != nil {
		statusSrv.Shutdown()
	}
	monitorStore.Close()
	bus.Close()

	lg.Infof("summary rows_produced=%d items_processed=%d exit_code=%d",
		m.RowsProduced(), m.ItemsProcessed(), exitCode)
	return exitCode
}
