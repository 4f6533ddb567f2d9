package consumer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielloader/sqlite-pipeline/internal/events"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
	"github.com/danielloader/sqlite-pipeline/internal/remote"
	"github.com/danielloader/sqlite-pipeline/internal/store"
)

func newWriteHandle(t *testing.T, path string) *store.Store {
	t.Helper()
	s, err := store.Open(path, false)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConsumerProcessesAllRowsThenExitsAfterProducerDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	if err := store.InitSchema(path); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	seed := newWriteHandle(t, path)
	seedQ := queue.New(seed)
	rows := []queue.Row{{SourceID: 1, Payload: "{}"}, {SourceID: 2, Payload: "{}"}, {SourceID: 3, Payload: "{}"}}
	if err := seedQ.EnqueueBatch(context.Background(), rows); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	bus := events.NewBus(64)
	broadcast := bus.Register("consumer-0")
	cs := newWriteHandle(t, path)
	c := New("consumer-0", cs, remote.NewClient(srv.URL), bus, broadcast, false)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	// Let the three seeded rows drain, then signal producer_done; the Consumer must
	// exit after three consecutive empty polls, not before.
	time.Sleep(50 * time.Millisecond)
	bus.Broadcast(events.Message{Kind: events.KindProducerDone, TotalInserted: 3})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not exit within 5s of producer_done")
	}

	checkStore := newWriteHandle(t, path)
	counts, err := queue.New(checkStore).StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[queue.StatusDone] != 3 {
		t.Fatalf("want 3 done, got %+v", counts)
	}
	if counts[queue.StatusPending] != 0 || counts[queue.StatusProcessing] != 0 {
		t.Fatalf("want no pending/processing rows left, got %+v", counts)
	}

	var sawConsumerDone bool
	for {
		select {
		case msg := <-bus.Events:
			if msg.Kind == events.KindConsumerDone {
				sawConsumerDone = true
				if msg.ExitCode != 0 {
					t.Fatalf("want exit code 0, got %d", msg.ExitCode)
				}
			}
		default:
			if !sawConsumerDone {
				t.Fatalf("expected a consumer_done event")
			}
			return
		}
	}
}

func TestConsumerFinishesClaimedRowBeforeHonoringDrain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	if err := store.InitSchema(path); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	seed := newWriteHandle(t, path)
	seedQ := queue.New(seed)
	if err := seedQ.EnqueueBatch(context.Background(), []queue.Row{{SourceID: 1, Payload: "{}"}}); err != nil {
		t.Fatalf("seed enqueue: %v", err)
	}

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	bus := events.NewBus(64)
	broadcast := bus.Register("consumer-0")
	cs := newWriteHandle(t, path)
	c := New("consumer-0", cs, remote.NewClient(srv.URL), bus, broadcast, false)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	// Give the Consumer time to claim the row and block inside the HTTP fan-out,
	// then signal drain while it's still mid-flight.
	time.Sleep(50 * time.Millisecond)
	bus.Broadcast(events.Message{Kind: events.KindDrain})
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer did not exit after drain")
	}

	checkStore := newWriteHandle(t, path)
	counts, err := queue.New(checkStore).StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("status counts: %v", err)
	}
	if counts[queue.StatusDone] != 1 {
		t.Fatalf("claimed row must be finalized to done before drain exit, got %+v", counts)
	}
	if counts[queue.StatusProcessing] != 0 {
		t.Fatalf("want no row left processing after drain, got %+v", counts)
	}
}
