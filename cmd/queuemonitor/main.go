package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/danielloader/sqlite-pipeline/internal/config"
	"github.com/danielloader/sqlite-pipeline/internal/queue"
	"github.com/danielloader/sqlite-pipeline/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbPath := flag.String("db", config.Getenv("QUEUE_DB_PATH", "queue.db"), "path to the SQLite work queue file")
	flag.Parse()

	s, err := store.Open(*dbPath, true)
	if err != nil {
		log.Fatalf("queuemonitor: open error: %v", err)
	}
	defer s.Close()
	q := queue.New(s)

	fmt.Println("queuemonitor: starting (Ctrl-C to exit)")
	runTUI(ctx, q)
	fmt.Println("queuemonitor: stopped")
}

// runTUI renders a very simple screen that shows the status_counts snapshot and
// refreshes once a second, independent of the Orchestrator's own 2s progress sampler.
func runTUI(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Print("\033[2J\033[H")
			fmt.Println("sqlite-pipeline - work queue snapshot")
			fmt.Println(time.Now().UTC().Format(time.RFC3339))

			counts, err := q.StatusCounts(ctx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println()
			fmt.Printf("Pending    : %d\n", counts[queue.StatusPending])
			fmt.Printf("Processing : %d\n", counts[queue.StatusProcessing])
			fmt.Printf("Done       : %d\n", counts[queue.StatusDone])
			fmt.Printf("Failed     : %d\n", counts[queue.StatusFailed])
			fmt.Println()
			fmt.Println("Press Ctrl-C to exit")
		}
	}
}
