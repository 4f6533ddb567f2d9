package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielloader/sqlite-pipeline/internal/config"
	"github.com/danielloader/sqlite-pipeline/internal/orchestrator"
	"github.com/danielloader/sqlite-pipeline/internal/upstream"
)

func main() {
	var (
		consumers   int
		batchSize   int
		limit       int
		maxDuration int
		dbPath      string
		httpAddr    string
	)

	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Drain an upstream Postgres table through a durable SQLite work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if consumers < 1 {
				return fmt.Errorf("--consumers must be >= 1")
			}
			if batchSize < 1 {
				return fmt.Errorf("--batch-size must be >= 1")
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			if maxDuration < 0 {
				return fmt.Errorf("--max-duration must be >= 0")
			}

			env, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			pg, err := upstream.Dial(ctx, env)
			if err != nil {
				return fmt.Errorf("connect upstream: %w", err)
			}
			defer pg.Close()

			cfg := orchestrator.Config{
				DBPath:      dbPath,
				Consumers:   consumers,
				BatchSize:   batchSize,
				RowLimit:    limit,
				MaxDuration: time.Duration(maxDuration) * time.Second,
				HTTPBinURL:  env.HTTPBinURL,
				MockCPULoad: env.MockCPULoad,
				HTTPAddr:    httpAddr,
				LogLevel:    env.LogLevel,
			}

			o := orchestrator.New(cfg, pg)
			code := o.Run(ctx)
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags := root.Flags()
	flags.IntVarP(&consumers, "consumers", "c", 4, "number of consumer workers")
	flags.IntVarP(&batchSize, "batch-size", "b", 100, "producer page size")
	flags.IntVarP(&limit, "limit", "l", 0, "max rows to enqueue (0 = unbounded)")
	flags.IntVarP(&maxDuration, "max-duration", "t", 0, "pipeline wall-clock seconds (0 = unbounded)")
	flags.StringVar(&dbPath, "db", config.Getenv("QUEUE_DB_PATH", "queue.db"), "path to the SQLite work queue file")
	flags.StringVar(&httpAddr, "http-addr", config.Getenv("HTTP_ADDR", ""), "address for the /status endpoint (empty disables it)")

	if err := root.Execute(); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
}
