package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker pool that processes scan jobs",
	Long: `Consume scan jobs from the Redis queue. Each job downloads one image,
extracts its faces and compares them with the scan's target face.

Jobs still marked in flight from a previous run are requeued at startup, so
run one worker fleet per queue. When REAPER_STALE_AFTER is set the worker also
settles claims that were abandoned by crashed or hung executions.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", 0, "Number of jobs processed in parallel (overrides WORKER_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	concurrency := cfg.Worker.Concurrency
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		concurrency = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().Int("concurrency", concurrency).Str("queue", cfg.Redis.QueuePrefix).Msg("Worker starting")
	return a.runWorker(ctx, concurrency)
}
