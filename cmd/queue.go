package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the job queue",
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every pending job",
	Long: `Drop every pending job from the queue, ready and scheduled for retry alike.
Jobs that a worker is processing right now are not touched. This affects all
scans, not just one.`,
	RunE: runQueuePurge,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue lengths",
	RunE:  runQueueStats,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	queueCmd.AddCommand(queueStatsCmd)

	queuePurgeCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	queueStatsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !mustGetBool(cmd, "yes") {
		fmt.Print("Purge all pending jobs for every scan? [y/N] ")
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.queue.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purging queue: %w", err)
	}
	fmt.Printf("Purged %d pending jobs\n", n)
	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading queue stats: %w", err)
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Printf("Queue %s\n", cfg.Redis.QueuePrefix)
	fmt.Printf("  Ready:      %d\n", stats.Ready)
	fmt.Printf("  Delayed:    %d\n", stats.Delayed)
	fmt.Printf("  Processing: %d\n", stats.Processing)
	return nil
}
