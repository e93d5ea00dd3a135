package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the facescan HTTP API.
The server accepts scan requests, reports scan status, relays live events over
SSE and WebSocket, proxies Drive images and runs the Google sign-in flow.
With --with-worker the same process also consumes the job queue.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("with-worker", false, "Also run a worker pool in this process")
	serveCmd.Flags().Int("concurrency", 0, "Worker concurrency when --with-worker is set (overrides WORKER_CONCURRENCY)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	concurrency := cfg.Worker.Concurrency
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		concurrency = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := a.server()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
		return nil
	})
	g.Go(func() error {
		if err := server.Start(); err != nil {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	})
	if mustGetBool(cmd, "with-worker") {
		g.Go(func() error {
			return a.runWorker(gctx, concurrency)
		})
	}

	fmt.Printf("Starting facescan on http://%s\n", cfg.Web.Addr())
	fmt.Println("Press Ctrl+C to stop")

	return g.Wait()
}
