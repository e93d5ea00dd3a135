package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facescan/internal/client"
	"github.com/kozaktomas/facescan/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan <drive-folder-link>",
	Short: "Scan a Drive folder for a face",
	Long: `Submit a scan to a running facescan server and follow it to the end.
The target face is read from a local image file. Matches are printed as
they arrive; a progress bar tracks every processed image.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("face", "", "Image file containing the target face (required)")
	scanCmd.Flags().String("token", "", "Google OAuth access token (defaults to GOOGLE_ACCESS_TOKEN)")
	scanCmd.Flags().String("server", "http://localhost:8080", "facescan server URL")
	scanCmd.Flags().Bool("detach", false, "Submit and exit without following progress")
	_ = scanCmd.MarkFlagRequired("face")
}

func runScan(cmd *cobra.Command, args []string) error {
	facePath := mustGetString(cmd, "face")
	token := mustGetString(cmd, "token")
	if token == "" {
		token = os.Getenv("GOOGLE_ACCESS_TOKEN")
	}
	if token == "" {
		return errors.New("an access token is required (--token or GOOGLE_ACCESS_TOKEN)")
	}

	image, err := os.ReadFile(facePath)
	if err != nil {
		return fmt.Errorf("reading face image: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(mustGetString(cmd, "server"))
	started, err := c.Submit(ctx, scan.Request{
		FolderRef:   args[0],
		TargetFace:  base64.StdEncoding.EncodeToString(image),
		AccessToken: token,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Scan %s started: %d images\n", started.ScanID, started.TotalFiles)
	if mustGetBool(cmd, "detach") {
		return nil
	}

	bar := progressbar.NewOptions(started.TotalFiles,
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var matches []scan.MatchEvent
	var failures, noFace int
	var tokenExpired string
	done := false

	err = c.Follow(ctx, started.ScanID, client.Handlers{
		OnStatus: func(s scan.ScanState) {
			if s.Remaining != nil {
				_ = bar.Set(started.TotalFiles - int(*s.Remaining))
			}
			if s.Status == scan.StatusCompleted {
				done = true
			}
		},
		OnEvent: func(ev scan.Event) {
			switch e := ev.(type) {
			case scan.MatchEvent:
				matches = append(matches, e)
				_ = bar.Clear()
				fmt.Printf("Match: %s\n", e.FileName)
				_ = bar.Add(1)
			case scan.ProgressEvent:
				if e.Status == scan.ProgressNoFaceFound {
					noFace++
				}
				_ = bar.Add(1)
			case scan.ErrorEvent:
				failures++
				_ = bar.Clear()
				fmt.Printf("Error: %s: %s\n", e.FileName, e.Message)
				_ = bar.Add(1)
			case scan.TokenExpiredEvent:
				tokenExpired = e.Message
			case scan.CompletedEvent:
				done = true
				_ = bar.Finish()
			}
		},
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	fmt.Println()
	if !done {
		fmt.Printf("Stopped following scan %s; it keeps running on the server\n", started.ScanID)
	}
	if tokenExpired != "" {
		fmt.Printf("Warning: %s\n", tokenExpired)
	}
	fmt.Printf("Matches: %d  No face: %d  Errors: %d\n", len(matches), noFace, failures)
	for _, m := range matches {
		fmt.Printf("  %s  %s\n", m.FileName, m.DownloadURL)
	}
	return nil
}
