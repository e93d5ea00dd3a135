package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper settles abandoned work.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Schedule runs sweeper on a cron expression until ctx is cancelled.
// Overlapping runs are skipped.
func Schedule(ctx context.Context, expr string, sweeper Sweeper) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		n, err := sweeper.Sweep(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Reaper sweep failed")
			return
		}
		if n > 0 {
			log.Warn().Int("reaped", n).Msg("Reaped abandoned claims")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	log.Info().Str("cron", expr).Msg("Reaper scheduled")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
