package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// AbandonedMessage is the error event text for a claim the reaper settled.
const AbandonedMessage = "Processing abandoned"

// Reaper settles claims whose worker never reached a terminal state, such as
// a job killed at the hard time limit or a worker that crashed mid-job.
// Removing the ledger entry is what decides ownership, so a late executor
// and the reaper never both count the same file.
type Reaper struct {
	store      Store
	tracker    *Tracker
	publisher  *Publisher
	staleAfter time.Duration
	now        func() time.Time
}

// NewReaper creates a reaper for claims older than staleAfter.
func NewReaper(store Store, tracker *Tracker, publisher *Publisher, staleAfter time.Duration) *Reaper {
	return &Reaper{
		store:      store,
		tracker:    tracker,
		publisher:  publisher,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Sweep settles every stale claim it wins and returns how many files it
// counted.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	members, err := r.store.ClaimsBefore(ctx, ClaimLedger, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stale claims: %w", err)
	}

	reaped := 0
	for _, member := range members {
		owned, err := r.store.SettleClaim(ctx, ClaimLedger, member)
		if err != nil {
			return reaped, fmt.Errorf("settling claim %q: %w", member, err)
		}
		if !owned {
			continue
		}

		job, err := parseClaimMember(member)
		if err != nil {
			log.Warn().Err(err).Msg("Dropped malformed claim")
			continue
		}
		logger := log.With().Str("scan_id", job.ScanID).Str("file_id", job.FileID).Logger()

		if _, err := r.store.Get(ctx, remainingKey(job.ScanID)); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return reaped, fmt.Errorf("reading counter of scan %s: %w", job.ScanID, err)
			}
			logger.Debug().Msg("Dropped stale claim of finished scan")
			continue
		}

		logger.Warn().Msg("Reaping abandoned claim")
		ev := ErrorEvent{ScanID: job.ScanID, FileID: job.FileID, FileName: job.FileName, Message: AbandonedMessage}
		if err := r.publisher.Publish(ctx, ev); err != nil {
			logger.Error().Err(err).Msg("Failed to publish abandoned event")
		}
		if _, err := r.tracker.DecrementAndCheck(ctx, job.ScanID, job.FileID); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}
