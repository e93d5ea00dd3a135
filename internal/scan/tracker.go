package scan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const completedMarker = "completed"

// Publisher serializes events onto the shared event channel.
type Publisher struct {
	store   Store
	channel string
}

// NewPublisher creates a publisher for the scan event channel.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store, channel: EventChannel}
}

// Publish is fire-and-forget from the caller's perspective; the returned
// error is for logging only.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type(), err)
	}
	if err := p.store.Publish(ctx, p.channel, payload); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type(), err)
	}
	return nil
}

// Tracker is the progress protocol over the shared store: one counter of
// remaining files per scan, a per-scan set of claimed file IDs, and a ledger
// of in-flight claims.
type Tracker struct {
	store     Store
	publisher *Publisher
	ttl       time.Duration
	now       func() time.Time
}

// NewTracker creates a tracker whose scan state expires after ttl.
func NewTracker(store Store, publisher *Publisher, ttl time.Duration) *Tracker {
	return &Tracker{store: store, publisher: publisher, ttl: ttl, now: time.Now}
}

// Start creates the remaining counter. It must return before any job for the
// scan is enqueued.
func (t *Tracker) Start(ctx context.Context, scanID string, total int) error {
	if err := t.store.SetCounter(ctx, remainingKey(scanID), int64(total), t.ttl); err != nil {
		return fmt.Errorf("initializing counter for scan %s: %w", scanID, err)
	}
	return nil
}

// Claim atomically inserts the job's file into the processed set. It returns
// false when another delivery already owns the file.
func (t *Tracker) Claim(ctx context.Context, job Job) (bool, error) {
	added, err := t.store.AddToSet(ctx, processedKey(job.ScanID), job.FileID, t.ttl)
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", job.FileID, err)
	}
	if !added {
		return false, nil
	}
	if err := t.store.RecordClaim(ctx, ClaimLedger, claimMember(job), t.now()); err != nil {
		// Settle needs the ledger entry, so hand the claim back for a redelivery.
		if rmErr := t.store.RemoveFromSet(ctx, processedKey(job.ScanID), job.FileID); rmErr != nil {
			log.Error().Err(rmErr).Str("scan_id", job.ScanID).Str("file_id", job.FileID).Msg("Failed to undo claim")
		}
		return false, fmt.Errorf("recording claim for %s: %w", job.FileID, err)
	}
	return true, nil
}

// Release gives the claim back so a retried delivery can take it fresh.
// The processed-set entry goes first: while it stays, the ledger entry must
// stay too so the reaper can still account for the file.
func (t *Tracker) Release(ctx context.Context, job Job) error {
	if err := t.store.RemoveFromSet(ctx, processedKey(job.ScanID), job.FileID); err != nil {
		return fmt.Errorf("releasing claim for %s: %w", job.FileID, err)
	}
	if _, err := t.store.SettleClaim(ctx, ClaimLedger, claimMember(job)); err != nil {
		return fmt.Errorf("releasing ledger claim for %s: %w", job.FileID, err)
	}
	return nil
}

// Settle removes the in-flight ledger entry and reports whether the caller
// owns the file's terminal accounting. The processed-set membership is kept
// so redeliveries stay no-ops.
func (t *Tracker) Settle(ctx context.Context, job Job) (bool, error) {
	owned, err := t.store.SettleClaim(ctx, ClaimLedger, claimMember(job))
	if err != nil {
		return false, fmt.Errorf("settling claim for %s: %w", job.FileID, err)
	}
	return owned, nil
}

// DecrementAndCheck counts one terminal file against the scan. The caller
// whose decrement reaches zero marks the scan completed, publishes the
// completed event, and deletes the counter and processed set. A missing
// counter (expired or already completed) is left alone.
func (t *Tracker) DecrementAndCheck(ctx context.Context, scanID, fileID string) (bool, error) {
	if scanID == "" {
		return false, nil
	}
	remaining, ok, err := t.store.DecrementExisting(ctx, remainingKey(scanID))
	if err != nil {
		return false, fmt.Errorf("decrementing scan %s: %w", scanID, err)
	}
	logger := log.With().Str("scan_id", scanID).Str("file_id", fileID).Logger()
	if !ok {
		logger.Warn().Msg("Counter missing, scan expired or already completed")
		return false, nil
	}
	logger.Info().Int64("remaining", remaining).Msg("Files remaining")
	if remaining > 0 {
		return false, nil
	}

	logger.Info().Msg("All files processed, publishing completed event")
	if err := t.store.Set(ctx, statusKey(scanID), completedMarker, t.ttl); err != nil {
		logger.Error().Err(err).Msg("Failed to persist scan completion")
	}
	if err := t.publisher.Publish(ctx, CompletedEvent{ScanID: scanID}); err != nil {
		logger.Error().Err(err).Msg("Failed to publish completed event")
	}
	if err := t.store.Delete(ctx, remainingKey(scanID), processedKey(scanID)); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up scan keys")
	}
	return true, nil
}

// Status derives the scan state from the store.
func (t *Tracker) Status(ctx context.Context, scanID string) (ScanState, error) {
	state := ScanState{ScanID: scanID, Status: StatusUnknown}

	marker, err := t.store.Get(ctx, statusKey(scanID))
	switch {
	case err == nil && marker == completedMarker:
		var zero int64
		state.Status = StatusCompleted
		state.Remaining = &zero
		return state, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return state, fmt.Errorf("reading status of scan %s: %w", scanID, err)
	}

	raw, err := t.store.Get(ctx, remainingKey(scanID))
	if errors.Is(err, ErrNotFound) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("reading counter of scan %s: %w", scanID, err)
	}
	remaining, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return state, fmt.Errorf("parsing counter of scan %s: %w", scanID, err)
	}
	state.Status = StatusRunning
	state.Remaining = &remaining
	return state, nil
}
