package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	// TokenExpiredMessage is broadcast when a worker's credential is rejected.
	TokenExpiredMessage = "Google token expired. Please re-authenticate and restart the scan."
	// TimedOutMessage is the error event text for a soft time limit hit.
	TimedOutMessage = "Processing timed out"

	// settleTimeout bounds the accounting writes that run after the job's
	// own context may already be past its deadline.
	settleTimeout = 10 * time.Second
)

// Executor runs one delivery through claim, download, classify and terminal
// accounting.
type Executor struct {
	fetcher   FileFetcher
	encoder   Encoder
	matcher   Matcher
	queue     Queue
	tracker   *Tracker
	publisher *Publisher
	settings  Settings
}

// NewExecutor wires an executor.
func NewExecutor(fetcher FileFetcher, encoder Encoder, matcher Matcher, queue Queue, tracker *Tracker, publisher *Publisher, settings Settings) *Executor {
	return &Executor{
		fetcher:   fetcher,
		encoder:   encoder,
		matcher:   matcher,
		queue:     queue,
		tracker:   tracker,
		publisher: publisher,
		settings:  settings,
	}
}

// Execute processes one delivery. A non-nil error means the store or queue
// failed before the delivery could be accounted for; the caller should
// redeliver it. Every other failure is reported through events.
func (e *Executor) Execute(ctx context.Context, d Delivery) (outcome Outcome, err error) {
	job := d.Job
	logger := log.With().Str("scan_id", job.ScanID).Str("file_id", job.FileID).Int("attempt", d.Attempt).Logger()

	claimed, err := e.tracker.Claim(ctx, job)
	if err != nil {
		return "", err
	}
	if !claimed {
		logger.Warn().Msg("Skipping duplicate delivery")
		return OutcomeSkipped, nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Job panicked")
			outcome = e.finish(ctx, job, ErrorEvent{Message: fmt.Sprint(r)})
			err = nil
		}
	}()

	logger.Info().Str("file_name", job.FileName).Msg("Downloading file")
	data, err := e.fetcher.Download(ctx, job.FileID, job.AuthToken)
	if err != nil {
		return e.downloadFailed(ctx, d, err, logger)
	}

	logger.Debug().Int("bytes", len(data)).Msg("File downloaded, encoding faces")
	encodings, err := e.encoder.Encode(ctx, data)
	if err != nil {
		if timedOut(ctx) {
			logger.Error().Msg("Soft time limit exceeded during classification")
			return e.finish(ctx, job, ErrorEvent{Message: TimedOutMessage}), nil
		}
		// Undecodable images count as having no face.
		logger.Warn().Err(err).Msg("Face encoding failed")
		encodings = nil
	}

	if len(encodings) == 0 {
		logger.Info().Msg("No face found")
		return e.finish(ctx, job, ProgressEvent{Status: ProgressNoFaceFound}), nil
	}

	matched := false
	for _, enc := range encodings {
		if e.matcher.Match(job.TargetEncoding, enc) {
			matched = true
			break
		}
	}
	logger.Info().Int("faces", len(encodings)).Bool("match", matched).Msg("Comparison finished")

	if matched {
		return e.finish(ctx, job, MatchEvent{DownloadURL: DownloadURL(job.FileID)}), nil
	}
	return e.finish(ctx, job, ProgressEvent{Status: ProgressNoMatch}), nil
}

func (e *Executor) downloadFailed(ctx context.Context, d Delivery, err error, logger zerolog.Logger) (Outcome, error) {
	job := d.Job

	var transient *TransientError
	var status *HTTPStatusError
	switch {
	case timedOut(ctx):
		logger.Error().Err(err).Msg("Soft time limit exceeded during download")
		return e.finish(ctx, job, ErrorEvent{Message: TimedOutMessage}), nil

	case errors.Is(err, ErrAuthExpired):
		logger.Error().Msg("Token expired, purging pending jobs and notifying clients")
		return e.abort(ctx, job, logger), nil

	case errors.As(err, &transient) || errors.Is(err, ErrTransientIO):
		kind := "TransportError"
		if transient != nil {
			kind = transient.Kind
		}
		if d.Attempt < e.settings.MaxRetries {
			delay := e.backoff(d.Attempt)
			logger.Warn().Err(err).Dur("delay", delay).Msgf("Transport error (attempt %d/%d), retrying", d.Attempt+1, e.settings.MaxRetries+1)
			if err := e.tracker.Release(ctx, job); err != nil {
				return "", err
			}
			if err := e.queue.Retry(ctx, job, d.Attempt+1, delay); err != nil {
				return "", fmt.Errorf("scheduling retry for %s: %w", job.FileID, err)
			}
			return OutcomeRetried, nil
		}
		logger.Error().Err(err).Msg("All retries exhausted, marking as error")
		msg := fmt.Sprintf("Network error after %d retries: %s", e.settings.MaxRetries, kind)
		return e.finish(ctx, job, ErrorEvent{Message: msg}), nil

	case errors.As(err, &status):
		logger.Error().Int("status", status.Code).Msg("Download failed")
		return e.finish(ctx, job, ErrorEvent{Message: fmt.Sprintf("Download failed: HTTP %d", status.Code)}), nil

	default:
		logger.Error().Err(err).Msg("Download failed")
		return e.finish(ctx, job, ErrorEvent{Message: err.Error()}), nil
	}
}

// abort tears the operation down without counting this file: the claim
// stays in the processed set, pending work is purged queue-wide, and every
// client is told to re-authenticate.
func (e *Executor) abort(ctx context.Context, job Job, logger zerolog.Logger) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := e.publisher.Publish(ctx, TokenExpiredEvent{Message: TokenExpiredMessage}); err != nil {
		logger.Error().Err(err).Msg("Failed to broadcast token expiry")
	}
	purged, err := e.queue.Purge(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to purge queue")
	} else {
		logger.Warn().Int64("purged", purged).Msg("Purged pending jobs")
	}
	if _, err := e.tracker.Settle(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("Failed to drop ledger claim")
	}
	return OutcomeAborted
}

// finish settles the claim, publishes the terminal event and decrements
// progress. Only the owner of the claim does the last two.
func (e *Executor) finish(ctx context.Context, job Job, ev Event) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	logger := log.With().Str("scan_id", job.ScanID).Str("file_id", job.FileID).Logger()
	ev, outcome := stamp(job, ev)

	owned, err := e.tracker.Settle(ctx, job)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to settle claim, accounting anyway")
		owned = true
	}
	if !owned {
		logger.Warn().Msg("Claim already settled elsewhere, dropping result")
		return OutcomeOrphaned
	}

	if err := e.publisher.Publish(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("Failed to publish result")
	}
	if _, err := e.tracker.DecrementAndCheck(ctx, job.ScanID, job.FileID); err != nil {
		logger.Error().Err(err).Msg("Failed to decrement progress")
	}
	return outcome
}

// stamp fills the job identity into a terminal event.
func stamp(job Job, ev Event) (Event, Outcome) {
	switch e := ev.(type) {
	case MatchEvent:
		e.ScanID, e.FileID, e.FileName = job.ScanID, job.FileID, job.FileName
		return e, OutcomeMatch
	case ProgressEvent:
		e.ScanID, e.FileID, e.FileName = job.ScanID, job.FileID, job.FileName
		if e.Status == ProgressNoFaceFound {
			return e, OutcomeNoFace
		}
		return e, OutcomeNoMatch
	case ErrorEvent:
		e.ScanID, e.FileID, e.FileName = job.ScanID, job.FileID, job.FileName
		return e, OutcomeError
	default:
		panic(fmt.Sprintf("scan: %s is not a terminal event", ev.Type()))
	}
}

// backoff returns base * 2^attempt, capped.
func (e *Executor) backoff(attempt int) time.Duration {
	b := retry.NewExponential(e.settings.RetryBaseDelay)
	if e.settings.RetryMaxDelay > 0 {
		b = retry.WithCappedDuration(e.settings.RetryMaxDelay, b)
	}
	var delay time.Duration
	for range attempt + 1 {
		delay, _ = b.Next()
	}
	return delay
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
