package scan

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Request is a scan submission.
type Request struct {
	FolderRef   string `json:"drive_link"`
	TargetFace  string `json:"target_face"` // base64-encoded image
	AccessToken string `json:"access_token"`
}

// Submission identifies a started scan.
type Submission struct {
	ScanID     string `json:"scan_id"`
	TotalFiles int    `json:"total_files"`
}

// Coordinator validates scan requests, creates scan state and fans out one
// job per candidate file.
type Coordinator struct {
	encoder   Encoder
	lister    FolderLister
	queue     Queue
	tracker   *Tracker
	publisher *Publisher
	newID     func() string
}

// NewCoordinator wires a coordinator.
func NewCoordinator(encoder Encoder, lister FolderLister, queue Queue, tracker *Tracker, publisher *Publisher) *Coordinator {
	return &Coordinator{
		encoder:   encoder,
		lister:    lister,
		queue:     queue,
		tracker:   tracker,
		publisher: publisher,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit starts a scan. It fails with ErrInvalidInput, ErrNoCandidates or
// ErrAuthExpired before any scan state is created.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Submission, error) {
	log.Info().Str("folder", req.FolderRef).Msg("Received scan request")

	image, err := base64.StdEncoding.DecodeString(req.TargetFace)
	if err != nil {
		return Submission{}, Invalid("Invalid Base64 string")
	}

	encodings, err := c.encoder.Encode(ctx, image)
	if err != nil {
		log.Warn().Err(err).Msg("Face encoding of target image failed")
		encodings = nil
	}
	if len(encodings) == 0 {
		return Submission{}, Invalid("No face detected in target image")
	}
	log.Info().Int("faces", len(encodings)).Msg("Detected faces in target image")
	target := encodings[0]

	files, err := c.lister.ListImages(ctx, req.FolderRef, req.AccessToken)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			log.Warn().Msg("Storage token invalid or expired")
		}
		return Submission{}, fmt.Errorf("listing folder: %w", err)
	}
	if len(files) == 0 {
		return Submission{}, ErrNoCandidates
	}

	scanID := c.newID()
	logger := log.With().Str("scan_id", scanID).Logger()

	if err := c.tracker.Start(ctx, scanID, len(files)); err != nil {
		return Submission{}, err
	}
	if err := c.publisher.Publish(ctx, StartedEvent{ScanID: scanID, TotalFiles: len(files)}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish started event")
	}

	for i, f := range files {
		job := Job{
			ScanID:         scanID,
			FileID:         f.ID,
			FileName:       f.Name,
			AuthToken:      req.AccessToken,
			TargetEncoding: target,
		}
		if err := c.queue.Enqueue(ctx, job); err != nil {
			c.forfeit(ctx, scanID, files[i:])
			return Submission{}, fmt.Errorf("enqueueing job %d of %d for scan %s: %w", i+1, len(files), scanID, err)
		}
	}

	logger.Info().Int("total_files", len(files)).Msg("Dispatched scan jobs")
	return Submission{ScanID: scanID, TotalFiles: len(files)}, nil
}

// forfeit counts files that never reached the queue as done, so the scan
// still completes once the jobs already enqueued finish.
func (c *Coordinator) forfeit(ctx context.Context, scanID string, files []File) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	log.Warn().Str("scan_id", scanID).Int("files", len(files)).Msg("Dropping files that could not be enqueued")
	for _, f := range files {
		if _, err := c.tracker.DecrementAndCheck(ctx, scanID, f.ID); err != nil {
			log.Error().Err(err).Str("scan_id", scanID).Str("file_id", f.ID).Msg("Failed to forfeit file")
		}
	}
}

// Status reports the derived state of a scan.
func (c *Coordinator) Status(ctx context.Context, scanID string) (ScanState, error) {
	return c.tracker.Status(ctx, scanID)
}
