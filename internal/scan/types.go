// Package scan implements the scan orchestration engine: fanning one face
// comparison job per candidate file out to workers, accounting progress
// exactly once per file under at-least-once delivery, and relaying the
// resulting events to live clients.
package scan

import (
	"fmt"
	"strings"
	"time"
)

// Embedding is a fixed-length face encoding produced by the face collaborator.
type Embedding []float32

// File is one image-typed entry of a candidate folder.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Job is one (file, scan) unit of work. It is immutable once enqueued and
// re-delivered verbatim on retry.
type Job struct {
	ScanID         string    `json:"scan_id"`
	FileID         string    `json:"file_id"`
	FileName       string    `json:"file_name"`
	AuthToken      string    `json:"auth_token"`
	TargetEncoding Embedding `json:"target_encoding"`
}

// Delivery is a job as handed to an executor by the queue. Attempt counts
// retries already scheduled for this job, starting at 0.
type Delivery struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
	Job     Job    `json:"job"`

	// Receipt is the queue's handle for acknowledging this delivery.
	Receipt string `json:"-"`
}

// Status is the derived state of a scan.
type Status string

// Scan statuses.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusUnknown   Status = "unknown"
)

// ScanState is the answer to a status query. Remaining is only meaningful
// while the scan is running.
type ScanState struct {
	ScanID    string `json:"scan_id"`
	Status    Status `json:"status"`
	Remaining *int64 `json:"remaining,omitempty"`
}

// Outcome is the final state of one executor attempt.
type Outcome string

// Executor outcomes. Match, NoMatch, NoFace and Error are terminal outcomes
// and decrement progress; the rest do not.
const (
	OutcomeMatch   Outcome = "match"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeNoFace  Outcome = "no_face_found"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
	OutcomeAborted Outcome = "aborted"
	OutcomeRetried Outcome = "retried"
	// OutcomeOrphaned means the claim was settled by someone else (the
	// reaper) before this attempt reached its terminal state.
	OutcomeOrphaned Outcome = "orphaned"
)

// Terminal reports whether the outcome counts toward the scan's progress.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeMatch, OutcomeNoMatch, OutcomeNoFace, OutcomeError:
		return true
	default:
		return false
	}
}

// Store keys and channel.
const (
	EventChannel = "scan_updates"
	ClaimLedger  = "scan_claims"
)

func remainingKey(scanID string) string { return "scan_remaining:" + scanID }
func statusKey(scanID string) string    { return "scan_status:" + scanID }
func processedKey(scanID string) string { return "scan_processed:" + scanID }

// claimMember identifies a claim in the ledger. Scan and file IDs never
// contain ':' so the file name may.
func claimMember(job Job) string {
	return job.ScanID + ":" + job.FileID + ":" + job.FileName
}

func parseClaimMember(member string) (Job, error) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) != 3 {
		return Job{}, fmt.Errorf("malformed claim %q", member)
	}
	return Job{ScanID: parts[0], FileID: parts[1], FileName: parts[2]}, nil
}

// DownloadURL is the public download reference attached to match events.
func DownloadURL(fileID string) string {
	return "https://drive.google.com/uc?id=" + fileID + "&export=download"
}

// Settings tunes the coordinator, executor and tracker.
type Settings struct {
	TTL            time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// DefaultSettings mirrors the production defaults.
func DefaultSettings() Settings {
	return Settings{
		TTL:            time.Hour,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  5 * time.Minute,
	}
}
