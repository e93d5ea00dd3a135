package scan

import (
	"context"
	"io"
	"time"
)

// Store is the shared counter store. Every mutation is a single-key atomic
// operation; there are no multi-key transactions.
type Store interface {
	// SetCounter creates or overwrites an integer key with a TTL.
	SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error
	// DecrementExisting atomically decrements key if it exists. ok is false
	// and nothing changes when the key is missing.
	DecrementExisting(ctx context.Context, key string) (value int64, ok bool, err error)
	// Get returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// AddToSet inserts member and reports whether it was absent. The TTL is
	// applied only when the set has none yet.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error)
	RemoveFromSet(ctx context.Context, key, member string) error

	// RecordClaim adds member to a time-ordered ledger.
	RecordClaim(ctx context.Context, key, member string, at time.Time) error
	// SettleClaim removes member and reports whether this call removed it.
	SettleClaim(ctx context.Context, key, member string) (bool, error)
	// ClaimsBefore lists ledger members recorded before the cutoff.
	ClaimsBefore(ctx context.Context, key string, cutoff time.Time) ([]string, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers channel payloads in publish order until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Queue is the producer side of the job queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Retry schedules job for redelivery after delay with the given attempt.
	Retry(ctx context.Context, job Job, attempt int, delay time.Duration) error
	// Purge drops every pending job queue-wide and returns how many.
	Purge(ctx context.Context) (int64, error)
}

// FolderLister lists image files in a storage folder.
type FolderLister interface {
	ListImages(ctx context.Context, folderRef, token string) ([]File, error)
}

// FileFetcher downloads file contents. Implementations return ErrAuthExpired
// for rejected credentials, a TransientError for network failures and an
// HTTPStatusError for other non-success responses.
type FileFetcher interface {
	Download(ctx context.Context, fileID, token string) ([]byte, error)
	Open(ctx context.Context, fileID, token string) (io.ReadCloser, string, error)
}

// Encoder extracts zero or more face embeddings from image bytes.
type Encoder interface {
	Encode(ctx context.Context, image []byte) ([]Embedding, error)
}

// Matcher decides whether two embeddings belong to the same face.
type Matcher interface {
	Match(known, candidate Embedding) bool
}
