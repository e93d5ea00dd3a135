package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facescan/internal/scan"
)

// RetryCall records one Retry invocation.
type RetryCall struct {
	Job     scan.Job
	Attempt int
	Delay   time.Duration
}

// Queue is an in-memory job queue. Retries are delivered immediately,
// ignoring the delay.
type Queue struct {
	mu       sync.Mutex
	pending  []scan.Delivery
	inFlight map[string]scan.Delivery
	notify   chan struct{}

	Enqueued []scan.Job
	Retries  []RetryCall
	Acked    []scan.Delivery
	Requeued []scan.Delivery
	Purges   int

	// Error injection
	EnqueueError error
	RetryError   error
	PurgeError   error
	AckError     error
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		inFlight: make(map[string]scan.Delivery),
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue adds a fresh delivery.
func (q *Queue) Enqueue(ctx context.Context, job scan.Job) error {
	if q.EnqueueError != nil {
		return q.EnqueueError
	}
	q.mu.Lock()
	q.Enqueued = append(q.Enqueued, job)
	q.pending = append(q.pending, scan.Delivery{ID: uuid.New().String(), Job: job})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Retry schedules a redelivery with the given attempt.
func (q *Queue) Retry(ctx context.Context, job scan.Job, attempt int, delay time.Duration) error {
	if q.RetryError != nil {
		return q.RetryError
	}
	q.mu.Lock()
	q.Retries = append(q.Retries, RetryCall{Job: job, Attempt: attempt, Delay: delay})
	q.pending = append(q.pending, scan.Delivery{ID: uuid.New().String(), Attempt: attempt, Job: job})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Purge drops every pending delivery.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	if q.PurgeError != nil {
		return 0, q.PurgeError
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int64(len(q.pending))
	q.pending = nil
	q.Purges++
	return n, nil
}

// Push adds a delivery verbatim, e.g. to simulate a redelivery.
func (q *Queue) Push(d scan.Delivery) {
	q.mu.Lock()
	q.pending = append(q.pending, d)
	q.mu.Unlock()
	q.wake()
}

// Reserve blocks until a delivery is pending or ctx is done.
func (q *Queue) Reserve(ctx context.Context) (scan.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			d := q.pending[0]
			q.pending = q.pending[1:]
			d.Receipt = d.ID
			q.inFlight[d.ID] = d
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return scan.Delivery{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Ack completes a delivery.
func (q *Queue) Ack(ctx context.Context, d scan.Delivery) error {
	if q.AckError != nil {
		return q.AckError
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, d.Receipt)
	q.Acked = append(q.Acked, d)
	return nil
}

// Requeue returns a delivery to the pending list unchanged.
func (q *Queue) Requeue(ctx context.Context, d scan.Delivery) error {
	q.mu.Lock()
	delete(q.inFlight, d.Receipt)
	q.Requeued = append(q.Requeued, d)
	d.Receipt = ""
	q.pending = append(q.pending, d)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Pending returns the number of deliveries waiting.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of reserved, unacknowledged deliveries.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Snapshot returns copies of the recorded calls.
func (q *Queue) Snapshot() (enqueued []scan.Job, retries []RetryCall, purges int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]scan.Job(nil), q.Enqueued...), append([]RetryCall(nil), q.Retries...), q.Purges
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
