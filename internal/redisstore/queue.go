package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/facescan/internal/scan"
)

// promoteDue moves delayed deliveries whose time has come onto the ready
// list. Runs atomically so two workers never promote the same delivery.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

const promoteBatch = 100

// Queue is a reliable job queue: deliveries move from the ready list to a
// processing list on reserve and leave it on ack. Retries wait in a sorted
// set scored by their due time.
type Queue struct {
	rdb        *redis.Client
	ready      string
	processing string
	delayed    string
	poll       time.Duration
	now        func() time.Time
}

// QueueStats is a point-in-time view of the queue lengths.
type QueueStats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
}

// NewQueue creates a queue under the given key prefix. poll bounds how long
// a reserve blocks before re-checking delayed deliveries.
func NewQueue(rdb *redis.Client, prefix string, poll time.Duration) *Queue {
	return &Queue{
		rdb:        rdb,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		poll:       poll,
		now:        time.Now,
	}
}

// Enqueue pushes a fresh delivery.
func (q *Queue) Enqueue(ctx context.Context, job scan.Job) error {
	payload, err := encodeDelivery(job, 0)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.ready, payload).Err()
}

// Retry schedules a redelivery of job after delay.
func (q *Queue) Retry(ctx context.Context, job scan.Job, attempt int, delay time.Duration) error {
	payload, err := encodeDelivery(job, attempt)
	if err != nil {
		return err
	}
	due := q.now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: payload}).Err()
}

// Purge drops every pending delivery, ready or delayed. In-flight
// deliveries are left to finish.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	var ready, delayed *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.ready)
		delayed = pipe.ZCard(ctx, q.delayed)
		pipe.Del(ctx, q.ready, q.delayed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging queue: %w", err)
	}
	return ready.Val() + delayed.Val(), nil
}

// Reserve blocks until a delivery is available or ctx is done.
func (q *Queue) Reserve(ctx context.Context) (scan.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scan.Delivery{}, err
		}
		now := strconv.FormatInt(q.now().UnixMilli(), 10)
		if err := promoteDue.Run(ctx, q.rdb, []string{q.delayed, q.ready}, now, promoteBatch).Err(); err != nil {
			return scan.Delivery{}, fmt.Errorf("promoting delayed deliveries: %w", err)
		}

		payload, err := q.rdb.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", q.poll).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return scan.Delivery{}, ctx.Err()
			}
			return scan.Delivery{}, fmt.Errorf("reserving delivery: %w", err)
		}

		var d scan.Delivery
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			log.Error().Err(err).Msg("Dropping undecodable delivery")
			q.rdb.LRem(ctx, q.processing, 1, payload)
			continue
		}
		d.Receipt = payload
		return d, nil
	}
}

// Ack removes a reserved delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, d scan.Delivery) error {
	return q.rdb.LRem(ctx, q.processing, 1, d.Receipt).Err()
}

// Requeue puts a reserved delivery back at the head of the ready list.
func (q *Queue) Requeue(ctx context.Context, d scan.Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.Receipt)
		pipe.RPush(ctx, q.ready, d.Receipt)
		return nil
	})
	return err
}

// RecoverInFlight moves every delivery left on the processing list back to
// ready. Only safe while no other worker is running.
func (q *Queue) RecoverInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.ready, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Stats reports the queue lengths.
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var ready, delayed, processing *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.ready)
		delayed = pipe.ZCard(ctx, q.delayed)
		processing = pipe.LLen(ctx, q.processing)
		return nil
	})
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Ready: ready.Val(), Delayed: delayed.Val(), Processing: processing.Val()}, nil
}

func encodeDelivery(job scan.Job, attempt int) (string, error) {
	data, err := json.Marshal(scan.Delivery{ID: uuid.New().String(), Attempt: attempt, Job: job})
	if err != nil {
		return "", fmt.Errorf("encoding delivery for %s: %w", job.FileID, err)
	}
	return string(data), nil
}
