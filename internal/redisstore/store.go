package redisstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kozaktomas/facescan/internal/scan"
)

// decrExisting decrements KEYS[1] only when it exists, so a late decrement
// never recreates an expired or completed counter at -1.
var decrExisting = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {1, redis.call('DECR', KEYS[1])}
end
return {0, 0}
`)

// Store implements scan.Store.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a connected client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) SetCounter(ctx context.Context, key string, value int64, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) DecrementExisting(ctx context.Context, key string) (int64, bool, error) {
	res, err := decrExisting.Run(ctx, s.rdb, []string{key}).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("unexpected decrement reply")
	}
	return res[1], res[0] == 1, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", scan.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return s.rdb.Del(ctx, keys...).Err()
}

// AddToSet adds member and sets the TTL only when the set has none, so the
// first claim fixes the expiry for the whole scan.
func (s *Store) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	var added *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, key, member)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

func (s *Store) RemoveFromSet(ctx context.Context, key, member string) error {
	return s.rdb.SRem(ctx, key, member).Err()
}

func (s *Store) RecordClaim(ctx context.Context, key, member string, at time.Time) error {
	return s.rdb.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member}).Err()
}

func (s *Store) SettleClaim(ctx context.Context, key, member string) (bool, error) {
	n, err := s.rdb.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ClaimsBefore(ctx context.Context, key string, cutoff time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the server's subscribe confirmation before returning.
func (s *Store) Subscribe(ctx context.Context, channel string) (scan.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &subscription{
		ps:   ps,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
