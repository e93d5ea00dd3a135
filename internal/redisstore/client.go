// Package redisstore implements the scan store and job queue on Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

// Connect parses url, opens a client and waits for the server to answer a
// PING, backing off between attempts.
func Connect(ctx context.Context, url string, attempts uint64) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	backoff := retry.WithMaxRetries(attempts, retry.NewExponential(200*time.Millisecond))
	backoff = retry.WithCappedDuration(5*time.Second, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis not reachable yet")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return rdb, nil
}
