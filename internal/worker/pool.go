// Package worker runs scan jobs from the queue with bounded concurrency and
// per-job time limits.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facescan/internal/scan"
)

// Source hands out deliveries and takes acknowledgements.
type Source interface {
	Reserve(ctx context.Context) (scan.Delivery, error)
	Ack(ctx context.Context, d scan.Delivery) error
	Requeue(ctx context.Context, d scan.Delivery) error
}

// Runner executes one delivery.
type Runner interface {
	Execute(ctx context.Context, d scan.Delivery) (scan.Outcome, error)
}

// Options configures a pool.
type Options struct {
	Concurrency int
	// SoftLimit is the deadline on the job's context.
	SoftLimit time.Duration
	// HardLimit is when the pool stops waiting for a job and moves on.
	HardLimit time.Duration
	// ReserveBackoff is the pause after a failed reserve.
	ReserveBackoff time.Duration
}

// Pool pulls deliveries from a source and runs them.
type Pool struct {
	source Source
	runner Runner
	opts   Options

	mu     sync.Mutex
	counts map[scan.Outcome]int64
}

// NewPool creates a pool. Zero options fall back to one worker and the
// production time limits.
func NewPool(source Source, runner Runner, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.SoftLimit <= 0 {
		opts.SoftLimit = 360 * time.Second
	}
	if opts.HardLimit < opts.SoftLimit {
		opts.HardLimit = opts.SoftLimit + time.Minute
	}
	if opts.ReserveBackoff <= 0 {
		opts.ReserveBackoff = time.Second
	}
	return &Pool{
		source: source,
		runner: runner,
		opts:   opts,
		counts: make(map[scan.Outcome]int64),
	}
}

// Run processes deliveries until ctx is cancelled. Jobs already running are
// allowed to finish within their time limits.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().
		Int("concurrency", p.opts.Concurrency).
		Dur("soft_limit", p.opts.SoftLimit).
		Dur("hard_limit", p.opts.HardLimit).
		Msg("Worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.opts.Concurrency {
		g.Go(func() error {
			p.loop(gctx, i)
			return nil
		})
	}
	err := g.Wait()
	log.Info().Interface("outcomes", p.Counts()).Msg("Worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, slot int) {
	logger := log.With().Int("worker", slot).Logger()
	for {
		d, err := p.source.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("Failed to reserve job")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.ReserveBackoff):
			}
			continue
		}
		p.handle(ctx, d)
	}
}

type result struct {
	outcome scan.Outcome
	err     error
}

// handle runs one delivery. Shutdown does not cancel the job itself; only
// the soft limit does.
func (p *Pool) handle(ctx context.Context, d scan.Delivery) {
	logger := log.With().Str("scan_id", d.Job.ScanID).Str("file_id", d.Job.FileID).Logger()
	base := context.WithoutCancel(ctx)

	jobCtx, cancel := context.WithTimeout(base, p.opts.SoftLimit)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		outcome, err := p.runner.Execute(jobCtx, d)
		done <- result{outcome: outcome, err: err}
	}()

	hard := time.NewTimer(p.opts.HardLimit)
	defer hard.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			logger.Error().Err(r.err).Msg("Job failed before accounting, requeueing")
			if err := p.source.Requeue(base, d); err != nil {
				logger.Error().Err(err).Msg("Failed to requeue job")
			}
			return
		}
		p.count(r.outcome)
		if err := p.source.Ack(base, d); err != nil {
			logger.Error().Err(err).Msg("Failed to ack job")
		}
	case <-hard.C:
		// The goroutine cannot be stopped; its claim is left for the reaper.
		logger.Error().Dur("hard_limit", p.opts.HardLimit).Msg("Hard time limit exceeded, abandoning job")
		p.count(scan.OutcomeOrphaned)
		if err := p.source.Ack(base, d); err != nil {
			logger.Error().Err(err).Msg("Failed to ack abandoned job")
		}
	}
}

func (p *Pool) count(o scan.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[o]++
}

// Counts returns the number of deliveries finished per outcome.
func (p *Pool) Counts() map[scan.Outcome]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[scan.Outcome]int64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}
