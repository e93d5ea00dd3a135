package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facescan/internal/auth"
	"github.com/kozaktomas/facescan/internal/config"
	"github.com/kozaktomas/facescan/internal/drive"
	"github.com/kozaktomas/facescan/internal/faces"
	"github.com/kozaktomas/facescan/internal/redisstore"
	"github.com/kozaktomas/facescan/internal/scan"
	"github.com/kozaktomas/facescan/internal/web"
	"github.com/kozaktomas/facescan/internal/web/handlers"
	"github.com/kozaktomas/facescan/internal/worker"
)

// app holds the components shared by the serve and worker commands.
type app struct {
	cfg   *config.Config
	rdb   *redis.Client
	store *redisstore.Store
	queue *redisstore.Queue

	publisher   *scan.Publisher
	tracker     *scan.Tracker
	drive       *drive.Client
	faces       *faces.Client
	coordinator *scan.Coordinator
	relay       *scan.Relay
}

func scanSettings(cfg *config.Config) scan.Settings {
	return scan.Settings{
		TTL:            cfg.Scan.TTL,
		MaxRetries:     cfg.Scan.MaxRetries,
		RetryBaseDelay: cfg.Scan.RetryBaseDelay,
		RetryMaxDelay:  cfg.Scan.RetryMaxDelay,
	}
}

// newApp connects to Redis and wires the scan engine.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	rdb, err := redisstore.Connect(ctx, cfg.Redis.URL, uint64(max(cfg.Redis.ConnectAttempts, 0)))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		rdb:   rdb,
		store: redisstore.NewStore(rdb),
		queue: redisstore.NewQueue(rdb, cfg.Redis.QueuePrefix, cfg.Worker.PollInterval),
		drive: drive.New(drive.Options{
			ConnectTimeout:  cfg.Worker.ConnectTimeout,
			DownloadTimeout: cfg.Worker.DownloadTimeout,
		}),
		faces: faces.NewClient(cfg.Embedding.URL, cfg.Faces.MaxImageDimension, cfg.Embedding.Timeout),
	}
	a.publisher = scan.NewPublisher(a.store)
	a.tracker = scan.NewTracker(a.store, a.publisher, cfg.Scan.TTL)
	a.coordinator = scan.NewCoordinator(a.faces, a.drive, a.queue, a.tracker, a.publisher)
	a.relay = scan.NewRelay(a.store)
	return a, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing Redis client")
	}
}

// server builds the HTTP front end.
func (a *app) server() *web.Server {
	return web.NewServer(a.cfg, web.Deps{
		Scanner: a.coordinator,
		Feeds:   a.relay,
		Files:   a.drive,
		OAuth: auth.NewGoogle(auth.Config{
			ClientID:     a.cfg.Google.ClientID,
			ClientSecret: a.cfg.Google.ClientSecret,
			RedirectURL:  a.cfg.Google.RedirectURI,
		}),
		Probes: map[string]handlers.Probe{
			"redis":     func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
			"embedding": a.faces.Health,
		},
	})
}

// runWorker consumes the queue until ctx is cancelled. Deliveries left in
// flight by a crashed worker are put back first.
func (a *app) runWorker(ctx context.Context, concurrency int) error {
	matcher, err := faces.NewMatcher(faces.Metric(a.cfg.Faces.Metric), a.cfg.Faces.Threshold)
	if err != nil {
		return err
	}

	if n, err := a.queue.RecoverInFlight(ctx); err != nil {
		return fmt.Errorf("recovering in-flight jobs: %w", err)
	} else if n > 0 {
		log.Warn().Int("jobs", n).Msg("Requeued jobs left in flight by a previous worker")
	}

	executor := scan.NewExecutor(a.drive, a.faces, matcher, a.queue, a.tracker, a.publisher, scanSettings(a.cfg))
	pool := worker.NewPool(a.queue, executor, worker.Options{
		Concurrency: concurrency,
		SoftLimit:   a.cfg.Worker.SoftTimeLimit,
		HardLimit:   a.cfg.Worker.HardTimeLimit,
	})

	if a.cfg.Reaper.StaleAfter <= 0 {
		return pool.Run(ctx)
	}

	reaper := scan.NewReaper(a.store, a.tracker, a.publisher, a.cfg.Reaper.StaleAfter)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Schedule(gctx, a.cfg.Reaper.Schedule, reaper) })
	g.Go(func() error { return pool.Run(gctx) })
	return g.Wait()
}
