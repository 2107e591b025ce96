// Package app assembles the process-wide dependencies shared by the server
// and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/core/db"
	"healthbridge.app/syncer/internal/lock"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/service"
	"healthbridge.app/syncer/internal/store"
	"healthbridge.app/syncer/internal/store/memory"
	"healthbridge.app/syncer/internal/vault"
	"healthbridge.app/syncer/internal/worker"
)

type App struct {
	Config   config.Config
	Metrics  metrics.Recorder
	Redis    *redis.Client
	Services *service.Services

	locker   lock.Locker
	producer queue.Producer
	closers  []func()
}

// New connects the configured store and Redis and builds the services.
// Redis is optional: without it jobs are found by polling, security events
// go to the log and refresh locks are process-local.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.Init(cfg.Metrics.Enabled)}

	v, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	var (
		stores store.StoreProvider
		tx     store.TxRunner
	)
	if cfg.UsesMemoryStore() {
		mem := memory.New()
		stores, tx = mem, mem
		slog.WarnContext(ctx, "using in-memory store, data is lost on exit")
	} else {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		stores, tx = store.NewStores(database.Queries()), store.NewTxRunner(database)
		slog.InfoContext(ctx, "database connected")
	}

	var security queue.SecurityPublisher
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		a.Redis = redis.NewClient(redisOpts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.JobStream)

		a.producer = queue.NewRedisProducer(a.Redis, cfg.Redis.JobStream, cfg.Redis.StreamMaxLen, nil)
		security = queue.NewRedisSecurityPublisher(a.Redis, cfg.Redis.SecurityEventStream, cfg.Redis.StreamMaxLen)
		a.locker = lock.NewRedisLocker(a.Redis, "syncer:lock:")
	} else {
		slog.WarnContext(ctx, "redis disabled, workers fall back to polling")
		a.producer = queue.NewNoopProducer()
		security = queue.NewLogSecurityPublisher()
		a.locker = lock.NewLocalLocker()
	}

	a.Services = service.NewServices(service.ServicesConfig{
		Stores:   stores,
		TxRunner: tx,
		Registry: service.NewRegistry(cfg, a.Metrics),
		Vault:    v,
		Locker:   a.locker,
		Producer: a.producer,
		Security: security,
		Metrics:  a.Metrics,
		OAuth: oauth.Config{
			StateTTL:              cfg.OAuth.StateTTL,
			RefreshSkew:           cfg.OAuth.RefreshSkew,
			MaxRefreshFailures:    cfg.OAuth.MaxRefreshFailures,
			RefreshLockTTL:        cfg.OAuth.RefreshLockTTL,
			AllowedRedirectOrigin: cfg.DashboardURL,
		},
		Scheduler: scheduler.Config{
			MaxRetries:   cfg.Scheduler.MaxRetries,
			MaxJitter:    cfg.Scheduler.MaxJitter,
			JobTimeout:   cfg.Scheduler.JobTimeout,
			JobRetention: cfg.Scheduler.JobRetention,
		},
		Sync: service.SyncConfig{
			AdapterTimeout: cfg.Scheduler.AdapterTimeout,
			BackfillWindow: cfg.Scheduler.BackfillWindow,
			SyncOverlap:    cfg.Scheduler.SyncOverlap,
		},
		DefaultCadence: cfg.Scheduler.DefaultCadence,
		// Bounds token exchange and refresh calls. Adapters carry their own clients.
		HTTPClient: &http.Client{Timeout: cfg.Scheduler.AdapterTimeout},
	})

	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	if a.producer != nil {
		_ = a.producer.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Background runs the sync workers and the maintenance loops.
type Background struct {
	pool      *worker.Pool
	periodics []*worker.Periodic
	done      chan error
}

// StartBackground starts the job pool, reaper, rescheduler and janitor.
func (a *App) StartBackground(ctx context.Context) (*Background, error) {
	cfg := a.Config

	var (
		consumer worker.Consumer
		acker    worker.StaleAcker
	)
	if a.Redis != nil {
		c, err := queue.NewRedisConsumer(a.Redis, queue.ConsumerConfig{
			Stream:    cfg.Redis.JobStream,
			Group:     cfg.Redis.JobGroup,
			Consumer:  cfg.Redis.Consumer,
			BatchSize: 1,
			Block:     cfg.Scheduler.PollInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("creating consumer: %w", err)
		}
		consumer, acker = c, c
	}

	sched := a.Services.Scheduler()
	maintenance := worker.MaintenanceConfig{
		ReaperInterval:     cfg.Scheduler.ReaperInterval,
		RescheduleInterval: cfg.Scheduler.RescheduleInterval,
		CleanupInterval:    cfg.Scheduler.JanitorInterval,
		StaleWakeupMinIdle: cfg.Scheduler.JobTimeout,
		StaleWakeupBatch:   100,
		Locker:             a.locker,
	}

	b := &Background{
		pool: worker.NewPool(cfg.Scheduler.Workers, sched, a.Services.Sync(), consumer, worker.Config{
			PollInterval: cfg.Scheduler.PollInterval,
			JobDeadline:  cfg.Scheduler.RunDeadline(),
		}),
		periodics: []*worker.Periodic{
			worker.NewReaper(sched, acker, maintenance),
			worker.NewRescheduler(sched, maintenance),
			worker.NewJanitor(sched, a.Services.OAuth(), maintenance),
		},
		done: make(chan error, 1),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pool.Run(gctx) })
	for _, p := range b.periodics {
		g.Go(func() error {
			p.Run(gctx)
			return nil
		})
	}
	go func() { b.done <- g.Wait() }()

	slog.InfoContext(ctx, "background processing started",
		"workers", cfg.Scheduler.Workers,
		"wakeups", consumer != nil)
	return b, nil
}

// Shutdown lets in-flight jobs finish, giving up when ctx expires.
func (b *Background) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		for _, p := range b.periodics {
			p.Stop()
		}
		b.pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}

	select {
	case err := <-b.done:
		return err
	case <-time.After(time.Second):
		return nil
	}
}
