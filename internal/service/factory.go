package service

import (
	"net/http"
	"time"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/dedup"
	"healthbridge.app/syncer/internal/lock"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/provider/fitbit"
	"healthbridge.app/syncer/internal/provider/oura"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/store"
	"healthbridge.app/syncer/internal/vault"
)

type ServicesConfig struct {
	Stores   store.StoreProvider
	TxRunner store.TxRunner
	Registry *provider.Registry
	Vault    *vault.Vault
	Locker   lock.Locker
	Producer queue.Producer
	Security queue.SecurityPublisher
	Clock    clock.Clock
	Metrics  metrics.Recorder
	// HTTPClient is used for OAuth token endpoint calls. Optional.
	HTTPClient *http.Client

	OAuth          oauth.Config
	Scheduler      scheduler.Config
	Sync           SyncConfig
	DefaultCadence time.Duration
}

type Services struct {
	cfg       ServicesConfig
	oauth     *oauth.Manager
	scheduler *scheduler.Scheduler
	dedup     *dedup.Engine
}

func NewServices(cfg ServicesConfig) *Services {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Security == nil {
		cfg.Security = queue.NewLogSecurityPublisher()
	}

	return &Services{
		cfg: cfg,
		oauth: oauth.NewManager(oauth.Deps{
			Stores:     cfg.Stores,
			Registry:   cfg.Registry,
			Vault:      cfg.Vault,
			Locker:     cfg.Locker,
			Security:   cfg.Security,
			Clock:      cfg.Clock,
			Metrics:    cfg.Metrics,
			HTTPClient: cfg.HTTPClient,
		}, cfg.OAuth),
		scheduler: scheduler.New(cfg.Stores, cfg.TxRunner, cfg.Producer, cfg.Scheduler,
			scheduler.WithClock(cfg.Clock),
			scheduler.WithMetrics(cfg.Metrics),
		),
		dedup: dedup.New(cfg.Stores.DataPoints(), dedup.WithClock(cfg.Clock)),
	}
}

func (s *Services) OAuth() *oauth.Manager {
	return s.oauth
}

func (s *Services) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

func (s *Services) Sync() SyncService {
	return NewSyncService(s.cfg.Stores, s.cfg.Registry, s.oauth, s.dedup, s.cfg.Clock, s.cfg.Metrics, s.cfg.Sync)
}

func (s *Services) Webhooks() WebhookService {
	return NewWebhookService(s.cfg.Stores, s.cfg.Registry, s.dedup, s.scheduler, s.cfg.Security, s.cfg.Clock, s.cfg.Metrics)
}

func (s *Services) Integrations() IntegrationService {
	return NewIntegrationService(s.cfg.Stores, s.cfg.Registry, s.oauth, s.cfg.Vault, s.scheduler, s.cfg.Clock, s.cfg.DefaultCadence)
}

// NewRegistry registers every provider adapter. Adapters without credentials
// are still registered and report a ConfigurationError when used.
func NewRegistry(cfg config.Config, rec metrics.Recorder) *provider.Registry {
	return provider.NewRegistry(
		fitbit.New(fitbit.Options{
			Credentials:    cfg.Fitbit,
			AdapterTimeout: cfg.Scheduler.AdapterTimeout,
			Metrics:        rec,
		}),
		oura.New(oura.Options{
			Credentials:    cfg.Oura,
			AdapterTimeout: cfg.Scheduler.AdapterTimeout,
			Metrics:        rec,
		}),
	)
}
