package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/scheduler"
	"healthbridge.app/syncer/internal/store"
	"healthbridge.app/syncer/internal/vault"
)

const (
	minSyncInterval = 15
	maxSyncInterval = 7 * 24 * 60
)

// OAuthFlow is the part of the OAuth manager the connect flow drives.
type OAuthFlow interface {
	BeginAuthorization(ctx context.Context, req oauth.AuthorizationRequest) (*oauth.Authorization, error)
	CompleteAuthorization(ctx context.Context, code, state string) (*oauth.Completion, error)
}

// JobScheduler is the part of the scheduler the services enqueue through.
type JobScheduler interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (*model.SyncJob, error)
	Cancel(ctx context.Context, jobID int64) error
	CancelForIntegration(ctx context.Context, integrationID int64) (int64, error)
	Get(ctx context.Context, jobID int64) (*model.SyncJob, error)
	ListForIntegration(ctx context.Context, integrationID int64, limit int32) ([]model.SyncJob, error)
}

type Connection struct {
	Integration    *model.Integration
	RedirectTarget string
	InitialJob     *model.SyncJob
}

type PreferencesUpdate struct {
	DataTypes           []model.DataType
	SyncIntervalMinutes *int32
}

type IntegrationService interface {
	Authorize(ctx context.Context, userID string, p model.Provider, scopes []string, redirectTarget string) (*oauth.Authorization, error)
	HandleCallback(ctx context.Context, p model.Provider, code, state string) (*Connection, error)
	List(ctx context.Context, userID string) ([]model.Integration, error)
	Get(ctx context.Context, userID string, integrationID int64) (*model.Integration, error)
	UpdatePreferences(ctx context.Context, userID string, integrationID int64, update PreferencesUpdate) (*model.Integration, error)
	Disconnect(ctx context.Context, userID string, integrationID int64) (*model.Integration, error)
	ListJobs(ctx context.Context, userID string, integrationID int64, limit int32) ([]model.SyncJob, error)
	CancelJob(ctx context.Context, userID string, jobID int64) error
}

type integrationService struct {
	stores         store.StoreProvider
	registry       *provider.Registry
	oauth          OAuthFlow
	vault          *vault.Vault
	scheduler      JobScheduler
	clock          clock.Clock
	defaultCadence time.Duration
}

func NewIntegrationService(
	stores store.StoreProvider,
	registry *provider.Registry,
	flow OAuthFlow,
	v *vault.Vault,
	sched JobScheduler,
	clk clock.Clock,
	defaultCadence time.Duration,
) IntegrationService {
	if defaultCadence <= 0 {
		defaultCadence = 6 * time.Hour
	}
	return &integrationService{
		stores:         stores,
		registry:       registry,
		oauth:          flow,
		vault:          v,
		scheduler:      sched,
		clock:          clk,
		defaultCadence: defaultCadence,
	}
}

func (s *integrationService) Authorize(ctx context.Context, userID string, p model.Provider, scopes []string, redirectTarget string) (*oauth.Authorization, error) {
	return s.oauth.BeginAuthorization(ctx, oauth.AuthorizationRequest{
		UserID:         userID,
		Provider:       p,
		Scopes:         scopes,
		RedirectTarget: redirectTarget,
	})
}

// HandleCallback completes the OAuth flow, stores the sealed tokens and
// schedules the initial backfill. Webhook subscription is best effort.
func (s *integrationService) HandleCallback(ctx context.Context, p model.Provider, code, state string) (*Connection, error) {
	completion, err := s.oauth.CompleteAuthorization(ctx, code, state)
	if err != nil {
		return nil, err
	}
	if completion.Provider != p {
		slog.WarnContext(ctx, "callback provider does not match issued state",
			"callback_provider", p,
			"state_provider", completion.Provider)
		return nil, &domain.InvalidStateError{}
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		UserID:   logger.Ptr(completion.UserID),
		Provider: logger.Ptr(string(p)),
	})

	adapter, err := s.registry.Get(p)
	if err != nil {
		return nil, err
	}

	integration := &model.Integration{
		UserID:              completion.UserID,
		Provider:            p,
		Scopes:              completion.Scopes,
		DataTypes:           adapter.SupportedDataTypes(),
		SyncIntervalMinutes: int32(s.defaultCadence / time.Minute),
		CreatedAt:           s.clock.Now(),
	}
	if existing, err := s.stores.Integrations().GetByUserAndProvider(ctx, completion.UserID, p); err == nil {
		integration.DataTypes = existing.DataTypes
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load existing integration: %w", err)
	}

	token := completion.Token
	if info, err := adapter.GetUserInfo(ctx, token.AccessToken); err != nil {
		slog.WarnContext(ctx, "could not resolve provider user, webhooks will not match this integration", "error", err)
	} else {
		integration.ExternalUserID = &info.ExternalUserID
	}

	if integration.AccessToken, err = s.vault.Encrypt(token.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if token.RefreshToken != "" {
		if integration.RefreshToken, err = s.vault.EncryptOptional(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		integration.TokenExpiresAt = &expiry
	}

	if err := s.stores.Integrations().UpsertConnected(ctx, integration); err != nil {
		return nil, fmt.Errorf("persist integration: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{IntegrationID: logger.Ptr(integration.ID)})
	slog.InfoContext(ctx, "integration connected", "scopes", integration.Scopes)

	if wa, ok := adapter.(provider.WebhookAdapter); ok {
		if err := wa.SetupWebhook(ctx, token.AccessToken, integration.ID); err != nil {
			slog.WarnContext(ctx, "webhook subscription failed, relying on scheduled sync", "error", err)
		}
	}

	job, err := s.scheduler.Enqueue(ctx, scheduler.EnqueueRequest{
		UserID:        integration.UserID,
		IntegrationID: integration.ID,
		DataTypes:     integration.DataTypes,
		Trigger:       model.SyncTriggerInitial,
		Priority:      model.PriorityImmediate,
	})
	if err != nil {
		// The hourly sweep picks up integrations that were never synced.
		slog.ErrorContext(ctx, "failed to enqueue initial sync", "error", err)
	}

	return &Connection{
		Integration:    integration,
		RedirectTarget: completion.RedirectTarget,
		InitialJob:     job,
	}, nil
}

func (s *integrationService) List(ctx context.Context, userID string) ([]model.Integration, error) {
	integrations, err := s.stores.Integrations().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	return integrations, nil
}

func (s *integrationService) Get(ctx context.Context, userID string, integrationID int64) (*model.Integration, error) {
	integration, err := s.stores.Integrations().GetByID(ctx, integrationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading integration: %w", err)
	}
	if integration.UserID != userID {
		return nil, ErrIntegrationNotFound
	}
	return integration, nil
}

func (s *integrationService) UpdatePreferences(ctx context.Context, userID string, integrationID int64, update PreferencesUpdate) (*model.Integration, error) {
	integration, err := s.Get(ctx, userID, integrationID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(integration.Provider)
	if err != nil {
		return nil, err
	}

	dataTypes := integration.DataTypes
	if update.DataTypes != nil {
		supported := model.IntersectDataTypes(update.DataTypes, adapter.SupportedDataTypes())
		if len(supported) != len(update.DataTypes) {
			return nil, fmt.Errorf("%w: %s does not support every requested data type", ErrInvalidPreferences, integration.Provider)
		}
		dataTypes = supported
	}

	interval := integration.SyncIntervalMinutes
	if update.SyncIntervalMinutes != nil {
		interval = *update.SyncIntervalMinutes
		if interval < minSyncInterval || interval > maxSyncInterval {
			return nil, fmt.Errorf("%w: sync interval must be between %d and %d minutes", ErrInvalidPreferences, minSyncInterval, maxSyncInterval)
		}
	}

	updated, err := s.stores.Integrations().UpdatePreferences(ctx, integration.ID, dataTypes, interval, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("updating preferences: %w", err)
	}
	return updated, nil
}

func (s *integrationService) Disconnect(ctx context.Context, userID string, integrationID int64) (*model.Integration, error) {
	integration, err := s.Get(ctx, userID, integrationID)
	if err != nil {
		return nil, err
	}
	if err := disconnect(ctx, s.stores, s.scheduler, s.clock, integration, "disconnected by user"); err != nil {
		return nil, err
	}
	return s.stores.Integrations().GetByID(ctx, integration.ID)
}

func (s *integrationService) ListJobs(ctx context.Context, userID string, integrationID int64, limit int32) ([]model.SyncJob, error) {
	if _, err := s.Get(ctx, userID, integrationID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.scheduler.ListForIntegration(ctx, integrationID, limit)
}

func (s *integrationService) CancelJob(ctx context.Context, userID string, jobID int64) error {
	job, err := s.scheduler.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.UserID != userID {
		return scheduler.ErrJobNotFound
	}
	return s.scheduler.Cancel(ctx, jobID)
}

// disconnect soft-disables an integration, clearing its tokens and pending
// jobs. Historical data points stay.
func disconnect(ctx context.Context, stores store.StoreProvider, sched JobScheduler, clk clock.Clock, integration *model.Integration, reason string) error {
	if _, err := stores.Integrations().Disconnect(ctx, integration.ID, &reason, clk.Now()); err != nil {
		return fmt.Errorf("disconnect integration %d: %w", integration.ID, err)
	}
	cancelled, err := sched.CancelForIntegration(ctx, integration.ID)
	if err != nil {
		return fmt.Errorf("cancel pending jobs for integration %d: %w", integration.ID, err)
	}
	slog.InfoContext(ctx, "integration disconnected",
		"integration_id", integration.ID,
		"reason", reason,
		"cancelled_jobs", cancelled)
	return nil
}
