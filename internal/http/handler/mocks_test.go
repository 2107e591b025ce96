package handler_test

import (
	"context"
	"net/url"
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/oauth"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/service"
)

type mockIntegrationService struct {
	authorizeFn func(ctx context.Context, userID string, p model.Provider, scopes []string, redirectTarget string) (*oauth.Authorization, error)
	callbackFn  func(ctx context.Context, p model.Provider, code, state string) (*service.Connection, error)
	listFn      func(ctx context.Context, userID string) ([]model.Integration, error)
	getFn       func(ctx context.Context, userID string, id int64) (*model.Integration, error)
	updateFn    func(ctx context.Context, userID string, id int64, update service.PreferencesUpdate) (*model.Integration, error)
	listJobsFn  func(ctx context.Context, userID string, id int64, limit int32) ([]model.SyncJob, error)
	cancelJobFn func(ctx context.Context, userID string, jobID int64) error
}

func (m *mockIntegrationService) Authorize(ctx context.Context, userID string, p model.Provider, scopes []string, redirectTarget string) (*oauth.Authorization, error) {
	if m.authorizeFn != nil {
		return m.authorizeFn(ctx, userID, p, scopes, redirectTarget)
	}
	return &oauth.Authorization{}, nil
}

func (m *mockIntegrationService) HandleCallback(ctx context.Context, p model.Provider, code, state string) (*service.Connection, error) {
	if m.callbackFn != nil {
		return m.callbackFn(ctx, p, code, state)
	}
	return nil, nil
}

func (m *mockIntegrationService) List(ctx context.Context, userID string) ([]model.Integration, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []model.Integration{}, nil
}

func (m *mockIntegrationService) Get(ctx context.Context, userID string, id int64) (*model.Integration, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, service.ErrIntegrationNotFound
}

func (m *mockIntegrationService) UpdatePreferences(ctx context.Context, userID string, id int64, update service.PreferencesUpdate) (*model.Integration, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, id, update)
	}
	return nil, nil
}

func (m *mockIntegrationService) Disconnect(ctx context.Context, userID string, id int64) (*model.Integration, error) {
	return &model.Integration{ID: id, UserID: userID, Status: model.IntegrationStatusDisconnected}, nil
}

func (m *mockIntegrationService) ListJobs(ctx context.Context, userID string, id int64, limit int32) ([]model.SyncJob, error) {
	if m.listJobsFn != nil {
		return m.listJobsFn(ctx, userID, id, limit)
	}
	return []model.SyncJob{}, nil
}

func (m *mockIntegrationService) CancelJob(ctx context.Context, userID string, jobID int64) error {
	if m.cancelJobFn != nil {
		return m.cancelJobFn(ctx, userID, jobID)
	}
	return nil
}

type mockSyncService struct {
	syncNowFn func(ctx context.Context, userID string, id int64, from, to *time.Time) (*service.SyncOutcome, error)
}

func (m *mockSyncService) ProcessJob(context.Context, *model.SyncJob) error { return nil }

func (m *mockSyncService) SyncNow(ctx context.Context, userID string, id int64, from, to *time.Time) (*service.SyncOutcome, error) {
	if m.syncNowFn != nil {
		return m.syncNowFn(ctx, userID, id, from, to)
	}
	return &service.SyncOutcome{Success: true, Status: model.SyncStatusSuccess}, nil
}

type mockWebhookService struct {
	handleFn func(ctx context.Context, p model.Provider, req *provider.WebhookRequest) (*service.WebhookOutcome, error)
	verifyFn func(ctx context.Context, p model.Provider, q url.Values) (bool, error)
}

func (m *mockWebhookService) Handle(ctx context.Context, p model.Provider, req *provider.WebhookRequest) (*service.WebhookOutcome, error) {
	if m.handleFn != nil {
		return m.handleFn(ctx, p, req)
	}
	return &service.WebhookOutcome{}, nil
}

func (m *mockWebhookService) VerifySubscriber(ctx context.Context, p model.Provider, q url.Values) (bool, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, p, q)
	}
	return false, nil
}
