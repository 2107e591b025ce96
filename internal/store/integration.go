package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"healthbridge.app/syncer/core/db/sqlc"
	"healthbridge.app/syncer/internal/model"
)

type integrationStore struct {
	queries *sqlc.Queries
}

func newIntegrationStore(queries *sqlc.Queries) IntegrationStore {
	return &integrationStore{queries: queries}
}

func (s *integrationStore) GetByID(ctx context.Context, id int64) (*model.Integration, error) {
	row, err := s.queries.GetIntegration(ctx, id)
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) GetByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.Integration, error) {
	row, err := s.queries.GetIntegrationByUserAndProvider(ctx, sqlc.GetIntegrationByUserAndProviderParams{
		UserID:   userID,
		Provider: string(provider),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) ListByUser(ctx context.Context, userID string) ([]model.Integration, error) {
	rows, err := s.queries.ListIntegrationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toIntegrationModels(rows), nil
}

func (s *integrationStore) ListByExternalUser(ctx context.Context, provider model.Provider, externalUserID string) ([]model.Integration, error) {
	rows, err := s.queries.ListIntegrationsByExternalUser(ctx, sqlc.ListIntegrationsByExternalUserParams{
		Provider:       string(provider),
		ExternalUserID: &externalUserID,
	})
	if err != nil {
		return nil, err
	}
	return toIntegrationModels(rows), nil
}

func (s *integrationStore) ListDueForSync(ctx context.Context, now time.Time, limit int32) ([]model.Integration, error) {
	rows, err := s.queries.ListIntegrationsDueForSync(ctx, sqlc.ListIntegrationsDueForSyncParams{
		Now:     pgTimestamptz(now),
		MaxRows: limit,
	})
	if err != nil {
		return nil, err
	}
	return toIntegrationModels(rows), nil
}

func (s *integrationStore) UpsertConnected(ctx context.Context, integration *model.Integration) error {
	row, err := s.queries.UpsertConnectedIntegration(ctx, sqlc.UpsertConnectedIntegrationParams{
		ID:                  integration.ID,
		UserID:              integration.UserID,
		Provider:            string(integration.Provider),
		AccessToken:         integration.AccessToken,
		RefreshToken:        integration.RefreshToken,
		TokenExpiresAt:      timeToPgTimestamptz(integration.TokenExpiresAt),
		Scopes:              integration.Scopes,
		DataTypes:           model.DataTypeStrings(integration.DataTypes),
		SyncIntervalMinutes: integration.SyncIntervalMinutes,
		ExternalUserID:      integration.ExternalUserID,
		CreatedAt:           pgTimestamptz(integration.CreatedAt),
	})
	if err != nil {
		return err
	}
	*integration = *toIntegrationModel(row)
	return nil
}

func (s *integrationStore) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) (*model.Integration, error) {
	row, err := s.queries.UpdateIntegrationTokens(ctx, sqlc.UpdateIntegrationTokensParams{
		ID:             id,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		TokenExpiresAt: timeToPgTimestamptz(expiresAt),
		UpdatedAt:      pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) IncrementRefreshFailures(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error) {
	row, err := s.queries.IncrementIntegrationRefreshFailures(ctx, sqlc.IncrementIntegrationRefreshFailuresParams{
		ID:        id,
		LastError: &lastError,
		UpdatedAt: pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) SetStatus(ctx context.Context, id int64, status model.IntegrationStatus, lastError *string, now time.Time) (*model.Integration, error) {
	row, err := s.queries.SetIntegrationStatus(ctx, sqlc.SetIntegrationStatusParams{
		ID:        id,
		Status:    string(status),
		LastError: lastError,
		UpdatedAt: pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) RecordSync(ctx context.Context, id int64, lastSyncAt *time.Time, status model.SyncStatus, lastError *string, now time.Time) (*model.Integration, error) {
	row, err := s.queries.RecordIntegrationSync(ctx, sqlc.RecordIntegrationSyncParams{
		ID:             id,
		LastSyncAt:     timeToPgTimestamptz(lastSyncAt),
		LastSyncStatus: stringPtr(&status),
		LastError:      lastError,
		UpdatedAt:      pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) RecordSyncError(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error) {
	row, err := s.queries.RecordIntegrationSyncError(ctx, sqlc.RecordIntegrationSyncErrorParams{
		ID:        id,
		LastError: &lastError,
		UpdatedAt: pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) UpdatePreferences(ctx context.Context, id int64, dataTypes []model.DataType, intervalMinutes int32, now time.Time) (*model.Integration, error) {
	row, err := s.queries.UpdateIntegrationPreferences(ctx, sqlc.UpdateIntegrationPreferencesParams{
		ID:                  id,
		DataTypes:           model.DataTypeStrings(dataTypes),
		SyncIntervalMinutes: intervalMinutes,
		UpdatedAt:           pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func (s *integrationStore) Disconnect(ctx context.Context, id int64, reason *string, now time.Time) (*model.Integration, error) {
	row, err := s.queries.DisconnectIntegration(ctx, sqlc.DisconnectIntegrationParams{
		ID:        id,
		LastError: reason,
		UpdatedAt: pgTimestamptz(now),
	})
	return integrationOrNotFound(row, err)
}

func integrationOrNotFound(row sqlc.Integration, err error) (*model.Integration, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toIntegrationModel(row), nil
}

func toIntegrationModel(row sqlc.Integration) *model.Integration {
	var lastSyncStatus *model.SyncStatus
	if row.LastSyncStatus != nil {
		st := model.SyncStatus(*row.LastSyncStatus)
		lastSyncStatus = &st
	}

	return &model.Integration{
		ID:                  row.ID,
		UserID:              row.UserID,
		Provider:            model.Provider(row.Provider),
		Status:              model.IntegrationStatus(row.Status),
		AccessToken:         row.AccessToken,
		RefreshToken:        row.RefreshToken,
		TokenExpiresAt:      pgTimestamptzToPtr(row.TokenExpiresAt),
		Scopes:              row.Scopes,
		DataTypes:           toDataTypes(row.DataTypes),
		SyncIntervalMinutes: row.SyncIntervalMinutes,
		ExternalUserID:      row.ExternalUserID,
		RefreshFailures:     row.RefreshFailures,
		LastSyncAt:          pgTimestamptzToPtr(row.LastSyncAt),
		LastSyncStatus:      lastSyncStatus,
		LastError:           row.LastError,
		CreatedAt:           row.CreatedAt.Time,
		UpdatedAt:           row.UpdatedAt.Time,
	}
}

func toIntegrationModels(rows []sqlc.Integration) []model.Integration {
	result := make([]model.Integration, len(rows))
	for i, row := range rows {
		result[i] = *toIntegrationModel(row)
	}
	return result
}
