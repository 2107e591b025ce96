package store

import (
	"context"
	"errors"
	"time"

	"healthbridge.app/syncer/internal/model"
)

var ErrNotFound = errors.New("not found")

type IntegrationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Integration, error)
	GetByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.Integration, error)
	ListByUser(ctx context.Context, userID string) ([]model.Integration, error)
	// ListByExternalUser resolves a provider subject id to every non-disconnected integration that carries it.
	ListByExternalUser(ctx context.Context, provider model.Provider, externalUserID string) ([]model.Integration, error)
	// ListDueForSync returns connected integrations whose cadence has elapsed and that have no pending or running job.
	ListDueForSync(ctx context.Context, now time.Time, limit int32) ([]model.Integration, error)
	// UpsertConnected creates or reconnects the (user, provider) integration and
	// overwrites the passed value with the stored row.
	UpsertConnected(ctx context.Context, integration *model.Integration) error
	UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time, now time.Time) (*model.Integration, error)
	IncrementRefreshFailures(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error)
	SetStatus(ctx context.Context, id int64, status model.IntegrationStatus, lastError *string, now time.Time) (*model.Integration, error)
	RecordSync(ctx context.Context, id int64, lastSyncAt *time.Time, status model.SyncStatus, lastError *string, now time.Time) (*model.Integration, error)
	// RecordSyncError stores a retryable failure without touching last_sync_status.
	RecordSyncError(ctx context.Context, id int64, lastError string, now time.Time) (*model.Integration, error)
	UpdatePreferences(ctx context.Context, id int64, dataTypes []model.DataType, intervalMinutes int32, now time.Time) (*model.Integration, error)
	Disconnect(ctx context.Context, id int64, reason *string, now time.Time) (*model.Integration, error)
}

type OAuthFlowStateStore interface {
	Create(ctx context.Context, state *model.OAuthFlowState) error
	// Consume atomically deletes and returns the state. ErrNotFound if absent.
	Consume(ctx context.Context, state string) (*model.OAuthFlowState, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type DataPointStore interface {
	ListForIntegration(ctx context.Context, userID string, integrationID int64, from, to time.Time) ([]model.HealthDataPoint, error)
	ListByType(ctx context.Context, userID string, dataType model.DataType, from, to time.Time) ([]model.HealthDataPoint, error)
	// Insert reports false when the point already exists under the dedup key.
	Insert(ctx context.Context, point *model.HealthDataPoint) (bool, error)
}

type SyncJobStore interface {
	Create(ctx context.Context, job *model.SyncJob) error
	GetByID(ctx context.Context, id int64) (*model.SyncJob, error)
	GetPendingForIntegration(ctx context.Context, integrationID int64) (*model.SyncJob, error)
	ListByIntegration(ctx context.Context, integrationID int64, limit int32) ([]model.SyncJob, error)
	// ClaimNext marks the highest priority due job running. ErrNotFound when nothing is due.
	ClaimNext(ctx context.Context, now time.Time) (*model.SyncJob, error)
	// Finish persists a transition out of running. claimedAt is the started_at
	// of the run reporting the outcome; ErrNotFound if the job is no longer
	// running or was reclaimed and claimed again since.
	Finish(ctx context.Context, job *model.SyncJob, claimedAt time.Time) (*model.SyncJob, error)
	// Reschedule pulls a pending job earlier, never before its not_before, and
	// widens its scope. ErrNotFound if no longer pending.
	Reschedule(ctx context.Context, job *model.SyncJob) (*model.SyncJob, error)
	DeletePending(ctx context.Context, id int64) (bool, error)
	DeletePendingForIntegration(ctx context.Context, integrationID int64) (int64, error)
	ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]model.SyncJob, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StoreProvider exposes the entity stores. Implementations bound to a
// transaction return stores that share it.
type StoreProvider interface {
	Integrations() IntegrationStore
	OAuthFlowStates() OAuthFlowStateStore
	DataPoints() DataPointStore
	SyncJobs() SyncJobStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}
