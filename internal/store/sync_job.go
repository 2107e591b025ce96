package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"healthbridge.app/syncer/core/db/sqlc"
	"healthbridge.app/syncer/internal/model"
)

type syncJobStore struct {
	queries *sqlc.Queries
}

func newSyncJobStore(queries *sqlc.Queries) SyncJobStore {
	return &syncJobStore{queries: queries}
}

func (s *syncJobStore) Create(ctx context.Context, job *model.SyncJob) error {
	row, err := s.queries.CreateSyncJob(ctx, sqlc.CreateSyncJobParams{
		ID:            job.ID,
		UserID:        job.UserID,
		IntegrationID: job.IntegrationID,
		DataTypes:     model.DataTypeStrings(job.DataTypes),
		Trigger:       string(job.Trigger),
		Priority:      job.Priority,
		MaxRetries:    job.MaxRetries,
		ScheduledFor:  pgTimestamptz(job.ScheduledFor),
		RangeFrom:     timeToPgTimestamptz(job.RangeFrom),
		RangeTo:       timeToPgTimestamptz(job.RangeTo),
		CreatedAt:     pgTimestamptz(job.CreatedAt),
	})
	if err != nil {
		return err
	}
	*job = *toSyncJobModel(row)
	return nil
}

func (s *syncJobStore) GetByID(ctx context.Context, id int64) (*model.SyncJob, error) {
	row, err := s.queries.GetSyncJob(ctx, id)
	return syncJobOrNotFound(row, err)
}

func (s *syncJobStore) GetPendingForIntegration(ctx context.Context, integrationID int64) (*model.SyncJob, error) {
	row, err := s.queries.GetPendingSyncJobForIntegration(ctx, integrationID)
	return syncJobOrNotFound(row, err)
}

func (s *syncJobStore) ListByIntegration(ctx context.Context, integrationID int64, limit int32) ([]model.SyncJob, error) {
	rows, err := s.queries.ListSyncJobsByIntegration(ctx, sqlc.ListSyncJobsByIntegrationParams{
		IntegrationID: integrationID,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}
	return toSyncJobModels(rows), nil
}

func (s *syncJobStore) ClaimNext(ctx context.Context, now time.Time) (*model.SyncJob, error) {
	row, err := s.queries.ClaimNextSyncJob(ctx, pgTimestamptz(now))
	return syncJobOrNotFound(row, err)
}

func (s *syncJobStore) Finish(ctx context.Context, job *model.SyncJob, claimedAt time.Time) (*model.SyncJob, error) {
	row, err := s.queries.FinishSyncJob(ctx, sqlc.FinishSyncJobParams{
		Status:       string(job.Status),
		RetryCount:   job.RetryCount,
		ScheduledFor: pgTimestamptz(job.ScheduledFor),
		NotBefore:    timeToPgTimestamptz(job.NotBefore),
		StartedAt:    timeToPgTimestamptz(job.StartedAt),
		CompletedAt:  timeToPgTimestamptz(job.CompletedAt),
		LastError:    job.LastError,
		UpdatedAt:    pgTimestamptz(job.UpdatedAt),
		ID:           job.ID,
		ClaimedAt:    pgTimestamptz(claimedAt),
	})
	return syncJobOrNotFound(row, err)
}

func (s *syncJobStore) Reschedule(ctx context.Context, job *model.SyncJob) (*model.SyncJob, error) {
	row, err := s.queries.RescheduleSyncJob(ctx, sqlc.RescheduleSyncJobParams{
		ID:           job.ID,
		ScheduledFor: pgTimestamptz(job.ScheduledFor),
		Priority:     job.Priority,
		DataTypes:    model.DataTypeStrings(job.DataTypes),
		RangeFrom:    timeToPgTimestamptz(job.RangeFrom),
		RangeTo:      timeToPgTimestamptz(job.RangeTo),
		UpdatedAt:    pgTimestamptz(job.UpdatedAt),
	})
	return syncJobOrNotFound(row, err)
}

func (s *syncJobStore) DeletePending(ctx context.Context, id int64) (bool, error) {
	n, err := s.queries.DeletePendingSyncJob(ctx, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *syncJobStore) DeletePendingForIntegration(ctx context.Context, integrationID int64) (int64, error) {
	return s.queries.DeletePendingSyncJobsForIntegration(ctx, integrationID)
}

func (s *syncJobStore) ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]model.SyncJob, error) {
	rows, err := s.queries.ReclaimStaleSyncJobs(ctx, sqlc.ReclaimStaleSyncJobsParams{
		Now:    pgTimestamptz(now),
		Cutoff: pgTimestamptz(cutoff),
	})
	if err != nil {
		return nil, err
	}
	return toSyncJobModels(rows), nil
}

func (s *syncJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.queries.DeleteTerminalSyncJobsBefore(ctx, pgTimestamptz(cutoff))
}

func syncJobOrNotFound(row sqlc.SyncJob, err error) (*model.SyncJob, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toSyncJobModel(row), nil
}

func toSyncJobModel(row sqlc.SyncJob) *model.SyncJob {
	return &model.SyncJob{
		ID:            row.ID,
		UserID:        row.UserID,
		IntegrationID: row.IntegrationID,
		DataTypes:     toDataTypes(row.DataTypes),
		Trigger:       model.SyncTrigger(row.Trigger),
		Priority:      row.Priority,
		Status:        model.SyncJobStatus(row.Status),
		RetryCount:    row.RetryCount,
		MaxRetries:    row.MaxRetries,
		ScheduledFor:  row.ScheduledFor.Time.UTC(),
		NotBefore:     pgTimestamptzToPtr(row.NotBefore),
		RangeFrom:     pgTimestamptzToPtr(row.RangeFrom),
		RangeTo:       pgTimestamptzToPtr(row.RangeTo),
		StartedAt:     pgTimestamptzToPtr(row.StartedAt),
		CompletedAt:   pgTimestamptzToPtr(row.CompletedAt),
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt.Time,
		UpdatedAt:     row.UpdatedAt.Time,
	}
}

func toSyncJobModels(rows []sqlc.SyncJob) []model.SyncJob {
	result := make([]model.SyncJob, len(rows))
	for i, row := range rows {
		result[i] = *toSyncJobModel(row)
	}
	return result
}
