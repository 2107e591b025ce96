package dto

import (
	"time"

	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/service"
)

type SyncRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type SyncResponse struct {
	Success          bool             `json:"success"`
	SyncedPointCount int              `json:"synced_point_count"`
	Duplicates       int              `json:"duplicates"`
	Errors           []string         `json:"errors"`
	LastSyncTime     *time.Time       `json:"last_sync_time,omitempty"`
	Status           model.SyncStatus `json:"status"`
}

func ToSyncResponse(o *service.SyncOutcome) SyncResponse {
	errs := o.Errors
	if errs == nil {
		errs = []string{}
	}
	return SyncResponse{
		Success:          o.Success,
		SyncedPointCount: o.SyncedPointCount,
		Duplicates:       o.Duplicates,
		Errors:           errs,
		LastSyncTime:     o.LastSyncTime,
		Status:           o.Status,
	}
}

type SyncJobResponse struct {
	ID           int64               `json:"id,string"`
	DataTypes    []model.DataType    `json:"data_types"`
	Trigger      model.SyncTrigger   `json:"trigger"`
	Status       model.SyncJobStatus `json:"status"`
	RetryCount   int32               `json:"retry_count"`
	MaxRetries   int32               `json:"max_retries"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	LastError    *string             `json:"last_error,omitempty"`
}

func ToSyncJobResponses(jobs []model.SyncJob) []SyncJobResponse {
	out := make([]SyncJobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = SyncJobResponse{
			ID:           j.ID,
			DataTypes:    j.DataTypes,
			Trigger:      j.Trigger,
			Status:       j.Status,
			RetryCount:   j.RetryCount,
			MaxRetries:   j.MaxRetries,
			ScheduledFor: j.ScheduledFor,
			StartedAt:    j.StartedAt,
			CompletedAt:  j.CompletedAt,
			LastError:    j.LastError,
		}
	}
	return out
}
