package model

import "time"

type SyncJobStatus string

const (
	SyncJobStatusPending   SyncJobStatus = "pending"
	SyncJobStatusRunning   SyncJobStatus = "running"
	SyncJobStatusCompleted SyncJobStatus = "completed"
	SyncJobStatusFailed    SyncJobStatus = "failed"
)

func (s SyncJobStatus) Terminal() bool {
	return s == SyncJobStatusCompleted || s == SyncJobStatusFailed
}

type SyncTrigger string

const (
	SyncTriggerScheduled SyncTrigger = "scheduled"
	SyncTriggerManual    SyncTrigger = "manual"
	SyncTriggerWebhook   SyncTrigger = "webhook"
	SyncTriggerInitial   SyncTrigger = "initial"
)

const (
	PriorityNormal    int32 = 0
	PriorityImmediate int32 = 10
)

type SyncJob struct {
	ID            int64         `json:"id,string"`
	UserID        string        `json:"user_id"`
	IntegrationID int64         `json:"integration_id,string"`
	DataTypes     []DataType    `json:"data_types"`
	Trigger       SyncTrigger   `json:"trigger"`
	Priority      int32         `json:"priority"`
	Status        SyncJobStatus `json:"status"`
	RetryCount    int32         `json:"retry_count"`
	MaxRetries    int32         `json:"max_retries"`
	ScheduledFor  time.Time     `json:"scheduled_for"`
	// NotBefore is the provider's retry-after deadline after a rate limit.
	// A pending job is never pulled earlier than it.
	NotBefore     *time.Time    `json:"not_before,omitempty"`
	RangeFrom     *time.Time    `json:"range_from,omitempty"`
	RangeTo       *time.Time    `json:"range_to,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	LastError     *string       `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
