package queue

import "time"

type TaskType string

const (
	// TaskTypeSyncJob wakes a worker because a sync job became due.
	TaskTypeSyncJob TaskType = "sync_job"
)

// JobMessage announces a due job. The sync_jobs table stays the source of
// truth; a lost message only delays pickup until the next poll.
type JobMessage struct {
	JobID         int64
	IntegrationID int64
	Trigger       string
}

type SecurityEventType string

const (
	SecurityEventInvalidState          SecurityEventType = "oauth_invalid_state"
	SecurityEventExpiredState          SecurityEventType = "oauth_expired_state"
	SecurityEventReauthRequired        SecurityEventType = "reauthorization_required"
	SecurityEventInvalidWebhookSig     SecurityEventType = "webhook_invalid_signature"
	SecurityEventProviderAccessRevoked SecurityEventType = "provider_access_revoked"
)

// SecurityEvent is a generic notification for the alerting subsystem.
type SecurityEvent struct {
	Type          SecurityEventType
	Provider      string
	UserID        string
	IntegrationID *int64
	Reason        string
	OccurredAt    time.Time
}
