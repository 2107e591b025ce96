package model

import "time"

type IntegrationStatus string

const (
	IntegrationStatusPending      IntegrationStatus = "pending"
	IntegrationStatusConnected    IntegrationStatus = "connected"
	IntegrationStatusDisconnected IntegrationStatus = "disconnected"
	IntegrationStatusError        IntegrationStatus = "error"
)

type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusError   SyncStatus = "error"
)

// Integration is one user's connection to one provider. Tokens are stored
// encrypted; AccessToken and RefreshToken hold vault ciphertext.
type Integration struct {
	ID                  int64             `json:"id,string"`
	UserID              string            `json:"user_id"`
	Provider            Provider          `json:"provider"`
	Status              IntegrationStatus `json:"status"`
	AccessToken         string            `json:"-"`
	RefreshToken        *string           `json:"-"`
	TokenExpiresAt      *time.Time        `json:"token_expires_at,omitempty"`
	Scopes              []string          `json:"scopes"`
	DataTypes           []DataType        `json:"data_types"`
	SyncIntervalMinutes int32             `json:"sync_interval_minutes"`
	ExternalUserID      *string           `json:"external_user_id,omitempty"`
	RefreshFailures     int32             `json:"-"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty"`
	LastSyncStatus      *SyncStatus       `json:"last_sync_status,omitempty"`
	LastError           *string           `json:"last_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (i *Integration) IsConnected() bool {
	return i.Status == IntegrationStatusConnected
}

// SyncCadence is the configured interval between scheduled syncs.
func (i *Integration) SyncCadence() time.Duration {
	return time.Duration(i.SyncIntervalMinutes) * time.Minute
}

// TokenExpired reports whether the access token is expired or will be within skew.
// Integrations without a recorded expiry are treated as unexpired and rely on validation.
func (i *Integration) TokenExpired(now time.Time, skew time.Duration) bool {
	if i.TokenExpiresAt == nil {
		return false
	}
	return !now.Add(skew).Before(*i.TokenExpiresAt)
}
