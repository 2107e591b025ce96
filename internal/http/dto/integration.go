package dto

import (
	"time"

	"healthbridge.app/syncer/internal/model"
)

type AuthorizeRequest struct {
	Scopes         []string `json:"scopes,omitempty"`
	RedirectTarget string   `json:"redirect_target,omitempty"`
}

type AuthorizeResponse struct {
	AuthURL   string    `json:"auth_url"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UpdateIntegrationRequest struct {
	DataTypes           []model.DataType `json:"data_types,omitempty"`
	SyncIntervalMinutes *int32           `json:"sync_interval_minutes,omitempty"`
}

type IntegrationResponse struct {
	ID                  int64                   `json:"id,string"`
	Provider            model.Provider          `json:"provider"`
	Status              model.IntegrationStatus `json:"status"`
	Scopes              []string                `json:"scopes"`
	DataTypes           []model.DataType        `json:"data_types"`
	SyncIntervalMinutes int32                   `json:"sync_interval_minutes"`
	LastSyncAt          *time.Time              `json:"last_sync_at,omitempty"`
	LastSyncStatus      *model.SyncStatus       `json:"last_sync_status,omitempty"`
	LastError           *string                 `json:"last_error,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

func ToIntegrationResponse(in *model.Integration) IntegrationResponse {
	return IntegrationResponse{
		ID:                  in.ID,
		Provider:            in.Provider,
		Status:              in.Status,
		Scopes:              in.Scopes,
		DataTypes:           in.DataTypes,
		SyncIntervalMinutes: in.SyncIntervalMinutes,
		LastSyncAt:          in.LastSyncAt,
		LastSyncStatus:      in.LastSyncStatus,
		LastError:           in.LastError,
		CreatedAt:           in.CreatedAt,
		UpdatedAt:           in.UpdatedAt,
	}
}

func ToIntegrationResponses(in []model.Integration) []IntegrationResponse {
	out := make([]IntegrationResponse, len(in))
	for i := range in {
		out[i] = ToIntegrationResponse(&in[i])
	}
	return out
}
