// Package provider defines the contract every health data provider adapter
// implements and the shared plumbing adapters use to talk to provider APIs.
package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
)

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrMalformedWebhook marks a verified delivery whose body cannot be parsed.
	ErrMalformedWebhook = errors.New("malformed webhook payload")
)

type UserInfo struct {
	ExternalUserID string
	DisplayName    string
	Timezone       string
}

// Adapter converts canonical sync calls into provider API calls.
//
// The OAuth lifecycle itself (authorization URL, code exchange, refresh) is
// driven by the oauth package from the endpoint configuration an adapter
// returns, so adapters never hold token state.
type Adapter interface {
	Provider() model.Provider
	// OAuthConfig returns a ConfigurationError when client credentials are missing.
	OAuthConfig() (*oauth2.Config, error)
	RequiresPKCE() bool
	DefaultScopes() []string
	SupportedDataTypes() []model.DataType
	// SyncData fetches canonical points for [from, to]. Failures of a single data
	// type are recorded in the result, never returned. The error is reserved for
	// calls that cannot start at all.
	SyncData(ctx context.Context, accessToken string, dataTypes []model.DataType, from, to time.Time) (*SyncResult, error)
	// ValidateToken makes a cheap authenticated call. (false, nil) means the
	// provider rejected the token.
	ValidateToken(ctx context.Context, accessToken string) (bool, error)
	GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

type WebhookRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// WebhookEvent is one notification resolved from a webhook delivery.
type WebhookEvent struct {
	ExternalUserID string
	DataTypes      []model.DataType
	From           *time.Time
	To             *time.Time
	// Points carries measurements delivered inline, without user or integration ids.
	Points  []model.HealthDataPoint
	Revoked bool
}

type WebhookAdapter interface {
	Adapter
	// VerifyWebhook must succeed before HandleWebhook is called.
	VerifyWebhook(req *WebhookRequest) error
	HandleWebhook(ctx context.Context, req *WebhookRequest) ([]WebhookEvent, error)
	// SetupWebhook subscribes the connected account to push notifications.
	SetupWebhook(ctx context.Context, accessToken string, integrationID int64) error
}

// SubscriberVerifier answers a provider's subscription endpoint handshake.
type SubscriberVerifier interface {
	VerifySubscriber(query url.Values) bool
}

// SyncResult carries whatever a sync managed to fetch.
type SyncResult struct {
	Points   []model.HealthDataPoint
	Failures map[model.DataType]error
	// RateLimited is set when the provider throttled us and remaining types were skipped.
	RateLimited *domain.ProviderRateLimitError
	// Truncated is set when the per-sync request budget ran out.
	Truncated bool
	// Attempted lists data types that were fetched or tried.
	Attempted []model.DataType
}

func NewSyncResult() *SyncResult {
	return &SyncResult{Failures: make(map[model.DataType]error)}
}

func (r *SyncResult) Fail(dataType model.DataType, err error) {
	if r.Failures == nil {
		r.Failures = make(map[model.DataType]error)
	}
	r.Failures[dataType] = err
}

// Succeeded lists attempted types that did not fail.
func (r *SyncResult) Succeeded() []model.DataType {
	out := make([]model.DataType, 0, len(r.Attempted))
	for _, t := range r.Attempted {
		if _, failed := r.Failures[t]; !failed {
			out = append(out, t)
		}
	}
	return out
}

// PartialError returns a PartialSyncError when any type failed, else nil.
func (r *SyncResult) PartialError() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &domain.PartialSyncError{Failures: r.Failures}
}
