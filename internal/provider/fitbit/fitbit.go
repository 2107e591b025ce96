// Package fitbit implements the Fitbit Web API adapter.
package fitbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/core/config"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
)

const (
	defaultAuthURL = "https://www.fitbit.com/oauth2/authorize"
	dateLayout     = "2006-01-02"
)

var supportedDataTypes = []model.DataType{
	model.DataTypeSteps,
	model.DataTypeCalories,
	model.DataTypeHeartRate,
	model.DataTypeWeight,
	model.DataTypeSleep,
	model.DataTypeExercise,
}

var defaultScopes = []string{"activity", "heartrate", "sleep", "weight", "profile"}

type Options struct {
	Credentials config.ProviderCredentials
	// AuthURL overrides the authorization endpoint. Token and API calls use Credentials.APIBaseURL.
	AuthURL        string
	AdapterTimeout time.Duration
	HTTPClient     *http.Client
	Metrics        metrics.Recorder
}

type Adapter struct {
	creds   config.ProviderCredentials
	authURL string
	api     *provider.APIClient
}

var (
	_ provider.WebhookAdapter     = (*Adapter)(nil)
	_ provider.SubscriberVerifier = (*Adapter)(nil)
)

func New(opts Options) *Adapter {
	authURL := opts.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	return &Adapter{
		creds:   opts.Credentials,
		authURL: authURL,
		api: provider.NewAPIClient(provider.APIClientConfig{
			Provider:        model.ProviderFitbit,
			BaseURL:         opts.Credentials.APIBaseURL,
			Timeout:         opts.AdapterTimeout,
			RequestInterval: opts.Credentials.RequestInterval,
			HTTPClient:      opts.HTTPClient,
			Metrics:         opts.Metrics,
		}),
	}
}

func (a *Adapter) Provider() model.Provider { return model.ProviderFitbit }

func (a *Adapter) RequiresPKCE() bool { return true }

func (a *Adapter) DefaultScopes() []string { return append([]string(nil), defaultScopes...) }

func (a *Adapter) SupportedDataTypes() []model.DataType {
	return append([]model.DataType(nil), supportedDataTypes...)
}

func (a *Adapter) OAuthConfig() (*oauth2.Config, error) {
	if !a.creds.Enabled() {
		return nil, &domain.ConfigurationError{Provider: model.ProviderFitbit, Reason: "FITBIT_CLIENT_ID and FITBIT_CLIENT_SECRET are required"}
	}
	return &oauth2.Config{
		ClientID:     a.creds.ClientID,
		ClientSecret: a.creds.ClientSecret,
		RedirectURL:  a.creds.RedirectURL,
		Scopes:       a.DefaultScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.authURL,
			TokenURL:  strings.TrimRight(a.creds.APIBaseURL, "/") + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (a *Adapter) SyncData(ctx context.Context, accessToken string, dataTypes []model.DataType, from, to time.Time) (*provider.SyncResult, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid sync range: %s is after %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	sess := a.api.Session(accessToken, provider.NewBudget(a.creds.RequestsPerSync))
	types := model.IntersectDataTypes(dataTypes, supportedDataTypes)

	return provider.Collect(ctx, types, func(ctx context.Context, dataType model.DataType) ([]model.HealthDataPoint, error) {
		switch dataType {
		case model.DataTypeSteps:
			return a.fetchDailySeries(ctx, sess, "steps", dataType, from, to)
		case model.DataTypeCalories:
			return a.fetchDailySeries(ctx, sess, "calories", dataType, from, to)
		case model.DataTypeHeartRate:
			return a.fetchRestingHeartRate(ctx, sess, from, to)
		case model.DataTypeWeight:
			return a.fetchWeight(ctx, sess, from, to)
		case model.DataTypeSleep:
			return a.fetchSleep(ctx, sess, from, to)
		case model.DataTypeExercise:
			return a.fetchExercise(ctx, sess, from, to)
		default:
			return nil, fmt.Errorf("data type %s is not supported by fitbit", dataType)
		}
	}), nil
}

type profileResponse struct {
	User struct {
		EncodedID   string `json:"encodedId"`
		DisplayName string `json:"displayName"`
		Timezone    string `json:"timezone"`
	} `json:"user"`
}

func (a *Adapter) GetUserInfo(ctx context.Context, accessToken string) (*provider.UserInfo, error) {
	var resp profileResponse
	if err := a.api.Session(accessToken, nil).GetJSON(ctx, "/1/user/-/profile.json", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch fitbit profile: %w", err)
	}
	if resp.User.EncodedID == "" {
		return nil, errors.New("fitbit profile has no encodedId")
	}
	return &provider.UserInfo{
		ExternalUserID: resp.User.EncodedID,
		DisplayName:    resp.User.DisplayName,
		Timezone:       resp.User.Timezone,
	}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, accessToken string) (bool, error) {
	_, err := a.GetUserInfo(ctx, accessToken)
	if errors.Is(err, provider.ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
