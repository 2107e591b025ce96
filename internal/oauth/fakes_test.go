package oauth_test

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/queue"
)

type fakeAdapter struct {
	tokenURL   string
	configured bool
	pkce       bool
	validateFn func(token string) (bool, error)
}

func (f *fakeAdapter) Provider() model.Provider { return model.ProviderFitbit }
func (f *fakeAdapter) RequiresPKCE() bool       { return f.pkce }
func (f *fakeAdapter) DefaultScopes() []string  { return []string{"activity", "sleep"} }

func (f *fakeAdapter) SupportedDataTypes() []model.DataType {
	return []model.DataType{model.DataTypeSteps}
}

func (f *fakeAdapter) OAuthConfig() (*oauth2.Config, error) {
	if !f.configured {
		return nil, &domain.ConfigurationError{Provider: model.ProviderFitbit, Reason: "missing"}
	}
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/oauth/fitbit/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://provider.example/authorize",
			TokenURL:  f.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (f *fakeAdapter) SyncData(context.Context, string, []model.DataType, time.Time, time.Time) (*provider.SyncResult, error) {
	return provider.NewSyncResult(), nil
}

func (f *fakeAdapter) ValidateToken(_ context.Context, token string) (bool, error) {
	if f.validateFn != nil {
		return f.validateFn(token)
	}
	return true, nil
}

func (f *fakeAdapter) GetUserInfo(context.Context, string) (*provider.UserInfo, error) {
	return &provider.UserInfo{ExternalUserID: "EXT"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SecurityEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e queue.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []queue.SecurityEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.SecurityEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
