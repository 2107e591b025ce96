// Package oauth runs the OAuth 2.0 connection lifecycle: authorization
// requests with PKCE, callback validation, code exchange, token refresh and
// token validation.
package oauth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"healthbridge.app/syncer/common/clock"
	"healthbridge.app/syncer/common/id"
	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/lock"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/provider"
	"healthbridge.app/syncer/internal/queue"
	"healthbridge.app/syncer/internal/store"
	"healthbridge.app/syncer/internal/vault"
)

var ErrInvalidRedirectTarget = errors.New("redirect target is not an allowed origin")

const defaultTokenTimeout = 30 * time.Second

type Config struct {
	StateTTL           time.Duration
	RefreshSkew        time.Duration
	MaxRefreshFailures int
	RefreshLockTTL     time.Duration
	// AllowedRedirectOrigin is the only origin callbacks may send the browser back to.
	AllowedRedirectOrigin string
}

type Deps struct {
	Stores   store.StoreProvider
	Registry *provider.Registry
	Vault    *vault.Vault
	Locker   lock.Locker
	Security queue.SecurityPublisher
	Clock    clock.Clock
	Metrics  metrics.Recorder
	// HTTPClient is used for token endpoint calls. Defaults to a client with a
	// 30s timeout.
	HTTPClient *http.Client
}

type Manager struct {
	stores     store.StoreProvider
	registry   *provider.Registry
	vault      *vault.Vault
	locker     lock.Locker
	security   queue.SecurityPublisher
	clock      clock.Clock
	metrics    metrics.Recorder
	httpClient *http.Client
	cfg        Config
	refreshes  singleflight.Group
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Security == nil {
		deps.Security = queue.NewLogSecurityPublisher()
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.MaxRefreshFailures <= 0 {
		cfg.MaxRefreshFailures = 5
	}
	if cfg.RefreshLockTTL <= 0 {
		cfg.RefreshLockTTL = 30 * time.Second
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: defaultTokenTimeout}
	}
	return &Manager{
		stores:     deps.Stores,
		registry:   deps.Registry,
		vault:      deps.Vault,
		locker:     deps.Locker,
		security:   deps.Security,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		httpClient: deps.HTTPClient,
		cfg:        cfg,
	}
}

type AuthorizationRequest struct {
	UserID   string
	Provider model.Provider
	// Scopes defaults to the adapter's scopes when empty.
	Scopes         []string
	RedirectTarget string
}

type Authorization struct {
	AuthURL   string
	State     string
	ExpiresAt time.Time
}

// BeginAuthorization issues a single-use state and returns the provider URL
// the browser should be sent to.
func (m *Manager) BeginAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	adapter, err := m.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := adapter.OAuthConfig()
	if err != nil {
		return nil, err
	}

	target, err := m.resolveRedirectTarget(req.RedirectTarget)
	if err != nil {
		return nil, err
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = adapter.DefaultScopes()
	}
	conf.Scopes = scopes

	now := m.clock.Now()
	state := rand.Text()
	flow := &model.OAuthFlowState{
		ID:             id.New(),
		State:          state,
		UserID:         req.UserID,
		Provider:       req.Provider,
		Scopes:         scopes,
		RedirectTarget: target,
		ExpiresAt:      now.Add(m.cfg.StateTTL),
		CreatedAt:      now,
	}

	var opts []oauth2.AuthCodeOption
	if adapter.RequiresPKCE() {
		verifier := oauth2.GenerateVerifier()
		sealed, err := m.vault.Encrypt(verifier)
		if err != nil {
			return nil, fmt.Errorf("encrypt code verifier: %w", err)
		}
		flow.CodeVerifier = &sealed
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	if err := m.stores.OAuthFlowStates().Create(ctx, flow); err != nil {
		return nil, fmt.Errorf("persist oauth state: %w", err)
	}

	slog.InfoContext(ctx, "oauth authorization started",
		"provider", req.Provider,
		"user_id", req.UserID,
		"pkce", flow.CodeVerifier != nil,
		"expires_at", flow.ExpiresAt)

	return &Authorization{
		AuthURL:   conf.AuthCodeURL(state, opts...),
		State:     state,
		ExpiresAt: flow.ExpiresAt,
	}, nil
}

func (m *Manager) resolveRedirectTarget(target string) (string, error) {
	origin := strings.TrimRight(m.cfg.AllowedRedirectOrigin, "/")
	if target == "" {
		return origin, nil
	}
	if origin == "" {
		return target, nil
	}
	if target != origin && !strings.HasPrefix(target, origin+"/") && !strings.HasPrefix(target, origin+"?") {
		return "", ErrInvalidRedirectTarget
	}
	return target, nil
}

// Completion is the outcome of a successful callback. Tokens are plaintext;
// the caller seals them through the vault before persisting.
type Completion struct {
	UserID         string
	Provider       model.Provider
	Scopes         []string
	RedirectTarget string
	Token          *oauth2.Token
}

// CompleteAuthorization consumes the state and exchanges the code. The state
// is deleted whether or not the exchange succeeds, so a replay always fails
// with InvalidStateError.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, state string) (*Completion, error) {
	flow, err := m.stores.OAuthFlowStates().Consume(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		m.publish(ctx, queue.SecurityEvent{
			Type:   queue.SecurityEventInvalidState,
			Reason: "callback state was never issued or already used",
		})
		return nil, &domain.InvalidStateError{}
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		UserID:   logger.Ptr(flow.UserID),
		Provider: logger.Ptr(string(flow.Provider)),
	})

	if flow.Expired(m.clock.Now()) {
		m.publish(ctx, queue.SecurityEvent{
			Type:     queue.SecurityEventExpiredState,
			Provider: string(flow.Provider),
			UserID:   flow.UserID,
			Reason:   "callback arrived after state expiry",
		})
		return nil, &domain.ExpiredStateError{ExpiredAt: flow.ExpiresAt}
	}

	adapter, err := m.registry.Get(flow.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := adapter.OAuthConfig()
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if flow.CodeVerifier != nil {
		verifier, err := m.vault.Decrypt(*flow.CodeVerifier)
		if err != nil {
			return nil, fmt.Errorf("decrypt code verifier: %w", err)
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := conf.Exchange(m.oauthContext(ctx), code, opts...)
	if err != nil {
		slog.WarnContext(ctx, "authorization code exchange failed", "error", err)
		return nil, &domain.TokenExchangeError{Provider: flow.Provider, Err: err}
	}

	return &Completion{
		UserID:         flow.UserID,
		Provider:       flow.Provider,
		Scopes:         grantedScopes(token, flow.Scopes),
		RedirectTarget: flow.RedirectTarget,
		Token:          token,
	}, nil
}

// grantedScopes prefers the scope list echoed by the token endpoint.
func grantedScopes(token *oauth2.Token, requested []string) []string {
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return requested
}

// Validate makes a cheap authenticated call to check an access token.
func (m *Manager) Validate(ctx context.Context, accessToken string, p model.Provider) (bool, error) {
	adapter, err := m.registry.Get(p)
	if err != nil {
		return false, err
	}
	return adapter.ValidateToken(ctx, accessToken)
}

// CleanupExpiredStates removes flow states whose callbacks never arrived.
func (m *Manager) CleanupExpiredStates(ctx context.Context) (int64, error) {
	return m.stores.OAuthFlowStates().DeleteExpired(ctx, m.clock.Now())
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) publish(ctx context.Context, event queue.SecurityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.clock.Now()
	}
	if err := m.security.Publish(ctx, event); err != nil {
		slog.WarnContext(ctx, "failed to publish security event", "error", err, "type", event.Type)
	}
}
