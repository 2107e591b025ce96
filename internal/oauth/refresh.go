package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
	"healthbridge.app/syncer/internal/queue"
)

const refreshAttempts = 3

// OAuth error codes meaning the grant itself is dead and only a new
// authorization can fix it.
var revokedGrantCodes = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
	"invalid_token":       true,
}

// Refresh obtains a new access token from the stored refresh token.
// Concurrent refreshes of one integration are coalesced in-process and
// serialized across processes by a named lock.
func (m *Manager) Refresh(ctx context.Context, integrationID int64) (*model.Integration, error) {
	return m.refresh(ctx, integrationID, "")
}

// refresh skips the provider call when the stored access token no longer
// matches seenAccessToken, meaning another holder refreshed first.
func (m *Manager) refresh(ctx context.Context, integrationID int64, seenAccessToken string) (*model.Integration, error) {
	key := strconv.FormatInt(integrationID, 10)
	v, err, _ := m.refreshes.Do(key, func() (any, error) {
		return m.refreshLocked(ctx, integrationID, seenAccessToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Integration), nil
}

func (m *Manager) refreshLocked(ctx context.Context, integrationID int64, seenAccessToken string) (*model.Integration, error) {
	span := logger.StartSpan(ctx, "oauth.refresh")
	defer span.End()
	ctx = span.Context()

	release, err := m.locker.Acquire(ctx, "oauth-refresh:"+strconv.FormatInt(integrationID, 10), m.cfg.RefreshLockTTL)
	if err != nil {
		return nil, &domain.TokenRefreshError{IntegrationID: integrationID, Err: fmt.Errorf("acquire refresh lock: %w", err)}
	}
	defer release()

	integration, err := m.stores.Integrations().GetByID(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("load integration %d: %w", integrationID, err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		IntegrationID: logger.Ptr(integration.ID),
		UserID:        logger.Ptr(integration.UserID),
		Provider:      logger.Ptr(string(integration.Provider)),
	})

	if !integration.IsConnected() {
		return nil, &domain.ReauthorizationRequiredError{
			IntegrationID: integration.ID,
			Provider:      integration.Provider,
			Reason:        fmt.Sprintf("integration is %s", integration.Status),
		}
	}

	if seenAccessToken != "" && integration.AccessToken != seenAccessToken {
		slog.DebugContext(ctx, "token already refreshed by another holder")
		return integration, nil
	}

	if integration.RefreshToken == nil {
		return m.requireReauthorization(ctx, integration, "no refresh token stored", nil)
	}

	adapter, err := m.registry.Get(integration.Provider)
	if err != nil {
		return nil, err
	}
	conf, err := adapter.OAuthConfig()
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.vault.Decrypt(*integration.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	// The provider call must end well before the lock expires, or a second
	// holder could refresh with the same single-use refresh token.
	exchangeCtx, cancel := context.WithTimeout(ctx, m.cfg.RefreshLockTTL*2/3)
	token, err := m.exchangeRefreshToken(exchangeCtx, conf, refreshToken)
	cancel()
	if err != nil {
		return m.handleRefreshFailure(ctx, integration, err)
	}

	access, err := m.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	// Providers that rotate refresh tokens return a new one; others omit it.
	sealedRefresh := integration.RefreshToken
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		sealedRefresh, err = m.vault.EncryptOptional(token.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry.UTC()
		expiresAt = &e
	}

	updated, err := m.stores.Integrations().UpdateTokens(ctx, integration.ID, access, sealedRefresh, expiresAt, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	m.metrics.RecordTokenRefresh(string(integration.Provider), metrics.ResultSuccess)
	slog.InfoContext(ctx, "access token refreshed", "expires_at", expiresAt)
	return updated, nil
}

// exchangeRefreshToken retries transport failures. Token endpoint rejections
// are returned as-is for classification.
func (m *Manager) exchangeRefreshToken(ctx context.Context, conf *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	source := conf.TokenSource(m.oauthContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})

	return backoff.Retry(ctx, func() (*oauth2.Token, error) {
		token, err := source.Token()
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return token, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(refreshAttempts))
}

func (m *Manager) handleRefreshFailure(ctx context.Context, integration *model.Integration, cause error) (*model.Integration, error) {
	if isRevokedGrant(cause) {
		return m.requireReauthorization(ctx, integration, "refresh token rejected by provider", cause)
	}

	updated, err := m.stores.Integrations().IncrementRefreshFailures(ctx, integration.ID, logger.Truncate(cause.Error(), 500), m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("record refresh failure: %w", err)
	}
	if int(updated.RefreshFailures) >= m.cfg.MaxRefreshFailures {
		return m.requireReauthorization(ctx, updated, fmt.Sprintf("%d consecutive refresh failures", updated.RefreshFailures), cause)
	}

	m.metrics.RecordTokenRefresh(string(integration.Provider), metrics.ResultError)
	slog.WarnContext(ctx, "token refresh failed",
		"error", cause,
		"attempts", updated.RefreshFailures)
	return nil, &domain.TokenRefreshError{
		IntegrationID: integration.ID,
		Attempts:      int(updated.RefreshFailures),
		Err:           cause,
	}
}

// requireReauthorization moves the integration to error, which stops
// automatic scheduling until the user connects again.
func (m *Manager) requireReauthorization(ctx context.Context, integration *model.Integration, reason string, cause error) (*model.Integration, error) {
	lastError := "reauthorization required: " + reason
	if _, err := m.stores.Integrations().SetStatus(ctx, integration.ID, model.IntegrationStatusError, &lastError, m.clock.Now()); err != nil {
		return nil, fmt.Errorf("mark integration error: %w", err)
	}

	m.metrics.RecordTokenRefresh(string(integration.Provider), "reauthorization_required")
	m.publish(ctx, queue.SecurityEvent{
		Type:          queue.SecurityEventReauthRequired,
		Provider:      string(integration.Provider),
		UserID:        integration.UserID,
		IntegrationID: &integration.ID,
		Reason:        reason,
	})
	slog.WarnContext(ctx, "integration requires reauthorization", "reason", reason, "error", cause)

	return nil, &domain.ReauthorizationRequiredError{
		IntegrationID: integration.ID,
		Provider:      integration.Provider,
		Reason:        reason,
		Err:           cause,
	}
}

func isRevokedGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if revokedGrantCodes[retrieveErr.ErrorCode] {
		return true
	}
	// Fitbit nests the code in an errors array the oauth2 package does not parse.
	for code := range revokedGrantCodes {
		if bytes.Contains(retrieveErr.Body, []byte(code)) {
			return true
		}
	}
	return false
}

// EnsureAccessToken returns a usable plaintext access token, refreshing when
// the stored expiry is within the skew or the provider rejects the token.
func (m *Manager) EnsureAccessToken(ctx context.Context, integration *model.Integration) (string, error) {
	if !integration.IsConnected() {
		return "", &domain.ReauthorizationRequiredError{
			IntegrationID: integration.ID,
			Provider:      integration.Provider,
			Reason:        fmt.Sprintf("integration is %s", integration.Status),
		}
	}

	if integration.TokenExpired(m.clock.Now(), m.cfg.RefreshSkew) {
		return m.refreshAndOpen(ctx, integration)
	}

	token, err := m.vault.Decrypt(integration.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}

	valid, err := m.Validate(ctx, token, integration.Provider)
	if err != nil {
		// An unreachable provider is not evidence of a bad token; the sync will surface it.
		slog.WarnContext(ctx, "token validation inconclusive", "error", err)
		return token, nil
	}
	if valid {
		return token, nil
	}
	return m.refreshAndOpen(ctx, integration)
}

// RefreshAccessToken forces a refresh after the provider rejected the current
// access token mid-sync, and returns the new plaintext token.
func (m *Manager) RefreshAccessToken(ctx context.Context, integration *model.Integration) (string, error) {
	return m.refreshAndOpen(ctx, integration)
}

func (m *Manager) refreshAndOpen(ctx context.Context, integration *model.Integration) (string, error) {
	refreshed, err := m.refresh(ctx, integration.ID, integration.AccessToken)
	if err != nil {
		return "", err
	}
	*integration = *refreshed
	token, err := m.vault.Decrypt(refreshed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return token, nil
}
