package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"healthbridge.app/syncer/internal/model"
)

// ConfigurationError means a provider cannot be used because its client
// credentials are missing or malformed. Never retried.
type ConfigurationError struct {
	Provider model.Provider
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s is not configured: %s", e.Provider, e.Reason)
}

// InvalidStateError is returned when an OAuth callback carries a state that
// was never issued or was already consumed.
type InvalidStateError struct{}

func (e *InvalidStateError) Error() string {
	return "oauth state is invalid or already used"
}

// ExpiredStateError is returned when an OAuth callback arrives after the
// flow state expired. The state is deleted as part of detection.
type ExpiredStateError struct {
	ExpiredAt time.Time
}

func (e *ExpiredStateError) Error() string {
	return fmt.Sprintf("oauth state expired at %s", e.ExpiredAt.Format(time.RFC3339))
}

type TokenExchangeError struct {
	Provider model.Provider
	Err      error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("exchanging authorization code with %s: %v", e.Provider, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError is a transient refresh failure. Attempts counts consecutive
// failures recorded on the integration.
type TokenRefreshError struct {
	IntegrationID int64
	Attempts      int
	Err           error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("refreshing token for integration %d (attempt %d): %v", e.IntegrationID, e.Attempts, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// ReauthorizationRequiredError is terminal for an integration: automatic
// sync stops until the user connects again.
type ReauthorizationRequiredError struct {
	IntegrationID int64
	Provider      model.Provider
	Reason        string
	Err           error
}

func (e *ReauthorizationRequiredError) Error() string {
	return fmt.Sprintf("integration %d (%s) requires reauthorization: %s", e.IntegrationID, e.Provider, e.Reason)
}

func (e *ReauthorizationRequiredError) Unwrap() error { return e.Err }

type ProviderRateLimitError struct {
	Provider   model.Provider
	RetryAfter time.Duration
}

func (e *ProviderRateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// PartialSyncError lists the data types that failed while others succeeded.
type PartialSyncError struct {
	Failures map[model.DataType]error
}

func (e *PartialSyncError) Error() string {
	return "partial sync: " + strings.Join(e.Messages(), "; ")
}

// Messages returns one line per failed data type, sorted by type.
func (e *PartialSyncError) Messages() []string {
	types := make([]string, 0, len(e.Failures))
	for t := range e.Failures {
		types = append(types, string(t))
	}
	sort.Strings(types)
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = fmt.Sprintf("%s: %v", t, e.Failures[model.DataType(t)])
	}
	return out
}

type terminalError struct{ err error }

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as not worth retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports errors that must not be retried by the scheduler.
func IsTerminal(err error) bool {
	var (
		reauth *ReauthorizationRequiredError
		cfg    *ConfigurationError
		term   *terminalError
	)
	return errors.As(err, &reauth) || errors.As(err, &cfg) || errors.As(err, &term)
}

// RetryAfter extracts a provider-supplied retry delay, or zero.
func RetryAfter(err error) time.Duration {
	var rl *ProviderRateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

func IsRateLimited(err error) bool {
	var rl *ProviderRateLimitError
	return errors.As(err, &rl)
}

// Kind is a short stable label used in redirects, API responses and metrics.
func Kind(err error) string {
	var (
		cfg     *ConfigurationError
		invalid *InvalidStateError
		expired *ExpiredStateError
		exch    *TokenExchangeError
		refresh *TokenRefreshError
		reauth  *ReauthorizationRequiredError
		rl      *ProviderRateLimitError
		partial *PartialSyncError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfg):
		return "configuration_error"
	case errors.As(err, &invalid):
		return "invalid_state"
	case errors.As(err, &expired):
		return "expired_state"
	case errors.As(err, &exch):
		return "token_exchange_failed"
	case errors.As(err, &reauth):
		return "reauthorization_required"
	case errors.As(err, &refresh):
		return "token_refresh_failed"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &partial):
		return "partial_sync"
	default:
		return "internal_error"
	}
}

// IsRetryable reports errors worth another attempt later.
func IsRetryable(err error) bool {
	if err == nil || IsTerminal(err) {
		return false
	}
	var (
		invalid *InvalidStateError
		expired *ExpiredStateError
	)
	return !errors.As(err, &invalid) && !errors.As(err, &expired)
}
