package model

import "time"

// OAuthFlowState binds an authorization request's state parameter to the
// user, provider and PKCE verifier that started it. Single use.
type OAuthFlowState struct {
	ID             int64
	State          string
	UserID         string
	Provider       Provider
	CodeVerifier   *string // vault ciphertext, nil for providers without PKCE
	Scopes         []string
	RedirectTarget string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

func (s *OAuthFlowState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
