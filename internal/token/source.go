// Package token supplies bearer tokens for the cloud drive boundary.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hearthvault/hearthvault/internal/model"
)

// expiryLeeway is subtracted from the token expiry so a token about to
// lapse mid-request is refreshed up front.
const expiryLeeway = 30 * time.Second

// RefreshFunc exchanges whatever grant the deployment holds for a fresh
// access token, without user interaction.
type RefreshFunc func(ctx context.Context) (string, error)

var _ model.TokenSource = (*CachingSource)(nil)

// CachingSource holds the current bearer token and refreshes it silently
// when it is missing or about to expire. A refresh is attempted once, never
// retried, so a broken grant cannot cause duplicate credential prompts.
type CachingSource struct {
	refresh RefreshFunc
	timeout time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewCachingSource creates a source with an optional initial token. The
// timeout bounds every silent refresh attempt.
func NewCachingSource(initial string, refresh RefreshFunc, timeout time.Duration) *CachingSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &CachingSource{refresh: refresh, timeout: timeout}
	s.set(initial)
	return s
}

// Token returns the cached token while it is still valid, refreshing
// otherwise. A token whose expiry cannot be determined (opaque, not a JWT)
// is used until the API rejects it with a 401.
func (s *CachingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok, exp := s.token, s.expiry
	s.mu.Unlock()

	if tok != "" && (exp.IsZero() || time.Now().Before(exp.Add(-expiryLeeway))) {
		return tok, nil
	}
	return s.Refresh(ctx)
}

// Refresh performs one silent refresh attempt bounded by the configured
// timeout.
func (s *CachingSource) Refresh(ctx context.Context) (string, error) {
	if s.refresh == nil {
		return "", fmt.Errorf("no refresh grant available")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tok, err := s.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("silent token refresh failed: %w", err)
	}
	s.set(tok)
	return tok, nil
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (s *CachingSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}

func (s *CachingSource) set(tok string) {
	s.mu.Lock()
	s.token = tok
	s.expiry = parseExpiry(tok)
	s.mu.Unlock()
}

// parseExpiry reads the exp claim without verifying the signature: the
// token is issued by an external identity provider whose key we do not
// hold, and the claim is used only to schedule refreshes early.
func parseExpiry(tok string) time.Time {
	if tok == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
