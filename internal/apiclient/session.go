package apiclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"drinkshop-backend/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Credentials struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// RefreshFunc exchanges a refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// TokenSession holds the credentials of one signed-in user. Every caller
// that hits a 401 shares a single refresh; if that refresh fails the
// credentials are purged and OnExpired fires once.
type TokenSession struct {
	refresh   RefreshFunc
	onExpired func()
	logger    *zap.Logger

	mu    sync.RWMutex
	creds Credentials
	group singleflight.Group
}

func NewTokenSession(refresh RefreshFunc, onExpired func(), logger *zap.Logger) *TokenSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenSession{refresh: refresh, onExpired: onExpired, logger: logger}
}

func (s *TokenSession) Set(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
}

func (s *TokenSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
}

func (s *TokenSession) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *TokenSession) AccessToken() string {
	return s.Credentials().AccessToken
}

// Authorize sets the bearer header and returns the token it used.
func (s *TokenSession) Authorize(req *http.Request) (string, error) {
	tok := s.AccessToken()
	if tok == "" {
		return "", domain.ErrUnauthorized
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return tok, nil
}

// Refresh replaces the access token that was rejected. Callers that lost the
// race to a refresh already under way wait for it instead of starting their
// own, and a stale token that has since been replaced returns the current one.
func (s *TokenSession) Refresh(ctx context.Context, rejected string) (string, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		cur := s.Credentials()
		if cur.AccessToken != "" && cur.AccessToken != rejected {
			return cur.AccessToken, nil
		}
		if cur.RefreshToken == "" || s.refresh == nil {
			s.expire()
			return "", domain.ErrSessionExpired
		}
		next, err := s.refresh(context.WithoutCancel(ctx), cur.RefreshToken)
		if err != nil || next.AccessToken == "" {
			s.logger.Info("token refresh failed, signing out", zap.Error(err))
			s.expire()
			return "", domain.ErrSessionExpired
		}
		s.Set(next)
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Expire purges the credentials and signals a forced logout.
func (s *TokenSession) Expire() {
	s.expire()
}

func (s *TokenSession) expire() {
	s.mu.Lock()
	had := s.creds != (Credentials{})
	s.creds = Credentials{}
	s.mu.Unlock()
	if had && s.onExpired != nil {
		s.onExpired()
	}
}
