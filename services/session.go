package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Session is the login state: bearer token and user email. It is safe for
// concurrent use; the API client reads the token on every request.
type Session struct {
	mu          sync.RWMutex
	accessToken string
	email       string
	claims      TokenClaims
}

// TokenClaims is what the storefront reads from an access token. The token
// is not verified here: the API does that, we only display it.
type TokenClaims struct {
	UserID    string
	ExpiresAt time.Time
}

func NewSession() *Session {
	return &Session{}
}

// AccessToken implements clients.TokenStore.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetAccessToken implements clients.TokenStore.
func (s *Session) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.claims = parseClaims(token)
}

// Start begins a session for email.
func (s *Session) Start(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.email = email
	s.claims = parseClaims(token)
}

// Clear ends the session.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.email = ""
	s.claims = TokenClaims{}
}

func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != ""
}

func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

func (s *Session) Claims() TokenClaims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// parseClaims decodes the payload of a JWT access token. Opaque tokens give
// empty claims.
func parseClaims(token string) TokenClaims {
	if token == "" {
		return TokenClaims{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}
	}

	var out TokenClaims
	switch v := claims["user_id"].(type) {
	case string:
		out.UserID = v
	case float64:
		out.UserID = fmt.Sprintf("%.0f", v)
	}
	if out.UserID == "" {
		if sub, ok := claims["sub"].(string); ok {
			out.UserID = sub
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out
}
