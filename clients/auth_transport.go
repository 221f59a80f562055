package clients

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	apperrors "storefront/errors"

	"go.uber.org/zap"
)

// TokenStore holds the bearer token of the current session.
type TokenStore interface {
	AccessToken() string
	SetAccessToken(token string)
}

// RefreshFunc exchanges the refresh cookie for a new access token.
type RefreshFunc func(ctx context.Context) (string, error)

// AuthTransport attaches the bearer token to every request and owns the
// unauthorized policy: one refresh, then one retry with the new token. When
// the refresh fails the expired hook runs and the request fails with
// ErrSessionExpired.
type AuthTransport struct {
	Base    http.RoundTripper
	Tokens  TokenStore
	Refresh RefreshFunc
	Logger  *zap.Logger

	mu        sync.RWMutex
	onExpired func()
}

// OnSessionExpired registers the hook run after a failed refresh.
func (t *AuthTransport) OnSessionExpired(fn func()) {
	t.mu.Lock()
	t.onExpired = fn
	t.mu.Unlock()
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	first, err := t.authorize(req, t.Tokens.AccessToken(), getBody)
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	drain(resp.Body)

	token, refreshErr := t.refresh(req.Context())
	if refreshErr != nil {
		t.logger().Warn("token refresh failed, ending session",
			zap.String("path", req.URL.Path), zap.Error(refreshErr))
		t.expired()
		return nil, apperrors.Wrap(apperrors.ErrSessionExpired, refreshErr)
	}
	t.Tokens.SetAccessToken(token)
	t.logger().Debug("access token refreshed, retrying request", zap.String("path", req.URL.Path))

	retry, err := t.authorize(req, token, getBody)
	if err != nil {
		return nil, err
	}
	return t.base().RoundTrip(retry)
}

func (t *AuthTransport) refresh(ctx context.Context) (string, error) {
	if t.Refresh == nil {
		return "", errNoRefresh
	}
	token, err := t.Refresh(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

func (t *AuthTransport) authorize(req *http.Request, token string, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
		out.GetBody = getBody
	}
	out.Header.Set("Content-Type", "application/json")
	out.Header.Set("Accept", "application/json")
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	return out, nil
}

func (t *AuthTransport) expired() {
	t.mu.RLock()
	fn := t.onExpired
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (t *AuthTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *AuthTransport) logger() *zap.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return zap.NewNop()
}

// replayableBody returns a body factory so the request can be sent twice.
// The original body is consumed and closed.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		req.Body.Close()
		return req.GetBody, nil
	}
	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}
