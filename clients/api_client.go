package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"storefront/logger"
	"storefront/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	publicKeyPath    = "/api/users/public-key"
	tokenPath        = "/api/users/token"
	tokenRefreshPath = "/api/users/token/refresh"
	productsPath     = "/api/products/"
	ordersPath       = "/api/orders/"
)

var (
	errNoRefresh  = errors.New("token refresh not configured")
	errEmptyToken = errors.New("refresh response carried no access token")
)

// APIError is a non-2xx answer from the shop API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upstream error: status=%d detail=%s", e.Status, e.Detail)
	}
	return fmt.Sprintf("upstream error: status=%d", e.Status)
}

// APIClient talks to the shop API. Key, token and refresh calls go through a
// plain client; everything else goes through the AuthTransport. Both share
// one cookie jar, which carries the server's refresh cookie.
type APIClient struct {
	baseURL   string
	plain     *http.Client
	authed    *http.Client
	transport *AuthTransport
	logger    *zap.Logger
}

// NewAPIClient builds a client for baseURL storing access tokens in tokens.
func NewAPIClient(baseURL string, timeout time.Duration, tokens TokenStore, log *zap.Logger) (*APIClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	base := otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())
	c := &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		plain:   &http.Client{Timeout: timeout, Jar: jar, Transport: base},
		logger:  log,
	}
	c.transport = &AuthTransport{
		Base:    base,
		Tokens:  tokens,
		Refresh: c.RefreshToken,
		Logger:  log,
	}
	c.authed = &http.Client{Timeout: timeout, Jar: jar, Transport: c.transport}
	return c, nil
}

// OnSessionExpired registers the hook run when a refresh fails.
func (c *APIClient) OnSessionExpired(fn func()) {
	c.transport.OnSessionExpired(fn)
}

// PublicKey fetches the server's PEM encoded RSA public key.
func (c *APIClient) PublicKey(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, publicKeyPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(c.plain, req)
	if err != nil {
		return "", fmt.Errorf("public key request failed: %w", err)
	}

	var out models.PublicKeyResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// ObtainToken submits the login. A 2xx answer is returned as is, even when
// it carries only a detail; anything else is an *APIError.
func (c *APIClient) ObtainToken(ctx context.Context, email, encryptedPassword string) (*models.TokenResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, tokenPath, models.TokenRequest{
		Email:             email,
		EncryptedPassword: encryptedPassword,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.plain, req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}

	var out models.TokenResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshToken renews the access token using the refresh cookie.
func (c *APIClient) RefreshToken(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, tokenRefreshPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(c.plain, req)
	if err != nil {
		return "", fmt.Errorf("token refresh request failed: %w", err)
	}

	var out models.TokenResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", errEmptyToken
	}
	return out.Access, nil
}

// ListProducts fetches the whole catalog.
func (c *APIClient) ListProducts(ctx context.Context) ([]models.Product, error) {
	req, err := c.newRequest(ctx, http.MethodGet, productsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.authed, req)
	if err != nil {
		return nil, err
	}

	var out []models.Product
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder places an order for the given items.
func (c *APIClient) CreateOrder(ctx context.Context, items []models.OrderItemRequest) (*models.Order, error) {
	req, err := c.newRequest(ctx, http.MethodPost, ordersPath, models.CreateOrderRequest{Items: items})
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.authed, req)
	if err != nil {
		return nil, err
	}

	var out models.Order
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders fetches the orders of the current user.
func (c *APIClient) ListOrders(ctx context.Context) ([]models.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, ordersPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.authed, req)
	if err != nil {
		return nil, err
	}

	var out []models.Order
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder fetches one order of the current user.
func (c *APIClient) GetOrder(ctx context.Context, orderID int) (*models.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s%d", ordersPath, orderID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(c.authed, req)
	if err != nil {
		return nil, err
	}

	var out models.Order
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	requestID := logger.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	return req, nil
}

func (c *APIClient) do(client *http.Client, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := client.Do(req)
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("request_id", req.Header.Get("X-Request-ID")),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		c.logger.Warn("api_request", append(fields, zap.Error(err))...)
		return nil, err
	}
	c.logger.Debug("api_request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp models.ErrorResponse
		_ = json.Unmarshal(body, &errResp)
		return &APIError{Status: resp.StatusCode, Detail: errResp.Detail}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
