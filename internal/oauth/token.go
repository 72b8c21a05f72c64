// ABOUTME: OAuth2 client-credentials token cache for the intranet API.
// ABOUTME: Serves a cached bearer token until shortly before expiry and refreshes it single-flight.

package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/intra-gateway/internal/metrics"
)

// ExpiryMargin is subtracted from the advertised lifetime so a token is never
// used while it is about to expire mid-request.
const ExpiryMargin = 60 * time.Second

// DefaultTimeout bounds a single token exchange when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// maxTokenResponseSize caps how much of the token endpoint response is read.
const maxTokenResponseSize = 1 << 20

// ErrMissingAccessToken indicates a successful exchange that carried no token.
var ErrMissingAccessToken = errors.New("token response has no access_token")

// AuthError reports a failed client-credentials exchange.
type AuthError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil && e.Body != "" {
		return fmt.Sprintf("oauth token exchange failed: status %d: %v: %s", e.StatusCode, e.Err, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("oauth token exchange failed: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oauth token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Options configures a TokenCache.
type Options struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient defaults to a client with Timeout applied.
	HTTPClient *http.Client
	Timeout    time.Duration

	// Now defaults to time.Now and is overridden in tests.
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// TokenCache holds one bearer token and refreshes it lazily.
type TokenCache struct {
	tokenURL     string
	clientID     string
	clientSecret string
	client       *http.Client
	timeout      time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	value     string
	expiresAt time.Time

	flight singleflight.Group
}

// New creates a TokenCache. Credentials and the token URL are required.
func New(opts Options) (*TokenCache, error) {
	if opts.TokenURL == "" {
		return nil, errors.New("token URL is required")
	}
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, errors.New("client id and client secret are required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TokenCache{
		tokenURL:     opts.TokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		client:       client,
		timeout:      timeout,
		now:          now,
		logger:       logger,
		metrics:      opts.Metrics,
	}, nil
}

// Token returns a valid access token, performing a client-credentials exchange
// when none is cached or the cached one has expired. Concurrent callers that
// miss the cache share a single exchange.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	v, err, shared := c.flight.Do("token", func() (any, error) {
		// A flight that finished between our cache check and Do already stored a token.
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}

	token, _ := v.(string)
	return token, nil
}

// Invalidate drops the cached token so the next Token call refreshes it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.value = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// ExpiresAt reports when the cached token stops being served. The zero time
// means no token is cached.
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiresAt
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.value == "" || !c.now().Before(c.expiresAt) {
		return "", false
	}
	return c.value, true
}

// tokenRequest is the client-credentials exchange body.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenResponse is the subset of the token endpoint response we use.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *TokenCache) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, expiresAt, err := c.exchange(ctx)
	c.metrics.ObserveTokenRefresh(err)
	if err != nil {
		c.logger.Warn("token exchange failed", "error", err)
		return "", err
	}

	c.mu.Lock()
	c.value = token
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.logger.Debug("access token refreshed", "expires_at", expiresAt)
	return token, nil
}

func (c *TokenCache) exchange(ctx context.Context) (string, time.Time, error) {
	payload, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, &AuthError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, &AuthError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Err:        fmt.Errorf("decoding token response: %w", err),
		}
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, &AuthError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Err:        ErrMissingAccessToken,
		}
	}

	// Lifetime counts from when the response arrived.
	expiresAt := c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - ExpiryMargin)
	return tr.AccessToken, expiresAt, nil
}
