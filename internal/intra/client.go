// ABOUTME: Authenticated HTTP client for the school intranet REST API.
// ABOUTME: Issues bearer GETs, surfaces non-2xx responses as UpstreamError, returns raw JSON.

package intra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/intra-gateway/internal/metrics"
)

// DefaultBaseURL is the production intranet API.
const DefaultBaseURL = "https://api.intra.42.fr"

// DefaultTimeout bounds a single API request when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// maxResponseSize caps how much of an API response body is read.
const maxResponseSize = 16 << 20

// ErrInvalidJSON indicates a successful response whose body is not JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// invalidator is implemented by token sources that can drop a rejected token.
type invalidator interface {
	Invalidate()
}

// UpstreamError reports a non-2xx response from the API.
type UpstreamError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("intranet API GET %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Tokens  TokenSource

	HTTPClient *http.Client
	Timeout    time.Duration

	// RateLimit is the steady request rate per second; zero disables limiting.
	RateLimit float64
	RateBurst int

	Cache CacheConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client issues authenticated GET requests against the intranet API.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	limiter *rate.Limiter
	cache   *responseCache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Client. A token source is required.
func New(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	cache, err := newResponseCache(opts.Cache)
	if err != nil {
		return nil, fmt.Errorf("creating response cache: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		tokens:  opts.Tokens,
		http:    httpClient,
		limiter: limiter,
		cache:   cache,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Get requests path with the given query and returns the JSON body verbatim.
// Failures are returned as-is; nothing is retried.
func (c *Client) Get(ctx context.Context, path string, q Query) (json.RawMessage, error) {
	target := path
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}

	if body, ok := c.cache.get(target); ok {
		c.logger.Debug("api cache hit", "path", target)
		return json.RawMessage(body), nil
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(0, time.Since(start))
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response for %s: %w", path, err)
	}

	c.logger.Debug("api request",
		"path", target,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.tokens.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: %w", path, ErrInvalidJSON)
	}

	c.cache.set(target, body)
	return json.RawMessage(body), nil
}

// Close releases the response cache.
func (c *Client) Close() {
	c.cache.close()
}
