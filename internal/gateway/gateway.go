// ABOUTME: Gateway orchestrator that wires the token cache, API client, catalog and transports
// ABOUTME: Runs the stdio loop or the HTTP server and manages graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/intra-gateway/internal/auth"
	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/config"
	"github.com/2389/intra-gateway/internal/intra"
	"github.com/2389/intra-gateway/internal/mcp"
	"github.com/2389/intra-gateway/internal/metrics"
	"github.com/2389/intra-gateway/internal/oauth"
	"github.com/2389/intra-gateway/internal/store"
	"github.com/2389/intra-gateway/internal/tools"
)

// ServerName is reported to clients in the initialize result.
const ServerName = "intra-gateway"

const (
	instructions = "Read-only access to the school intranet: users, their projects, " +
		"cursus and locations, campuses and their events, projects and cursus."

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Transport selects how the gateway talks to its client.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// ParseTransport validates a --transport flag value.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(s); t {
	case TransportStdio, TransportHTTP:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transport %q (want stdio or http)", s)
	}
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithVersion sets the version reported in serverInfo.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// WithHTTPClient replaces the client used for OAuth and REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// Gateway owns every long-lived component of one process.
type Gateway struct {
	config     *config.Config
	version    string
	httpClient *http.Client
	logger     *slog.Logger

	metrics *metrics.Metrics
	tokens  *oauth.TokenCache
	client  *intra.Client
	catalog *catalog.Catalog

	// store is nil when database.path is empty.
	store *store.SQLiteStore

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New creates a Gateway from configuration. Nothing listens until RunStdio or
// RunHTTP is called.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:  cfg,
		version: "dev",
		logger:  logger.With("component", "gateway"),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(g)
	}

	tokens, err := oauth.New(oauth.Options{
		TokenURL:     cfg.API.TokenURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		HTTPClient:   g.httpClient,
		Timeout:      cfg.API.Timeout,
		Logger:       logger,
		Metrics:      g.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token cache: %w", err)
	}
	g.tokens = tokens

	client, err := intra.New(intra.Options{
		BaseURL:    cfg.API.BaseURL,
		Tokens:     tokens,
		HTTPClient: g.httpClient,
		Timeout:    cfg.API.Timeout,
		RateLimit:  cfg.API.RateLimitPerSecond(),
		RateBurst:  cfg.API.RateBurst,
		Cache: intra.CacheConfig{
			Enabled: cfg.API.Cache.Enabled,
			TTL:     cfg.API.Cache.TTL,
			MaxCost: cfg.API.Cache.MaxCost,
		},
		Logger:  logger,
		Metrics: g.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}
	g.client = client

	g.catalog = catalog.New()
	if err := tools.Register(g.catalog, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	if cfg.Database.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		g.store = s
	}

	return g, nil
}

// Catalog returns the registered tools and resources.
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }

// Metrics returns the gateway's metrics registry.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// Dispatcher builds a dispatcher for the given transport profile.
func (g *Gateway) Dispatcher(profile mcp.Profile) (*mcp.Dispatcher, error) {
	opts := mcp.Options{
		Catalog:       g.catalog,
		Profile:       profile,
		ServerName:    ServerName,
		ServerVersion: g.version,
		Instructions:  instructions,
		Logger:        g.logger,
		Metrics:       g.metrics,
	}
	// A nil *SQLiteStore must not become a non-nil interface.
	if g.store != nil {
		opts.Recorder = g.store
	}
	return mcp.NewDispatcher(opts)
}

// Handler builds the HTTP router, with bearer auth on /mcp when a JWT secret
// is configured.
func (g *Gateway) Handler() (http.Handler, error) {
	d, err := g.Dispatcher(mcp.ProfileHTTP)
	if err != nil {
		return nil, err
	}

	opts := mcp.HTTPOptions{
		Dispatcher: d,
		Logger:     g.logger,
	}
	if g.config.Metrics.Enabled {
		opts.Metrics = g.metrics
		opts.MetricsPath = g.config.Metrics.Path
	}

	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		opts.Auth = auth.HTTPAuthMiddleware(verifier, g.logger)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	return mcp.NewHTTPHandler(opts), nil
}

// Run serves the chosen transport until ctx is canceled or the transport ends,
// then releases every resource.
func (g *Gateway) Run(ctx context.Context, transport Transport, stdin io.Reader, stdout io.Writer) error {
	var runErr error
	switch transport {
	case TransportStdio:
		runErr = g.RunStdio(ctx, stdin, stdout)
	case TransportHTTP:
		runErr = g.RunHTTP(ctx)
	default:
		runErr = fmt.Errorf("unknown transport %q", transport)
	}

	if err := g.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// RunStdio serves line-delimited JSON-RPC on in/out until EOF or cancellation.
func (g *Gateway) RunStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	d, err := g.Dispatcher(mcp.ProfileStdio)
	if err != nil {
		return err
	}
	g.logger.Info("serving stdio", "tools", len(g.catalog.ListTools()))
	return d.ServeStdio(ctx, in, out)
}

// RunHTTP listens on the configured address (or the tailnet) and serves until
// ctx is canceled. Returns nil on graceful shutdown.
func (g *Gateway) RunHTTP(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled or the server fails.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := g.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}

	g.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, letting in-flight requests finish until ctx
// expires.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	g.logger.Info("shutting down HTTP server")
	if err := g.httpServer.Shutdown(ctx); err != nil {
		_ = g.httpServer.Close()
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Close releases the tailnet node, the API client and the audit store.
// Safe to call more than once.
func (g *Gateway) Close() error {
	var errs []error

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		g.tsnetServer = nil
	}
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
		g.store = nil
	}

	return errors.Join(errs...)
}
