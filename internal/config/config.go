// ABOUTME: Configuration loading and parsing for intra-gateway
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, an env overlay, and duration parsing

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a value is absent.
const (
	DefaultBaseURL     = "https://api.intra.42.fr"
	DefaultPort        = "3000"
	DefaultTimeout     = 10 * time.Second
	DefaultRateLimit   = 2.0
	DefaultRateBurst   = 2
	DefaultCacheTTL    = 30 * time.Second
	DefaultMetricsPath = "/metrics"

	minJWTSecretLength = 32
)

// Environment variables read by the overlay.
const (
	EnvConfigPath   = "INTRA_GATEWAY_CONFIG"
	EnvClientID     = "INTRA_CLIENT_ID"
	EnvClientSecret = "INTRA_CLIENT_SECRET"
	EnvAPIURL       = "INTRA_API_URL"
	EnvPort         = "PORT"
	EnvDBPath       = "INTRA_DB_PATH"
	EnvTSAuthKey    = "TS_AUTHKEY"
)

var (
	// ErrMissingCredentials means the OAuth client id or secret is unset.
	ErrMissingCredentials = errors.New("missing intranet API credentials")
	// ErrInvalidValue means a field holds a value outside its allowed range.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnsupportedFormat means the config file extension is not recognized.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Error reports a configuration problem for one field.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) error {
	return &Error{Field: field, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidValue}, args...)...)}
}

// Config represents the complete intra-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
}

// ServerConfig holds the HTTP transport listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// APIConfig holds the intranet REST API and OAuth settings
type APIConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	TokenURL     string `yaml:"token_url" toml:"token_url"`
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`

	// RateLimit is requests per second; a negative value disables limiting.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`

	Cache CacheConfig `yaml:"cache" toml:"cache"`
}

// CacheConfig holds the optional upstream response cache settings
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" toml:"enabled"`
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxCost int64         `yaml:"max_cost" toml:"max_cost"`
}

// AuthConfig holds inbound HTTP authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// DatabaseConfig holds the audit database location. An empty path disables
// the audit store.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // implies HTTPS
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path falls back to FromEnv.
func Load(p string) (*Config, error) {
	if p == "" {
		return FromEnv()
	}
	return LoadFS(os.DirFS(filepath.Dir(p)), filepath.Base(p))
}

// LoadFS reads the named configuration file from fsys. The format follows the
// file extension: .toml for TOML, .yaml, .yml or none for YAML.
func LoadFS(fsys fs.FS, name string) (*Config, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from environment variables and defaults only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// applyEnv overlays environment variables onto file values.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvClientID); v != "" {
		c.API.ClientID = v
	}
	if v := os.Getenv(EnvClientSecret); v != "" {
		c.API.ClientSecret = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		c.Server.HTTPAddr = ":" + v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvTSAuthKey); v != "" && c.Tailscale.AuthKey == "" {
		c.Tailscale.AuthKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":" + DefaultPort
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TokenURL == "" {
		c.API.TokenURL = c.API.BaseURL + "/oauth/token"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = DefaultRateLimit
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}
	if c.API.Cache.TTL == 0 {
		c.API.Cache.TTL = DefaultCacheTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tailscale.Funnel {
		c.Tailscale.HTTPS = true
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an *Error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.API.ClientID == "" {
		return &Error{Field: "api.client_id", Err: ErrMissingCredentials}
	}
	if c.API.ClientSecret == "" {
		return &Error{Field: "api.client_secret", Err: ErrMissingCredentials}
	}

	if err := checkURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if err := checkURL("api.token_url", c.API.TokenURL); err != nil {
		return err
	}

	if c.API.Timeout < 0 {
		return invalid("api.timeout", "must be positive")
	}
	if c.API.RateBurst < 0 {
		return invalid("api.rate_burst", "must not be negative")
	}
	if c.API.Cache.TTL < 0 {
		return invalid("api.cache.ttl", "must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return invalid("auth.jwt_secret", "must be at least %d bytes", minJWTSecretLength)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "%q (want debug, info, warn or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid("logging.format", "%q (want text or json)", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/mcp" || c.Metrics.Path == "/health" {
		return invalid("metrics.path", "%q", c.Metrics.Path)
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return &Error{Field: "tailscale.hostname", Err: errors.New("required when tailscale is enabled")}
	}

	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid(field, "%q is not an absolute http(s) URL", raw)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.API.TimeoutRaw != "" {
		cfg.API.Timeout, err = time.ParseDuration(cfg.API.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing api.timeout %q: %w", cfg.API.TimeoutRaw, err)
		}
	}

	if cfg.API.Cache.TTLRaw != "" {
		cfg.API.Cache.TTL, err = time.ParseDuration(cfg.API.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing api.cache.ttl %q: %w", cfg.API.Cache.TTLRaw, err)
		}
	}

	return nil
}

// RateLimitPerSecond returns the effective limiter rate; zero disables limiting.
func (a APIConfig) RateLimitPerSecond() float64 {
	if a.RateLimit < 0 {
		return 0
	}
	return a.RateLimit
}
