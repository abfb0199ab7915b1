package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the client configuration.
type Config struct {
	// APIURL is the api.php endpoint, e.g. https://en.wikipedia.org/w/api.php.
	// It is also the endpoint identity for tokens and load state.
	APIURL string

	// User-Agent header (REQUIRED by Wikimedia policy)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// Credentials for callers that log in (bot password).
	Username string
	Password string

	// Redis client sharing the load pause between processes (optional)
	Redis *redis.Client

	// Concurrency
	MaxConcurrency int // Max parallel requests

	// Server load
	MaxLag           int           // maxlag parameter in seconds; 0 disables it
	LoadPauseTimeout time.Duration // longest admission wait on a load pause

	// Transport
	GetSizeLimit   int           // reads with a longer query are POSTed
	RequestTimeout time.Duration // per attempt
	Transport      http.RoundTripper

	// Tokens
	TokenMaxAge time.Duration // 0 keeps tokens until invalidated

	// WriteInterval is the minimum spacing between edits (CSRF-token
	// writes). 0 disables pacing.
	WriteInterval time.Duration

	// Retry
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiURL, userAgent string) Config {
	return Config{
		APIURL:           apiURL,
		UserAgent:        userAgent,
		MaxConcurrency:   4,
		MaxLag:           5,
		LoadPauseTimeout: 30 * time.Second,
		GetSizeLimit:     2048,
		RequestTimeout:   30 * time.Second,
		Retry:            DefaultRetryConfig(),
	}
}

// HasCredentials returns true if authentication credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("api url must be absolute (got %q)", c.APIURL)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("api url must not carry a query (got %q)", c.APIURL)
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user-agent is required")
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1 (got %d)", c.MaxConcurrency)
	}
	if c.MaxLag < 0 {
		return fmt.Errorf("maxlag must be >= 0 (got %d)", c.MaxLag)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.Retry.BackoffMultiplier)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Retry.Jitter)
	}
	if c.WriteInterval < 0 {
		return fmt.Errorf("write_interval must be >= 0 (got %v)", c.WriteInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	return nil
}

// LoadConfigFromEnv builds a configuration from MEDIAWIKI_* environment
// variables. REDIS_URL, when set, enables the shared load state.
func LoadConfigFromEnv() (Config, error) {
	apiURL := os.Getenv("MEDIAWIKI_URL")
	if apiURL == "" {
		return Config{}, errors.New("MEDIAWIKI_URL environment variable is required")
	}

	userAgent := os.Getenv("MEDIAWIKI_USER_AGENT")
	if userAgent == "" {
		userAgent = "mediawiki-client/1.0 (https://github.com/Sternrassler/mediawiki-client)"
	}

	cfg := DefaultConfig(apiURL, userAgent)
	cfg.Username = os.Getenv("MEDIAWIKI_USERNAME")
	cfg.Password = os.Getenv("MEDIAWIKI_PASSWORD")

	if v := os.Getenv("MEDIAWIKI_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDIAWIKI_MAX_CONCURRENCY: %w", err)
		}
		cfg.MaxConcurrency = n
	}
	if v := os.Getenv("MEDIAWIKI_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDIAWIKI_MAX_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}
	if v := os.Getenv("MEDIAWIKI_MAXLAG"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDIAWIKI_MAXLAG: %w", err)
		}
		cfg.MaxLag = n
	}
	if v := os.Getenv("MEDIAWIKI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDIAWIKI_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("MEDIAWIKI_WRITE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("MEDIAWIKI_WRITE_INTERVAL: %w", err)
		}
		cfg.WriteInterval = d
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_URL: %w", err)
		}
		cfg.Redis = redis.NewClient(opts)
	}

	return cfg, cfg.Validate()
}
