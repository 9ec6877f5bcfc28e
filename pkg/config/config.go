// Package config loads gateway configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when an environment variable is not set.
const (
	DefaultGraphTenantID         = "organizations"
	DefaultLoginBaseURL          = "https://login.microsoftonline.com"
	DefaultUpstreamBaseURL       = "https://graph.microsoft.com/v1.0"
	DefaultCacheMode             = CacheModeRemote
	DefaultCacheEndpoint         = "redis://localhost:6379/0"
	DefaultTokenCacheTTLSeconds  = 900
	DefaultIdempotencyTTLSeconds = 1800
	DefaultAccessTokenSkew       = 60
	DefaultMaxBase64Bytes        = 100 * 1024 * 1024
	DefaultHTTPTimeoutSeconds    = 10.0
	DefaultMaxRetryAttempts      = 4
	DefaultRetryBaseSeconds      = 0.5
	DefaultHost                  = "127.0.0.1"
	DefaultPort                  = 8080
)

// Cache backend modes.
const (
	CacheModeMemory = "memory"
	CacheModeRemote = "remote"
)

// encryptionKeyBytes is the required decoded length of the cache encryption
// key (AES-256).
const encryptionKeyBytes = 32

// Config holds all gateway settings. Every field is bound to the upper-cased
// form of its mapstructure key (graph_client_id reads GRAPH_CLIENT_ID).
type Config struct {
	// Microsoft identity platform application settings.
	GraphClientID     string `mapstructure:"graph_client_id"`
	GraphTenantID     string `mapstructure:"graph_tenant_id"`
	GraphRedirectURI  string `mapstructure:"graph_redirect_uri"`
	GraphClientSecret string `mapstructure:"graph_client_secret"`
	LoginBaseURL      string `mapstructure:"login_base_url"`

	// Upstream Graph API.
	UpstreamBaseURL string `mapstructure:"upstream_base_url"`

	// Cache backend.
	CacheMode          string `mapstructure:"cache_mode"`
	CacheEndpoint      string `mapstructure:"cache_endpoint"`
	CacheEncryptionKey string `mapstructure:"cache_encryption_key"`

	// Caller-facing OIDC validation.
	OIDCIssuer            string `mapstructure:"oidc_issuer"`
	OIDCAudience          string `mapstructure:"oidc_audience"`
	OIDCJWKSURL           string `mapstructure:"oidc_jwks_url"`
	DisableOIDCValidation bool   `mapstructure:"disable_oidc_validation"`

	// Lifetimes and limits.
	TokenCacheTTLSeconds   int     `mapstructure:"token_cache_ttl_seconds"`
	IdempotencyTTLSeconds  int     `mapstructure:"idempotency_ttl_seconds"`
	AccessTokenSkewSeconds int     `mapstructure:"access_token_skew_seconds"`
	MaxBase64Bytes         int64   `mapstructure:"max_base64_bytes"`
	HTTPTimeoutSeconds     float64 `mapstructure:"http_timeout_seconds"`
	MaxRetryAttempts       int     `mapstructure:"max_retry_attempts"`
	RetryBaseSeconds       float64 `mapstructure:"retry_base_seconds"`

	// Server listen address.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	Debug bool `mapstructure:"debug"`
}

// Load reads the configuration from environment variables, applies defaults,
// and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	// Viper only surfaces env-backed keys to Unmarshal once they are bound,
	// so every key is bound explicitly.
	_ = v.BindEnv("graph_client_id")

	_ = v.BindEnv("graph_tenant_id")
	v.SetDefault("graph_tenant_id", DefaultGraphTenantID)

	_ = v.BindEnv("graph_redirect_uri")
	_ = v.BindEnv("graph_client_secret")

	_ = v.BindEnv("login_base_url")
	v.SetDefault("login_base_url", DefaultLoginBaseURL)

	_ = v.BindEnv("upstream_base_url")
	v.SetDefault("upstream_base_url", DefaultUpstreamBaseURL)

	_ = v.BindEnv("cache_mode")
	v.SetDefault("cache_mode", DefaultCacheMode)

	_ = v.BindEnv("cache_endpoint")
	v.SetDefault("cache_endpoint", DefaultCacheEndpoint)

	_ = v.BindEnv("cache_encryption_key")

	_ = v.BindEnv("oidc_issuer")
	_ = v.BindEnv("oidc_audience")
	_ = v.BindEnv("oidc_jwks_url")

	_ = v.BindEnv("disable_oidc_validation")
	v.SetDefault("disable_oidc_validation", false)

	_ = v.BindEnv("token_cache_ttl_seconds")
	v.SetDefault("token_cache_ttl_seconds", DefaultTokenCacheTTLSeconds)

	_ = v.BindEnv("idempotency_ttl_seconds")
	v.SetDefault("idempotency_ttl_seconds", DefaultIdempotencyTTLSeconds)

	_ = v.BindEnv("access_token_skew_seconds")
	v.SetDefault("access_token_skew_seconds", DefaultAccessTokenSkew)

	_ = v.BindEnv("max_base64_bytes")
	v.SetDefault("max_base64_bytes", DefaultMaxBase64Bytes)

	_ = v.BindEnv("http_timeout_seconds")
	v.SetDefault("http_timeout_seconds", DefaultHTTPTimeoutSeconds)

	_ = v.BindEnv("max_retry_attempts")
	v.SetDefault("max_retry_attempts", DefaultMaxRetryAttempts)

	_ = v.BindEnv("retry_base_seconds")
	v.SetDefault("retry_base_seconds", DefaultRetryBaseSeconds)

	_ = v.BindEnv("host")
	v.SetDefault("host", DefaultHost)

	_ = v.BindEnv("port")
	v.SetDefault("port", DefaultPort)

	_ = v.BindEnv("debug")
	v.SetDefault("debug", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.GraphClientID == "" {
		return fmt.Errorf("graph_client_id is required")
	}
	if c.GraphRedirectURI == "" {
		return fmt.Errorf("graph_redirect_uri is required")
	}

	switch c.CacheMode {
	case CacheModeMemory:
	case CacheModeRemote:
		if _, err := c.EncryptionKey(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cache_mode must be %q or %q, got %q", CacheModeMemory, CacheModeRemote, c.CacheMode)
	}

	if !c.DisableOIDCValidation {
		if c.OIDCIssuer == "" || c.OIDCAudience == "" {
			return fmt.Errorf("oidc_issuer and oidc_audience are required unless disable_oidc_validation is set")
		}
	}

	if c.TokenCacheTTLSeconds <= 0 {
		return fmt.Errorf("token_cache_ttl_seconds must be positive")
	}
	if c.IdempotencyTTLSeconds <= 0 {
		return fmt.Errorf("idempotency_ttl_seconds must be positive")
	}
	if c.AccessTokenSkewSeconds < 0 {
		return fmt.Errorf("access_token_skew_seconds must not be negative")
	}
	if c.MaxBase64Bytes <= 0 {
		return fmt.Errorf("max_base64_bytes must be positive")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http_timeout_seconds must be positive")
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("max_retry_attempts must be at least 1")
	}
	if c.RetryBaseSeconds <= 0 {
		return fmt.Errorf("retry_base_seconds must be positive")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be in range 1-65535, got %d", c.Port)
	}

	return nil
}

// EncryptionKey decodes the configured cache encryption key and verifies it
// is exactly 32 bytes (AES-256).
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.CacheEncryptionKey == "" {
		return nil, fmt.Errorf("cache_encryption_key is required when cache_mode is %q", CacheModeRemote)
	}
	key, err := base64.StdEncoding.DecodeString(c.CacheEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cache_encryption_key must be base64: %w", err)
	}
	if len(key) != encryptionKeyBytes {
		return nil, fmt.Errorf("cache_encryption_key must decode to %d bytes, got %d", encryptionKeyBytes, len(key))
	}
	return key, nil
}

// HTTPTimeout returns the upstream HTTP client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds * float64(time.Second))
}

// RetryBase returns the base delay for upstream retry backoff.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds * float64(time.Second))
}

// AccessTokenSkew returns the safety margin subtracted from token lifetimes.
func (c *Config) AccessTokenSkew() time.Duration {
	return time.Duration(c.AccessTokenSkewSeconds) * time.Second
}

// IdempotencyTTL returns the retention period for idempotent responses.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
