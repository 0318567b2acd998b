// Package config loads and validates app config from env and an optional
// .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DBPath is the sqlite database file path.
	DBPath string `mapstructure:"DB_PATH"`
	// RedisURL enables the snapshot cache and the cross-instance event
	// bridge when set (e.g. redis://localhost:6379/0). Empty disables both.
	RedisURL string `mapstructure:"REDIS_URL"`
	// CacheTTL is the snapshot cache entry lifetime (e.g. "5m").
	CacheTTL string `mapstructure:"CACHE_TTL"`
	// HubSendBuffer is the per-connection outbound event buffer.
	HubSendBuffer int `mapstructure:"HUB_SEND_BUFFER"`
	// Auth0Domain and Auth0Audience configure RS256 verification against
	// the identity provider's JWKS.
	Auth0Domain   string `mapstructure:"AUTH0_DOMAIN"`
	Auth0Audience string `mapstructure:"AUTH0_AUDIENCE"`
	// LocalAuthSecret switches token verification to HS256 with a shared
	// secret for local deployments. Mutually exclusive with Auth0Domain.
	LocalAuthSecret string `mapstructure:"LOCAL_AUTH_SHARED_SECRET"`
	// Debug enables debug-level logging.
	Debug bool `mapstructure:"DEBUG"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_PATH", "trello-mini.db")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("HUB_SEND_BUFFER", 32)
	v.SetDefault("AUTH0_DOMAIN", "")
	v.SetDefault("AUTH0_AUDIENCE", "")
	v.SetDefault("LOCAL_AUTH_SHARED_SECRET", "")
	v.SetDefault("DEBUG", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("config: DB_PATH must be set")
	}
	if cfg.HubSendBuffer < 1 {
		return nil, errors.New("config: HUB_SEND_BUFFER must be at least 1")
	}
	if cfg.Auth0Domain == "" && cfg.LocalAuthSecret == "" {
		return nil, errors.New("config: set AUTH0_DOMAIN or LOCAL_AUTH_SHARED_SECRET")
	}
	if cfg.Auth0Domain != "" && cfg.LocalAuthSecret != "" {
		return nil, errors.New("config: AUTH0_DOMAIN and LOCAL_AUTH_SHARED_SECRET are mutually exclusive")
	}
	if cfg.Auth0Domain != "" && cfg.Auth0Audience == "" {
		return nil, errors.New("config: AUTH0_AUDIENCE must be set with AUTH0_DOMAIN")
	}

	return &cfg, nil
}

// SnapshotTTL parses CacheTTL as a time.Duration. Returns 5m if unset or
// invalid.
func (c *Config) SnapshotTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
