// Package config loads process configuration from the environment:
// caarlos0/env struct tags, an optional .env file via joho/godotenv, then
// validation.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all Event API process configuration.
type Config struct {
	// HTTP / transport
	Addr              string        `env:"EVENTAPI_ADDR" envDefault:":3000"`
	HealthAddr        string        `env:"EVENTAPI_HEALTH_ADDR" envDefault:":3001"`
	HeartbeatInterval time.Duration `env:"EVENTAPI_HEARTBEAT_INTERVAL" envDefault:"25s"`
	ConnectionTTL     time.Duration `env:"EVENTAPI_CONNECTION_TTL" envDefault:"1h"`
	SubscriptionLimit int           `env:"EVENTAPI_SUBSCRIPTION_LIMIT" envDefault:"500"`

	// Admission control
	ConnectionLimit  int `env:"EVENTAPI_CONNECTION_LIMIT" envDefault:"20000"`
	ConnectionTarget int `env:"EVENTAPI_CONNECTION_TARGET" envDefault:"18000"`

	// Bus
	NATSUrl           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSMaxReconnect  int           `env:"NATS_MAX_RECONNECT" envDefault:"-1"`
	NATSReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"10s"`
	EventPrefix       string        `env:"EVENTAPI_EVENT_PREFIX" envDefault:"events"`
	PurgePrefix       string        `env:"EVENTAPI_PURGE_PREFIX" envDefault:"cdn_purge"`
	PodID             string        `env:"EVENTAPI_POD_ID" envDefault:""`

	// JetStream purge stream
	JSStreamMaxAge time.Duration `env:"JS_STREAM_MAX_AGE" envDefault:"24h"`

	// Auth
	JWTSecret   string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	RequireAuth bool   `env:"REQUIRE_AUTH" envDefault:"false"`

	// Redis-backed ticket buckets and distributed mutex
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	// CDN
	CDNAddr          string        `env:"CDN_ADDR" envDefault:":3100"`
	CDNOriginURL     string        `env:"CDN_ORIGIN_URL" envDefault:"http://origin.internal"`
	CDNCacheBytes    int64         `env:"CDN_CACHE_BYTES" envDefault:"1073741824"`
	CDNOriginTimeout time.Duration `env:"CDN_ORIGIN_TIMEOUT" envDefault:"5s"`
	CDNServerName    string        `env:"CDN_SERVER_NAME" envDefault:"odin-cdn"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment, in that priority order reversed — env vars always win.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants that env tags alone can't express.
func (c *Config) Validate() error {
	if c.ConnectionLimit < 1 {
		return fmt.Errorf("EVENTAPI_CONNECTION_LIMIT must be > 0, got %d", c.ConnectionLimit)
	}
	if c.ConnectionTarget > c.ConnectionLimit {
		return fmt.Errorf("EVENTAPI_CONNECTION_TARGET (%d) must be <= EVENTAPI_CONNECTION_LIMIT (%d)", c.ConnectionTarget, c.ConnectionLimit)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("EVENTAPI_HEARTBEAT_INTERVAL must be > 0")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

// LogFields logs the loaded configuration at Info, structured.
func (c *Config) LogFields(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Str("nats_url", c.NATSUrl).
		Int("connection_limit", c.ConnectionLimit).
		Int("connection_target", c.ConnectionTarget).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("connection_ttl", c.ConnectionTTL).
		Str("event_prefix", c.EventPrefix).
		Str("purge_prefix", c.PurgePrefix).
		Msg("configuration loaded")
}
