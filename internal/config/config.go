// Package config loads oidcstore settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted in OIDCSTORE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds every setting the CLI and an embedding process need to open a
// backend. Flags override these after parsing.
type Config struct {
	Backend string `env:"OIDCSTORE_BACKEND" envDefault:"sqlite"`
	DBPath  string `env:"OIDCSTORE_DB"      envDefault:"oidcstore.db"`

	RedisURL         string        `env:"OIDCSTORE_REDIS_URL"`
	RedisPrefix      string        `env:"OIDCSTORE_REDIS_PREFIX"       envDefault:"oidc:"`
	RedisPoolSize    int           `env:"OIDCSTORE_REDIS_POOL_SIZE"    envDefault:"10"`
	RedisPoolTimeout time.Duration `env:"OIDCSTORE_REDIS_POOL_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"OIDCSTORE_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"OIDCSTORE_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("sqlite backend requires OIDCSTORE_DB")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis backend requires OIDCSTORE_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendSQLite, BackendRedis)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}
