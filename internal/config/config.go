// Package config loads service configuration from an optional YAML file with
// environment variables layered on top (highest priority).
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root service configuration.
type Config struct {
	Env       string          `yaml:"env" env:"SENTRA_ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	TOTP      TOTPConfig      `yaml:"totp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Host string `yaml:"host" env:"SENTRA_HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"SENTRA_HTTP_PORT" env-default:"8080"`
}

// Addr returns the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig holds database settings. An empty DSN selects the in-memory stores.
type DBConfig struct {
	DSN string `yaml:"dsn" env:"SENTRA_PG_DSN" env-default:""`
}

// AuthConfig holds token issuance parameters.
type AuthConfig struct {
	SignerSecret string        `yaml:"signer_secret" env:"SENTRA_SIGNER_SECRET" env-required:"true"`
	Issuer       string        `yaml:"issuer" env:"SENTRA_ISSUER" env-default:"sentra"`
	AccessTTL    time.Duration `yaml:"access_ttl" env:"SENTRA_ACCESS_TTL" env-default:"15m"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl" env:"SENTRA_REFRESH_TTL" env-default:"336h"`
}

// SessionConfig holds session lifecycle policy.
type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl" env:"SENTRA_SESSION_TTL" env-default:"168h"`
	IdleThreshold     time.Duration `yaml:"idle_threshold" env:"SENTRA_SESSION_IDLE" env-default:"30m"`
	MaxFailedAttempts int           `yaml:"max_failed_attempts" env:"SENTRA_MAX_FAILED_ATTEMPTS" env-default:"5"`
}

// TOTPConfig holds step-up verification settings.
type TOTPConfig struct {
	Window uint `yaml:"window" env:"SENTRA_TOTP_WINDOW" env-default:"1"`
}

// RateLimitConfig holds per-IP throttling for the HTTP edge.
type RateLimitConfig struct {
	Burst     int `yaml:"burst" env:"SENTRA_RATE_BURST" env-default:"20"`
	PerSecond int `yaml:"per_second" env:"SENTRA_RATE_PER_SECOND" env-default:"10"`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration by priority: explicit path, then CONFIG_PATH, then
// environment variables only.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Environment always wins over file values.
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("overlay env: %w", err)
		}
		return &cfg, nil
	}

	if path != "" {
		return readFile(path)
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return readFile(p)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}
