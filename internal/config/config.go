package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend names accepted by PUBSUB_TYPE, PRESENCE_TYPE and DIRECTORY_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server
	ServerAddr      string        `env:"SERVER_ADDR" envDefault:"0.0.0.0:8080"`
	Env             string        `env:"APP_ENV" envDefault:"development"` // "development" or "production"
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Membership directory
	DirectoryBackend string `env:"DIRECTORY_BACKEND" envDefault:"postgres"`
	DatabaseURL      string `env:"DATABASE_URL"`

	// Auth
	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	TriggerSecret string `env:"TRIGGER_SECRET"`

	// Redis (for PubSub and presence across instances)
	RedisURL     string `env:"REDIS_URL"` // e.g., "redis://localhost:6379"
	PubSubType   string `env:"PUBSUB_TYPE" envDefault:"memory"`
	PresenceType string `env:"PRESENCE_TYPE" envDefault:"memory"`

	// Inbound events per user per minute, 0 disables limiting
	EventsPerMinute int `env:"EVENTS_PER_MINUTE" envDefault:"600"`

	// OTLP/HTTP collector endpoint, empty disables export
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables.
// In production, these come from the host. In dev, a .env file is read first
// and never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if len(c.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 characters"))
	}

	switch c.DirectoryBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DIRECTORY_BACKEND=postgres"))
		}
	case BackendMemory:
		if !c.IsDevelopment() {
			errs = append(errs, errors.New("DIRECTORY_BACKEND=memory is only allowed in development"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DIRECTORY_BACKEND %q", c.DirectoryBackend))
	}

	for name, v := range map[string]string{"PUBSUB_TYPE": c.PubSubType, "PRESENCE_TYPE": c.PresenceType} {
		switch v {
		case BackendMemory:
		case BackendRedis:
			if c.RedisURL == "" {
				errs = append(errs, fmt.Errorf("REDIS_URL is required when %s=redis", name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s %q", name, v))
		}
	}

	if c.EventsPerMinute < 0 {
		errs = append(errs, errors.New("EVENTS_PER_MINUTE must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.PubSubType == BackendRedis || c.PresenceType == BackendRedis
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
