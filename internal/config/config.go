// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/robfig/cron/v3"

	"github.com/ashureev/provit/internal/store"
)

// Config holds all server configuration.
type Config struct {
	Port        string   `env:"PORT" envDefault:"8080"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	Inference InferenceConfig
	Store     StoreConfig

	// SaveDebounce delays background history writes. Zero writes immediately.
	SaveDebounce time.Duration `env:"SAVE_DEBOUNCE" envDefault:"0s"`

	HealthProbeSchedule string `env:"HEALTH_PROBE_SCHEDULE" envDefault:"@every 30s"`
}

// InferenceConfig selects and tunes the chat backend.
type InferenceConfig struct {
	BaseURL     string        `env:"INFERENCE_BASE_URL" envDefault:"https://convince.dotverse.tech/api"`
	Timeout     time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"60s"`
	NameTimeout time.Duration `env:"NAME_TIMEOUT" envDefault:"30s"`
	Offline     bool          `env:"INFERENCE_OFFLINE" envDefault:"false"`
}

// StoreConfig selects where chat history lives.
type StoreConfig struct {
	Backend     string `env:"STORE_BACKEND" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"./data/provit.db"`
	Dir         string `env:"STORE_DIR" envDefault:"./data/history"`
	Key         string `env:"STORE_KEY" envDefault:"ai-chat-history"`
	MaxSessions int    `env:"MAX_SESSIONS" envDefault:"50"`
}

// MockConfig configures the offline backend binary.
type MockConfig struct {
	Port       string        `env:"MOCK_PORT" envDefault:"5000"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
	RateLimit  int           `env:"MOCK_RATE_LIMIT" envDefault:"10"`
	RateWindow time.Duration `env:"MOCK_RATE_WINDOW" envDefault:"1m"`
	Seed       uint64        `env:"MOCK_SEED" envDefault:"0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadMock reads the offline backend configuration.
func LoadMock() (*MockConfig, error) {
	cfg := &MockConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Port == "" {
		return nil, errors.New("invalid configuration: MOCK_PORT cannot be empty")
	}
	if cfg.RateLimit <= 0 {
		return nil, errors.New("invalid configuration: MOCK_RATE_LIMIT must be > 0")
	}
	if cfg.RateWindow <= 0 {
		return nil, errors.New("invalid configuration: MOCK_RATE_WINDOW must be > 0")
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Store.Backend {
	case store.BackendSQLite:
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case store.BackendFile:
		if c.Store.Dir == "" {
			return errors.New("STORE_DIR cannot be empty")
		}
	case store.BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of sqlite, file, memory (got %q)", c.Store.Backend)
	}
	if c.Store.Key == "" {
		return errors.New("STORE_KEY cannot be empty")
	}
	if c.Store.MaxSessions <= 0 {
		return errors.New("MAX_SESSIONS must be > 0")
	}

	if !c.Inference.Offline && c.Inference.BaseURL == "" {
		return errors.New("INFERENCE_BASE_URL cannot be empty unless INFERENCE_OFFLINE is set")
	}
	if c.Inference.Timeout <= 0 {
		return errors.New("INFERENCE_TIMEOUT must be > 0")
	}
	if c.Inference.NameTimeout <= 0 {
		return errors.New("NAME_TIMEOUT must be > 0")
	}
	if c.SaveDebounce < 0 {
		return errors.New("SAVE_DEBOUNCE cannot be negative")
	}

	if c.HealthProbeSchedule != "" {
		if _, err := cron.ParseStandard(c.HealthProbeSchedule); err != nil {
			return fmt.Errorf("HEALTH_PROBE_SCHEDULE: %w", err)
		}
	}
	return nil
}

// IsDevelopment returns true when no CORS origin is pinned or only local ones are.
func (c *Config) IsDevelopment() bool {
	if len(c.CORSOrigins) == 0 {
		return true
	}
	for _, o := range c.CORSOrigins {
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

// ParseLogLevel maps LOG_LEVEL onto a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
