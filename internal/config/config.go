// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every tunable of the server process.
type Config struct {
	Port int `env:"PORT" envDefault:"3000"`

	GroupCapacity       int `env:"GROUP_CAPACITY"        envDefault:"5"`
	GroupStartThreshold int `env:"GROUP_START_THRESHOLD" envDefault:"2"`

	OutboxSize      int           `env:"WS_OUTBOX_SIZE"    envDefault:"64"`
	WriteTimeout    time.Duration `env:"WS_WRITE_TIMEOUT"  envDefault:"5s"`
	IdleTimeout     time.Duration `env:"WS_IDLE_TIMEOUT"   envDefault:"5m"`
	RateLimit       int           `env:"RATE_LIMIT"        envDefault:"10"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`

	// DatabaseURL enables the Postgres archive when set.
	DatabaseURL      string        `env:"DATABASE_URL"`
	ArchiveInterval  time.Duration `env:"ARCHIVE_INTERVAL"  envDefault:"30s"`
	ArchiveRetention time.Duration `env:"ARCHIVE_RETENTION" envDefault:"24h"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`
}

// Load parses the environment (after .env autoload) into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.GroupCapacity < 1 {
		return errors.New("GROUP_CAPACITY must be at least 1")
	}
	if c.GroupStartThreshold < 1 || c.GroupStartThreshold > c.GroupCapacity {
		return fmt.Errorf("GROUP_START_THRESHOLD must be between 1 and %d", c.GroupCapacity)
	}
	if c.OutboxSize < 1 {
		return errors.New("WS_OUTBOX_SIZE must be at least 1")
	}
	if c.RateLimit < 1 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT and RATE_LIMIT_WINDOW must be positive")
	}
	if c.WriteTimeout <= 0 || c.IdleTimeout <= 0 {
		return errors.New("WS_WRITE_TIMEOUT and WS_IDLE_TIMEOUT must be positive")
	}
	if c.DatabaseURL != "" && (c.ArchiveInterval <= 0 || c.ArchiveRetention <= 0) {
		return errors.New("ARCHIVE_INTERVAL and ARCHIVE_RETENTION must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}
