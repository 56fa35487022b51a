// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package config loads and validates the unified service configuration.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/perch-labs/perch/internal/aggregate"
	"github.com/perch-labs/perch/internal/engine"
	"github.com/perch-labs/perch/internal/geocode"
	"github.com/perch-labs/perch/internal/logging"
	"github.com/perch-labs/perch/internal/ranking"
	"github.com/perch-labs/perch/internal/scoring"
	"github.com/perch-labs/perch/internal/sources"
	"github.com/perch-labs/perch/internal/store"
	"github.com/perch-labs/perch/internal/validation"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig     `json:"server" koanf:"server"`
	Logging   LoggingConfig    `json:"logging" koanf:"logging"`
	Sources   sources.Config   `json:"sources" koanf:"sources"`
	Aggregate aggregate.Config `json:"aggregate" koanf:"aggregate"`
	Geocode   geocode.Config   `json:"geocode" koanf:"geocode"`
	Scoring   scoring.Config   `json:"scoring" koanf:"scoring"`
	Ranking   ranking.Config   `json:"ranking" koanf:"ranking"`
	Store     store.Config     `json:"store" koanf:"store"`
	Engine    engine.Config    `json:"engine" koanf:"engine"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host string `json:"host" koanf:"host" validate:"required"`
	Port int    `json:"port" koanf:"port" validate:"min=1,max=65535"`

	// ReadTimeout and WriteTimeout bound request handling;
	// ShutdownTimeout bounds graceful drain on exit.
	ReadTimeout     time.Duration `json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`

	// SweepInterval is how often expired recommendation records are swept.
	SweepInterval time.Duration `json:"sweep_interval" koanf:"sweep_interval"`

	// CORSOrigins is empty by default; cross-origin browsers must be
	// granted explicitly.
	CORSOrigins []string `json:"cors_origins" koanf:"cors_origins"`

	RateLimitRequests int           `json:"rate_limit_requests" koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `json:"rate_limit_window" koanf:"rate_limit_window"`
	RateLimitDisabled bool          `json:"rate_limit_disabled" koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings. Mirrors logging.Config minus the
// output writer, which is not configurable from files.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `json:"format" koanf:"format" validate:"oneof=json console"`
	Caller bool   `json:"caller" koanf:"caller"`
}

// ToLogging converts to the logging package's config.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:  c.Level,
		Format: c.Format,
		Caller: c.Caller,
	}
}

// defaultConfig returns the built-in defaults. Source adapters default to
// disabled; enabling one requires a base URL and credential.
func defaultConfig() *Config {
	src := sources.DefaultConfig()
	src.Places.Enabled = false
	src.Events.Enabled = false
	src.Directory.Enabled = false

	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8470,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			SweepInterval:     15 * time.Minute,
			CORSOrigins:       []string{},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sources:   src,
		Aggregate: aggregate.DefaultConfig(),
		Geocode:   geocode.DefaultConfig(),
		Scoring:   scoring.DefaultConfig(),
		Ranking:   ranking.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
	}
}

// Validate checks the whole configuration: tag-based checks on the server
// and logging sections, then each subsystem's own Validate.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validation.ValidateStruct(&c.Logging); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server: timeouts must be positive")
	}
	if c.Server.SweepInterval <= 0 {
		return fmt.Errorf("server: sweep_interval must be positive")
	}

	if err := c.Aggregate.Validate(); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := c.Geocode.Validate(); err != nil {
		return fmt.Errorf("geocode: %w", err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if err := c.Ranking.Validate(); err != nil {
		return fmt.Errorf("ranking: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}
