// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package sources implements the concrete candidate source adapters. Each
// adapter owns its provider payload types; provider shapes never escape
// this package. Every adapter carries its own HTTP client, request rate
// limiter, and circuit breaker so one misbehaving provider cannot starve
// the others.
package sources

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/metrics"
)

// ErrNotConfigured is returned by constructors when a required setting
// (base URL, credential) is missing for an enabled adapter.
var ErrNotConfigured = errors.New("source not configured")

// AdapterConfig is the per-provider adapter tuning.
type AdapterConfig struct {
	// Enabled gates whether the adapter participates in aggregation.
	Enabled bool `json:"enabled" koanf:"enabled"`

	// BaseURL is the provider API root, no trailing slash.
	BaseURL string `json:"base_url" koanf:"base_url"`

	// APIKey is the provider credential. An adapter without a credential
	// reports itself unavailable.
	APIKey string `json:"api_key" koanf:"api_key"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `json:"timeout" koanf:"timeout"`

	// RateLimit is the sustained requests-per-second budget against the
	// provider; RateBurst is the burst allowance.
	RateLimit float64 `json:"rate_limit" koanf:"rate_limit"`
	RateBurst int     `json:"rate_burst" koanf:"rate_burst"`
}

// DefaultAdapterConfig returns conservative per-provider defaults.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Enabled:   true,
		Timeout:   3 * time.Second,
		RateLimit: 5,
		RateBurst: 10,
	}
}

// Config groups the three shipped adapters.
type Config struct {
	Places    AdapterConfig `json:"places" koanf:"places"`
	Events    AdapterConfig `json:"events" koanf:"events"`
	Directory AdapterConfig `json:"directory" koanf:"directory"`
}

// DefaultConfig returns defaults for all adapters. Base URLs and keys have
// no defaults; unset adapters stay unavailable.
func DefaultConfig() Config {
	return Config{
		Places:    DefaultAdapterConfig(),
		Events:    DefaultAdapterConfig(),
		Directory: DefaultAdapterConfig(),
	}
}

func (c *AdapterConfig) validate(name string) error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%s: %w: base_url required", name, ErrNotConfigured)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive, got %s", name, c.Timeout)
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return fmt.Errorf("%s: invalid rate limit %f burst %d", name, c.RateLimit, c.RateBurst)
	}
	return nil
}

func (c *AdapterConfig) httpClient() *http.Client {
	return &http.Client{Timeout: c.Timeout}
}

func (c *AdapterConfig) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.RateLimit), c.RateBurst)
}

// newBreaker builds the per-source circuit breaker. Opens after a 60%
// failure rate over at least 10 requests, allows 3 probes in half-open,
// and waits 2 minutes before probing an open circuit.
func newBreaker(name string) *gobreaker.CircuitBreaker[[]candidate.Candidate] {
	metrics.BreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]candidate.Candidate](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// recordResult maps an adapter call outcome onto the source metrics.
func recordResult(source string, start time.Time, returned int, err error) {
	switch {
	case err == nil:
		metrics.RecordSourceRequest(source, "success", time.Since(start), returned)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordSourceRequest(source, "rejected", time.Since(start), 0)
	default:
		metrics.RecordSourceRequest(source, "failure", time.Since(start), 0)
	}
}

// Build constructs every enabled, configured adapter in deterministic
// order: places, events, directory. Disabled adapters are skipped;
// misconfigured enabled adapters fail construction.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func Build(cfg Config, logger zerolog.Logger) ([]candidate.Source, error) {
	var out []candidate.Source

	if cfg.Places.Enabled {
		s, err := NewPlacesSource(cfg.Places, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Events.Enabled {
		s, err := NewEventsSource(cfg.Events, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if cfg.Directory.Enabled {
		s, err := NewDirectorySource(cfg.Directory, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
