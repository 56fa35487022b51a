// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package aggregate

import (
	"fmt"
	"time"
)

// Config tunes the candidate fan-out and radius expansion behavior.
type Config struct {
	// TargetCandidates is the unique-candidate count below which the
	// aggregator widens the search radius and re-queries.
	TargetCandidates int `json:"target_candidates" koanf:"target_candidates"`

	// MaxRadiusMeters is the hard cap on radius expansion.
	MaxRadiusMeters int `json:"max_radius_meters" koanf:"max_radius_meters"`

	// RadiusMultiplier scales the radius each expansion round.
	RadiusMultiplier float64 `json:"radius_multiplier" koanf:"radius_multiplier"`

	// AdapterTimeout bounds each individual source call. A timed-out
	// adapter is treated as a failed adapter, not a failed aggregation.
	AdapterTimeout time.Duration `json:"adapter_timeout" koanf:"adapter_timeout"`
}

// DefaultConfig returns the shipped aggregation tuning.
func DefaultConfig() Config {
	return Config{
		TargetCandidates: 30,
		MaxRadiusMeters:  50_000,
		RadiusMultiplier: 2.0,
		AdapterTimeout:   4 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TargetCandidates < 1 {
		return fmt.Errorf("target_candidates must be positive, got %d", c.TargetCandidates)
	}
	if c.MaxRadiusMeters < 1 {
		return fmt.Errorf("max_radius_meters must be positive, got %d", c.MaxRadiusMeters)
	}
	if c.RadiusMultiplier <= 1.0 {
		return fmt.Errorf("radius_multiplier must exceed 1.0, got %f", c.RadiusMultiplier)
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be positive, got %s", c.AdapterTimeout)
	}
	return nil
}
