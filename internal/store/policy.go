// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package store

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a recommendation record.
type Status string

const (
	StatusPending       Status = "pending"
	StatusViewed        Status = "viewed"
	StatusAccepted      Status = "accepted"
	StatusDeclined      Status = "declined"
	StatusNotInterested Status = "not_interested"
	StatusExpired       Status = "expired"
)

// CooldownConfig holds the resurfacing policy. Declined records come back
// quickly; viewed and expired records wait longer; accepted and
// not_interested never come back through the policy.
type CooldownConfig struct {
	// DeclinedCooldown is how long a declined record stays hidden.
	DeclinedCooldown time.Duration `json:"declined_cooldown" koanf:"declined_cooldown"`

	// ReshowCooldown is how long viewed and expired records stay hidden.
	ReshowCooldown time.Duration `json:"reshow_cooldown" koanf:"reshow_cooldown"`

	// Freshness is the maximum record age served from the store; older
	// records force regeneration.
	Freshness time.Duration `json:"freshness" koanf:"freshness"`
}

// DefaultCooldownConfig returns the shipped resurfacing policy.
func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		DeclinedCooldown: 72 * time.Hour,
		ReshowCooldown:   7 * 24 * time.Hour,
		Freshness:        24 * time.Hour,
	}
}

// Validate checks the configuration for errors.
func (c *CooldownConfig) Validate() error {
	if c.DeclinedCooldown <= 0 || c.ReshowCooldown <= 0 || c.Freshness <= 0 {
		return fmt.Errorf("cooldowns must be positive: declined %s, reshow %s, freshness %s",
			c.DeclinedCooldown, c.ReshowCooldown, c.Freshness)
	}
	if c.DeclinedCooldown > c.ReshowCooldown {
		return fmt.Errorf("declined_cooldown %s must not exceed reshow_cooldown %s",
			c.DeclinedCooldown, c.ReshowCooldown)
	}
	return nil
}

// Eligible reports whether a record may be surfaced to its user at the
// given instant. Accepted and not_interested records never qualify;
// declined records qualify after the short cooldown, viewed and expired
// records after the long one; everything must be inside both its
// expiration and the freshness window.
func (c CooldownConfig) Eligible(r Record, now time.Time) bool {
	if now.After(r.ExpiresAt) {
		return false
	}
	if now.Sub(r.CreatedAt) > c.Freshness {
		return false
	}

	switch r.Status {
	case StatusPending:
		return true
	case StatusDeclined:
		return now.Sub(r.LastShownAt) >= c.DeclinedCooldown
	case StatusViewed, StatusExpired:
		return now.Sub(r.LastShownAt) >= c.ReshowCooldown
	case StatusAccepted, StatusNotInterested:
		return false
	default:
		return false
	}
}

// CanTransition reports whether a record may move from one status to
// another. Transitions are monotonic inside a cycle: only Save, unblock,
// and the cooldown policy move a record backward.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusViewed:
		return from == StatusPending
	case StatusAccepted, StatusDeclined:
		return from == StatusPending || from == StatusViewed
	case StatusNotInterested:
		return from != StatusAccepted
	case StatusExpired:
		return from == StatusPending || from == StatusViewed
	default:
		return false
	}
}
