// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package ranking

import "fmt"

// Config holds the named business-rule constants. The values are empirical
// product tuning, not structural requirements, so every one is overridable.
type Config struct {
	// DiversityWindow is the leading slice inspected by the category
	// diversity rule.
	DiversityWindow int `json:"diversity_window" koanf:"diversity_window"`

	// TopN is the slice the diversity, event-balance, and sponsorship
	// rules guard.
	TopN int `json:"top_n" koanf:"top_n"`

	// MinDistinctCategories is the minimum number of distinct categories
	// required in the top-N before diversity swaps trigger.
	MinDistinctCategories int `json:"min_distinct_categories" koanf:"min_distinct_categories"`

	// MaxEventsTopN caps time-bound candidates inside the top-N.
	MaxEventsTopN int `json:"max_events_top_n" koanf:"max_events_top_n"`

	// MinEventsWindow guarantees at least this many events inside the
	// diversity window when any are available.
	MinEventsWindow int `json:"min_events_window" koanf:"min_events_window"`

	// SponsoredWindow and MaxSponsoredWindow cap paid placements in the
	// leading slice (e.g., at most 2 of the top 5).
	SponsoredWindow    int `json:"sponsored_window" koanf:"sponsored_window"`
	MaxSponsoredWindow int `json:"max_sponsored_window" koanf:"max_sponsored_window"`
}

// DefaultConfig returns the shipped rule tuning.
func DefaultConfig() Config {
	return Config{
		DiversityWindow:       15,
		TopN:                  10,
		MinDistinctCategories: 4,
		MaxEventsTopN:         4,
		MinEventsWindow:       1,
		SponsoredWindow:       5,
		MaxSponsoredWindow:    2,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TopN < 1 {
		return fmt.Errorf("top_n must be positive, got %d", c.TopN)
	}
	if c.DiversityWindow < c.TopN {
		return fmt.Errorf("diversity_window must be >= top_n, got %d < %d", c.DiversityWindow, c.TopN)
	}
	if c.MinDistinctCategories < 1 {
		return fmt.Errorf("min_distinct_categories must be positive, got %d", c.MinDistinctCategories)
	}
	if c.MaxEventsTopN < c.MinEventsWindow {
		return fmt.Errorf("max_events_top_n must be >= min_events_window, got %d < %d",
			c.MaxEventsTopN, c.MinEventsWindow)
	}
	if c.SponsoredWindow < 1 || c.MaxSponsoredWindow < 0 {
		return fmt.Errorf("invalid sponsorship caps: window %d, max %d", c.SponsoredWindow, c.MaxSponsoredWindow)
	}
	return nil
}
