// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package scoring

import "fmt"

// Config contains every tunable constant of the scorer. The values are
// product-tuning decisions; defaults reflect the shipped tuning.
type Config struct {
	// ScoreCeiling is the upper clamp for final scores.
	ScoreCeiling float64 `json:"score_ceiling" koanf:"score_ceiling"`

	// Base (interest match) component.
	Base BaseConfig `json:"base" koanf:"base"`

	// Location component.
	Location LocationConfig `json:"location" koanf:"location"`

	// TimeContext component.
	TimeContext TimeConfig `json:"time_context" koanf:"time_context"`

	// EventUrgency component.
	EventUrgency EventUrgencyConfig `json:"event_urgency" koanf:"event_urgency"`

	// Signals component (cross-referenced personal data boosts).
	Signals SignalsConfig `json:"signals" koanf:"signals"`

	// Feedback component (user's own thumb ratings).
	Feedback FeedbackConfig `json:"feedback" koanf:"feedback"`

	// Recency holds the step-down penalty bands for recently shown candidates.
	Recency RecencyConfig `json:"recency" koanf:"recency"`

	// Sponsored holds the capped paid-placement boost parameters.
	Sponsored SponsoredConfig `json:"sponsored" koanf:"sponsored"`
}

// BaseConfig tunes the interest-match component.
type BaseConfig struct {
	// TopInterestPoints is awarded when the candidate category matches a
	// favorite category or one of the user's top-3 interests.
	TopInterestPoints float64 `json:"top_interest_points" koanf:"top_interest_points"`

	// OtherInterestPoints is awarded for any other listed interest.
	OtherInterestPoints float64 `json:"other_interest_points" koanf:"other_interest_points"`

	// NoMatchFloor is the baseline for candidates matching no interest.
	NoMatchFloor float64 `json:"no_match_floor" koanf:"no_match_floor"`

	// DiscoveryFloor replaces NoMatchFloor when the profile is in
	// discovery mode, surfacing more out-of-interest candidates.
	DiscoveryFloor float64 `json:"discovery_floor" koanf:"discovery_floor"`

	// Rating tier bonuses.
	RatingExcellent float64 `json:"rating_excellent" koanf:"rating_excellent"` // >= 4.5
	RatingGreat     float64 `json:"rating_great" koanf:"rating_great"`         // >= 4.0
	RatingGood      float64 `json:"rating_good" koanf:"rating_good"`           // >= 3.5

	// Popularity bracket bonuses by review count.
	PopularityHigh   float64 `json:"popularity_high" koanf:"popularity_high"`     // >= 500 reviews
	PopularityMedium float64 `json:"popularity_medium" koanf:"popularity_medium"` // >= 100 reviews
	PopularityLow    float64 `json:"popularity_low" koanf:"popularity_low"`       // >= 20 reviews

	// Cap bounds the whole base component.
	Cap float64 `json:"cap" koanf:"cap"`
}

// LocationConfig tunes the distance component.
type LocationConfig struct {
	// Inverse-distance bands, in kilometers from the query origin.
	VeryCloseKm     float64 `json:"very_close_km" koanf:"very_close_km"`
	VeryClosePoints float64 `json:"very_close_points" koanf:"very_close_points"`
	WalkableKm      float64 `json:"walkable_km" koanf:"walkable_km"`
	WalkablePoints  float64 `json:"walkable_points" koanf:"walkable_points"`

	// InRadiusPoints is awarded within the profile's preferred radius.
	InRadiusPoints float64 `json:"in_radius_points" koanf:"in_radius_points"`

	// BeyondRadiusPenaltyPerKm is subtracted per km past the preferred
	// radius, floored at zero.
	BeyondRadiusPenaltyPerKm float64 `json:"beyond_radius_penalty_per_km" koanf:"beyond_radius_penalty_per_km"`

	// AnchorProximityKm and AnchorPoints reward candidates near the user's
	// home or work coordinates.
	AnchorProximityKm float64 `json:"anchor_proximity_km" koanf:"anchor_proximity_km"`
	AnchorPoints      float64 `json:"anchor_points" koanf:"anchor_points"`

	// Commitment proximity bonus: candidates near an upcoming commitment
	// earn up to CommitmentMaxPoints, decaying linearly to zero at
	// CommitmentHorizonHours before the commitment.
	CommitmentProximityKm  float64 `json:"commitment_proximity_km" koanf:"commitment_proximity_km"`
	CommitmentMaxPoints    float64 `json:"commitment_max_points" koanf:"commitment_max_points"`
	CommitmentHorizonHours float64 `json:"commitment_horizon_hours" koanf:"commitment_horizon_hours"`

	// Cap bounds the whole location component.
	Cap float64 `json:"cap" koanf:"cap"`
}

// TimeConfig tunes the time-of-day component.
type TimeConfig struct {
	// PreferredWindowPoints is awarded when now falls inside one of the
	// profile's preferred time windows.
	PreferredWindowPoints float64 `json:"preferred_window_points" koanf:"preferred_window_points"`

	// AffinityStrongPoints and AffinityWeakPoints reward category /
	// time-of-day pairings (coffee in the morning, bars at night).
	AffinityStrongPoints float64 `json:"affinity_strong_points" koanf:"affinity_strong_points"`
	AffinityWeakPoints   float64 `json:"affinity_weak_points" koanf:"affinity_weak_points"`

	// Cap bounds the whole time component.
	Cap float64 `json:"cap" koanf:"cap"`
}

// EventUrgencyConfig tunes the time-bound candidate bonus.
type EventUrgencyConfig struct {
	// Monotonically decreasing bonus tiers by hours until event start.
	Within24hPoints  float64 `json:"within_24h_points" koanf:"within_24h_points"`
	Within72hPoints  float64 `json:"within_72h_points" koanf:"within_72h_points"`
	Within168hPoints float64 `json:"within_168h_points" koanf:"within_168h_points"`
	BeyondPoints     float64 `json:"beyond_points" koanf:"beyond_points"`

	// PastEventPenalty is applied once the event has started or passed.
	// Large enough to sink the candidate to the clamp floor.
	PastEventPenalty float64 `json:"past_event_penalty" koanf:"past_event_penalty"`
}

// SignalsConfig tunes the cross-referenced personal signal boosts. Every
// signal is optional; absent data contributes zero, never a penalty.
type SignalsConfig struct {
	VisitedPoints       float64 `json:"visited_points" koanf:"visited_points"`
	ExternalLikePoints  float64 `json:"external_like_points" koanf:"external_like_points"`
	RoutineMatchPoints  float64 `json:"routine_match_points" koanf:"routine_match_points"`
	PriceMatchPoints    float64 `json:"price_match_points" koanf:"price_match_points"`
	PriceMismatchPoints float64 `json:"price_mismatch_points" koanf:"price_mismatch_points"`
}

// FeedbackConfig tunes the explicit-rating components.
type FeedbackConfig struct {
	// ThumbsUpPoints / ThumbsDownPoints weigh the user's own ratings of
	// this candidate.
	ThumbsUpPoints   float64 `json:"thumbs_up_points" koanf:"thumbs_up_points"`
	ThumbsDownPoints float64 `json:"thumbs_down_points" koanf:"thumbs_down_points"`

	// CollaborativeMax bounds the community-feedback contribution.
	CollaborativeMax float64 `json:"collaborative_max" koanf:"collaborative_max"`

	// CollaborativeMinRatings is the minimum community rating count before
	// the collaborative component contributes at all.
	CollaborativeMinRatings int `json:"collaborative_min_ratings" koanf:"collaborative_min_ratings"`
}

// RecencyBand is one step of the recency penalty function.
type RecencyBand struct {
	// MaxHours is the exclusive upper bound of the band.
	MaxHours float64 `json:"max_hours" koanf:"max_hours"`

	// Penalty is the (negative) score contribution inside the band.
	Penalty float64 `json:"penalty" koanf:"penalty"`
}

// RecencyConfig holds the step-down penalty bands. Bands must be ordered by
// ascending MaxHours; elapsed times past the last band incur no penalty.
type RecencyConfig struct {
	Bands []RecencyBand `json:"bands" koanf:"bands"`
}

// SponsoredConfig tunes the capped paid-placement boost.
type SponsoredConfig struct {
	// BoostFraction of the pre-boost sum is added for sponsored candidates.
	BoostFraction float64 `json:"boost_fraction" koanf:"boost_fraction"`

	// LowScoreThreshold and LowScoreCap prevent irrelevant sponsored
	// content from climbing on boost alone: below the threshold the boost
	// is capped at LowScoreCap.
	LowScoreThreshold float64 `json:"low_score_threshold" koanf:"low_score_threshold"`
	LowScoreCap       float64 `json:"low_score_cap" koanf:"low_score_cap"`

	// MaxBoost is the absolute boost ceiling.
	MaxBoost float64 `json:"max_boost" koanf:"max_boost"`
}

// DefaultConfig returns the shipped scoring tuning.
func DefaultConfig() Config {
	return Config{
		ScoreCeiling: 150,
		Base: BaseConfig{
			TopInterestPoints:   40,
			OtherInterestPoints: 25,
			NoMatchFloor:        10,
			DiscoveryFloor:      18,
			RatingExcellent:     12,
			RatingGreat:         8,
			RatingGood:          4,
			PopularityHigh:      8,
			PopularityMedium:    5,
			PopularityLow:       2,
			Cap:                 60,
		},
		Location: LocationConfig{
			VeryCloseKm:              0.5,
			VeryClosePoints:          30,
			WalkableKm:               1.5,
			WalkablePoints:           22,
			InRadiusPoints:           14,
			BeyondRadiusPenaltyPerKm: 2,
			AnchorProximityKm:        2.0,
			AnchorPoints:             8,
			CommitmentProximityKm:    2.0,
			CommitmentMaxPoints:      10,
			CommitmentHorizonHours:   12,
			Cap:                      40,
		},
		TimeContext: TimeConfig{
			PreferredWindowPoints: 10,
			AffinityStrongPoints:  8,
			AffinityWeakPoints:    4,
			Cap:                   15,
		},
		EventUrgency: EventUrgencyConfig{
			Within24hPoints:  20,
			Within72hPoints:  12,
			Within168hPoints: 6,
			BeyondPoints:     2,
			PastEventPenalty: -1000,
		},
		Signals: SignalsConfig{
			VisitedPoints:       6,
			ExternalLikePoints:  8,
			RoutineMatchPoints:  6,
			PriceMatchPoints:    6,
			PriceMismatchPoints: -8,
		},
		Feedback: FeedbackConfig{
			ThumbsUpPoints:          10,
			ThumbsDownPoints:        -12,
			CollaborativeMax:        8,
			CollaborativeMinRatings: 5,
		},
		Recency: RecencyConfig{
			Bands: []RecencyBand{
				{MaxHours: 6, Penalty: -35},
				{MaxHours: 12, Penalty: -25},
				{MaxHours: 24, Penalty: -15},
				{MaxHours: 48, Penalty: -8},
				{MaxHours: 72, Penalty: -3},
			},
		},
		Sponsored: SponsoredConfig{
			BoostFraction:     0.15,
			LowScoreThreshold: 40,
			LowScoreCap:       6,
			MaxBoost:          20,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ScoreCeiling <= 0 {
		return fmt.Errorf("score_ceiling must be positive, got %f", c.ScoreCeiling)
	}
	if c.Base.Cap <= 0 {
		return fmt.Errorf("base.cap must be positive, got %f", c.Base.Cap)
	}
	if c.Location.Cap <= 0 {
		return fmt.Errorf("location.cap must be positive, got %f", c.Location.Cap)
	}
	if c.Location.VeryCloseKm > c.Location.WalkableKm {
		return fmt.Errorf("location.very_close_km must not exceed walkable_km, got %f > %f",
			c.Location.VeryCloseKm, c.Location.WalkableKm)
	}
	if c.Sponsored.BoostFraction < 0 || c.Sponsored.BoostFraction > 1 {
		return fmt.Errorf("sponsored.boost_fraction must be in [0, 1], got %f", c.Sponsored.BoostFraction)
	}
	prev := 0.0
	for i, band := range c.Recency.Bands {
		if band.MaxHours <= prev {
			return fmt.Errorf("recency.bands[%d].max_hours must increase, got %f after %f", i, band.MaxHours, prev)
		}
		if band.Penalty > 0 {
			return fmt.Errorf("recency.bands[%d].penalty must be non-positive, got %f", i, band.Penalty)
		}
		if i > 0 && band.Penalty < c.Recency.Bands[i-1].Penalty {
			return fmt.Errorf("recency.bands[%d].penalty must not steepen over time", i)
		}
		prev = band.MaxHours
	}
	return nil
}
