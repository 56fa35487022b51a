// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package scoring

import (
	"time"

	"github.com/perch-labs/perch/internal/candidate"
)

// TimeWindow is an hour-of-day range in the user's local time.
// Windows wrapping midnight (Start > End) are supported.
type TimeWindow struct {
	// StartHour is the inclusive start hour (0-23).
	StartHour int `json:"start_hour"`

	// EndHour is the exclusive end hour (0-23).
	EndHour int `json:"end_hour"`
}

// Contains reports whether the given hour falls inside the window.
func (w TimeWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// Wraps midnight.
	return hour >= w.StartHour || hour < w.EndHour
}

// Profile is the user preference snapshot the scorer reads. It is owned by
// the profile service and read-only here.
type Profile struct {
	// ID is the user identifier.
	ID string `json:"id"`

	// Interests is the user's interest list in priority order. The first
	// three entries are treated as top interests.
	Interests []string `json:"interests"`

	// FavoriteCategories always score at the top interest tier.
	FavoriteCategories []string `json:"favorite_categories,omitempty"`

	// DislikedCategories zero out the interest-match tier.
	DislikedCategories []string `json:"disliked_categories,omitempty"`

	// BudgetLevel is the preferred price level (1-4, 0 = unstated).
	BudgetLevel int `json:"budget_level,omitempty"`

	// MaxDistanceKm is the preferred search radius.
	MaxDistanceKm float64 `json:"max_distance_km"`

	// PreferredTimeWindows are the hours the user likes going out.
	PreferredTimeWindows []TimeWindow `json:"preferred_time_windows,omitempty"`

	// SubscriptionTier is the billing tier ("free", "premium"). Affects
	// refresh cadence, never scoring.
	SubscriptionTier string `json:"subscription_tier,omitempty"`

	// DiscoveryMode raises the no-interest-match floor so unfamiliar
	// categories surface more often.
	DiscoveryMode bool `json:"discovery_mode,omitempty"`
}

// Commitment is an upcoming time-bound obligation with a location, supplied
// by the calendar collaborator.
type Commitment struct {
	// At is when the commitment occurs.
	At time.Time `json:"at"`

	// Where is the commitment location.
	Where candidate.Coordinates `json:"where"`
}

// Signals are the cross-referenced personal signals for one candidate.
// Every field is optional; the zero value contributes nothing.
type Signals struct {
	// Visited indicates the user has been here before.
	Visited bool `json:"visited,omitempty"`

	// ExternalLike indicates a matched like/save from a linked account.
	ExternalLike bool `json:"external_like,omitempty"`

	// RoutineMatch indicates the candidate fits a recurring schedule
	// pattern (e.g., gym every Tuesday evening).
	RoutineMatch bool `json:"routine_match,omitempty"`
}

// FeedbackCounts aggregates explicit thumb ratings for one candidate.
type FeedbackCounts struct {
	// OwnUp / OwnDown are the user's own ratings of this candidate.
	OwnUp   int `json:"own_up"`
	OwnDown int `json:"own_down"`

	// CommunityUp / CommunityDown aggregate all users' ratings.
	CommunityUp   int `json:"community_up"`
	CommunityDown int `json:"community_down"`
}

// Context carries the per-cycle scoring inputs that are not part of the
// profile: clock, anchor coordinates, recency state, and collaborator data.
type Context struct {
	// Now is the evaluation time.
	Now time.Time

	// Origin is the query center; distances are measured from here.
	Origin candidate.Coordinates

	// Home and Work are optional anchor coordinates.
	Home *candidate.Coordinates
	Work *candidate.Coordinates

	// HoursSinceShown maps candidate ID to hours elapsed since the
	// candidate was last surfaced. Absent IDs were never shown.
	HoursSinceShown map[string]float64

	// Commitments are upcoming time-bound obligations with locations.
	Commitments []Commitment

	// Signals maps candidate ID to cross-referenced personal signals.
	Signals map[string]Signals

	// Feedback maps candidate ID to aggregated thumb ratings.
	Feedback map[string]FeedbackCounts
}

// Breakdown itemizes every score component for one candidate. Components
// are additive; Scorer.Score sums and clamps them.
type Breakdown struct {
	Base           float64 `json:"base"`
	Location       float64 `json:"location"`
	TimeContext    float64 `json:"time_context"`
	Feedback       float64 `json:"feedback"`
	Collaborative  float64 `json:"collaborative"`
	EventUrgency   float64 `json:"event_urgency"`
	SponsoredBoost float64 `json:"sponsored_boost"`
	RecencyPenalty float64 `json:"recency_penalty"`

	// SourceBoosts itemizes the optional personal-signal boosts by name.
	SourceBoosts map[string]float64 `json:"source_boosts,omitempty"`
}

// Sum returns the unclamped total of all components.
func (b *Breakdown) Sum() float64 {
	total := b.Base + b.Location + b.TimeContext + b.Feedback +
		b.Collaborative + b.EventUrgency + b.SponsoredBoost + b.RecencyPenalty
	for _, v := range b.SourceBoosts {
		total += v
	}
	return total
}

// Scored pairs a candidate with its score breakdown for one cycle.
type Scored struct {
	// Candidate is the unified candidate being scored.
	Candidate candidate.Candidate `json:"candidate"`

	// Breakdown itemizes the score components.
	Breakdown Breakdown `json:"breakdown"`

	// FinalScore is the clamped component sum.
	FinalScore float64 `json:"final_score"`

	// Category is the candidate's primary category.
	Category string `json:"category"`

	// DistanceKm is the distance from the query origin.
	DistanceKm float64 `json:"distance_km"`
}
