// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package scoring computes the multi-component recommendation score for a
// unified candidate given a user profile and cycle context.
//
// Components are additive and individually capped; the final score is the
// clamped sum, always inside [0, Config.ScoreCeiling].
package scoring

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/candidate"
)

// Scorer computes score breakdowns. It is stateless and safe for
// concurrent use.
type Scorer struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Scorer with the given tuning.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	return &Scorer{
		cfg:    cfg,
		logger: logger.With().Str("component", "scoring").Logger(),
	}, nil
}

// Config returns the scorer's tuning.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score computes the full breakdown for one candidate.
//
//nolint:gocritic // hugeParam: candidate passed by value for immutability
func (s *Scorer) Score(c candidate.Candidate, p Profile, sctx Context) Scored {
	distance := sctx.Origin.DistanceKm(c.Coordinates)

	b := Breakdown{
		Base:         s.baseScore(&c, &p),
		Location:     s.locationScore(&c, &p, &sctx, distance),
		TimeContext:  s.timeScore(&c, &p, &sctx),
		EventUrgency: s.eventUrgency(&c, &sctx),
		SourceBoosts: s.signalBoosts(&c, &p, &sctx),
	}
	b.Feedback, b.Collaborative = s.feedbackScores(c.ID, sctx.Feedback)
	b.RecencyPenalty = s.recencyPenalty(c.ID, sctx.HoursSinceShown)

	// Sponsored boost is proportional to everything earned so far, so it
	// is computed last.
	if c.Sponsored {
		b.SponsoredBoost = s.sponsoredBoost(b.Sum())
	}

	final := clamp(b.Sum(), 0, s.cfg.ScoreCeiling)

	return Scored{
		Candidate:  c,
		Breakdown:  b,
		FinalScore: final,
		Category:   c.PrimaryCategory(),
		DistanceKm: distance,
	}
}

// baseScore implements the interest-match tier plus rating and popularity
// bonuses, capped.
func (s *Scorer) baseScore(c *candidate.Candidate, p *Profile) float64 {
	cfg := s.cfg.Base
	score := s.interestTier(c, p)

	switch {
	case c.Rating >= 4.5:
		score += cfg.RatingExcellent
	case c.Rating >= 4.0:
		score += cfg.RatingGreat
	case c.Rating >= 3.5:
		score += cfg.RatingGood
	}

	switch {
	case c.RatingCount >= 500:
		score += cfg.PopularityHigh
	case c.RatingCount >= 100:
		score += cfg.PopularityMedium
	case c.RatingCount >= 20:
		score += cfg.PopularityLow
	}

	return clamp(score, 0, cfg.Cap)
}

// interestTier resolves the interest-match tier for a candidate.
// Disliked categories zero the tier outright.
func (s *Scorer) interestTier(c *candidate.Candidate, p *Profile) float64 {
	cfg := s.cfg.Base

	if matchesAny(c.Categories, p.DislikedCategories) {
		return 0
	}
	if matchesAny(c.Categories, p.FavoriteCategories) {
		return cfg.TopInterestPoints
	}

	for i, interest := range p.Interests {
		if matchesAny(c.Categories, []string{interest}) {
			if i < 3 {
				return cfg.TopInterestPoints
			}
			return cfg.OtherInterestPoints
		}
	}

	if p.DiscoveryMode {
		return cfg.DiscoveryFloor
	}
	return cfg.NoMatchFloor
}

// locationScore implements inverse-distance banding plus anchor and
// commitment proximity bonuses, capped.
func (s *Scorer) locationScore(c *candidate.Candidate, p *Profile, sctx *Context, distance float64) float64 {
	cfg := s.cfg.Location

	preferred := p.MaxDistanceKm
	if preferred <= 0 {
		preferred = cfg.WalkableKm
	}

	var score float64
	switch {
	case distance <= cfg.VeryCloseKm:
		score = cfg.VeryClosePoints
	case distance <= cfg.WalkableKm:
		score = cfg.WalkablePoints
	case distance <= preferred:
		score = cfg.InRadiusPoints
	default:
		// Linear penalty past the preferred radius, floored at zero.
		score = cfg.InRadiusPoints - cfg.BeyondRadiusPenaltyPerKm*(distance-preferred)
		if score < 0 {
			score = 0
		}
	}

	score += s.anchorBonus(c, sctx)
	score += s.commitmentBonus(c, sctx)

	return clamp(score, 0, cfg.Cap)
}

// anchorBonus awards a flat bonus if the candidate sits near home or work.
func (s *Scorer) anchorBonus(c *candidate.Candidate, sctx *Context) float64 {
	cfg := s.cfg.Location
	for _, anchor := range []*candidate.Coordinates{sctx.Home, sctx.Work} {
		if anchor == nil {
			continue
		}
		if anchor.DistanceKm(c.Coordinates) <= cfg.AnchorProximityKm {
			return cfg.AnchorPoints
		}
	}
	return 0
}

// commitmentBonus awards candidates near an upcoming commitment, decaying
// linearly the further out the commitment is.
func (s *Scorer) commitmentBonus(c *candidate.Candidate, sctx *Context) float64 {
	cfg := s.cfg.Location

	best := 0.0
	for _, commitment := range sctx.Commitments {
		hoursUntil := commitment.At.Sub(sctx.Now).Hours()
		if hoursUntil < 0 || hoursUntil > cfg.CommitmentHorizonHours {
			continue
		}
		if commitment.Where.DistanceKm(c.Coordinates) > cfg.CommitmentProximityKm {
			continue
		}
		bonus := cfg.CommitmentMaxPoints * (1 - hoursUntil/cfg.CommitmentHorizonHours)
		if bonus > best {
			best = bonus
		}
	}
	return best
}

// timeScore awards preferred-window and category/daypart affinity bonuses.
func (s *Scorer) timeScore(c *candidate.Candidate, p *Profile, sctx *Context) float64 {
	cfg := s.cfg.TimeContext
	hour := sctx.Now.Hour()

	var score float64
	for _, w := range p.PreferredTimeWindows {
		if w.Contains(hour) {
			score += cfg.PreferredWindowPoints
			break
		}
	}

	switch daypartAffinity(c.Categories, hour) {
	case affinityStrong:
		score += cfg.AffinityStrongPoints
	case affinityWeak:
		score += cfg.AffinityWeakPoints
	}

	return clamp(score, 0, cfg.Cap)
}

type affinity int

const (
	affinityNone affinity = iota
	affinityWeak
	affinityStrong
)

// daypartAffinity maps category/time-of-day pairings to affinity tiers.
func daypartAffinity(categories []string, hour int) affinity {
	morning := hour >= 6 && hour < 11
	midday := hour >= 11 && hour < 15
	evening := hour >= 17 && hour < 24

	result := affinityNone
	for _, raw := range categories {
		cat := strings.ToLower(raw)
		switch {
		case morning && (cat == "coffee" || cat == "bakery" || cat == "breakfast"):
			return affinityStrong
		case morning && cat == "brunch":
			result = affinityWeak
		case midday && (cat == "restaurant" || cat == "food"):
			return affinityStrong
		case midday && cat == "cafe":
			result = affinityWeak
		case evening && (cat == "bar" || cat == "live_music" || cat == "nightlife"):
			return affinityStrong
		case evening && (cat == "restaurant" || cat == "theater"):
			result = affinityWeak
		}
	}
	return result
}

// eventUrgency awards a monotonically decreasing bonus as the event start
// recedes, and a large penalty for started or passed events.
func (s *Scorer) eventUrgency(c *candidate.Candidate, sctx *Context) float64 {
	if c.Event == nil {
		return 0
	}
	cfg := s.cfg.EventUrgency

	hoursUntil := c.Event.Start.Sub(sctx.Now).Hours()
	switch {
	case hoursUntil < 0:
		return cfg.PastEventPenalty
	case hoursUntil <= 24:
		return cfg.Within24hPoints
	case hoursUntil <= 72:
		return cfg.Within72hPoints
	case hoursUntil <= 168:
		return cfg.Within168hPoints
	default:
		return cfg.BeyondPoints
	}
}

// signalBoosts itemizes the optional personal-signal boosts. Absent data
// contributes nothing.
func (s *Scorer) signalBoosts(c *candidate.Candidate, p *Profile, sctx *Context) map[string]float64 {
	cfg := s.cfg.Signals
	boosts := make(map[string]float64)

	if sig, ok := sctx.Signals[c.ID]; ok {
		if sig.Visited {
			boosts["visited"] = cfg.VisitedPoints
		}
		if sig.ExternalLike {
			boosts["external_like"] = cfg.ExternalLikePoints
		}
		if sig.RoutineMatch {
			boosts["routine_match"] = cfg.RoutineMatchPoints
		}
	}

	// Price preference only contributes when both sides carry data.
	if p.BudgetLevel > 0 && c.Price.Known() {
		if int(c.Price) <= p.BudgetLevel {
			boosts["price_match"] = cfg.PriceMatchPoints
		} else {
			boosts["price_mismatch"] = cfg.PriceMismatchPoints
		}
	}

	if len(boosts) == 0 {
		return nil
	}
	return boosts
}

// feedbackScores derives the own-rating and community components from
// aggregated feedback counts.
func (s *Scorer) feedbackScores(id string, feedback map[string]FeedbackCounts) (own, collaborative float64) {
	counts, ok := feedback[id]
	if !ok {
		return 0, 0
	}
	cfg := s.cfg.Feedback

	own = float64(counts.OwnUp)*cfg.ThumbsUpPoints + float64(counts.OwnDown)*cfg.ThumbsDownPoints

	total := counts.CommunityUp + counts.CommunityDown
	if total >= cfg.CollaborativeMinRatings {
		// Signed approval ratio scaled into [-max, +max].
		ratio := float64(counts.CommunityUp-counts.CommunityDown) / float64(total)
		collaborative = ratio * cfg.CollaborativeMax
	}

	return own, collaborative
}

// recencyPenalty applies the step-down penalty for recently shown
// candidates. The penalty is soft: it lowers rank without excluding.
func (s *Scorer) recencyPenalty(id string, shown map[string]float64) float64 {
	hours, ok := shown[id]
	if !ok {
		return 0
	}
	return RecencyPenalty(s.cfg.Recency, hours)
}

// RecencyPenalty evaluates the band table for an elapsed duration. Exposed
// for reuse in tests and diagnostics; a non-increasing step function of
// elapsed hours.
func RecencyPenalty(cfg RecencyConfig, hoursSinceShown float64) float64 {
	if hoursSinceShown < 0 {
		hoursSinceShown = 0
	}
	for _, band := range cfg.Bands {
		if hoursSinceShown < band.MaxHours {
			return band.Penalty
		}
	}
	return 0
}

// sponsoredBoost computes the capped paid-placement boost from the
// pre-boost component sum.
func (s *Scorer) sponsoredBoost(preBoostSum float64) float64 {
	cfg := s.cfg.Sponsored
	if preBoostSum <= 0 {
		return 0
	}

	boost := preBoostSum * cfg.BoostFraction
	if preBoostSum < cfg.LowScoreThreshold && boost > cfg.LowScoreCap {
		boost = cfg.LowScoreCap
	}
	if boost > cfg.MaxBoost {
		boost = cfg.MaxBoost
	}
	return boost
}

// matchesAny reports whether any candidate category matches any of the
// given tags, case-insensitively.
func matchesAny(categories, tags []string) bool {
	for _, cat := range categories {
		for _, tag := range tags {
			if strings.EqualFold(cat, tag) {
				return true
			}
		}
	}
	return false
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
