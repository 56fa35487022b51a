// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/candidate"
)

var testOrigin = candidate.Coordinates{Lat: 40.7128, Lng: -74.0060}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func baseContext(now time.Time) Context {
	return Context{Now: now, Origin: testOrigin}
}

// nearOrigin returns coordinates approximately km kilometers east of the
// test origin.
func nearOrigin(km float64) candidate.Coordinates {
	// 1 degree longitude at lat 40.7 is about 84.4 km.
	return candidate.Coordinates{Lat: testOrigin.Lat, Lng: testOrigin.Lng + km/84.4}
}

func TestScoreAlwaysInRange(t *testing.T) {
	s := newTestScorer(t)
	now := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

	profile := Profile{
		ID:                 "u1",
		Interests:          []string{"coffee", "art", "hiking", "books"},
		FavoriteCategories: []string{"coffee"},
		BudgetLevel:        2,
		MaxDistanceKm:      5,
		PreferredTimeWindows: []TimeWindow{
			{StartHour: 8, EndHour: 12},
		},
	}

	candidates := []candidate.Candidate{
		{ID: "c1", Name: "Ideal Cafe", Categories: []string{"coffee"}, Rating: 4.9,
			RatingCount: 2000, Price: 1, Coordinates: nearOrigin(0.2), Sponsored: true},
		{ID: "c2", Name: "Past Event", Categories: []string{"live_music"},
			Coordinates: nearOrigin(1),
			Event:       &candidate.EventWindow{Start: now.Add(-2 * time.Hour)}},
		{ID: "c3", Name: "Far and Disliked", Categories: []string{"casino"},
			Coordinates: nearOrigin(45), Price: 4},
		{ID: "c4", Name: "No Data", Price: candidate.PriceUnknown, Coordinates: nearOrigin(3)},
	}

	sctx := baseContext(now)
	sctx.HoursSinceShown = map[string]float64{"c4": 1}

	for _, c := range candidates {
		scored := s.Score(c, profile, sctx)
		if scored.FinalScore < 0 || scored.FinalScore > s.Config().ScoreCeiling {
			t.Errorf("candidate %s: FinalScore %f escaped [0, %f]",
				c.ID, scored.FinalScore, s.Config().ScoreCeiling)
		}
	}
}

func TestFavoriteCoffeeScenario(t *testing.T) {
	// Favorites ["coffee"], rating 4.6, 600 reviews, ~0.5 km away: base at
	// its cap, location at the top band.
	s := newTestScorer(t)
	now := time.Date(2026, 8, 27, 9, 30, 0, 0, time.UTC)

	profile := Profile{
		ID:                 "u1",
		FavoriteCategories: []string{"coffee"},
		MaxDistanceKm:      5,
	}
	c := candidate.Candidate{
		ID:          "c1",
		Name:        "Corner Roasters",
		Categories:  []string{"coffee"},
		Rating:      4.6,
		RatingCount: 600,
		Price:       candidate.PriceUnknown,
		Coordinates: nearOrigin(0.45),
	}

	scored := s.Score(c, profile, baseContext(now))

	cfg := s.Config()
	if scored.Breakdown.Base != cfg.Base.Cap {
		t.Errorf("Base = %f, want cap %f", scored.Breakdown.Base, cfg.Base.Cap)
	}
	if scored.Breakdown.Location != cfg.Location.VeryClosePoints {
		t.Errorf("Location = %f, want top band %f",
			scored.Breakdown.Location, cfg.Location.VeryClosePoints)
	}
	// Morning coffee affinity should also fire.
	if scored.Breakdown.TimeContext < cfg.TimeContext.AffinityStrongPoints {
		t.Errorf("TimeContext = %f, want at least %f",
			scored.Breakdown.TimeContext, cfg.TimeContext.AffinityStrongPoints)
	}
}

func TestRecencyPenaltyNonIncreasing(t *testing.T) {
	cfg := DefaultConfig().Recency

	prev := RecencyPenalty(cfg, 0)
	for hours := 0.5; hours <= 100; hours += 0.5 {
		p := RecencyPenalty(cfg, hours)
		if p < prev {
			t.Fatalf("penalty steepened at %f hours: %f -> %f", hours, prev, p)
		}
		prev = p
	}

	// Explicit spot checks from the band table.
	if p := RecencyPenalty(cfg, 5); p != -35 {
		t.Errorf("penalty at 5h = %f, want -35", p)
	}
	if p := RecencyPenalty(cfg, 50); p != -3 {
		t.Errorf("penalty at 50h = %f, want -3", p)
	}
	if p := RecencyPenalty(cfg, 100); p != 0 {
		t.Errorf("penalty at 100h = %f, want 0", p)
	}
}

func TestEventUrgencyMonotone(t *testing.T) {
	s := newTestScorer(t)
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	sctx := baseContext(now)

	urgencyAt := func(hoursUntil float64) float64 {
		c := candidate.Candidate{
			ID:    "e1",
			Event: &candidate.EventWindow{Start: now.Add(time.Duration(hoursUntil * float64(time.Hour)))},
		}
		return s.eventUrgency(&c, &sctx)
	}

	hours := []float64{1, 20, 48, 100, 300}
	prev := urgencyAt(hours[0])
	for _, h := range hours[1:] {
		cur := urgencyAt(h)
		if cur > prev {
			t.Errorf("urgency increased from %f to %f at %f hours out", prev, cur, h)
		}
		prev = cur
	}

	if got := urgencyAt(-1); got != s.Config().EventUrgency.PastEventPenalty {
		t.Errorf("past event urgency = %f, want %f", got, s.Config().EventUrgency.PastEventPenalty)
	}
}

func TestSignalBoostsAbsentDataContributesZero(t *testing.T) {
	s := newTestScorer(t)
	now := time.Now()

	profile := Profile{ID: "u1"}
	c := candidate.Candidate{ID: "c1", Name: "Plain", Price: candidate.PriceUnknown,
		Coordinates: nearOrigin(1)}

	scored := s.Score(c, profile, baseContext(now))
	if len(scored.Breakdown.SourceBoosts) != 0 {
		t.Errorf("expected no source boosts, got %v", scored.Breakdown.SourceBoosts)
	}
}

func TestPriceMatchAndMismatch(t *testing.T) {
	s := newTestScorer(t)
	now := time.Now()
	profile := Profile{ID: "u1", BudgetLevel: 2}

	cheap := candidate.Candidate{ID: "c1", Price: 1, Coordinates: nearOrigin(1)}
	pricey := candidate.Candidate{ID: "c2", Price: 4, Coordinates: nearOrigin(1)}

	got := s.Score(cheap, profile, baseContext(now))
	if got.Breakdown.SourceBoosts["price_match"] != s.Config().Signals.PriceMatchPoints {
		t.Errorf("expected price match boost, got %v", got.Breakdown.SourceBoosts)
	}

	got = s.Score(pricey, profile, baseContext(now))
	if got.Breakdown.SourceBoosts["price_mismatch"] != s.Config().Signals.PriceMismatchPoints {
		t.Errorf("expected price mismatch penalty, got %v", got.Breakdown.SourceBoosts)
	}
}

func TestSponsoredBoostCappedWhenIrrelevant(t *testing.T) {
	s := newTestScorer(t)
	now := time.Date(2026, 8, 27, 3, 0, 0, 0, time.UTC)

	profile := Profile{ID: "u1", Interests: []string{"hiking"}, MaxDistanceKm: 5}

	// Irrelevant, distant, unrated sponsored candidate: pre-boost sum is
	// low, so the boost must hit the low-score cap.
	weak := candidate.Candidate{ID: "s1", Categories: []string{"insurance"},
		Sponsored: true, Price: candidate.PriceUnknown, Coordinates: nearOrigin(20)}
	scored := s.Score(weak, profile, baseContext(now))
	if scored.Breakdown.SponsoredBoost > s.Config().Sponsored.LowScoreCap {
		t.Errorf("weak sponsored boost = %f, want <= %f",
			scored.Breakdown.SponsoredBoost, s.Config().Sponsored.LowScoreCap)
	}

	// A strong sponsored candidate earns the proportional boost, bounded
	// by the absolute ceiling.
	strong := candidate.Candidate{ID: "s2", Categories: []string{"hiking"},
		Rating: 4.8, RatingCount: 900, Sponsored: true,
		Price: candidate.PriceUnknown, Coordinates: nearOrigin(0.3)}
	scored = s.Score(strong, profile, baseContext(now))
	if scored.Breakdown.SponsoredBoost <= s.Config().Sponsored.LowScoreCap {
		t.Errorf("strong sponsored boost = %f, want above low-score cap",
			scored.Breakdown.SponsoredBoost)
	}
	if scored.Breakdown.SponsoredBoost > s.Config().Sponsored.MaxBoost {
		t.Errorf("sponsored boost = %f exceeds ceiling %f",
			scored.Breakdown.SponsoredBoost, s.Config().Sponsored.MaxBoost)
	}
}

func TestDislikedCategoryZeroesInterestTier(t *testing.T) {
	s := newTestScorer(t)
	profile := Profile{
		ID:                 "u1",
		Interests:          []string{"bar"},
		DislikedCategories: []string{"bar"},
	}
	c := candidate.Candidate{ID: "c1", Categories: []string{"bar"},
		Price: candidate.PriceUnknown, Coordinates: nearOrigin(1)}

	if tier := s.interestTier(&c, &profile); tier != 0 {
		t.Errorf("interestTier = %f for disliked category, want 0", tier)
	}
}

func TestDiscoveryModeRaisesFloor(t *testing.T) {
	s := newTestScorer(t)
	c := candidate.Candidate{ID: "c1", Categories: []string{"pottery"},
		Price: candidate.PriceUnknown}

	normal := Profile{ID: "u1", Interests: []string{"coffee"}}
	discovery := Profile{ID: "u1", Interests: []string{"coffee"}, DiscoveryMode: true}

	if s.interestTier(&c, &discovery) <= s.interestTier(&c, &normal) {
		t.Error("discovery mode should raise the no-match floor")
	}
}

func TestCommitmentBonusDecays(t *testing.T) {
	s := newTestScorer(t)
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	spot := nearOrigin(0.2)

	bonusFor := func(hoursUntil float64) float64 {
		sctx := baseContext(now)
		sctx.Commitments = []Commitment{
			{At: now.Add(time.Duration(hoursUntil * float64(time.Hour))), Where: spot},
		}
		c := candidate.Candidate{ID: "c1", Coordinates: spot}
		return s.commitmentBonus(&c, &sctx)
	}

	soon := bonusFor(1)
	later := bonusFor(10)
	if soon <= later {
		t.Errorf("commitment bonus should decay: soon=%f later=%f", soon, later)
	}
	if beyond := bonusFor(48); beyond != 0 {
		t.Errorf("commitment beyond horizon contributed %f, want 0", beyond)
	}
}

func TestTimeWindowContains(t *testing.T) {
	tests := []struct {
		name   string
		window TimeWindow
		hour   int
		want   bool
	}{
		{"inside", TimeWindow{StartHour: 8, EndHour: 12}, 9, true},
		{"start inclusive", TimeWindow{StartHour: 8, EndHour: 12}, 8, true},
		{"end exclusive", TimeWindow{StartHour: 8, EndHour: 12}, 12, false},
		{"wraps midnight inside", TimeWindow{StartHour: 22, EndHour: 2}, 23, true},
		{"wraps midnight after", TimeWindow{StartHour: 22, EndHour: 2}, 1, true},
		{"wraps midnight outside", TimeWindow{StartHour: 22, EndHour: 2}, 12, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(tt.hour); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Recency.Bands = []RecencyBand{
		{MaxHours: 6, Penalty: -10},
		{MaxHours: 12, Penalty: -20}, // steepens over time
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for steepening recency bands")
	}

	bad = DefaultConfig()
	bad.ScoreCeiling = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero score ceiling")
	}
}
