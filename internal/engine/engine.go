// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package engine orchestrates the recommendation pipeline: aggregate
// candidates, enrich coordinates, score, rank, persist, respond. Every
// stage degrades to an empty list rather than an error; the only hard
// failures are malformed requests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/aggregate"
	"github.com/perch-labs/perch/internal/cache"
	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/geocode"
	"github.com/perch-labs/perch/internal/metrics"
	"github.com/perch-labs/perch/internal/ranking"
	"github.com/perch-labs/perch/internal/scoring"
	"github.com/perch-labs/perch/internal/store"
)

// ErrInvalidRequest indicates a malformed recommendation request.
var ErrInvalidRequest = errors.New("invalid recommendation request")

// UserData is what the profile collaborator knows about a user: the
// scoring profile plus optional anchor coordinates.
type UserData struct {
	Profile scoring.Profile
	Home    *candidate.Coordinates
	Work    *candidate.Coordinates
}

// ProfileProvider supplies user profiles. External collaborator.
type ProfileProvider interface {
	UserData(ctx context.Context, userID string) (UserData, error)
}

// FeedbackProvider supplies aggregated feedback counts per candidate.
// External collaborator; the engine never writes feedback.
type FeedbackProvider interface {
	Feedback(ctx context.Context, userID string, candidateIDs []string) (map[string]scoring.FeedbackCounts, error)
}

// CommitmentProvider supplies the user's upcoming time/location
// commitments. External collaborator.
type CommitmentProvider interface {
	Commitments(ctx context.Context, userID string) ([]scoring.Commitment, error)
}

// SignalProvider supplies per-candidate behavioral signals (visited
// before, external likes, routine match). External collaborator.
type SignalProvider interface {
	Signals(ctx context.Context, userID string, candidateIDs []string) (map[string]scoring.Signals, error)
}

// Config tunes the engine.
type Config struct {
	// ResponseTTL is how long assembled responses stay cached.
	// PremiumResponseTTL applies to premium-tier users, who get fresher
	// results.
	ResponseTTL        time.Duration `json:"response_ttl" koanf:"response_ttl"`
	PremiumResponseTTL time.Duration `json:"premium_response_ttl" koanf:"premium_response_ttl"`

	// DefaultRadiusMeters and DefaultCount fill in omitted request fields.
	DefaultRadiusMeters int `json:"default_radius_meters" koanf:"default_radius_meters"`
	DefaultCount        int `json:"default_count" koanf:"default_count"`
}

// DefaultConfig returns the shipped engine tuning.
func DefaultConfig() Config {
	return Config{
		ResponseTTL:         5 * time.Minute,
		PremiumResponseTTL:  time.Minute,
		DefaultRadiusMeters: 5000,
		DefaultCount:        10,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ResponseTTL <= 0 || c.PremiumResponseTTL <= 0 {
		return fmt.Errorf("response TTLs must be positive, got %s and %s", c.ResponseTTL, c.PremiumResponseTTL)
	}
	if c.DefaultRadiusMeters < 1 || c.DefaultCount < 1 {
		return fmt.Errorf("defaults must be positive, got radius %d count %d", c.DefaultRadiusMeters, c.DefaultCount)
	}
	return nil
}

// Request asks for recommendations near a point for one user.
type Request struct {
	UserID       string
	Center       candidate.Coordinates
	RadiusMeters int
	Count        int

	// SkipCache forces regeneration, used by the refresh operation.
	SkipCache bool
}

// Item is one recommended candidate with its scoring outcome.
type Item struct {
	RecordID   string              `json:"record_id,omitempty"`
	Candidate  candidate.Candidate `json:"candidate"`
	Score      float64             `json:"score"`
	Category   string              `json:"category"`
	DistanceKm float64             `json:"distance_km"`
}

// Response is the assembled recommendation list with pipeline metadata.
type Response struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	Items       []Item    `json:"items"`
	GeneratedAt time.Time `json:"generated_at"`
	Cached      bool      `json:"cached"`

	// Pipeline metadata.
	SourcesUsed       []string `json:"sources_used"`
	CandidateCount    int      `json:"candidate_count"`
	Rounds            int      `json:"rounds"`
	FinalRadiusMeters int      `json:"final_radius_meters"`
	LatencyMs         int64    `json:"latency_ms"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	cfg        Config
	aggregator *aggregate.Aggregator
	resolver   *geocode.Resolver
	scorer     *scoring.Scorer
	pipeline   *ranking.Pipeline
	store      *store.Store
	cache      *cache.Cache

	profiles    ProfileProvider
	feedback    FeedbackProvider
	commitments CommitmentProvider
	signals     SignalProvider

	logger zerolog.Logger
}

// Options carries the optional collaborators. Nil providers degrade to
// empty data, never errors.
type Options struct {
	Profiles    ProfileProvider
	Feedback    FeedbackProvider
	Commitments CommitmentProvider
	Signals     SignalProvider
}

// New creates the engine.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(
	cfg Config,
	aggregator *aggregate.Aggregator,
	resolver *geocode.Resolver,
	scorer *scoring.Scorer,
	pipeline *ranking.Pipeline,
	st *store.Store,
	responseCache *cache.Cache,
	opts Options,
	logger zerolog.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if aggregator == nil || scorer == nil || pipeline == nil || st == nil || responseCache == nil {
		return nil, errors.New("engine: missing required dependency")
	}

	return &Engine{
		cfg:         cfg,
		aggregator:  aggregator,
		resolver:    resolver,
		scorer:      scorer,
		pipeline:    pipeline,
		store:       st,
		cache:       responseCache,
		profiles:    opts.Profiles,
		feedback:    opts.Feedback,
		commitments: opts.Commitments,
		signals:     opts.Signals,
		logger:      logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Recommend runs the full pipeline for one request. An empty result at
// any stage produces an empty response, never an error; persistence
// failures are logged and the in-memory list is returned regardless.
func (e *Engine) Recommend(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if req.UserID == "" {
		return Response{}, fmt.Errorf("%w: user id required", ErrInvalidRequest)
	}
	if !req.Center.Valid() {
		return Response{}, fmt.Errorf("%w: center coordinates out of range", ErrInvalidRequest)
	}
	if req.RadiusMeters < 1 {
		req.RadiusMeters = e.cfg.DefaultRadiusMeters
	}
	if req.Count < 1 {
		req.Count = e.cfg.DefaultCount
	}

	cacheKey := e.cacheKey(req)
	if !req.SkipCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			if resp, ok := cached.(Response); ok {
				metrics.CacheHits.WithLabelValues("response").Inc()
				metrics.RecordRecommendation(true, time.Since(start), len(resp.Items))
				resp.Cached = true
				return resp, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	user := e.userData(ctx, req.UserID)

	result := e.aggregator.Gather(ctx, candidate.Query{
		Center:        req.Center,
		RadiusMeters:  req.RadiusMeters,
		InterestHints: user.Profile.Interests,
		Limit:         req.Count,
	})
	metrics.RecordAggregation(result.Rounds, len(result.Candidates))

	cands := e.filterSuppressed(ctx, req.UserID, result.Candidates)
	if e.resolver != nil {
		cands = e.resolver.Enrich(ctx, cands)
	}

	resp := Response{
		RequestID:         uuid.NewString(),
		UserID:            req.UserID,
		Items:             []Item{},
		GeneratedAt:       time.Now().UTC(),
		SourcesUsed:       result.SourcesUsed,
		CandidateCount:    len(cands),
		Rounds:            result.Rounds,
		FinalRadiusMeters: result.FinalRadiusMeters,
	}

	if len(cands) > 0 {
		sctx := e.scoringContext(ctx, req, user, cands)
		scored := make([]scoring.Scored, 0, len(cands))
		for _, c := range cands {
			scored = append(scored, e.scorer.Score(c, user.Profile, sctx))
		}

		ranked := e.pipeline.Rank(ctx, scored, req.Count)
		resp.Items = e.persist(ctx, req.UserID, ranked)
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	e.cache.SetWithTTL(cacheKey, resp, e.responseTTL(user.Profile))
	metrics.RecordRecommendation(false, time.Since(start), len(resp.Items))

	e.logger.Info().
		Str("user_id", req.UserID).
		Int("items", len(resp.Items)).
		Int("candidates", resp.CandidateCount).
		Int("rounds", resp.Rounds).
		Int64("latency_ms", resp.LatencyMs).
		Msg("recommendations generated")
	return resp, nil
}

// Refresh clears the user's pending batch and regenerates, bypassing the
// response cache.
func (e *Engine) Refresh(ctx context.Context, req Request) (Response, error) {
	if _, err := e.store.ClearPending(ctx, req.UserID); err != nil {
		e.logger.Error().Err(err).Str("user_id", req.UserID).Msg("clear pending failed, regenerating anyway")
	}
	e.invalidateUser(req.UserID)
	req.SkipCache = true
	return e.Recommend(ctx, req)
}

// Viewed marks a recommendation viewed.
func (e *Engine) Viewed(ctx context.Context, recordID string) error {
	return e.respond(ctx, recordID, func() error {
		return e.store.MarkViewed(ctx, recordID)
	})
}

// Accepted marks a recommendation accepted and links the downstream
// schedule entity.
func (e *Engine) Accepted(ctx context.Context, recordID, scheduleRef string) error {
	return e.respond(ctx, recordID, func() error {
		return e.store.MarkAccepted(ctx, recordID, scheduleRef)
	})
}

// Declined marks a recommendation declined.
func (e *Engine) Declined(ctx context.Context, recordID, reason string) error {
	return e.respond(ctx, recordID, func() error {
		return e.store.MarkDeclined(ctx, recordID, reason)
	})
}

// NotInterested marks a recommendation not_interested and blocks the
// candidate.
func (e *Engine) NotInterested(ctx context.Context, recordID string) error {
	return e.respond(ctx, recordID, func() error {
		return e.store.MarkNotInterested(ctx, recordID)
	})
}

// Block adds a candidate to the user's opt-out list.
func (e *Engine) Block(ctx context.Context, userID, candidateID string) error {
	if err := e.store.Block(ctx, userID, candidateID); err != nil {
		return err
	}
	e.invalidateUser(userID)
	return nil
}

// Unblock removes a candidate from the user's opt-out list.
func (e *Engine) Unblock(ctx context.Context, userID, candidateID string) error {
	if err := e.store.Unblock(ctx, userID, candidateID); err != nil {
		return err
	}
	e.invalidateUser(userID)
	return nil
}

// respond runs a status transition and invalidates the user's cached
// responses so feedback takes effect immediately.
func (e *Engine) respond(ctx context.Context, recordID string, op func() error) error {
	rec, err := e.store.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if err := op(); err != nil {
		return err
	}
	e.invalidateUser(rec.UserID)
	return nil
}

func (e *Engine) invalidateUser(userID string) {
	e.cache.Invalidate("recs:" + userID + ":")
}

func (e *Engine) cacheKey(req Request) string {
	return cache.GenerateKey("recs:"+req.UserID, struct {
		Lat    float64
		Lng    float64
		Radius int
		Count  int
	}{req.Center.Lat, req.Center.Lng, req.RadiusMeters, req.Count})
}

func (e *Engine) responseTTL(p scoring.Profile) time.Duration {
	if p.SubscriptionTier == "premium" {
		return e.cfg.PremiumResponseTTL
	}
	return e.cfg.ResponseTTL
}

// userData fetches the profile, degrading to an interest-less default
// when the collaborator is absent or failing.
func (e *Engine) userData(ctx context.Context, userID string) UserData {
	if e.profiles == nil {
		return UserData{Profile: scoring.Profile{ID: userID}}
	}

	user, err := e.profiles.UserData(ctx, userID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed, using defaults")
		return UserData{Profile: scoring.Profile{ID: userID}}
	}
	user.Profile.ID = userID
	return user
}

// filterSuppressed drops blocked candidates and ones whose persisted
// record is cooling down or terminal.
func (e *Engine) filterSuppressed(ctx context.Context, userID string, cands []candidate.Candidate) []candidate.Candidate {
	blocked, err := e.store.Blocked(ctx, userID)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("blocklist lookup failed, proceeding unfiltered")
		blocked = map[string]struct{}{}
	}
	suppressed, err := e.store.Suppressed(ctx, userID)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("suppression lookup failed, proceeding unfiltered")
		suppressed = map[string]struct{}{}
	}
	if len(blocked) == 0 && len(suppressed) == 0 {
		return cands
	}

	out := cands[:0:0]
	for _, c := range cands {
		if _, ok := blocked[c.ID]; ok {
			continue
		}
		if _, ok := suppressed[c.ID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// scoringContext assembles per-request scorer inputs from the store and
// the optional collaborators.
func (e *Engine) scoringContext(ctx context.Context, req Request, user UserData, cands []candidate.Candidate) scoring.Context {
	sctx := scoring.Context{
		Now:    time.Now(),
		Origin: req.Center,
		Home:   user.Home,
		Work:   user.Work,
	}

	shown, err := e.store.LastShown(ctx, req.UserID)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("recency lookup failed, skipping recency penalty")
	} else {
		sctx.HoursSinceShown = shown
	}

	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ID)
	}

	if e.feedback != nil {
		if fb, err := e.feedback.Feedback(ctx, req.UserID, ids); err != nil {
			e.logger.Warn().Err(err).Msg("feedback lookup failed, skipping feedback scores")
		} else {
			sctx.Feedback = fb
		}
	}
	if e.signals != nil {
		if sig, err := e.signals.Signals(ctx, req.UserID, ids); err != nil {
			e.logger.Warn().Err(err).Msg("signal lookup failed, skipping signal boosts")
		} else {
			sctx.Signals = sig
		}
	}
	if e.commitments != nil {
		if cms, err := e.commitments.Commitments(ctx, req.UserID); err != nil {
			e.logger.Warn().Err(err).Msg("commitment lookup failed, skipping commitment bonus")
		} else {
			sctx.Commitments = cms
		}
	}
	return sctx
}

// persist saves the ranked list and maps store record IDs back onto the
// response items. Persistence failure degrades: the list is still served,
// just without record IDs.
func (e *Engine) persist(ctx context.Context, userID string, ranked []scoring.Scored) []Item {
	items := make([]Item, 0, len(ranked))
	for _, s := range ranked {
		items = append(items, Item{
			Candidate:  s.Candidate,
			Score:      s.FinalScore,
			Category:   s.Category,
			DistanceKm: s.DistanceKm,
		})
	}

	// Stored confidence is unit range; final scores are clamped to the
	// scorer's ceiling, so dividing by it lands in [0, 1].
	ceiling := e.scorer.Config().ScoreCeiling
	records := make([]store.Record, 0, len(ranked))
	for _, s := range ranked {
		records = append(records, store.Record{
			CandidateID:     s.Candidate.ID,
			SourceID:        s.Candidate.Source,
			Category:        s.Category,
			ConfidenceScore: s.FinalScore / ceiling,
		})
	}
	if err := e.store.Save(ctx, userID, records); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("persist failed, serving unpersisted list")
		return items
	}

	saved, err := e.store.Load(ctx, userID)
	if err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("record id lookup failed")
		return items
	}
	byCandidate := make(map[string]string, len(saved))
	for _, r := range saved {
		byCandidate[r.CandidateID] = r.ID
	}
	for i := range items {
		items[i].RecordID = byCandidate[items[i].Candidate.ID]
	}
	return items
}
