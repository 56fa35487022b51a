// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-labs/perch/internal/aggregate"
	"github.com/perch-labs/perch/internal/cache"
	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/ranking"
	"github.com/perch-labs/perch/internal/scoring"
	"github.com/perch-labs/perch/internal/store"
)

type fakeSource struct {
	name  string
	calls atomic.Int32
	fn    func(q candidate.Query) ([]candidate.Candidate, error)
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Available() bool { return true }

func (f *fakeSource) Search(_ context.Context, q candidate.Query) ([]candidate.Candidate, error) {
	f.calls.Add(1)
	return f.fn(q)
}

// venuesNear fabricates n venues spread around the query center, each with
// its own category so ranking keeps them all.
func venuesNear(n int) func(q candidate.Query) ([]candidate.Candidate, error) {
	return func(q candidate.Query) ([]candidate.Candidate, error) {
		out := make([]candidate.Candidate, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, candidate.Candidate{
				ID:     fmt.Sprintf("places:venue-%d", i),
				Source: "places",
				Name:   fmt.Sprintf("Venue %d", i),
				Coordinates: candidate.Coordinates{
					Lat: q.Center.Lat + float64(i)*0.001,
					Lng: q.Center.Lng,
				},
				Categories: []string{fmt.Sprintf("category-%d", i)},
				Rating:     4.0,
				Price:      candidate.PriceUnknown,
			})
		}
		return out, nil
	}
}

type fakeProfiles struct {
	user UserData
	err  error
}

func (f *fakeProfiles) UserData(context.Context, string) (UserData, error) {
	return f.user, f.err
}

func newTestEngine(t *testing.T, cfg Config, opts Options, srcs ...candidate.Source) (*Engine, *store.Store) {
	t.Helper()

	agg, err := aggregate.New(aggregate.DefaultConfig(), srcs, zerolog.Nop())
	require.NoError(t, err)

	scorer, err := scoring.New(scoring.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	pipeline, err := ranking.NewPipeline(ranking.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	st, err := store.New(store.Config{
		Path:      "",
		RecordTTL: 24 * time.Hour,
		Cooldowns: store.DefaultCooldownConfig(),
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c := cache.New(5 * time.Minute)
	t.Cleanup(c.Stop)

	e, err := New(cfg, agg, nil, scorer, pipeline, st, c, opts, zerolog.Nop())
	require.NoError(t, err)
	return e, st
}

func baseRequest() Request {
	return Request{
		UserID:       "user-1",
		Center:       candidate.Coordinates{Lat: 40.7128, Lng: -74.0060},
		RadiusMeters: 5000,
		Count:        10,
	}
}

func TestRecommendHappyPath(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)

	resp, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "user-1", resp.UserID)
	assert.False(t, resp.Cached)
	assert.Len(t, resp.Items, 10)
	assert.Equal(t, []string{"places"}, resp.SourcesUsed)
	assert.Equal(t, 1, resp.Rounds)
	assert.Equal(t, 35, resp.CandidateCount)

	for _, item := range resp.Items {
		assert.NotEmpty(t, item.RecordID, "each served item gets a persisted record id")
		assert.Greater(t, item.Score, 0.0)
	}
}

func TestPersistedConfidenceScoresAreUnitRange(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, st := newTestEngine(t, DefaultConfig(), Options{}, src)

	resp, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)

	records, err := st.Load(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Greater(t, r.ConfidenceScore, 0.0, "candidate %s", r.CandidateID)
		assert.LessOrEqual(t, r.ConfidenceScore, 1.0, "candidate %s", r.CandidateID)
	}
}

func TestRecommendCachesResponses(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)

	first, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)
	callsAfterFirst := src.calls.Load()

	second, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, callsAfterFirst, src.calls.Load(), "cached response must not hit sources")
}

func TestRecommendDistinctParametersMissCache(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)

	_, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)
	callsAfterFirst := src.calls.Load()

	other := baseRequest()
	other.Count = 5
	resp, err := e.Recommend(context.Background(), other)
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Greater(t, src.calls.Load(), callsAfterFirst)
}

func TestRecommendAllSourcesFailing(t *testing.T) {
	src := &fakeSource{name: "places", fn: func(candidate.Query) ([]candidate.Candidate, error) {
		return nil, errors.New("upstream down")
	}}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)

	resp, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err, "source failure must degrade, not error")
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
	assert.Empty(t, resp.SourcesUsed)
}

func TestRecommendValidation(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), Options{},
		&fakeSource{name: "places", fn: venuesNear(5)})

	req := baseRequest()
	req.UserID = ""
	_, err := e.Recommend(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = baseRequest()
	req.Center = candidate.Coordinates{Lat: 95, Lng: 10}
	_, err = e.Recommend(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = baseRequest()
	req.Center = candidate.Coordinates{}
	_, err = e.Recommend(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecommendDefaultsRadiusAndCount(t *testing.T) {
	var gotRadius atomic.Int32
	src := &fakeSource{name: "places", fn: func(q candidate.Query) ([]candidate.Candidate, error) {
		gotRadius.Store(int32(q.RadiusMeters))
		return venuesNear(35)(q)
	}}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)

	req := baseRequest()
	req.RadiusMeters = 0
	req.Count = 0
	resp, err := e.Recommend(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(DefaultConfig().DefaultRadiusMeters), gotRadius.Load())
	assert.Len(t, resp.Items, DefaultConfig().DefaultCount)
}

func TestRecommendExcludesBlockedCandidates(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	require.NoError(t, e.Block(ctx, "user-1", "places:venue-0"))

	resp, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	for _, item := range resp.Items {
		assert.NotEqual(t, "places:venue-0", item.Candidate.ID)
	}
}

func TestNotInterestedSuppressesOnNextRequest(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	first, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	require.NotEmpty(t, first.Items)

	target := first.Items[0]
	require.NoError(t, e.NotInterested(ctx, target.RecordID))

	// Response cache was invalidated by the feedback, so this regenerates.
	second, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, second.Cached)
	for _, item := range second.Items {
		assert.NotEqual(t, target.Candidate.ID, item.Candidate.ID)
	}
}

func TestDeclinedEntersCooldown(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	first, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	target := first.Items[0]

	require.NoError(t, e.Viewed(ctx, target.RecordID))
	require.NoError(t, e.Declined(ctx, target.RecordID, "not my thing"))

	second, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	for _, item := range second.Items {
		assert.NotEqual(t, target.Candidate.ID, item.Candidate.ID,
			"declined candidate must stay out during cooldown")
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, st := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	_, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	callsAfterFirst := src.calls.Load()

	resp, err := e.Refresh(ctx, baseRequest())
	require.NoError(t, err)

	assert.False(t, resp.Cached)
	assert.Greater(t, src.calls.Load(), callsAfterFirst, "refresh must re-query sources")
	assert.NotEmpty(t, resp.Items)

	// The pre-refresh batch was cleared; only the new batch is pending.
	recs, err := st.Load(ctx, "user-1")
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, store.StatusPending, r.Status)
	}
}

func TestRecommendProfileLookupFailureDegrades(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, _ := newTestEngine(t, DefaultConfig(), Options{
		Profiles: &fakeProfiles{err: errors.New("profile service down")},
	}, src)

	resp, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err, "profile failure must not fail the request")
	assert.NotEmpty(t, resp.Items)
}

func TestRecommendUsesProfileInterestsAsHints(t *testing.T) {
	var gotHints atomic.Value
	src := &fakeSource{name: "places", fn: func(q candidate.Query) ([]candidate.Candidate, error) {
		gotHints.Store(append([]string{}, q.InterestHints...))
		return venuesNear(35)(q)
	}}
	e, _ := newTestEngine(t, DefaultConfig(), Options{
		Profiles: &fakeProfiles{user: UserData{
			Profile: scoring.Profile{Interests: []string{"coffee", "jazz"}},
		}},
	}, src)

	_, err := e.Recommend(context.Background(), baseRequest())
	require.NoError(t, err)

	hints, _ := gotHints.Load().([]string)
	assert.Equal(t, []string{"coffee", "jazz"}, hints)
}

func TestAcceptedLinksScheduleRef(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, st := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	first, err := e.Recommend(ctx, baseRequest())
	require.NoError(t, err)
	target := first.Items[0]

	require.NoError(t, e.Viewed(ctx, target.RecordID))
	require.NoError(t, e.Accepted(ctx, target.RecordID, "sched-42"))

	rec, err := st.Get(ctx, target.RecordID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAccepted, rec.Status)
	assert.Equal(t, "sched-42", rec.ScheduleRef)
}

func TestRespondUnknownRecord(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), Options{},
		&fakeSource{name: "places", fn: venuesNear(5)})

	err := e.Viewed(context.Background(), "no-such-record")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnblockRestoresCandidate(t *testing.T) {
	src := &fakeSource{name: "places", fn: venuesNear(35)}
	e, st := newTestEngine(t, DefaultConfig(), Options{}, src)
	ctx := context.Background()

	require.NoError(t, e.Block(ctx, "user-1", "places:venue-9"))
	require.NoError(t, e.Unblock(ctx, "user-1", "places:venue-9"))

	blocked, err := st.IsBlocked(ctx, "user-1", "places:venue-9")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil, nil, nil, nil, Options{}, zerolog.Nop())
	assert.Error(t, err)
}
