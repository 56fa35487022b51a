// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/candidate"
)

type fakeSource struct {
	name      string
	available bool
	calls     atomic.Int32
	search    func(ctx context.Context, q candidate.Query) ([]candidate.Candidate, error)
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Available() bool { return f.available }

func (f *fakeSource) Search(ctx context.Context, q candidate.Query) ([]candidate.Candidate, error) {
	f.calls.Add(1)
	return f.search(ctx, q)
}

func fixedSource(name string, cands ...candidate.Candidate) *fakeSource {
	return &fakeSource{
		name:      name,
		available: true,
		search: func(context.Context, candidate.Query) ([]candidate.Candidate, error) {
			return cands, nil
		},
	}
}

func cands(prefix string, n int) []candidate.Candidate {
	out := make([]candidate.Candidate, n)
	for i := range out {
		out[i] = candidate.Candidate{
			ID:   fmt.Sprintf("%s:%d", prefix, i),
			Name: fmt.Sprintf("%s %d", prefix, i),
		}
	}
	return out
}

func newTestAggregator(t *testing.T, cfg Config, sources ...candidate.Source) *Aggregator {
	t.Helper()
	a, err := New(cfg, sources, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func baseQuery() candidate.Query {
	return candidate.Query{
		Center:       candidate.Coordinates{Lat: 40.7, Lng: -74.0},
		RadiusMeters: 5000,
		Limit:        10,
	}
}

func TestGatherMergesAllSources(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig(),
		fixedSource("places", cands("p", 20)...),
		fixedSource("events", cands("e", 15)...),
	)

	got := a.Gather(context.Background(), baseQuery())

	if len(got.Candidates) != 35 {
		t.Errorf("merged %d candidates, want 35", len(got.Candidates))
	}
	if len(got.SourcesUsed) != 2 {
		t.Errorf("SourcesUsed = %v, want both sources", got.SourcesUsed)
	}
	if got.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1 (target already met)", got.Rounds)
	}
}

func TestGatherDedupFirstOccurrenceWins(t *testing.T) {
	shared := candidate.Candidate{ID: "dup", Name: "From Places"}
	sharedAgain := candidate.Candidate{ID: "dup", Name: "From Events"}

	a := newTestAggregator(t, DefaultConfig(),
		fixedSource("places", append(cands("p", 20), shared)...),
		fixedSource("events", append(cands("e", 20), sharedAgain)...),
	)

	got := a.Gather(context.Background(), baseQuery())

	found := 0
	for _, c := range got.Candidates {
		if c.ID == "dup" {
			found++
			if c.Name != "From Places" {
				t.Errorf("dedup kept %q, want first-source occurrence", c.Name)
			}
		}
	}
	if found != 1 {
		t.Errorf("id dup appears %d times, want 1", found)
	}
}

func TestGatherDegradesOnSingleFailure(t *testing.T) {
	failing := &fakeSource{
		name:      "events",
		available: true,
		search: func(context.Context, candidate.Query) ([]candidate.Candidate, error) {
			return nil, errors.New("quota exhausted")
		},
	}
	a := newTestAggregator(t, DefaultConfig(),
		fixedSource("places", cands("p", 30)...),
		failing,
	)

	got := a.Gather(context.Background(), baseQuery())

	if len(got.Candidates) != 30 {
		t.Errorf("got %d candidates, want 30 from the healthy source", len(got.Candidates))
	}
	if len(got.SourcesUsed) != 1 || got.SourcesUsed[0] != "places" {
		t.Errorf("SourcesUsed = %v, want only places", got.SourcesUsed)
	}
}

func TestGatherAllFailReturnsEmpty(t *testing.T) {
	fail := func(context.Context, candidate.Query) ([]candidate.Candidate, error) {
		return nil, errors.New("down")
	}
	a := newTestAggregator(t, DefaultConfig(),
		&fakeSource{name: "places", available: true, search: fail},
		&fakeSource{name: "events", available: true, search: fail},
	)

	got := a.Gather(context.Background(), baseQuery())

	if got.Candidates == nil || len(got.Candidates) != 0 {
		t.Errorf("Candidates = %v, want empty non-nil", got.Candidates)
	}
}

func TestGatherSkipsUnavailableSource(t *testing.T) {
	down := &fakeSource{
		name:      "directory",
		available: false,
		search: func(context.Context, candidate.Query) ([]candidate.Candidate, error) {
			return cands("d", 5), nil
		},
	}
	a := newTestAggregator(t, DefaultConfig(),
		fixedSource("places", cands("p", 30)...),
		down,
	)

	a.Gather(context.Background(), baseQuery())

	if down.calls.Load() != 0 {
		t.Errorf("unavailable source was queried %d times", down.calls.Load())
	}
}

func TestGatherExpandsRadiusUntilTarget(t *testing.T) {
	// Yields 10 new candidates per round keyed on the radius, so each
	// expansion adds fresh results until the target of 30 is met.
	growing := &fakeSource{
		name:      "places",
		available: true,
		search: func(_ context.Context, q candidate.Query) ([]candidate.Candidate, error) {
			return cands(fmt.Sprintf("r%d", q.RadiusMeters), 10), nil
		},
	}
	a := newTestAggregator(t, DefaultConfig(), growing)

	got := a.Gather(context.Background(), baseQuery())

	if len(got.Candidates) < 30 {
		t.Errorf("got %d candidates, want >= target 30 after expansion", len(got.Candidates))
	}
	if got.Rounds != 3 {
		t.Errorf("Rounds = %d, want 3 (10 per round)", got.Rounds)
	}
	if got.FinalRadiusMeters != 20000 {
		t.Errorf("FinalRadiusMeters = %d, want 20000", got.FinalRadiusMeters)
	}
}

func TestGatherStopsOnZeroNewRound(t *testing.T) {
	// Always returns the same 5 candidates: the first expansion round adds
	// nothing, so the loop must stop instead of walking the full ladder.
	a := newTestAggregator(t, DefaultConfig(), fixedSource("places", cands("p", 5)...))

	got := a.Gather(context.Background(), baseQuery())

	if got.Rounds != 2 {
		t.Errorf("Rounds = %d, want 2 (initial + one empty expansion)", got.Rounds)
	}
	if len(got.Candidates) != 5 {
		t.Errorf("got %d candidates, want 5", len(got.Candidates))
	}
}

func TestGatherRespectsRadiusCap(t *testing.T) {
	// One fresh candidate per round forces expansion to run the whole
	// ladder; the radius must stop at the cap.
	drip := &fakeSource{
		name:      "places",
		available: true,
		search: func(_ context.Context, q candidate.Query) ([]candidate.Candidate, error) {
			return []candidate.Candidate{{ID: fmt.Sprintf("r%d", q.RadiusMeters)}}, nil
		},
	}
	a := newTestAggregator(t, DefaultConfig(), drip)

	got := a.Gather(context.Background(), baseQuery())

	if got.FinalRadiusMeters != 50000 {
		t.Errorf("FinalRadiusMeters = %d, want cap 50000", got.FinalRadiusMeters)
	}
	// Ladder from 5km doubling: 5000, 10000, 20000, 40000, 50000.
	if got.Rounds != 5 {
		t.Errorf("Rounds = %d, want 5", got.Rounds)
	}
}

func TestGatherCanceledContextReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &fakeSource{
		name:      "places",
		available: true,
		search: func(_ context.Context, q candidate.Query) ([]candidate.Candidate, error) {
			cancel()
			return cands(fmt.Sprintf("r%d", q.RadiusMeters), 5), nil
		},
	}
	a := newTestAggregator(t, DefaultConfig(), first)

	got := a.Gather(ctx, baseQuery())

	if len(got.Candidates) != 5 {
		t.Errorf("got %d candidates, want the 5 partial results", len(got.Candidates))
	}
	if got.Rounds != 1 {
		t.Errorf("Rounds = %d, want 1 after cancellation", got.Rounds)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := DefaultConfig()
	bad.RadiusMultiplier = 1.0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for multiplier <= 1")
	}

	bad = DefaultConfig()
	bad.TargetCandidates = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero target")
	}
}
