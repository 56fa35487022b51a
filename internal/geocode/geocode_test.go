// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package geocode

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/cache"
	"github.com/perch-labs/perch/internal/candidate"
)

type fakeGeocoder struct {
	name  string
	calls atomic.Int32
	fn    func(address string) (candidate.Coordinates, error)
}

func (f *fakeGeocoder) Name() string { return f.name }

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (candidate.Coordinates, error) {
	f.calls.Add(1)
	return f.fn(address)
}

func alwaysResolves(name string, lat, lng float64) *fakeGeocoder {
	return &fakeGeocoder{
		name: name,
		fn: func(string) (candidate.Coordinates, error) {
			return candidate.Coordinates{Lat: lat, Lng: lng}, nil
		},
	}
}

func alwaysFails(name string) *fakeGeocoder {
	return &fakeGeocoder{
		name: name,
		fn: func(string) (candidate.Coordinates, error) {
			return candidate.Coordinates{}, errors.New("unreachable")
		},
	}
}

func newTestResolver(t *testing.T, chain ...Geocoder) *Resolver {
	t.Helper()
	c := cache.New(time.Minute)
	t.Cleanup(c.Stop)

	r, err := NewResolver(DefaultConfig(), chain, c, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewResolver() error: %v", err)
	}
	return r
}

func TestResolvePrimary(t *testing.T) {
	primary := alwaysResolves("primary", 40.7, -74.0)
	r := newTestResolver(t, primary)

	got, err := r.Resolve(context.Background(), "123 Main St")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got.Lat != 40.7 || got.Lng != -74.0 {
		t.Errorf("Resolve() = %+v, want 40.7/-74.0", got)
	}
}

func TestResolveFallsBackToSecondary(t *testing.T) {
	primary := alwaysFails("primary")
	secondary := alwaysResolves("secondary", 51.5, -0.1)
	r := newTestResolver(t, primary, secondary)

	got, err := r.Resolve(context.Background(), "10 Downing St")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got.Lat != 51.5 {
		t.Errorf("Resolve() = %+v, want secondary's answer", got)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls.Load())
	}
}

func TestResolveCachesResults(t *testing.T) {
	primary := alwaysResolves("primary", 40.7, -74.0)
	r := newTestResolver(t, primary)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), "123 Main St"); err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
	}

	if primary.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1 (rest from cache)", primary.calls.Load())
	}
}

func TestResolveAllFail(t *testing.T) {
	r := newTestResolver(t, alwaysFails("primary"), alwaysFails("secondary"))

	if _, err := r.Resolve(context.Background(), "nowhere"); !errors.Is(err, ErrNoResult) {
		t.Errorf("Resolve() error = %v, want ErrNoResult", err)
	}
}

func TestResolveEmptyAddress(t *testing.T) {
	primary := alwaysResolves("primary", 1, 1)
	r := newTestResolver(t, primary)

	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, ErrNoResult) {
		t.Errorf("Resolve(\"\") error = %v, want ErrNoResult", err)
	}
	if primary.calls.Load() != 0 {
		t.Error("provider must not be called for an empty address")
	}
}

func TestEnrichFillsMissingAndDropsUnresolvable(t *testing.T) {
	resolver := &fakeGeocoder{
		name: "primary",
		fn: func(address string) (candidate.Coordinates, error) {
			if address == "resolvable" {
				return candidate.Coordinates{Lat: 40.7, Lng: -74.0}, nil
			}
			return candidate.Coordinates{}, errors.New("unknown address")
		},
	}
	r := newTestResolver(t, resolver)

	cands := []candidate.Candidate{
		{ID: "has-coords", Coordinates: candidate.Coordinates{Lat: 1, Lng: 1}},
		{ID: "needs-geocode", Address: "resolvable"},
		{ID: "hopeless", Address: "not resolvable"},
		{ID: "no-address"},
	}

	got := r.Enrich(context.Background(), cands)

	if len(got) != 2 {
		t.Fatalf("Enrich() kept %d candidates, want 2", len(got))
	}
	byID := make(map[string]candidate.Candidate, len(got))
	for _, c := range got {
		byID[c.ID] = c
	}
	if _, ok := byID["has-coords"]; !ok {
		t.Error("candidate with coordinates was dropped")
	}
	enriched, ok := byID["needs-geocode"]
	if !ok {
		t.Fatal("resolvable candidate was dropped")
	}
	if enriched.Coordinates.Lat != 40.7 {
		t.Errorf("enriched coordinates = %+v", enriched.Coordinates)
	}
}

func TestEnrichDoesNotMutateInput(t *testing.T) {
	r := newTestResolver(t, alwaysResolves("primary", 40.7, -74.0))

	cands := []candidate.Candidate{{ID: "a", Address: "somewhere"}}
	r.Enrich(context.Background(), cands)

	if cands[0].HasCoordinates() {
		t.Error("Enrich mutated the caller's slice")
	}
}

func TestEnrichSkipsLookupForCoordinateHolders(t *testing.T) {
	primary := alwaysResolves("primary", 9, 9)
	r := newTestResolver(t, primary)

	cands := []candidate.Candidate{
		{ID: "a", Address: "addr", Coordinates: candidate.Coordinates{Lat: 1, Lng: 2}},
	}
	got := r.Enrich(context.Background(), cands)

	if primary.calls.Load() != 0 {
		t.Error("geocoder called for a candidate that already had coordinates")
	}
	if got[0].Coordinates.Lat != 1 {
		t.Errorf("coordinates overwritten: %+v", got[0].Coordinates)
	}
}
