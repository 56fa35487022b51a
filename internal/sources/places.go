// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/metrics"
)

// PlacesSource queries a general-purpose POI search provider for venues
// near a coordinate.
type PlacesSource struct {
	cfg     AdapterConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]candidate.Candidate]
	logger  zerolog.Logger
}

// Provider payload shapes. These stay private to the adapter.
type placesResponse struct {
	Status  string        `json:"status"`
	Results []placeResult `json:"results"`
}

type placeResult struct {
	PlaceID  string `json:"place_id"`
	Name     string `json:"name"`
	Vicinity string `json:"vicinity"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	Types            []string `json:"types"`
	Rating           float64  `json:"rating"`
	UserRatingsTotal int      `json:"user_ratings_total"`
	PriceLevel       *int     `json:"price_level"`
	OpeningHours     *struct {
		OpenNow *bool `json:"open_now"`
	} `json:"opening_hours"`
	Photos []struct {
		PhotoReference string `json:"photo_reference"`
	} `json:"photos"`
}

// NewPlacesSource creates the places adapter.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewPlacesSource(cfg AdapterConfig, logger zerolog.Logger) (*PlacesSource, error) {
	if err := cfg.validate("places"); err != nil {
		return nil, err
	}

	return &PlacesSource{
		cfg:     cfg,
		client:  cfg.httpClient(),
		limiter: cfg.newLimiter(),
		breaker: newBreaker("places"),
		logger:  logger.With().Str("component", "sources").Str("source", "places").Logger(),
	}, nil
}

// Name returns the adapter identifier.
func (s *PlacesSource) Name() string { return "places" }

// Available reports whether the adapter can serve queries: a credential is
// configured and the circuit is not open.
func (s *PlacesSource) Available() bool {
	return s.cfg.APIKey != "" && s.breaker.State() != gobreaker.StateOpen
}

// Search queries the provider for venues near the query center. Results
// missing coordinates are dropped.
func (s *PlacesSource) Search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("places: rate limiter: %w", err)
	}

	start := time.Now()
	found, err := s.breaker.Execute(func() ([]candidate.Candidate, error) {
		return s.search(ctx, query)
	})
	recordResult("places", start, len(found), err)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *PlacesSource) search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", query.Center.Lat, query.Center.Lng))
	params.Set("radius", fmt.Sprintf("%d", query.RadiusMeters))
	params.Set("key", s.cfg.APIKey)
	if len(query.InterestHints) > 0 {
		params.Set("keyword", strings.Join(query.InterestHints, "|"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"/nearbysearch/json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("places: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("places: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("places: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("places: read body: %w", err)
	}

	var payload placesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("places: decode: %w", err)
	}
	if payload.Status != "OK" && payload.Status != "ZERO_RESULTS" {
		return nil, fmt.Errorf("places: provider status %q", payload.Status)
	}

	// The provider has no page-size parameter, so the cap applies after
	// mapping.
	found := s.toCandidates(payload.Results)
	if query.Limit > 0 && len(found) > query.Limit {
		found = found[:query.Limit]
	}
	return found, nil
}

func (s *PlacesSource) toCandidates(results []placeResult) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(results))
	for _, r := range results {
		if r.PlaceID == "" {
			metrics.SourceDroppedCandidates.WithLabelValues("places", "missing_id").Inc()
			continue
		}
		if r.Geometry.Location.Lat == 0 && r.Geometry.Location.Lng == 0 {
			metrics.SourceDroppedCandidates.WithLabelValues("places", "missing_coordinates").Inc()
			s.logger.Debug().Str("place_id", r.PlaceID).Msg("dropping result without coordinates")
			continue
		}

		c := candidate.Candidate{
			ID:      "places:" + r.PlaceID,
			Source:  "places",
			Name:    r.Name,
			Address: r.Vicinity,
			Coordinates: candidate.Coordinates{
				Lat: r.Geometry.Location.Lat,
				Lng: r.Geometry.Location.Lng,
			},
			Categories:  normalizeCategories(r.Types),
			Rating:      r.Rating,
			RatingCount: r.UserRatingsTotal,
			Price:       candidate.PriceUnknown,
			Open:        candidate.OpenUnknown,
		}
		if r.PriceLevel != nil {
			c.Price = candidate.PriceLevel(*r.PriceLevel)
		}
		if r.OpeningHours != nil && r.OpeningHours.OpenNow != nil {
			if *r.OpeningHours.OpenNow {
				c.Open = candidate.OpenNow
			} else {
				c.Open = candidate.ClosedNow
			}
		}
		for _, p := range r.Photos {
			c.Photos = append(c.Photos, p.PhotoReference)
		}

		out = append(out, c)
	}
	return out
}

// normalizeCategories lowercases and trims provider type strings.
func normalizeCategories(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
