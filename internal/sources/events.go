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
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/metrics"
)

// EventsSource queries a ticketed-event provider. Every candidate it emits
// carries an EventWindow; listings without a parseable start time are
// dropped rather than surfaced as undated venues.
type EventsSource struct {
	cfg     AdapterConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]candidate.Candidate]
	logger  zerolog.Logger
}

// Provider payload shapes. The provider nests results and venues under
// "_embedded" and reports venue coordinates as strings.
type eventsResponse struct {
	Embedded struct {
		Events []eventResult `json:"events"`
	} `json:"_embedded"`
}

type eventResult struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Dates struct {
		Start struct {
			DateTime string `json:"dateTime"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
		} `json:"end"`
	} `json:"dates"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"classifications"`
	Embedded struct {
		Venues []eventVenue `json:"venues"`
	} `json:"_embedded"`
}

type eventVenue struct {
	Name     string `json:"name"`
	Location struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
	Address struct {
		Line1 string `json:"line1"`
	} `json:"address"`
}

// NewEventsSource creates the events adapter.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEventsSource(cfg AdapterConfig, logger zerolog.Logger) (*EventsSource, error) {
	if err := cfg.validate("events"); err != nil {
		return nil, err
	}

	return &EventsSource{
		cfg:     cfg,
		client:  cfg.httpClient(),
		limiter: cfg.newLimiter(),
		breaker: newBreaker("events"),
		logger:  logger.With().Str("component", "sources").Str("source", "events").Logger(),
	}, nil
}

// Name returns the adapter identifier.
func (s *EventsSource) Name() string { return "events" }

// Available reports whether the adapter can serve queries.
func (s *EventsSource) Available() bool {
	return s.cfg.APIKey != "" && s.breaker.State() != gobreaker.StateOpen
}

// Search queries the provider for upcoming events near the query center.
func (s *EventsSource) Search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("events: rate limiter: %w", err)
	}

	start := time.Now()
	found, err := s.breaker.Execute(func() ([]candidate.Candidate, error) {
		return s.search(ctx, query)
	})
	recordResult("events", start, len(found), err)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *EventsSource) search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	params := url.Values{}
	params.Set("latlong", fmt.Sprintf("%f,%f", query.Center.Lat, query.Center.Lng))
	params.Set("radius", strconv.Itoa(max(query.RadiusMeters/1000, 1)))
	params.Set("unit", "km")
	params.Set("apikey", s.cfg.APIKey)
	if len(query.InterestHints) > 0 {
		params.Set("keyword", strings.Join(query.InterestHints, ","))
	}
	if query.Limit > 0 {
		// The provider caps page size at 200.
		params.Set("size", strconv.Itoa(min(query.Limit, 200)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"/events.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("events: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("events: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("events: read body: %w", err)
	}

	var payload eventsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("events: decode: %w", err)
	}

	return s.toCandidates(payload.Embedded.Events), nil
}

func (s *EventsSource) toCandidates(results []eventResult) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(results))
	for _, r := range results {
		if r.ID == "" {
			metrics.SourceDroppedCandidates.WithLabelValues("events", "missing_id").Inc()
			continue
		}
		if len(r.Embedded.Venues) == 0 {
			metrics.SourceDroppedCandidates.WithLabelValues("events", "missing_coordinates").Inc()
			continue
		}

		venue := r.Embedded.Venues[0]
		lat, latErr := strconv.ParseFloat(venue.Location.Latitude, 64)
		lng, lngErr := strconv.ParseFloat(venue.Location.Longitude, 64)
		if latErr != nil || lngErr != nil || (lat == 0 && lng == 0) {
			metrics.SourceDroppedCandidates.WithLabelValues("events", "missing_coordinates").Inc()
			s.logger.Debug().Str("event_id", r.ID).Msg("dropping event without venue coordinates")
			continue
		}

		window, ok := r.eventWindow()
		if !ok {
			metrics.SourceDroppedCandidates.WithLabelValues("events", "missing_start_time").Inc()
			continue
		}

		out = append(out, candidate.Candidate{
			ID:          "events:" + r.ID,
			Source:      "events",
			Name:        r.Name,
			Address:     venue.Address.Line1,
			Coordinates: candidate.Coordinates{Lat: lat, Lng: lng},
			Categories:  r.categories(),
			Price:       candidate.PriceUnknown,
			Open:        candidate.OpenUnknown,
			Event:       &window,
		})
	}
	return out
}

func (r *eventResult) eventWindow() (candidate.EventWindow, bool) {
	start, err := time.Parse(time.RFC3339, r.Dates.Start.DateTime)
	if err != nil {
		return candidate.EventWindow{}, false
	}

	window := candidate.EventWindow{Start: start}
	if end, err := time.Parse(time.RFC3339, r.Dates.End.DateTime); err == nil {
		window.End = end
	}
	return window, true
}

func (r *eventResult) categories() []string {
	var out []string
	for _, c := range r.Classifications {
		if name := strings.ToLower(strings.TrimSpace(c.Segment.Name)); name != "" {
			out = append(out, name)
		}
		if name := strings.ToLower(strings.TrimSpace(c.Genre.Name)); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = []string{"event"}
	}
	return out
}
