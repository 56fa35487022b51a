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

// DirectorySource queries a local-business directory provider. The
// directory reports price as "$".."$$$$" strings and flags sponsored
// placements, both of which are normalized here.
type DirectorySource struct {
	cfg     AdapterConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]candidate.Candidate]
	logger  zerolog.Logger
}

// Provider payload shapes.
type directoryResponse struct {
	Businesses []businessResult `json:"businesses"`
	Total      int              `json:"total"`
}

type businessResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Coordinates struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"coordinates"`
	Categories []struct {
		Alias string `json:"alias"`
		Title string `json:"title"`
	} `json:"categories"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Price       string  `json:"price"`
	IsClosed    bool    `json:"is_closed"`
	IsAd        bool    `json:"is_ad"`
	Location    struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
	} `json:"location"`
}

// NewDirectorySource creates the directory adapter.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewDirectorySource(cfg AdapterConfig, logger zerolog.Logger) (*DirectorySource, error) {
	if err := cfg.validate("directory"); err != nil {
		return nil, err
	}

	return &DirectorySource{
		cfg:     cfg,
		client:  cfg.httpClient(),
		limiter: cfg.newLimiter(),
		breaker: newBreaker("directory"),
		logger:  logger.With().Str("component", "sources").Str("source", "directory").Logger(),
	}, nil
}

// Name returns the adapter identifier.
func (s *DirectorySource) Name() string { return "directory" }

// Available reports whether the adapter can serve queries.
func (s *DirectorySource) Available() bool {
	return s.cfg.APIKey != "" && s.breaker.State() != gobreaker.StateOpen
}

// Search queries the directory for businesses near the query center.
// Permanently closed businesses are dropped.
func (s *DirectorySource) Search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("directory: rate limiter: %w", err)
	}

	start := time.Now()
	found, err := s.breaker.Execute(func() ([]candidate.Candidate, error) {
		return s.search(ctx, query)
	})
	recordResult("directory", start, len(found), err)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *DirectorySource) search(ctx context.Context, query candidate.Query) ([]candidate.Candidate, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(query.Center.Lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(query.Center.Lng, 'f', -1, 64))
	// The directory caps search radius at 40km.
	params.Set("radius", strconv.Itoa(min(query.RadiusMeters, 40_000)))
	if len(query.InterestHints) > 0 {
		params.Set("categories", strings.Join(query.InterestHints, ","))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(min(query.Limit, 50)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.cfg.BaseURL+"/businesses/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directory: read body: %w", err)
	}

	var payload directoryResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}

	return s.toCandidates(payload.Businesses), nil
}

func (s *DirectorySource) toCandidates(results []businessResult) []candidate.Candidate {
	out := make([]candidate.Candidate, 0, len(results))
	for _, r := range results {
		if r.ID == "" {
			metrics.SourceDroppedCandidates.WithLabelValues("directory", "missing_id").Inc()
			continue
		}
		if r.IsClosed {
			continue
		}
		if r.Coordinates.Latitude == 0 && r.Coordinates.Longitude == 0 {
			metrics.SourceDroppedCandidates.WithLabelValues("directory", "missing_coordinates").Inc()
			s.logger.Debug().Str("business_id", r.ID).Msg("dropping business without coordinates")
			continue
		}

		categories := make([]string, 0, len(r.Categories))
		for _, c := range r.Categories {
			if alias := strings.ToLower(strings.TrimSpace(c.Alias)); alias != "" {
				categories = append(categories, alias)
			}
		}

		address := r.Location.Address1
		if r.Location.City != "" {
			address = strings.TrimPrefix(address+", "+r.Location.City, ", ")
		}

		out = append(out, candidate.Candidate{
			ID:     "directory:" + r.ID,
			Source: "directory",
			Name:   r.Name,
			Coordinates: candidate.Coordinates{
				Lat: r.Coordinates.Latitude,
				Lng: r.Coordinates.Longitude,
			},
			Address:     address,
			Categories:  categories,
			Rating:      r.Rating,
			RatingCount: r.ReviewCount,
			Price:       priceFromDollarSigns(r.Price),
			Open:        candidate.OpenUnknown,
			Sponsored:   r.IsAd,
		})
	}
	return out
}

// priceFromDollarSigns maps "$".."$$$$" onto PriceLevel 1..4. Anything
// else is unknown.
func priceFromDollarSigns(price string) candidate.PriceLevel {
	n := len(price)
	if n < 1 || n > 4 || strings.Trim(price, "$") != "" {
		return candidate.PriceUnknown
	}
	return candidate.PriceLevel(n)
}
