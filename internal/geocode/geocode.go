// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package geocode fills in missing candidate coordinates. A Resolver walks
// an ordered fallback chain of geocoding providers behind a TTL cache, and
// Enrich runs lookups through a bounded worker pool so rate-limited
// providers never see an unbounded request storm.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perch-labs/perch/internal/cache"
	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/metrics"
)

// ErrNoResult indicates the address could not be resolved by any provider.
var ErrNoResult = errors.New("geocode: no result")

// Geocoder resolves a freeform address to coordinates.
type Geocoder interface {
	Name() string
	Geocode(ctx context.Context, address string) (candidate.Coordinates, error)
}

// Config tunes the resolver.
type Config struct {
	// Workers bounds concurrent lookups during enrichment.
	Workers int `json:"workers" koanf:"workers"`

	// CacheTTL is how long resolved coordinates stay cached.
	CacheTTL time.Duration `json:"cache_ttl" koanf:"cache_ttl"`
}

// DefaultConfig returns the shipped geocoding tuning.
func DefaultConfig() Config {
	return Config{
		Workers:  4,
		CacheTTL: 24 * time.Hour,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	return nil
}

// Resolver resolves addresses through cache, then each provider in chain
// order. Chain position, not provider identity, decides the fallback role.
type Resolver struct {
	cfg    Config
	chain  []Geocoder
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewResolver creates a resolver over the given provider chain. An empty
// chain is allowed; resolution then only ever answers from cache.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewResolver(cfg Config, chain []Geocoder, c *cache.Cache, logger zerolog.Logger) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geocode config: %w", err)
	}
	if c == nil {
		return nil, errors.New("geocode: cache required")
	}

	return &Resolver{
		cfg:    cfg,
		chain:  chain,
		cache:  c,
		logger: logger.With().Str("component", "geocode").Logger(),
	}, nil
}

// Resolve returns coordinates for an address, consulting the cache first
// and then each provider in order. The first success wins and is cached.
func (r *Resolver) Resolve(ctx context.Context, address string) (candidate.Coordinates, error) {
	if address == "" {
		return candidate.Coordinates{}, ErrNoResult
	}

	key := cache.GenerateKey("geocode", address)
	if cached, ok := r.cache.Get(key); ok {
		if coords, ok := cached.(candidate.Coordinates); ok {
			metrics.GeocodeLookups.WithLabelValues("cache").Inc()
			return coords, nil
		}
	}

	for i, g := range r.chain {
		coords, err := g.Geocode(ctx, address)
		if err != nil {
			r.logger.Debug().
				Err(err).
				Str("provider", g.Name()).
				Msg("geocoder failed, trying next in chain")
			continue
		}

		r.cache.SetWithTTL(key, coords, r.cfg.CacheTTL)
		metrics.GeocodeLookups.WithLabelValues(chainRole(i)).Inc()
		return coords, nil
	}

	metrics.GeocodeLookups.WithLabelValues("failed").Inc()
	return candidate.Coordinates{}, ErrNoResult
}

// Enrich fills missing coordinates in place of a copy of the input, using
// at most cfg.Workers concurrent lookups. Candidates still lacking
// coordinates afterwards are dropped.
func (r *Resolver) Enrich(ctx context.Context, cands []candidate.Candidate) []candidate.Candidate {
	enriched := make([]candidate.Candidate, len(cands))
	copy(enriched, cands)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i := range enriched {
		if enriched[i].HasCoordinates() {
			continue
		}

		g.Go(func() error {
			coords, err := r.Resolve(gctx, enriched[i].Address)
			if err != nil {
				return nil
			}
			enriched[i].Coordinates = coords
			return nil
		})
	}
	_ = g.Wait()

	out := enriched[:0:0]
	dropped := 0
	for _, c := range enriched {
		if !c.HasCoordinates() {
			dropped++
			continue
		}
		out = append(out, c)
	}
	if dropped > 0 {
		r.logger.Debug().Int("dropped", dropped).Msg("dropped candidates without resolvable coordinates")
	}
	return out
}

func chainRole(index int) string {
	switch index {
	case 0:
		return "primary"
	case 1:
		return "secondary"
	default:
		return "fallback"
	}
}
