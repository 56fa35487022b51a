// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package aggregate fans a geo-query out to every enabled candidate source,
// merges and deduplicates the results, and widens the search radius until a
// target candidate count is reached or the radius cap is hit.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perch-labs/perch/internal/candidate"
)

// Result carries the merged candidate set plus aggregation metadata.
type Result struct {
	// Candidates is the deduplicated merged set, never nil.
	Candidates []candidate.Candidate

	// SourcesUsed lists the adapters that completed without error,
	// in query order.
	SourcesUsed []string

	// Rounds is the number of query rounds issued, including the first.
	Rounds int

	// FinalRadiusMeters is the radius of the last round.
	FinalRadiusMeters int
}

// Aggregator runs the concurrent source fan-out. Adapter failures degrade to
// partial results; the aggregator itself never returns an error.
type Aggregator struct {
	cfg     Config
	sources []candidate.Source
	logger  zerolog.Logger
}

// New creates an aggregator over the given sources. Source order fixes the
// merge order, so first-occurrence dedup is deterministic.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, sources []candidate.Source, logger zerolog.Logger) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid aggregate config: %w", err)
	}

	return &Aggregator{
		cfg:     cfg,
		sources: sources,
		logger:  logger.With().Str("component", "aggregate").Logger(),
	}, nil
}

// Gather runs the fan-out, merging each round's results and expanding the
// radius while the unique count stays below the target. An expansion round
// that adds nothing stops further widening. Context cancellation returns
// whatever was merged so far.
func (a *Aggregator) Gather(ctx context.Context, query candidate.Query) Result {
	radius := query.RadiusMeters
	if radius < 1 {
		radius = 1
	}
	if radius > a.cfg.MaxRadiusMeters {
		radius = a.cfg.MaxRadiusMeters
	}

	merged := []candidate.Candidate{}
	seen := make(map[string]struct{})
	succeeded := make(map[string]struct{})

	result := Result{}
	for {
		result.Rounds++
		result.FinalRadiusMeters = radius

		round := query
		round.RadiusMeters = radius
		perSource, ok := a.fanOut(ctx, round)

		added := 0
		for i, batch := range perSource {
			if ok[i] {
				succeeded[a.sources[i].Name()] = struct{}{}
			}
			for _, c := range batch {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
				merged = append(merged, c)
				added++
			}
		}

		a.logger.Debug().
			Int("round", result.Rounds).
			Int("radius_m", radius).
			Int("added", added).
			Int("total", len(merged)).
			Msg("aggregation round complete")

		if len(merged) >= a.cfg.TargetCandidates {
			break
		}
		if result.Rounds > 1 && added == 0 {
			break
		}
		if radius >= a.cfg.MaxRadiusMeters {
			break
		}
		if ctx.Err() != nil {
			a.logger.Warn().Err(ctx.Err()).Msg("aggregation cut short, returning partial results")
			break
		}

		radius = int(float64(radius) * a.cfg.RadiusMultiplier)
		if radius > a.cfg.MaxRadiusMeters {
			radius = a.cfg.MaxRadiusMeters
		}
	}

	result.Candidates = merged
	for _, src := range a.sources {
		if _, ok := succeeded[src.Name()]; ok {
			result.SourcesUsed = append(result.SourcesUsed, src.Name())
		}
	}
	return result
}

// fanOut queries every available source concurrently, each under its own
// timeout. Both returned slices are indexed by source order; failed or
// skipped sources leave a nil batch and a false flag.
func (a *Aggregator) fanOut(ctx context.Context, query candidate.Query) ([][]candidate.Candidate, []bool) {
	batches := make([][]candidate.Candidate, len(a.sources))
	ok := make([]bool, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		if !src.Available() {
			a.logger.Debug().Str("source", src.Name()).Msg("source unavailable, skipping")
			continue
		}

		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.cfg.AdapterTimeout)
			defer cancel()

			start := time.Now()
			found, err := src.Search(callCtx, query)
			if err != nil {
				a.logger.Warn().
					Err(err).
					Str("source", src.Name()).
					Dur("elapsed", time.Since(start)).
					Msg("source search failed, degrading")
				return nil
			}

			batches[i] = found
			ok[i] = true
			return nil
		})
	}

	// Adapter errors never surface; Wait only observes context cancellation.
	_ = g.Wait()
	return batches, ok
}
