// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package ranking

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/scoring"
)

// Pipeline applies the fixed-order business rules to a scored list. Rule
// order is part of the contract: dedup before diversity, diversity before
// balancing, sponsorship cap last.
type Pipeline struct {
	cfg    Config
	rules  []Rule
	logger zerolog.Logger
}

// NewPipeline creates the standard rule pipeline.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewPipeline(cfg Config, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ranking config: %w", err)
	}

	return &Pipeline{
		cfg: cfg,
		rules: []Rule{
			identityDedup{},
			eventDedup{},
			consecutiveDedup{},
			categoryDiversity{cfg: cfg},
			eventBalance{cfg: cfg},
			sponsoredCap{cfg: cfg},
		},
		logger: logger.With().Str("component", "ranking").Logger(),
	}, nil
}

// Config returns the pipeline's rule tuning.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Rank sorts the scored list descending, applies every rule in order, and
// truncates to the requested count. An empty input yields an empty output.
func (p *Pipeline) Rank(ctx context.Context, items []scoring.Scored, count int) []scoring.Scored {
	if len(items) == 0 {
		return []scoring.Scored{}
	}

	// Work on a copy so callers keep their slice intact.
	ranked := make([]scoring.Scored, len(items))
	copy(ranked, items)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	for _, rule := range p.rules {
		before := len(ranked)
		ranked = rule.Apply(ctx, ranked)
		if dropped := before - len(ranked); dropped > 0 {
			p.logger.Debug().
				Str("rule", rule.Name()).
				Int("dropped", dropped).
				Msg("rule dropped candidates")
		}
	}

	if count > 0 && len(ranked) > count {
		ranked = ranked[:count]
	}
	return ranked
}
