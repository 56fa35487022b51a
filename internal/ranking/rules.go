// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package ranking applies ordered, deterministic post-scoring business
// rules to the scored candidate list: dedup, diversity enforcement, event
// balancing, and sponsorship caps.
package ranking

import (
	"context"

	"github.com/perch-labs/perch/internal/scoring"
)

// Rule is one deterministic transformation of a scored, descending-sorted
// list. Rules never add candidates; they drop or reorder.
type Rule interface {
	// Name returns the rule identifier (e.g., "identity_dedup").
	Name() string

	// Apply transforms the list. The input is sorted descending by final
	// score on the first rule; later rules see their predecessors' output.
	Apply(ctx context.Context, items []scoring.Scored) []scoring.Scored
}

// identityDedup drops candidates whose ID already appeared. The input is
// score-sorted, so the first occurrence is the highest-scored copy.
type identityDedup struct{}

func (identityDedup) Name() string { return "identity_dedup" }

func (identityDedup) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, item := range items {
		if _, dup := seen[item.Candidate.ID]; dup {
			continue
		}
		seen[item.Candidate.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

// eventDedup collapses near-duplicate listings of the same event from
// different feeds, keyed on (normalized name, event date). The
// higher-scored copy wins.
type eventDedup struct{}

func (eventDedup) Name() string { return "event_dedup" }

func (eventDedup) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	seen := make(map[string]struct{})
	out := items[:0:0]
	for _, item := range items {
		key := item.Candidate.EventKey()
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, item)
	}
	return out
}

// consecutiveDedup skips any candidate whose ID matches the immediately
// preceding kept candidate. A guard behind identityDedup for lists
// assembled from multiple rule passes.
type consecutiveDedup struct{}

func (consecutiveDedup) Name() string { return "consecutive_dedup" }

func (consecutiveDedup) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	out := items[:0:0]
	prevID := ""
	for _, item := range items {
		if item.Candidate.ID == prevID {
			continue
		}
		prevID = item.Candidate.ID
		out = append(out, item)
	}
	return out
}

// categoryDiversity enforces a minimum number of distinct categories in the
// top-N by swapping overrepresented entries with fresh-category entries
// from the remainder of the diversity window. At most one swap per
// overrepresented category per pass.
type categoryDiversity struct {
	cfg Config
}

func (categoryDiversity) Name() string { return "category_diversity" }

func (r categoryDiversity) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	topN := min(r.cfg.TopN, len(items))
	window := min(r.cfg.DiversityWindow, len(items))
	if topN < 2 || window <= topN {
		return items
	}

	counts := make(map[string]int, topN)
	for _, item := range items[:topN] {
		counts[item.Category]++
	}

	// Each pass performs at most one swap per overrepresented category;
	// passes repeat until the minimum is met or a pass makes no progress.
	for len(counts) < r.cfg.MinDistinctCategories {
		if !r.diversityPass(items, topN, window, counts) {
			break
		}
	}
	return items
}

// diversityPass runs one swap round. Returns whether any swap happened.
func (r categoryDiversity) diversityPass(items []scoring.Scored, topN, window int, counts map[string]int) bool {
	swapped := make(map[string]struct{})
	progress := false
	for {
		from := r.lowestOverrepresented(items[:topN], counts, swapped)
		if from < 0 {
			break
		}
		to := r.bestNewCategory(items, topN, window, counts)
		if to < 0 {
			break
		}

		fromCat := items[from].Category
		delete(counts, fromCat)
		if n := countCategory(items[:topN], fromCat) - 1; n > 0 {
			counts[fromCat] = n
		}
		counts[items[to].Category]++
		items[from], items[to] = items[to], items[from]
		swapped[fromCat] = struct{}{}
		progress = true

		if len(counts) >= r.cfg.MinDistinctCategories {
			break
		}
	}
	return progress
}

func countCategory(items []scoring.Scored, category string) int {
	n := 0
	for i := range items {
		if items[i].Category == category {
			n++
		}
	}
	return n
}

// lowestOverrepresented finds the lowest-scored top-N entry whose category
// appears more than once and has not been swapped this pass.
func (categoryDiversity) lowestOverrepresented(top []scoring.Scored, counts map[string]int, swapped map[string]struct{}) int {
	for i := len(top) - 1; i >= 0; i-- {
		cat := top[i].Category
		if counts[cat] < 2 {
			continue
		}
		if _, done := swapped[cat]; done {
			continue
		}
		return i
	}
	return -1
}

// bestNewCategory finds the highest-scored window-remainder entry whose
// category is absent from the top-N. The remainder is score-sorted, so the
// first hit wins.
func (categoryDiversity) bestNewCategory(items []scoring.Scored, topN, window int, counts map[string]int) int {
	for i := topN; i < window; i++ {
		if counts[items[i].Category] == 0 {
			return i
		}
	}
	return -1
}

// eventBalance caps time-bound candidates in the top-N and guarantees a
// minimum number appear within the diversity window when any exist.
type eventBalance struct {
	cfg Config
}

func (eventBalance) Name() string { return "event_balance" }

func (r eventBalance) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	topN := min(r.cfg.TopN, len(items))
	window := min(r.cfg.DiversityWindow, len(items))
	if topN < 1 {
		return items
	}

	items = r.demoteExcessEvents(items, topN)
	items = r.promoteMissingEvents(items, window)
	return items
}

// demoteExcessEvents swaps lowest-scored excess events out of the top-N
// with the highest-scored non-events below it.
func (r eventBalance) demoteExcessEvents(items []scoring.Scored, topN int) []scoring.Scored {
	excess := countEvents(items[:topN]) - r.cfg.MaxEventsTopN
	for excess > 0 {
		from := lastIndex(items[:topN], func(s *scoring.Scored) bool { return s.Candidate.IsEvent() })
		to := firstIndexFrom(items, topN, func(s *scoring.Scored) bool { return !s.Candidate.IsEvent() })
		if from < 0 || to < 0 {
			break
		}
		items[from], items[to] = items[to], items[from]
		excess--
	}
	return items
}

// promoteMissingEvents pulls the highest-scored event from beyond the
// window in when the window holds fewer than the guaranteed minimum.
func (r eventBalance) promoteMissingEvents(items []scoring.Scored, window int) []scoring.Scored {
	missing := r.cfg.MinEventsWindow - countEvents(items[:window])
	for missing > 0 {
		from := firstIndexFrom(items, window, func(s *scoring.Scored) bool { return s.Candidate.IsEvent() })
		to := lastIndex(items[:window], func(s *scoring.Scored) bool { return !s.Candidate.IsEvent() })
		if from < 0 || to < 0 {
			break
		}
		items[to], items[from] = items[from], items[to]
		missing--
	}
	return items
}

// sponsoredCap limits paid placements in the leading slice, swapping
// excess sponsored entries down with the best organic entries below.
type sponsoredCap struct {
	cfg Config
}

func (sponsoredCap) Name() string { return "sponsored_cap" }

func (r sponsoredCap) Apply(_ context.Context, items []scoring.Scored) []scoring.Scored {
	window := min(r.cfg.SponsoredWindow, len(items))

	excess := countSponsored(items[:window]) - r.cfg.MaxSponsoredWindow
	for excess > 0 {
		from := lastIndex(items[:window], func(s *scoring.Scored) bool { return s.Candidate.Sponsored })
		to := firstIndexFrom(items, window, func(s *scoring.Scored) bool { return !s.Candidate.Sponsored })
		if from < 0 || to < 0 {
			break
		}
		items[from], items[to] = items[to], items[from]
		excess--
	}
	return items
}

func countEvents(items []scoring.Scored) int {
	n := 0
	for i := range items {
		if items[i].Candidate.IsEvent() {
			n++
		}
	}
	return n
}

func countSponsored(items []scoring.Scored) int {
	n := 0
	for i := range items {
		if items[i].Candidate.Sponsored {
			n++
		}
	}
	return n
}

// lastIndex returns the highest index in items matching pred, or -1.
func lastIndex(items []scoring.Scored, pred func(*scoring.Scored) bool) int {
	for i := len(items) - 1; i >= 0; i-- {
		if pred(&items[i]) {
			return i
		}
	}
	return -1
}

// firstIndexFrom returns the first index >= start matching pred, or -1.
func firstIndexFrom(items []scoring.Scored, start int, pred func(*scoring.Scored) bool) int {
	for i := start; i < len(items); i++ {
		if pred(&items[i]) {
			return i
		}
	}
	return -1
}
