// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package candidate defines the source-agnostic candidate model and the
// contract every external search provider adapter must satisfy.
//
// Provider payloads are loosely typed and differ per provider; adapters
// convert them into the single Candidate shape at the package boundary.
// Raw provider payloads never travel past an adapter.
package candidate

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
)

// ErrMisconfigured indicates an adapter cannot operate due to missing
// configuration (e.g., absent API credential). Adapters report this via
// Available() rather than failing searches.
var ErrMisconfigured = errors.New("source adapter misconfigured")

// PriceLevel is a coarse price classification (0 = free, 4 = very expensive).
type PriceLevel int

// PriceUnknown marks candidates whose provider reported no price data.
const PriceUnknown PriceLevel = -1

// Known returns whether the price level carries real data.
func (p PriceLevel) Known() bool {
	return p >= 0 && p <= 4
}

// OpenState describes whether a venue is currently open.
type OpenState int

const (
	// OpenUnknown indicates the provider reported no opening data.
	OpenUnknown OpenState = iota
	// OpenNow indicates the venue is currently open.
	OpenNow
	// ClosedNow indicates the venue is currently closed.
	ClosedNow
)

// String returns a human-readable open state.
func (s OpenState) String() string {
	switch s {
	case OpenNow:
		return "open"
	case ClosedNow:
		return "closed"
	default:
		return "unknown"
	}
}

// Coordinates is a WGS84 lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsZero reports whether the coordinates are unset.
// The null island origin is not a valid venue location for our purposes.
func (c Coordinates) IsZero() bool {
	return c.Lat == 0 && c.Lng == 0
}

// Valid reports whether the coordinates are set and inside WGS84 range.
func (c Coordinates) Valid() bool {
	return !c.IsZero() &&
		c.Lat >= -90 && c.Lat <= 90 &&
		c.Lng >= -180 && c.Lng <= 180
}

// earthRadiusKm is the mean Earth radius used for haversine distance.
const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance to other in kilometers.
func (c Coordinates) DistanceKm(other Coordinates) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - c.Lat) * math.Pi / 180
	dLng := (other.Lng - c.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// EventWindow is the time span of a time-bound candidate (concert, market,
// exhibition). Venues without a schedule have no window.
type EventWindow struct {
	// Start is when the event begins.
	Start time.Time `json:"start"`

	// End is when the event ends. Zero if the provider reported none.
	End time.Time `json:"end,omitempty"`
}

// Candidate is the unified, source-agnostic representation of a place or
// event returned by any source adapter. Candidates are ephemeral: rebuilt
// every aggregation cycle and never persisted directly.
type Candidate struct {
	// ID uniquely identifies the candidate across sources. Adapters prefix
	// provider identifiers with their source name to avoid collisions.
	ID string `json:"id"`

	// Source is the adapter that produced this candidate.
	Source string `json:"source"`

	// Name is the display name of the venue or event.
	Name string `json:"name"`

	// Address is the human-readable street address, if known.
	Address string `json:"address,omitempty"`

	// Coordinates is the geographic location.
	Coordinates Coordinates `json:"coordinates"`

	// Categories are normalized category tags (e.g., "coffee", "live_music").
	Categories []string `json:"categories,omitempty"`

	// Rating is the provider's aggregate rating (0-5 scale, 0 = unrated).
	Rating float64 `json:"rating,omitempty"`

	// RatingCount is the number of reviews behind Rating.
	RatingCount int `json:"rating_count,omitempty"`

	// Price is the coarse price level, PriceUnknown if unreported.
	Price PriceLevel `json:"price"`

	// Photos holds provider photo references.
	Photos []string `json:"photos,omitempty"`

	// Open is the current open/closed state.
	Open OpenState `json:"open"`

	// Event is the schedule window for time-bound candidates, nil for venues.
	Event *EventWindow `json:"event,omitempty"`

	// Sponsored marks paid-placement candidates eligible for a capped boost.
	Sponsored bool `json:"sponsored,omitempty"`
}

// IsEvent reports whether the candidate is time-bound.
func (c *Candidate) IsEvent() bool {
	return c.Event != nil
}

// HasCoordinates reports whether the candidate carries a usable location.
func (c *Candidate) HasCoordinates() bool {
	return !c.Coordinates.IsZero()
}

// PrimaryCategory returns the first category tag, or "" if none.
func (c *Candidate) PrimaryCategory() string {
	if len(c.Categories) == 0 {
		return ""
	}
	return c.Categories[0]
}

// NormalizedName lowercases the name and strips everything but letters and
// digits. Used to detect the same event listed by different providers.
func (c *Candidate) NormalizedName() string {
	var b strings.Builder
	b.Grow(len(c.Name))
	for _, r := range strings.ToLower(c.Name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EventKey returns the dedup key for time-bound candidates: normalized name
// plus event date. Returns "" for non-event candidates.
func (c *Candidate) EventKey() string {
	if c.Event == nil {
		return ""
	}
	return c.NormalizedName() + "|" + c.Event.Start.Format("2006-01-02")
}

// Query describes one geographic search issued to every enabled adapter.
type Query struct {
	// Center is the geographic center of the search.
	Center Coordinates `json:"center"`

	// RadiusMeters is the search radius.
	RadiusMeters int `json:"radius_meters"`

	// InterestHints are the user's interests, used by adapters to decide
	// relevance and narrow provider-side category filters.
	InterestHints []string `json:"interest_hints,omitempty"`

	// Limit caps the number of candidates a single adapter returns.
	Limit int `json:"limit"`
}

// Source is the contract every external search provider adapter implements.
//
// Search must never fail for "no results" (return an empty slice) and should
// fail only for transport errors; the aggregator logs and degrades on any
// adapter error regardless.
type Source interface {
	// Name returns the adapter identifier (e.g., "places", "events").
	Name() string

	// Available reports whether the adapter is configured and its upstream
	// is currently accepting requests.
	Available() bool

	// Search returns unified candidates for the query.
	Search(ctx context.Context, q Query) ([]Candidate, error)
}
