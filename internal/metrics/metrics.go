// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Package metrics exposes Prometheus instrumentation for the recommendation
// pipeline: source adapter health, aggregation behavior, scoring/ranking
// latency, store operations, and the HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source Adapter Metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of candidate source requests",
		},
		[]string{"source", "result"}, // result: "success", "failure", "rejected"
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Duration of candidate source requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SourceCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_candidates_returned",
			Help:    "Number of candidates returned per source request",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
		[]string{"source"},
	)

	SourceDroppedCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_candidates_dropped_total",
			Help: "Candidates dropped for missing required fields",
		},
		[]string{"source", "reason"}, // reason: "missing_coordinates", "missing_id"
	)

	// Circuit Breaker Metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_breaker_state",
			Help: "Source circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"source", "from_state", "to_state"},
	)

	// Aggregation Metrics
	AggregationRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_rounds",
			Help:    "Number of query rounds per aggregation, including radius expansions",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	AggregationCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregation_candidates_merged",
			Help:    "Unique candidates merged per aggregation",
			Buckets: []float64{0, 5, 10, 20, 30, 50, 100, 200},
		},
	)

	// Pipeline Metrics
	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommendation_duration_seconds",
			Help:    "End-to-end recommendation pipeline duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"cache"}, // "hit", "miss"
	)

	RecommendationsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendations_served_total",
			Help: "Total number of recommendation items returned to callers",
		},
	)

	RecommendationsEmpty = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommendations_empty_total",
			Help: "Recommendation requests that produced an empty list",
		},
	)

	// Geocode Enrichment Metrics
	GeocodeLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocode_lookups_total",
			Help: "Total number of geocode resolutions by outcome",
		},
		[]string{"outcome"}, // "cache", "primary", "secondary", "failed"
	)

	// Store Metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Duration of recommendation store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Total number of recommendation store errors",
		},
		[]string{"operation"},
	)

	StoreExpiredRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "store_records_expired_total",
			Help: "Recommendations transitioned to expired by the sweeper",
		},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "response", "geocode"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordSourceRequest records one source adapter call.
func RecordSourceRequest(source, result string, duration time.Duration, returned int) {
	SourceRequests.WithLabelValues(source, result).Inc()
	SourceRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
	if result == "success" {
		SourceCandidates.WithLabelValues(source).Observe(float64(returned))
	}
}

// RecordAggregation records one completed aggregation.
func RecordAggregation(rounds, merged int) {
	AggregationRounds.Observe(float64(rounds))
	AggregationCandidates.Observe(float64(merged))
}

// RecordRecommendation records one pipeline run.
func RecordRecommendation(cacheHit bool, duration time.Duration, served int) {
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	RecommendationDuration.WithLabelValues(label).Observe(duration.Seconds())
	RecommendationsServed.Add(float64(served))
	if served == 0 {
		RecommendationsEmpty.Inc()
	}
}

// RecordStoreOp records one store operation.
func RecordStoreOp(operation string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
