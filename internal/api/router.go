// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP handler tree.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates the router.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: mw}
}

// Setup configures all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health gets its own permissive rate limit so monitoring never
	// competes with API traffic.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
	})

	// Per-user recommendation endpoints.
	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/recommendations", router.handler.Recommendations)
		r.Post("/recommendations/refresh", router.handler.RefreshRecommendations)

		r.Post("/blocks/{candidateID}", router.handler.Block)
		r.Delete("/blocks/{candidateID}", router.handler.Unblock)
	})

	// Per-record feedback endpoints.
	r.Route("/api/v1/recommendations/{id}", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Post("/viewed", router.handler.Viewed)
		r.Post("/accepted", router.handler.Accepted)
		r.Post("/declined", router.handler.Declined)
		r.Post("/not-interested", router.handler.NotInterested)
	})

	// Observability.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
