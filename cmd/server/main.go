// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

// Perch server: aggregates nearby venue and event candidates from external
// providers, scores them against the user's profile, applies business
// ranking rules, and persists the served batch for lifecycle tracking.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/aggregate"
	"github.com/perch-labs/perch/internal/api"
	"github.com/perch-labs/perch/internal/cache"
	"github.com/perch-labs/perch/internal/config"
	"github.com/perch-labs/perch/internal/engine"
	"github.com/perch-labs/perch/internal/geocode"
	"github.com/perch-labs/perch/internal/logging"
	"github.com/perch-labs/perch/internal/ranking"
	"github.com/perch-labs/perch/internal/scoring"
	"github.com/perch-labs/perch/internal/sources"
	"github.com/perch-labs/perch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Logging.ToLogging())
	logger := logging.Logger()
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("starting perch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing store")
		}
	}()

	srcs, err := sources.Build(cfg.Sources, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build source adapters")
	}
	if len(srcs) == 0 {
		logger.Warn().Msg("no source adapters enabled, recommendations will be empty")
	}

	aggregator, err := aggregate.New(cfg.Aggregate, srcs, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create aggregator")
	}

	geocodeCache := cache.New(cfg.Geocode.CacheTTL)
	defer geocodeCache.Stop()

	// The geocoder chain is a deployment concern; without providers the
	// resolver serves cached hits only and Enrich drops coordinate-less
	// candidates.
	resolver, err := geocode.NewResolver(cfg.Geocode, nil, geocodeCache, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create geocode resolver")
	}

	scorer, err := scoring.New(cfg.Scoring, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scorer")
	}

	pipeline, err := ranking.NewPipeline(cfg.Ranking, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ranking pipeline")
	}

	responseCache := cache.New(cfg.Engine.ResponseTTL)
	defer responseCache.Stop()

	eng, err := engine.New(cfg.Engine, aggregator, resolver, scorer, pipeline, st,
		responseCache, engine.Options{}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create engine")
	}

	handler, err := api.NewHandler(eng, st, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create api handler")
	}

	router := api.NewRouter(handler, api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins:      cfg.Server.CORSOrigins,
		CORSAllowedMethods:      []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders:      []string{"Content-Type", "Authorization"},
		CORSMaxAge:              86400,
		RateLimitRequests:       cfg.Server.RateLimitRequests,
		RateLimitHealthRequests: cfg.Server.RateLimitRequests * 10,
		RateLimitWindow:         cfg.Server.RateLimitWindow,
		RateLimitDisabled:       cfg.Server.RateLimitDisabled,
	}))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go sweepExpired(ctx, st, cfg.Server.SweepInterval, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("perch stopped gracefully")
}

// sweepExpired periodically moves pending and viewed records past their
// expiration into the expired state.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func sweepExpired(ctx context.Context, st *store.Store, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := st.ExpireStale(ctx); err != nil {
				logger.Error().Err(err).Msg("expired record sweep failed")
			}
		}
	}
}
