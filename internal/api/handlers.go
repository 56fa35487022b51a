// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/perch-labs/perch/internal/candidate"
	"github.com/perch-labs/perch/internal/engine"
	"github.com/perch-labs/perch/internal/store"
)

// RecommendEngine is the engine surface the HTTP layer depends on.
type RecommendEngine interface {
	Recommend(ctx context.Context, req engine.Request) (engine.Response, error)
	Refresh(ctx context.Context, req engine.Request) (engine.Response, error)
	Viewed(ctx context.Context, recordID string) error
	Accepted(ctx context.Context, recordID, scheduleRef string) error
	Declined(ctx context.Context, recordID, reason string) error
	NotInterested(ctx context.Context, recordID string) error
	Block(ctx context.Context, userID, candidateID string) error
	Unblock(ctx context.Context, userID, candidateID string) error
}

// Pinger reports storage liveness for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	engine RecommendEngine
	pinger Pinger
	logger zerolog.Logger
}

// NewHandler creates the endpoint handler. pinger may be nil, in which
// case readiness reports healthy unconditionally.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHandler(eng RecommendEngine, pinger Pinger, logger zerolog.Logger) (*Handler, error) {
	if eng == nil {
		return nil, errors.New("api: engine is required")
	}
	return &Handler{
		engine: eng,
		pinger: pinger,
		logger: logger.With().Str("component", "api").Logger(),
	}, nil
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status    string    `json:"status"`
	Storage   string    `json:"storage"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports service and storage health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	resp := healthResponse{
		Status:    "ok",
		Storage:   "ok",
		Timestamp: time.Now().UTC(),
	}
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.Error().Err(err).Msg("storage health check failed")
			resp.Status = "degraded"
			resp.Storage = "unreachable"
		}
	}
	rw.Success(resp)
}

// Recommendations returns ranked recommendations for a user.
// GET /api/v1/users/{userID}/recommendations?lat=&lng=&radius=&count=
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	req, err := h.recommendRequest(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	resp, err := h.engine.Recommend(r.Context(), req)
	if err != nil {
		h.writeEngineError(rw, err)
		return
	}
	rw.Success(resp)
}

// RefreshRecommendations discards the pending batch and regenerates.
// POST /api/v1/users/{userID}/recommendations/refresh?lat=&lng=&radius=&count=
func (h *Handler) RefreshRecommendations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	req, err := h.recommendRequest(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	resp, err := h.engine.Refresh(r.Context(), req)
	if err != nil {
		h.writeEngineError(rw, err)
		return
	}
	rw.Success(resp)
}

// Viewed marks a recommendation as seen by the user.
// POST /api/v1/recommendations/{id}/viewed
func (h *Handler) Viewed(w http.ResponseWriter, r *http.Request) {
	h.feedback(w, r, func(ctx context.Context, id string) error {
		return h.engine.Viewed(ctx, id)
	})
}

// acceptRequest is the accepted endpoint body.
type acceptRequest struct {
	ScheduleRef string `json:"schedule_ref"`
}

// Accepted marks a recommendation accepted, linking the schedule entity
// the client created from it.
// POST /api/v1/recommendations/{id}/accepted
func (h *Handler) Accepted(w http.ResponseWriter, r *http.Request) {
	var body acceptRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			NewResponseWriter(w, r, h.logger).BadRequest("invalid request body")
			return
		}
	}
	h.feedback(w, r, func(ctx context.Context, id string) error {
		return h.engine.Accepted(ctx, id, body.ScheduleRef)
	})
}

// declineRequest is the declined endpoint body.
type declineRequest struct {
	Reason string `json:"reason"`
}

// Declined marks a recommendation declined.
// POST /api/v1/recommendations/{id}/declined
func (h *Handler) Declined(w http.ResponseWriter, r *http.Request) {
	var body declineRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			NewResponseWriter(w, r, h.logger).BadRequest("invalid request body")
			return
		}
	}
	h.feedback(w, r, func(ctx context.Context, id string) error {
		return h.engine.Declined(ctx, id, body.Reason)
	})
}

// NotInterested marks a recommendation not_interested and blocks the
// candidate from future batches.
// POST /api/v1/recommendations/{id}/not-interested
func (h *Handler) NotInterested(w http.ResponseWriter, r *http.Request) {
	h.feedback(w, r, func(ctx context.Context, id string) error {
		return h.engine.NotInterested(ctx, id)
	})
}

// Block adds a candidate to the user's opt-out list.
// POST /api/v1/users/{userID}/blocks/{candidateID}
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.blockOp(w, r, h.engine.Block)
}

// Unblock removes a candidate from the user's opt-out list.
// DELETE /api/v1/users/{userID}/blocks/{candidateID}
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.blockOp(w, r, h.engine.Unblock)
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	rw := NewResponseWriter(w, r, h.logger)

	id := chi.URLParam(r, "id")
	if id == "" {
		rw.BadRequest("recommendation id required")
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.writeEngineError(rw, err)
		return
	}
	rw.NoContent()
}

func (h *Handler) blockOp(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) error) {
	rw := NewResponseWriter(w, r, h.logger)

	userID := chi.URLParam(r, "userID")
	candidateID := chi.URLParam(r, "candidateID")
	if userID == "" || candidateID == "" {
		rw.BadRequest("user id and candidate id required")
		return
	}
	if err := op(r.Context(), userID, candidateID); err != nil {
		h.writeEngineError(rw, err)
		return
	}
	rw.NoContent()
}

// recommendRequest parses the shared query parameters for the
// recommendation endpoints. lat and lng are required; radius and count
// fall back to engine defaults when omitted.
func (h *Handler) recommendRequest(r *http.Request) (engine.Request, error) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		return engine.Request{}, errors.New("user id required")
	}

	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return engine.Request{}, errors.New("lat is required and must be a number")
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return engine.Request{}, errors.New("lng is required and must be a number")
	}

	req := engine.Request{
		UserID: userID,
		Center: candidate.Coordinates{Lat: lat, Lng: lng},
	}
	if raw := q.Get("radius"); raw != "" {
		radius, err := strconv.Atoi(raw)
		if err != nil || radius < 1 {
			return engine.Request{}, errors.New("radius must be a positive integer")
		}
		req.RadiusMeters = radius
	}
	if raw := q.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 {
			return engine.Request{}, errors.New("count must be a positive integer")
		}
		req.Count = count
	}
	return req, nil
}

// writeEngineError maps engine and store errors to HTTP statuses.
func (h *Handler) writeEngineError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		rw.BadRequest(err.Error())
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound("recommendation not found")
	case errors.Is(err, store.ErrInvalidTransition):
		rw.Conflict(err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		rw.InternalError("internal error")
	}
}
