// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package api provides the HTTP surface: violation listing and
// acknowledgement, rule inspection, live session views, snapshot ingest for
// push-style integrations, and the WebSocket upgrade for real-time updates.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/streamwarden/internal/engine"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/tracker"
	"github.com/tomtom215/streamwarden/internal/violations"
	ws "github.com/tomtom215/streamwarden/internal/websocket"
)

const maxIngestBody = 1 << 20 // 1 MiB

// RuleSource is the rule inspection surface the API exposes.
type RuleSource interface {
	Rules() []*rules.Rule
	SetEnabled(id string, enabled bool) bool
}

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	store    violations.Store
	source   RuleSource
	tracker  *tracker.Tracker
	engine   *engine.Engine
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a handler. engine and hub may be nil in reduced
// deployments; the affected endpoints degrade to 503.
func NewHandler(store violations.Store, source RuleSource, tr *tracker.Tracker, eng *engine.Engine, hub *ws.Hub) *Handler {
	return &Handler{
		store:   store,
		source:  source,
		tracker: tr,
		engine:  eng,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]any{
		"status": "ok",
	}, &APIMeta{Timestamp: time.Now()})
}

// Violations lists violations with optional filters.
//
// Query parameters: server_id, user_id, rule_id, severity, acknowledged
// (true/false), since (RFC 3339), limit.
func (h *Handler) Violations(w http.ResponseWriter, r *http.Request) {
	f, err := parseViolationFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeValidationFailed, err.Error(), err)
		return
	}

	start := time.Now()
	list, err := h.store.List(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list violations", err)
		return
	}

	respondSuccess(w, http.StatusOK, list, &APIMeta{
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Count:      len(list),
	})
}

// Violation returns one violation by ID.
func (h *Handler) Violation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	v, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, violations.ErrNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Violation not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to load violation", err)
		return
	}

	respondSuccess(w, http.StatusOK, v, &APIMeta{Timestamp: time.Now()})
}

// acknowledgeRequest is the body of an acknowledge call.
type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// Acknowledge marks a violation as handled. Acknowledging twice is a
// conflict, not an idempotent no-op, so a second operator sees that someone
// already claimed it.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req acknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body", err)
		return
	}
	if req.AcknowledgedBy == "" {
		respondError(w, http.StatusBadRequest, ErrCodeValidationFailed, "acknowledged_by is required", nil)
		return
	}

	v, err := h.store.Acknowledge(r.Context(), id, req.AcknowledgedBy)
	if err != nil {
		switch {
		case errors.Is(err, violations.ErrNotFound):
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Violation not found", nil)
		case errors.Is(err, violations.ErrAlreadyAcknowledged):
			respondError(w, http.StatusConflict, ErrCodeConflict, "Violation already acknowledged", nil)
		default:
			respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to acknowledge violation", err)
		}
		return
	}

	respondSuccess(w, http.StatusOK, v, &APIMeta{Timestamp: time.Now()})
}

// Rules lists every configured rule, enabled or not.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	list := h.source.Rules()
	respondSuccess(w, http.StatusOK, list, &APIMeta{
		Timestamp: time.Now(),
		Count:     len(list),
	})
}

// ruleToggleRequest is the body of a rule enable/disable call.
type ruleToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleRule enables or disables a rule at runtime.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ruleToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body", err)
		return
	}

	if !h.source.SetEnabled(id, req.Enabled) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Rule not found", nil)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("rule", id).
		Bool("enabled", req.Enabled).
		Msg("rule toggled")

	respondSuccess(w, http.StatusOK, map[string]any{
		"id":      id,
		"enabled": req.Enabled,
	}, &APIMeta{Timestamp: time.Now()})
}

// Sessions lists the live sessions currently tracked across all servers.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	list := h.tracker.Sessions()
	if list == nil {
		list = []*models.Session{}
	}
	respondSuccess(w, http.StatusOK, list, &APIMeta{
		Timestamp: time.Now(),
		Count:     len(list),
	})
}

// ingestResponse summarizes one ingest call.
type ingestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Events   []string `json:"events,omitempty"`
}

// Ingest accepts a pushed snapshot of session polls, for integrations that
// forward webhook events instead of being polled. Each poll runs through the
// same tracker decision and evaluation cycle as a polled snapshot; invalid
// polls are counted, not fatal.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Evaluation engine unavailable", nil)
		return
	}

	var polls []tracker.Poll
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err := dec.Decode(&polls); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body", err)
		return
	}

	resp := ingestResponse{}
	for _, poll := range polls {
		event, err := h.tracker.OnPoll(r.Context(), poll)
		if err != nil {
			resp.Rejected++
			continue
		}
		resp.Accepted++
		resp.Events = append(resp.Events, string(event.Type))

		if h.hub != nil {
			h.hub.BroadcastJSON(ws.MessageTypeSessionEvent, event)
		}
		if _, err := h.engine.HandleEvent(r.Context(), event); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).
				Str("session_key", poll.SessionKey).
				Msg("evaluation failed for ingested poll")
		}
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 && resp.Rejected > 0 {
		status = http.StatusBadRequest
	}
	respondSuccess(w, status, resp, &APIMeta{Timestamp: time.Now()})
}

// WebSocket upgrades the connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "WebSocket service unavailable", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// parseViolationFilter builds a store filter from query parameters.
func parseViolationFilter(r *http.Request) (violations.Filter, error) {
	q := r.URL.Query()
	f := violations.Filter{
		ServerID: q.Get("server_id"),
		RuleID:   q.Get("rule_id"),
		Severity: models.Severity(q.Get("severity")),
	}

	if s := q.Get("user_id"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return f, errors.New("user_id must be an integer")
		}
		f.UserID = n
	}
	if s := q.Get("acknowledged"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, errors.New("acknowledged must be true or false")
		}
		f.Acknowledged = &b
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, errors.New("since must be an RFC 3339 timestamp")
		}
		f.Since = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if f.Severity != "" && !models.ValidSeverity(f.Severity) {
		return f, errors.New("severity must be one of info, warning, critical")
	}

	return f, nil
}
