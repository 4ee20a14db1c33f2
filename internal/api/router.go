// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires handlers into a Chi mux behind the shared middleware stack.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router.
func NewRouter(handler *Handler, middleware *Middleware) *Router {
	if middleware == nil {
		middleware = NewMiddleware(nil)
	}
	return &Router{
		handler:    handler,
		middleware: middleware,
	}
}

// Setup builds the HTTP handler tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	r.Get("/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)

		r.Get("/violations", router.handler.Violations)
		r.Get("/violations/{id}", router.handler.Violation)
		r.Post("/violations/{id}/ack", router.handler.Acknowledge)

		r.Get("/rules", router.handler.Rules)
		r.Post("/rules/{id}/toggle", router.handler.ToggleRule)

		r.Get("/sessions", router.handler.Sessions)
		r.Post("/ingest", router.handler.Ingest)

		r.Get("/ws", router.handler.WebSocket)
	})

	return r
}
