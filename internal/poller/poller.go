// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package poller drives the ingest loop: it snapshots each media server's
// active sessions on an interval, feeds them through the tracker, and hands
// the resulting session events to the detection engine.
package poller

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/tracker"
)

// SessionSource lists a media server's currently active sessions. One
// implementation exists per server kind.
type SessionSource interface {
	// ServerID identifies the server this source polls.
	ServerID() string

	// ActiveSessions returns a full snapshot of the server's live sessions.
	// A partial answer must be an error: sweep logic treats absence from the
	// snapshot as an end signal.
	ActiveSessions(ctx context.Context) ([]tracker.Poll, error)
}

// EventHandler consumes the session events a poll cycle produces.
// Satisfied by the engine.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *tracker.SessionEvent) error
}

// Config controls poll pacing.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration

	// RatePerSecond caps outbound requests across all sources. Zero
	// disables the cap.
	RatePerSecond float64
}

// Poller polls a set of sources against one tracker.
type Poller struct {
	sources []SessionSource
	tracker *tracker.Tracker
	handler EventHandler
	limiter *rate.Limiter

	interval time.Duration
	timeout  time.Duration
}

// New creates a poller.
func New(cfg Config, tr *tracker.Tracker, handler EventHandler, sources ...SessionSource) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Poller{
		sources:  sources,
		tracker:  tr,
		handler:  handler,
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		timeout:  timeout,
	}
}

// Serve runs the poll loop until the context ends. Designed for suture
// supervision: it returns the context error on shutdown and never panics
// out of the loop.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", p.interval).
		Int("sources", len(p.sources)).
		Msg("session poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// First cycle immediately; waiting a full interval on startup would
	// leave the dashboard empty for no reason.
	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("session poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, source := range p.sources {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		p.pollOne(ctx, source)
	}

	// TTL backstop for servers that vanished between cycles.
	for _, event := range p.tracker.EvictExpired() {
		p.dispatch(ctx, event)
	}
}

// pollOne runs one server's cycle: snapshot, per-session tracking decision,
// then the absence sweep. A failed snapshot skips the sweep entirely so a
// flapping server cannot mass-stop its sessions.
func (p *Poller) pollOne(ctx context.Context, source SessionSource) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	serverID := source.ServerID()
	snapshot, err := source.ActiveSessions(pollCtx)
	if err != nil {
		metrics.PollErrors.WithLabelValues(serverID).Inc()
		logging.Warn().Err(err).Str("server", serverID).Msg("session snapshot failed")
		return
	}

	seen := make(map[string]struct{}, len(snapshot))
	for _, poll := range snapshot {
		seen[poll.SessionKey] = struct{}{}

		event, err := p.tracker.OnPoll(ctx, poll)
		if err != nil {
			logging.Warn().Err(err).Str("server", serverID).Msg("poll rejected")
			continue
		}
		p.dispatch(ctx, event)
	}

	for _, event := range p.tracker.SweepAbsent(serverID, seen) {
		p.dispatch(ctx, event)
	}

	metrics.ActiveSessions.WithLabelValues(serverID).Set(float64(len(snapshot)))
}

func (p *Poller) dispatch(ctx context.Context, event *tracker.SessionEvent) {
	if p.handler == nil {
		return
	}
	if err := p.handler.HandleEvent(ctx, event); err != nil {
		logging.Error().
			Err(err).
			Str("session", event.Session.ID).
			Str("event", string(event.Type)).
			Msg("evaluation cycle failed")
	}
}
