// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package main is the entry point for the Streamwarden server.
//
// Streamwarden watches playback sessions on Plex, Jellyfin, Emby, and
// Tautulli-fronted servers, tracks them as logical sessions, and evaluates
// account-sharing and abuse rules against every observation.
//
// The server initializes components in the following order:
//
//  1. Configuration: koanf v2 layering of defaults, config file, environment
//  2. Tracker: logical session identity with TTL-based eviction
//  3. Media server clients: one circuit-broken API client per configured server
//  4. Rule source: the classic detection templates enabled in configuration
//  5. Notification channels: webhook and Discord, each behind a circuit breaker
//  6. WebSocket hub: real-time updates for dashboards
//  7. Supervisor tree: poller, hub, and HTTP server under suture supervision
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the poller stops, WebSocket
// clients are closed, and the HTTP server drains in-flight requests with a
// bounded timeout.
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

	"github.com/tomtom215/streamwarden/internal/api"
	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/engine"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/mediaserver"
	"github.com/tomtom215/streamwarden/internal/notify"
	"github.com/tomtom215/streamwarden/internal/poller"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/supervisor"
	"github.com/tomtom215/streamwarden/internal/tracker"
	"github.com/tomtom215/streamwarden/internal/violations"
	ws "github.com/tomtom215/streamwarden/internal/websocket"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Int("servers", len(cfg.Servers)).
		Msg("Starting Streamwarden")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session tracking.
	tr := tracker.New(tracker.Config{
		SessionTTL:     cfg.Tracker.SessionTTL,
		HistoryPerUser: cfg.Tracker.HistoryPerUser,
	})

	// One API client per configured media server.
	var clients []*mediaserver.Client
	for _, serverCfg := range cfg.Servers {
		client := mediaserver.NewClient(serverCfg)
		clients = append(clients, client)
		logging.Info().
			Str("server", serverCfg.ID).
			Str("kind", serverCfg.Kind).
			Str("url", serverCfg.URL).
			Msg("Media server configured")
	}
	fleet := mediaserver.NewFleet(clients...)

	// Detection rules from configuration.
	source, err := rules.NewStaticSource(buildRules(cfg.Detection)...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid detection rule configuration")
	}
	for _, rule := range source.Rules() {
		logging.Info().
			Str("rule", rule.ID).
			Bool("enabled", rule.Enabled).
			Msg("Detection rule loaded")
	}

	// Notification channels, each behind its own circuit breaker.
	dispatcher := buildDispatcher(cfg.Notify)

	// Violation storage and the evaluation engine.
	store := violations.NewMemoryStore()
	sink := engine.NewSink(store, dispatcher, fleet)

	provider := engine.NewTrackerProvider(tr)
	for i, client := range clients {
		provider.RegisterServer(client.Server(cfg.Servers[i].Name))
	}

	hub := ws.NewHub()
	eng := engine.New(source, provider, sink, &hubPublisher{hub: hub})

	// The poll loop feeds every observed session through the tracker and
	// the engine.
	sources := make([]poller.SessionSource, len(clients))
	for i, client := range clients {
		sources[i] = client
	}
	poll := poller.New(poller.Config{
		Interval:      cfg.Poll.Interval,
		Timeout:       cfg.Poll.Timeout,
		RatePerSecond: cfg.Poll.RatePerSecond,
	}, tr, &evaluationHandler{engine: eng, hub: hub}, sources...)

	// HTTP surface.
	handler := api.NewHandler(store, source, tr, eng, hub)
	router := api.NewRouter(handler, api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervision tree: tracking, messaging, and API layers restart
	// independently.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(supervisor.NewWebSocketHubService(hub))
	if len(clients) > 0 {
		tree.AddTrackingService(supervisor.NewNamedService(poll, "session-poller"))
	} else {
		logging.Warn().Msg("No media servers configured; running with ingest endpoint only")
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Stopped gracefully")
}

// buildRules compiles the enabled classic templates from configuration.
// Zero-valued thresholds fall back to each template's default.
func buildRules(cfg config.DetectionConfig) []*rules.Rule {
	var set []*rules.Rule

	if cfg.ImpossibleTravel.Enabled {
		speed := cfg.ImpossibleTravel.MaxSpeedKmh
		if speed <= 0 {
			speed = rules.DefaultMaxTravelSpeedKmH
		}
		set = append(set, rules.NewImpossibleTravelTemplate(speed))
	}

	if cfg.SimultaneousLocations.Enabled {
		distance := cfg.SimultaneousLocations.MinDistanceKm
		if distance <= 0 {
			distance = rules.DefaultMinSimultaneousDistanceKm
		}
		set = append(set, rules.NewSimultaneousLocationsTemplate(distance))
	}

	if cfg.DeviceVelocity.Enabled {
		maxIPs := cfg.DeviceVelocity.MaxUniqueIPs
		if maxIPs <= 0 {
			maxIPs = rules.DefaultMaxUniqueIPs
		}
		window := int(cfg.DeviceVelocity.WindowHours)
		if window <= 0 {
			window = rules.DefaultVelocityWindowHours
		}
		set = append(set, rules.NewDeviceVelocityTemplate(maxIPs, window))
	}

	if cfg.ConcurrentStreams.Enabled {
		limit := cfg.ConcurrentStreams.MaxStreams
		if limit <= 0 {
			limit = rules.DefaultMaxConcurrentStreams
		}
		rule := rules.NewConcurrentStreamsTemplate(limit)
		if cfg.ConcurrentStreams.KillOnMatch {
			rule.Actions.Actions = append(rule.Actions.Actions, rules.Action{
				Type:   rules.ActionKillSession,
				Reason: "Stream limit exceeded",
			})
		}
		set = append(set, rule)
	}

	if cfg.GeoRestriction.Enabled {
		mode := rules.GeoRestrictionMode(cfg.GeoRestriction.Mode)
		if mode == "" {
			mode = rules.GeoModeBlocklist
		}
		set = append(set, rules.NewGeoRestrictionTemplate(mode, cfg.GeoRestriction.Countries))
	}

	if cfg.AccountInactivity.Enabled {
		threshold := cfg.AccountInactivity.Threshold
		if threshold <= 0 {
			threshold = rules.DefaultInactivityDays
		}
		unit := rules.InactivityUnit(cfg.AccountInactivity.Unit)
		if unit == "" {
			unit = rules.UnitDays
		}
		set = append(set, rules.NewAccountInactivityTemplate(threshold, unit))
	}

	return set
}

// buildDispatcher wires the configured notification channels, each wrapped
// in a circuit breaker so a dead endpoint cannot stall evaluation cycles.
func buildDispatcher(cfg config.NotifyConfig) *notify.Dispatcher {
	dispatcher := notify.NewDispatcher()

	if cfg.Webhook.Enabled {
		webhook := notify.NewWebhookNotifier(notify.WebhookConfig{
			WebhookURL:  cfg.Webhook.URL,
			Headers:     cfg.Webhook.Headers,
			Enabled:     true,
			RateLimitMs: cfg.Webhook.RateLimitMs,
		})
		dispatcher.Register(notify.NewBreakerNotifier(webhook))
		logging.Info().Msg("Webhook notifications enabled")
	}

	if cfg.Discord.Enabled {
		discord := notify.NewDiscordNotifier(notify.DiscordConfig{
			WebhookURL:  cfg.Discord.WebhookURL,
			Enabled:     true,
			RateLimitMs: cfg.Discord.RateLimitMs,
		})
		dispatcher.Register(notify.NewBreakerNotifier(discord))
		logging.Info().Msg("Discord notifications enabled")
	}

	return dispatcher
}

// hubPublisher pushes evaluation outcomes to WebSocket subscribers.
type hubPublisher struct {
	hub *ws.Hub
}

func (p *hubPublisher) PublishOutcome(o *engine.Outcome) {
	p.hub.BroadcastJSON(ws.MessageTypeOutcome, o)
}

// evaluationHandler is the poller's event handler: every session event is
// broadcast to subscribers, then evaluated.
type evaluationHandler struct {
	engine *engine.Engine
	hub    *ws.Hub
}

func (h *evaluationHandler) HandleEvent(ctx context.Context, event *tracker.SessionEvent) error {
	h.hub.BroadcastJSON(ws.MessageTypeSessionEvent, event)
	_, err := h.engine.HandleEvent(ctx, event)
	return err
}
