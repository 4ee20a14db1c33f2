// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the detection pipeline:
// - Session tracking (polls, splits, active sessions)
// - Rule evaluation and action execution
// - Notification delivery and circuit breaker health
// - API and WebSocket surface

var (
	// Session tracking metrics
	PollsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_polls_processed_total",
			Help: "Total number of session polls processed",
		},
		[]string{"server", "event"}, // event: created, updated, split, stopped
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwarden_active_sessions",
			Help: "Current number of tracked active sessions",
		},
		[]string{"server"},
	)

	SessionSplits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_session_splits_total",
			Help: "Total number of logical session splits caused by media changes",
		},
		[]string{"server"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_poll_errors_total",
			Help: "Total number of failed poll cycles against media servers",
		},
		[]string{"server"},
	)

	// Rule engine metrics
	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule"},
	)

	RulesMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_rules_matched_total",
			Help: "Total number of rule evaluations that matched",
		},
		[]string{"rule"},
	)

	ContextBuildFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwarden_context_build_failures_total",
			Help: "Total number of evaluation cycles aborted because context building failed",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamwarden_evaluation_duration_seconds",
			Help:    "Duration of full rule evaluation cycles per session event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Action execution metrics
	ViolationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_violations_created_total",
			Help: "Total number of violations created by rule actions",
		},
		[]string{"rule", "severity"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_actions_executed_total",
			Help: "Total number of rule actions executed by outcome",
		},
		[]string{"action", "outcome"}, // outcome: success, skipped, failure
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_notifications_sent_total",
			Help: "Total number of notification deliveries by channel and result",
		},
		[]string{"channel", "result"}, // result: success, failure, rejected
	)

	// Circuit breaker metrics for outbound delivery
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwarden_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamwarden_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwarden_websocket_connections",
			Help: "Current number of live WebSocket subscribers",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwarden_websocket_messages_sent_total",
			Help: "Total number of messages broadcast to WebSocket subscribers",
		},
	)

	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwarden_websocket_messages_dropped_total",
			Help: "Total number of messages dropped because a subscriber's buffer was full",
		},
	)
)
