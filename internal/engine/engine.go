// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package engine orchestrates one full evaluation cycle per session event:
// build the context, evaluate every active rule against it, execute the
// actions of matched rules, publish the outcomes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/tracker"
)

// RuleSource supplies the active rules for an evaluation cycle.
type RuleSource interface {
	ActiveRules(ctx context.Context, serverID string, userID int) ([]*rules.Rule, error)
}

// ContextProvider assembles the evaluation context for a session. A provider
// failure aborts the whole cycle: evaluating rules against a partial context
// would make absent-data conditions fail silently instead of loudly.
type ContextProvider interface {
	BuildContext(ctx context.Context, session *models.Session) (*rules.EvalContext, error)
}

// Publisher receives evaluation outcomes for live subscribers. Implementations
// must not block; the engine calls it synchronously in the cycle.
type Publisher interface {
	PublishOutcome(o *Outcome)
}

// Outcome pairs one matched rule's evaluation result with its action results.
type Outcome struct {
	Result        rules.EvaluationResult `json:"result"`
	ActionResults []rules.ActionResult   `json:"action_results,omitempty"`

	SessionID   string    `json:"session_id"`
	ServerID    string    `json:"server_id"`
	UserID      int       `json:"user_id"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Engine runs evaluation cycles.
type Engine struct {
	source    RuleSource
	provider  ContextProvider
	executor  *rules.Executor
	publisher Publisher
}

// New creates an engine. publisher may be nil when no live surface is wired.
func New(source RuleSource, provider ContextProvider, sink rules.ActionSink, publisher Publisher) *Engine {
	return &Engine{
		source:    source,
		provider:  provider,
		executor:  rules.NewExecutor(sink),
		publisher: publisher,
	}
}

// HandleEvent runs one evaluation cycle for a session event. Stopped-session
// events still evaluate: a split's finalized predecessor is exactly the
// moment impossible-travel histories become decidable.
//
// The returned outcomes cover matched rules only. A context build failure is
// a hard error for the cycle; rule evaluation and action execution failures
// are captured per-rule and per-action, never propagated.
func (e *Engine) HandleEvent(ctx context.Context, event *tracker.SessionEvent) ([]*Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	session := event.Session
	metrics.PollsProcessed.WithLabelValues(session.ServerID, string(event.Type)).Inc()
	if event.Type == tracker.EventSplit {
		metrics.SessionSplits.WithLabelValues(session.ServerID).Inc()
	}

	ec, err := e.provider.BuildContext(ctx, session)
	if err != nil {
		metrics.ContextBuildFailures.Inc()
		return nil, fmt.Errorf("engine: context build failed for session %s: %w", session.ID, err)
	}

	active, err := e.source.ActiveRules(ctx, session.ServerID, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("engine: rule load failed: %w", err)
	}

	var outcomes []*Outcome
	for _, rule := range active {
		res := rules.Evaluate(rule, ec)
		metrics.RulesEvaluated.WithLabelValues(rule.ID).Inc()
		if !res.Matched {
			continue
		}
		metrics.RulesMatched.WithLabelValues(rule.ID).Inc()

		actionResults := e.executor.ExecuteAll(ctx, ec, &res)
		recordActionMetrics(actionResults)

		logging.Ctx(ctx).Info().
			Str("rule", rule.ID).
			Str("session", session.ID).
			Int("user", session.UserID).
			Ints("matched_groups", res.MatchedGroups).
			Msg("rule matched")

		outcome := &Outcome{
			Result:        res,
			ActionResults: actionResults,
			SessionID:     session.ID,
			ServerID:      session.ServerID,
			UserID:        session.UserID,
			EvaluatedAt:   ec.Now,
		}
		outcomes = append(outcomes, outcome)

		if e.publisher != nil {
			e.publisher.PublishOutcome(outcome)
		}
	}

	return outcomes, nil
}

func recordActionMetrics(results []rules.ActionResult) {
	for _, r := range results {
		outcome := "failure"
		switch {
		case r.Success:
			outcome = "success"
		case r.Skipped:
			outcome = "skipped"
		}
		metrics.ActionsExecuted.WithLabelValues(string(r.ActionType), outcome).Inc()
	}
}
