// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// Operator identifies a comparison operator in a condition.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// KnownOperator reports whether op is a recognized operator.
func KnownOperator(op Operator) bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpNotContains:
		return true
	}
	return false
}

// Condition is a single field comparison. Params carries resolver-specific
// configuration such as exclude_same_device or window_hours.
type Condition struct {
	Field    string         `json:"field" validate:"required"`
	Operator Operator       `json:"operator" validate:"required"`
	Value    any            `json:"value"`
	Params   map[string]any `json:"params,omitempty"`
}

// ConditionGroup is an ordered set of conditions combined with AND semantics:
// every condition in the group must hold for the group to match.
type ConditionGroup struct {
	Conditions []Condition `json:"conditions" validate:"min=1,dive"`
}

// ConditionSet holds a rule's condition groups, combined with OR semantics.
type ConditionSet struct {
	Groups []ConditionGroup `json:"groups" validate:"dive"`
}

// ActionSet holds a rule's actions.
type ActionSet struct {
	Actions []Action `json:"actions" validate:"dive"`
}

// Rule is a user-authored detection rule: OR-combined condition groups plus
// the actions to execute when at least one group matches. A rule with zero
// groups never matches.
type Rule struct {
	ID         string       `json:"id" validate:"required"`
	Name       string       `json:"name" validate:"required"`
	Enabled    bool         `json:"enabled"`
	Conditions ConditionSet `json:"conditions"`
	Actions    ActionSet    `json:"actions"`
}

// ActionType identifies an action variant.
type ActionType string

const (
	// ActionCreateViolation records a violation at the configured severity.
	ActionCreateViolation ActionType = "create_violation"

	// ActionNotify sends the trigger to a notification channel.
	ActionNotify ActionType = "notify"

	// ActionKillSession asks the media server to terminate the session.
	ActionKillSession ActionType = "kill_session"
)

// KnownActionType reports whether t is a recognized action type.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionCreateViolation, ActionNotify, ActionKillSession:
		return true
	}
	return false
}

// Action is a tagged action variant. Only the fields relevant to Type are
// populated; the executor dispatches on Type exhaustively.
type Action struct {
	Type ActionType `json:"type" validate:"required"`

	// Severity applies to create_violation.
	Severity models.Severity `json:"severity,omitempty"`

	// Channel applies to notify. Empty means all configured channels.
	Channel string `json:"channel,omitempty"`

	// Reason applies to kill_session.
	Reason string `json:"reason,omitempty"`
}

// ActionResult is the typed outcome of executing one action. Exactly one of
// Success, Skipped, or failure (Success=false with ErrorMessage) holds.
type ActionResult struct {
	ActionType   ActionType `json:"action_type"`
	Success      bool       `json:"success"`
	Skipped      bool       `json:"skipped"`
	SkipReason   string     `json:"skip_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// EvaluationResult is the outcome of evaluating one rule against one context.
// MatchedGroups lists the indices of every group that matched, not just the
// first, so a UI can explain why a rule fired.
type EvaluationResult struct {
	RuleID        string   `json:"rule_id"`
	RuleName      string   `json:"rule_name"`
	Matched       bool     `json:"matched"`
	MatchedGroups []int    `json:"matched_groups"`
	Actions       []Action `json:"actions,omitempty"`
}

// EvalContext is the ephemeral, read-only aggregate a rule is evaluated
// against. It is rebuilt for every evaluation cycle and never persisted.
type EvalContext struct {
	// Session is the subject logical session.
	Session *models.Session

	// User is the server-user that owns the session. May be nil when the
	// collaborator has no record yet; account fields then resolve to absent.
	User *models.ServerUser

	// Server is the media server instance the session belongs to.
	Server *models.Server

	// ActiveSessions is the full set of currently active sessions for the
	// subject's user on the subject's server, including the subject itself.
	ActiveSessions []*models.Session

	// RecentSessions is a bounded window of the user's historical sessions,
	// most recent first.
	RecentSessions []*models.Session

	// Now is the evaluation timestamp, fixed once per cycle so that every
	// condition in a rule sees the same clock.
	Now time.Time
}
