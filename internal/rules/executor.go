// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomtom215/streamwarden/internal/models"
)

// Notification is the payload handed to the sink for a notify action.
type Notification struct {
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	Channel   string          `json:"channel,omitempty"`
	Severity  models.Severity `json:"severity,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
	SessionID string          `json:"session_id"`
	UserID    int             `json:"user_id"`
	Username  string          `json:"username,omitempty"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActionSink performs the side effects of matched-rule actions. The executor
// itself stays free of I/O concerns: persistence, notification delivery, and
// session termination all live behind this interface, and retry policy
// belongs to the implementation, not the executor.
type ActionSink interface {
	// HasOpenViolation reports whether an unacknowledged violation for the
	// rule already exists against the session. Used for the skip decision of
	// create_violation actions.
	HasOpenViolation(ctx context.Context, ruleID, sessionID string) (bool, error)

	// CreateViolation persists a new violation record.
	CreateViolation(ctx context.Context, v *models.Violation) error

	// Notify delivers the trigger to a notification channel.
	Notify(ctx context.Context, n *Notification) error

	// KillSession asks the media server to terminate the external session.
	KillSession(ctx context.Context, serverID, sessionKey, reason string) error
}

// Executor runs the actions of matched rules against an injected sink,
// producing one ActionResult per action.
type Executor struct {
	sink ActionSink
}

// NewExecutor creates an executor backed by the given sink.
func NewExecutor(sink ActionSink) *Executor {
	return &Executor{sink: sink}
}

// ExecuteAll runs every action of a matched rule. Actions fan out
// concurrently and join, so a slow notification channel does not delay a
// fast persistence write. Results are returned in action order. One action's
// failure or skip never blocks the others.
func (x *Executor) ExecuteAll(ctx context.Context, ec *EvalContext, res *EvaluationResult) []ActionResult {
	results := make([]ActionResult, len(res.Actions))

	var wg sync.WaitGroup
	for i, action := range res.Actions {
		wg.Add(1)
		go func(i int, action Action) {
			defer wg.Done()
			results[i] = x.Execute(ctx, ec, res, action)
		}(i, action)
	}
	wg.Wait()

	return results
}

// Execute runs a single action and captures its outcome. Sink errors and
// panics become ActionResult failures; they never propagate to the caller.
func (x *Executor) Execute(ctx context.Context, ec *EvalContext, res *EvaluationResult, action Action) (result ActionResult) {
	result = ActionResult{ActionType: action.Type}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Skipped = false
			result.ErrorMessage = fmt.Sprintf("action panicked: %v", r)
		}
	}()

	switch action.Type {
	case ActionCreateViolation:
		return x.createViolation(ctx, ec, res, action)
	case ActionNotify:
		return x.notify(ctx, ec, res, action)
	case ActionKillSession:
		return x.killSession(ctx, ec, action)
	default:
		result.ErrorMessage = fmt.Sprintf("unknown action type: %s", action.Type)
		return result
	}
}

// createViolation records a violation unless the session already has an open
// one for the same rule, in which case the action is skipped with a reason.
func (x *Executor) createViolation(ctx context.Context, ec *EvalContext, res *EvaluationResult, action Action) ActionResult {
	result := ActionResult{ActionType: action.Type}

	open, err := x.sink.HasOpenViolation(ctx, res.RuleID, ec.Session.ID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("violation lookup failed: %v", err)
		return result
	}
	if open {
		result.Skipped = true
		result.SkipReason = "session already has an open violation for this rule"
		return result
	}

	severity := action.Severity
	if !models.ValidSeverity(severity) {
		severity = models.SeverityWarning
	}

	v := &models.Violation{
		ID:        uuid.New().String(),
		RuleID:    res.RuleID,
		RuleName:  res.RuleName,
		SessionID: ec.Session.ID,
		ServerID:  ec.Session.ServerID,
		UserID:    ec.Session.UserID,
		Username:  ec.Session.Username,
		MachineID: ec.Session.MachineID,
		IPAddress: ec.Session.IPAddress,
		Severity:  severity,
		Message:   fmt.Sprintf("Rule %q matched for user %s", res.RuleName, ec.Session.Username),
		CreatedAt: ec.Now,
	}

	if err := x.sink.CreateViolation(ctx, v); err != nil {
		result.ErrorMessage = fmt.Sprintf("violation persistence failed: %v", err)
		return result
	}

	result.Success = true
	return result
}

// notify delivers a notification for the trigger.
func (x *Executor) notify(ctx context.Context, ec *EvalContext, res *EvaluationResult, action Action) ActionResult {
	result := ActionResult{ActionType: action.Type}

	n := &Notification{
		RuleID:    res.RuleID,
		RuleName:  res.RuleName,
		Channel:   action.Channel,
		Severity:  action.Severity,
		ServerID:  ec.Session.ServerID,
		SessionID: ec.Session.ID,
		UserID:    ec.Session.UserID,
		Username:  ec.Session.Username,
		Message:   fmt.Sprintf("Rule %q matched for user %s", res.RuleName, ec.Session.Username),
		CreatedAt: ec.Now,
	}

	if err := x.sink.Notify(ctx, n); err != nil {
		result.ErrorMessage = fmt.Sprintf("notification failed: %v", err)
		return result
	}

	result.Success = true
	return result
}

// killSession terminates the external session. Already-stopped sessions are
// skipped: there is nothing left to terminate.
func (x *Executor) killSession(ctx context.Context, ec *EvalContext, action Action) ActionResult {
	result := ActionResult{ActionType: action.Type}

	if !ec.Session.Active() {
		result.Skipped = true
		result.SkipReason = "session already stopped"
		return result
	}

	if err := x.sink.KillSession(ctx, ec.Session.ServerID, ec.Session.SessionKey, action.Reason); err != nil {
		result.ErrorMessage = fmt.Sprintf("session termination failed: %v", err)
		return result
	}

	result.Success = true
	return result
}
