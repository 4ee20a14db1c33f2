// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package engine

import (
	"context"
	"errors"

	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/violations"
)

// ErrNilSession indicates a context build was asked for a nil session.
var ErrNilSession = errors.New("engine: nil session")

// ErrNoNotifier indicates a notify action fired with no channel configured.
var ErrNoNotifier = errors.New("engine: no notification channel configured")

// ErrNoTerminator indicates a kill_session action fired with no server
// client wired to carry it out.
var ErrNoTerminator = errors.New("engine: no session terminator configured")

// NotificationSender delivers notifications. Satisfied by notify.Dispatcher.
type NotificationSender interface {
	Send(ctx context.Context, n *rules.Notification) error
}

// SessionTerminator asks a media server to end an external session.
// Implementations live with the per-server client code.
type SessionTerminator interface {
	KillSession(ctx context.Context, serverID, sessionKey, reason string) error
}

// Sink is the production rules.ActionSink: violations go to the store,
// notifications to the dispatcher, terminations to the server client.
type Sink struct {
	store      violations.Store
	notifier   NotificationSender
	terminator SessionTerminator
}

// NewSink builds the production sink. notifier and terminator may be nil;
// the corresponding actions then fail with an explicit error instead of
// silently succeeding.
func NewSink(store violations.Store, notifier NotificationSender, terminator SessionTerminator) *Sink {
	return &Sink{store: store, notifier: notifier, terminator: terminator}
}

// HasOpenViolation reports whether the session already has an unacknowledged
// violation for the rule. A split starts a new logical session and therefore
// a fresh deduplication scope.
func (s *Sink) HasOpenViolation(ctx context.Context, ruleID, sessionID string) (bool, error) {
	list, err := s.store.List(ctx, violations.Filter{RuleID: ruleID})
	if err != nil {
		return false, err
	}
	for _, v := range list {
		if !v.Acknowledged && v.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

// CreateViolation persists the violation.
func (s *Sink) CreateViolation(ctx context.Context, v *models.Violation) error {
	if err := s.store.Save(ctx, v); err != nil {
		return err
	}
	metrics.ViolationsCreated.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
	return nil
}

// Notify delivers through the dispatcher.
func (s *Sink) Notify(ctx context.Context, n *rules.Notification) error {
	if s.notifier == nil {
		return ErrNoNotifier
	}
	return s.notifier.Send(ctx, n)
}

// KillSession asks the server client to terminate the external session.
func (s *Sink) KillSession(ctx context.Context, serverID, sessionKey, reason string) error {
	if s.terminator == nil {
		return ErrNoTerminator
	}
	return s.terminator.KillSession(ctx, serverID, sessionKey, reason)
}
