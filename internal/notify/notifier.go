// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package notify delivers rule-action notifications to external channels.
// Delivery is best-effort: a failed notification is a failed action result,
// never a failed evaluation cycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/rules"
)

// ErrNoEnabledChannels indicates a fan-out found no enabled notifier to
// deliver to. A notification that reaches nobody is a failed send, not a
// quiet success.
var ErrNoEnabledChannels = errors.New("notify: no enabled channels")

// Notifier delivers one notification to one channel.
type Notifier interface {
	// Name identifies the channel ("webhook", "discord").
	Name() string

	// Enabled reports whether the notifier is configured and active.
	// Disabled notifiers silently accept and drop sends.
	Enabled() bool

	Send(ctx context.Context, n *rules.Notification) error
}

// Dispatcher routes notifications to registered channels. An empty channel
// on the notification fans out to every enabled notifier; a named channel
// goes only to that notifier.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{notifiers: make(map[string]Notifier)}
	for _, n := range notifiers {
		d.notifiers[n.Name()] = n
	}
	return d
}

// Register adds or replaces a channel.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Send delivers the notification. With a named channel, an unknown or
// disabled channel is an error so the action result reflects the miss; on
// fan-out, partial failure aggregates into one error while the remaining
// channels still receive the message, and a fan-out with nothing enabled
// returns ErrNoEnabledChannels.
func (d *Dispatcher) Send(ctx context.Context, n *rules.Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n.Channel != "" {
		target, ok := d.notifiers[n.Channel]
		if !ok {
			return fmt.Errorf("notify: unknown channel %q", n.Channel)
		}
		if !target.Enabled() {
			return fmt.Errorf("notify: channel %q is disabled", n.Channel)
		}
		return d.deliver(ctx, target, n)
	}

	attempted := 0
	var failed []string
	for _, target := range d.notifiers {
		if !target.Enabled() {
			continue
		}
		attempted++
		if err := d.deliver(ctx, target, n); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", target.Name(), err))
		}
	}
	if attempted == 0 {
		return ErrNoEnabledChannels
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: delivery failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, target Notifier, n *rules.Notification) error {
	err := target.Send(ctx, n)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(target.Name(), "failure").Inc()
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("channel", target.Name()).
			Str("rule", n.RuleID).
			Msg("notification delivery failed")
		return err
	}
	metrics.NotificationsSent.WithLabelValues(target.Name(), "success").Inc()
	return nil
}
