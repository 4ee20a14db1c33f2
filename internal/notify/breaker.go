// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package notify

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/rules"
)

// BreakerNotifier wraps a Notifier with a circuit breaker so a dead
// endpoint stops consuming the rate budget and timeout window of every
// evaluation cycle. When the circuit is open, sends fail fast.
//
// The breaker uses real time for its interval and timeout calculations.
// Tests exercise the wrapped notifier directly or drive the breaker by
// failing sends, not by mocking time.
type BreakerNotifier struct {
	inner Notifier
	cb    *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps a notifier. The circuit opens after a 60%
// failure rate across at least 5 requests and probes recovery after 30
// seconds; notification endpoints are low-volume, so the thresholds are
// tighter than an API client's would be.
func NewBreakerNotifier(inner Notifier) *BreakerNotifier {
	name := inner.Name() + "-notify"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := breakerStateString(from)
			toStr := breakerStateString(to)
			logging.Info().
				Str("breaker", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("notification circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerNotifier{inner: inner, cb: cb}
}

// Name returns the wrapped notifier's name.
func (b *BreakerNotifier) Name() string {
	return b.inner.Name()
}

// Enabled reports the wrapped notifier's state. An open circuit does not
// disable the channel; it only makes sends fail fast until recovery.
func (b *BreakerNotifier) Enabled() bool {
	return b.inner.Enabled()
}

// Send delivers through the breaker.
func (b *BreakerNotifier) Send(ctx context.Context, n *rules.Notification) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Send(ctx, n)
	})
	if err != nil && (errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)) {
		metrics.NotificationsSent.WithLabelValues(b.inner.Name(), "rejected").Inc()
	}
	return err
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
