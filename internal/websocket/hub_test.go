// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, chan error) {
	t.Helper()
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()
	return h, cancel, done
}

func registerClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := NewClient(h, nil)
	select {
	case h.Register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func TestHubRegisterUnregister(t *testing.T) {
	h, cancel, done := startHub(t)
	defer cancel()

	c := registerClient(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	select {
	case h.Unregister <- c:
	case <-time.After(time.Second):
		t.Fatal("unregister timed out")
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("hub exit err = %v, want context.Canceled", err)
	}
}

func TestHubBroadcastDelivers(t *testing.T) {
	h, cancel, _ := startHub(t)
	defer cancel()

	c := registerClient(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.BroadcastJSON(MessageTypeViolation, map[string]string{"id": "v1"})

	select {
	case msg := <-c.send:
		if msg.Type != MessageTypeViolation {
			t.Errorf("message type = %q", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestHubDropsStalledSubscriber(t *testing.T) {
	h, cancel, _ := startHub(t)
	defer cancel()

	c := registerClient(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	// Nothing drains c.send; overflow past the buffer forces removal.
	for i := 0; i < 300; i++ {
		h.BroadcastJSON(MessageTypeSessionEvent, i)
	}
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// The send channel must be closed so the write pump exits.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("dropped client's channel never closed")
		}
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h, cancel, done := startHub(t)

	c := registerClient(t, h)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("hub exit err = %v", err)
	}
	if h.ClientCount() != 0 {
		t.Error("clients survived shutdown")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("client channel not closed on shutdown")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
