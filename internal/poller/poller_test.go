// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/streamwarden/internal/tracker"
)

// fakeSource serves scripted snapshots in sequence, repeating the last one.
type fakeSource struct {
	serverID  string
	snapshots [][]tracker.Poll
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeSource) ServerID() string { return f.serverID }

func (f *fakeSource) ActiveSessions(_ context.Context) ([]tracker.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[idx], nil
}

// collectingHandler records every dispatched event.
type collectingHandler struct {
	mu     sync.Mutex
	events []*tracker.SessionEvent
}

func (h *collectingHandler) HandleEvent(_ context.Context, ev *tracker.SessionEvent) error {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	return nil
}

func (h *collectingHandler) byType(t tracker.EventType) []*tracker.SessionEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*tracker.SessionEvent
	for _, ev := range h.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func poll(key, media string) tracker.Poll {
	return tracker.Poll{
		ServerID:   "srv-1",
		SessionKey: key,
		RatingKey:  media,
		UserID:     42,
		Username:   "alice",
	}
}

func TestPollCycleTracksAndSweeps(t *testing.T) {
	source := &fakeSource{
		serverID: "srv-1",
		snapshots: [][]tracker.Poll{
			{poll("K1", "100"), poll("K2", "200")}, // both live
			{poll("K1", "100")},                    // K2 gone
		},
	}
	handler := &collectingHandler{}
	tr := tracker.New(tracker.DefaultConfig())
	p := New(Config{Interval: time.Hour}, tr, handler, source)

	ctx := t.Context()
	p.pollAll(ctx)
	p.pollAll(ctx)

	if got := len(handler.byType(tracker.EventCreated)); got != 2 {
		t.Errorf("created events = %d, want 2", got)
	}
	if got := len(handler.byType(tracker.EventUpdated)); got != 1 {
		t.Errorf("updated events = %d, want 1", got)
	}

	stopped := handler.byType(tracker.EventStopped)
	if len(stopped) != 1 || stopped[0].Session.SessionKey != "K2" {
		t.Fatalf("stopped events = %+v, want one for K2", stopped)
	}
	if stopped[0].Session.StoppedAt == nil {
		t.Error("swept session not finalized")
	}
}

func TestPollCycleDetectsSplit(t *testing.T) {
	source := &fakeSource{
		serverID: "srv-1",
		snapshots: [][]tracker.Poll{
			{poll("K", "100")},
			{poll("K", "101")}, // next episode under the same key
		},
	}
	handler := &collectingHandler{}
	tr := tracker.New(tracker.DefaultConfig())
	p := New(Config{Interval: time.Hour}, tr, handler, source)

	ctx := t.Context()
	p.pollAll(ctx)
	p.pollAll(ctx)

	splits := handler.byType(tracker.EventSplit)
	if len(splits) != 1 {
		t.Fatalf("split events = %d, want 1", len(splits))
	}
	if splits[0].Previous == nil || splits[0].Previous.RatingKey != "100" {
		t.Error("split lost its predecessor")
	}
}

func TestSnapshotFailureSkipsSweep(t *testing.T) {
	source := &fakeSource{
		serverID:  "srv-1",
		snapshots: [][]tracker.Poll{{poll("K", "100")}},
	}
	handler := &collectingHandler{}
	tr := tracker.New(tracker.DefaultConfig())
	p := New(Config{Interval: time.Hour}, tr, handler, source)

	ctx := t.Context()
	p.pollAll(ctx)

	// Server starts failing: its sessions must not be swept away.
	source.mu.Lock()
	source.err = errors.New("server unreachable")
	source.mu.Unlock()
	p.pollAll(ctx)

	if got := len(handler.byType(tracker.EventStopped)); got != 0 {
		t.Errorf("stopped events after failed snapshot = %d, want 0", got)
	}
	if got := len(tr.ActiveSessions("srv-1", 42)); got != 1 {
		t.Errorf("active sessions = %d, want 1 preserved", got)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	source := &fakeSource{serverID: "srv-1", snapshots: [][]tracker.Poll{{}}}
	tr := tracker.New(tracker.DefaultConfig())
	p := New(Config{Interval: 5 * time.Millisecond}, tr, &collectingHandler{}, source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve exit err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
