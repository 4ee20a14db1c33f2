// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// History keeps a bounded per-user window of recent logical sessions,
// live and finalized, for rule context building. Velocity and travel
// checks need the sessions that preceded the one under evaluation; the
// live session set alone cannot answer "where was this user an hour ago".
type History struct {
	mu       sync.RWMutex
	perUser  int
	sessions map[historyKey][]*models.Session
}

type historyKey struct {
	serverID string
	userID   int
}

// NewHistory creates a history retaining at most perUser sessions per
// (server, user) pair.
func NewHistory(perUser int) *History {
	return &History{
		perUser:  perUser,
		sessions: make(map[historyKey][]*models.Session),
	}
}

// Record adds a session to its user's window, evicting the oldest entry
// when the window is full. Sessions are recorded at creation; later
// mutation through the shared pointer is visible to readers of the window,
// which is what context building wants.
func (h *History) Record(s *models.Session) {
	key := historyKey{serverID: s.ServerID, userID: s.UserID}

	h.mu.Lock()
	defer h.mu.Unlock()

	window := append(h.sessions[key], s)
	if len(window) > h.perUser {
		window = window[len(window)-h.perUser:]
	}
	h.sessions[key] = window
}

// Recent returns the user's sessions started within the window ending at
// now, most recent first. The slice is a copy; callers may reorder it.
func (h *History) Recent(serverID string, userID int, window time.Duration, now time.Time) []*models.Session {
	cutoff := now.Add(-window)

	h.mu.RLock()
	stored := h.sessions[historyKey{serverID: serverID, userID: userID}]
	out := make([]*models.Session, 0, len(stored))
	for _, s := range stored {
		if !s.StartedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// LastSeen returns when the user was most recently observed starting a
// session, or nil if the history has nothing for them. The session named by
// excludeID is ignored so that a user's current session never counts as
// their own prior activity; dormancy is measured against what came before.
func (h *History) LastSeen(serverID string, userID int, excludeID string) *time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stored := h.sessions[historyKey{serverID: serverID, userID: userID}]
	var latest time.Time
	for _, s := range stored {
		if s.ID == excludeID {
			continue
		}
		if s.StartedAt.After(latest) {
			latest = s.StartedAt
		}
	}
	if latest.IsZero() {
		return nil
	}
	return &latest
}
