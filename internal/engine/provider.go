// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
	"github.com/tomtom215/streamwarden/internal/tracker"
)

// historyWindow bounds how far back RecentSessions reaches. Velocity rules
// carry their own window parameter; this is the outer fetch bound, sized to
// cover the largest window a rule can ask for.
const historyWindow = 7 * 24 * time.Hour

// TrackerProvider builds evaluation contexts from tracker state plus a
// server registry. It is the production ContextProvider.
type TrackerProvider struct {
	tracker *tracker.Tracker

	mu      sync.RWMutex
	servers map[string]*models.Server
	clock   func() time.Time
}

// NewTrackerProvider creates a provider over the tracker.
func NewTrackerProvider(t *tracker.Tracker) *TrackerProvider {
	return &TrackerProvider{
		tracker: t,
		servers: make(map[string]*models.Server),
		clock:   time.Now,
	}
}

// RegisterServer records a server so contexts can carry its identity.
func (p *TrackerProvider) RegisterServer(s *models.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[s.ID] = s
}

// BuildContext assembles the read-only aggregate for one session. The
// subject is always present in ActiveSessions even when already finalized,
// so concurrency counts include the session that triggered the cycle.
func (p *TrackerProvider) BuildContext(_ context.Context, session *models.Session) (*rules.EvalContext, error) {
	if session == nil {
		return nil, ErrNilSession
	}

	now := p.clock()

	active := p.tracker.ActiveSessions(session.ServerID, session.UserID)
	if !containsSession(active, session.ID) {
		active = append(active, session)
	}

	recent := p.tracker.History().Recent(session.ServerID, session.UserID, historyWindow, now)

	user := &models.ServerUser{
		ServerID: session.ServerID,
		UserID:   session.UserID,
		Username: session.Username,
	}
	if last := p.tracker.History().LastSeen(session.ServerID, session.UserID, session.ID); last != nil {
		user.LastSessionAt = last
	}

	p.mu.RLock()
	server := p.servers[session.ServerID]
	p.mu.RUnlock()
	if server == nil {
		server = &models.Server{ID: session.ServerID}
	}

	return &rules.EvalContext{
		Session:        session,
		User:           user,
		Server:         server,
		ActiveSessions: active,
		RecentSessions: recent,
		Now:            now,
	}, nil
}

func containsSession(sessions []*models.Session, id string) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}
