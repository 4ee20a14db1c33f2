// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package tracker maintains the identity of logical playback sessions.
//
// Media servers report sessions under an external session key that can
// outlive the media playing beneath it: a binge-watcher moving from episode
// to episode keeps one player session key while the content changes. The
// tracker consumes raw polls keyed by (serverID, sessionKey) and decides,
// per poll, whether it continues the existing logical session or starts a
// new one because the content identifier changed.
//
// Tracker state is the one piece of long-lived mutable shared state in the
// detection pipeline. It is backed by a sharded TTL map so that polls for
// different servers and keys never contend, while updates to a single key
// are strictly serialized: two concurrent polls for the same key can never
// both decide "unchanged" against different starting values.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tomtom215/streamwarden/internal/cache"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
)

// ErrInvalidPoll rejects polls missing the identity fields every decision
// depends on.
var ErrInvalidPoll = errors.New("tracker: poll missing server or session key")

// EventType classifies what a poll did to the logical session set.
type EventType string

const (
	// EventCreated: the poll's session key was unseen; a logical session started.
	EventCreated EventType = "created"

	// EventUpdated: the poll continues the current logical session.
	EventUpdated EventType = "updated"

	// EventSplit: the media changed under the key; the old logical session
	// was finalized and a new one started.
	EventSplit EventType = "split"

	// EventStopped: the external session ended; the logical session was
	// finalized. Emitted by sweeps, not by polls.
	EventStopped EventType = "stopped"
)

// SessionEvent is the tracker's output for one poll or sweep decision.
type SessionEvent struct {
	Type EventType `json:"type"`

	// Session is the logical session the event is about. For split events
	// this is the newly created session.
	Session *models.Session `json:"session"`

	// Previous is the finalized session a split superseded. Nil otherwise.
	Previous *models.Session `json:"previous,omitempty"`
}

// Poll is one observed snapshot of an external session, as delivered by a
// poller or webhook ingest. RatingKey may be empty when the server did not
// report a content identifier; an empty value is inconclusive and never
// treated as a media change.
type Poll struct {
	ServerID   string `json:"server_id" validate:"required"`
	SessionKey string `json:"session_key" validate:"required"`
	RatingKey  string `json:"rating_key,omitempty"`

	UserID   int    `json:"user_id"`
	Username string `json:"username,omitempty"`

	MachineID string `json:"machine_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Player    string `json:"player,omitempty"`

	MediaType        string `json:"media_type,omitempty"`
	Title            string `json:"title,omitempty"`
	GrandparentTitle string `json:"grandparent_title,omitempty"`

	IPAddress    string              `json:"ip_address,omitempty"`
	LocationType models.LocationType `json:"location_type,omitempty"`
	Latitude     float64             `json:"latitude,omitempty"`
	Longitude    float64             `json:"longitude,omitempty"`
	City         string              `json:"city,omitempty"`
	Region       string              `json:"region,omitempty"`
	Country      string              `json:"country,omitempty"`

	State        models.PlaybackState `json:"state,omitempty"`
	ViewOffsetMs int64                `json:"view_offset_ms,omitempty"`

	// Timestamp of the observation. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// DetectMediaChange reports whether the content under an external session
// key changed between two observations. True iff both values are non-empty
// and unequal; an empty value is inconclusive, never a change.
func DetectMediaChange(previous, current string) bool {
	return previous != "" && current != "" && previous != current
}

// Tracker owns the logical session set. All Session mutation happens here.
type Tracker struct {
	sessions *cache.ShardedTTLMap[*models.Session]
	history  *History
	clock    func() time.Time
}

// Config configures tracker state retention.
type Config struct {
	// SessionTTL is how long a session key survives without being observed
	// before TTL eviction finalizes it. This is the backstop; pollers that
	// sweep give an explicit end signal well before the TTL fires.
	SessionTTL time.Duration

	// HistoryPerUser bounds the retained finalized-session window per user.
	HistoryPerUser int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:     10 * time.Minute,
		HistoryPerUser: 200,
	}
}

// New creates a tracker.
func New(cfg Config) *Tracker {
	if cfg.HistoryPerUser <= 0 {
		cfg.HistoryPerUser = DefaultConfig().HistoryPerUser
	}
	return &Tracker{
		sessions: cache.NewShardedTTLMap[*models.Session](cfg.SessionTTL),
		history:  NewHistory(cfg.HistoryPerUser),
		clock:    time.Now,
	}
}

// trackKey builds the composite map key. Session keys are only unique per
// server, so two servers reusing a key must never collide.
func trackKey(serverID, sessionKey string) string {
	return serverID + "\x00" + sessionKey
}

// OnPoll applies one poll and returns the resulting session event.
//
// The decision runs entirely under the key's shard lock:
//
//  1. unseen key: create a logical session
//  2. known key, media changed: finalize the old session, create a new one (split)
//  3. known key, media unchanged or inconclusive: update in place
func (t *Tracker) OnPoll(ctx context.Context, poll Poll) (*SessionEvent, error) {
	if poll.ServerID == "" || poll.SessionKey == "" {
		return nil, ErrInvalidPoll
	}

	now := poll.Timestamp
	if now.IsZero() {
		now = t.clock()
	}

	var event *SessionEvent
	t.sessions.Apply(trackKey(poll.ServerID, poll.SessionKey), func(cur *models.Session, exists bool) (*models.Session, bool) {
		if !exists {
			s := t.newSession(poll, now)
			t.history.Record(s)
			event = &SessionEvent{Type: EventCreated, Session: s}
			return s, true
		}

		if DetectMediaChange(cur.RatingKey, poll.RatingKey) {
			finalize(cur, now)
			next := t.newSession(poll, now)
			t.history.Record(next)
			event = &SessionEvent{Type: EventSplit, Session: next, Previous: cur}
			return next, true
		}

		updateSession(cur, poll, now)
		event = &SessionEvent{Type: EventUpdated, Session: cur}
		return cur, true
	})

	logging.Ctx(ctx).Debug().
		Str("server", poll.ServerID).
		Str("session_key", poll.SessionKey).
		Str("event", string(event.Type)).
		Msg("poll processed")

	return event, nil
}

// SweepAbsent finalizes every tracked session of a server whose key is not
// in seen. Pollers call this after each full sweep of a server's active
// sessions; a key missing from the sweep is the server's signal that the
// session ended.
func (t *Tracker) SweepAbsent(serverID string, seen map[string]struct{}) []*SessionEvent {
	now := t.clock()

	var stale []string
	t.sessions.Range(func(key string, s *models.Session) bool {
		if s.ServerID != serverID {
			return true
		}
		if _, ok := seen[s.SessionKey]; !ok {
			stale = append(stale, s.SessionKey)
		}
		return true
	})

	events := make([]*SessionEvent, 0, len(stale))
	for _, sessionKey := range stale {
		if s, ok := t.sessions.Delete(trackKey(serverID, sessionKey)); ok {
			finalize(s, now)
			events = append(events, &SessionEvent{Type: EventStopped, Session: s})
		}
	}
	return events
}

// EvictExpired finalizes sessions whose keys passed the TTL without being
// observed. This is the backstop for pollers that crash mid-sweep or
// webhook-only servers that never send a stop.
func (t *Tracker) EvictExpired() []*SessionEvent {
	now := t.clock()

	evicted := t.sessions.Sweep()
	events := make([]*SessionEvent, 0, len(evicted))
	for _, s := range evicted {
		finalize(s, now)
		events = append(events, &SessionEvent{Type: EventStopped, Session: s})
	}
	return events
}

// ActiveSessions returns the live sessions for a user on a server,
// including any session currently mid-update.
func (t *Tracker) ActiveSessions(serverID string, userID int) []*models.Session {
	var out []*models.Session
	t.sessions.Range(func(_ string, s *models.Session) bool {
		if s.ServerID == serverID && s.UserID == userID && s.Active() {
			out = append(out, s)
		}
		return true
	})
	return out
}

// Sessions returns every live session across all servers, for operator
// surfaces that list current activity.
func (t *Tracker) Sessions() []*models.Session {
	var out []*models.Session
	t.sessions.Range(func(_ string, s *models.Session) bool {
		if s.Active() {
			out = append(out, s)
		}
		return true
	})
	return out
}

// History exposes the bounded finalized-session window for context building.
func (t *Tracker) History() *History {
	return t.history
}

// newSession builds a logical session from a poll.
func (t *Tracker) newSession(poll Poll, now time.Time) *models.Session {
	state := poll.State
	if state == "" {
		state = models.StatePlaying
	}
	return &models.Session{
		ID:               uuid.New().String(),
		ServerID:         poll.ServerID,
		SessionKey:       poll.SessionKey,
		RatingKey:        poll.RatingKey,
		UserID:           poll.UserID,
		Username:         poll.Username,
		MachineID:        poll.MachineID,
		Platform:         poll.Platform,
		Player:           poll.Player,
		MediaType:        poll.MediaType,
		Title:            poll.Title,
		GrandparentTitle: poll.GrandparentTitle,
		IPAddress:        poll.IPAddress,
		LocationType:     poll.LocationType,
		Latitude:         poll.Latitude,
		Longitude:        poll.Longitude,
		City:             poll.City,
		Region:           poll.Region,
		Country:          poll.Country,
		State:            state,
		ViewOffsetMs:     poll.ViewOffsetMs,
		StartedAt:        now,
		LastSeenAt:       now,
	}
}

// updateSession refreshes a logical session in place from a continuing poll.
// Identity fields (ID, ServerID, SessionKey, StartedAt) never change here.
func updateSession(s *models.Session, poll Poll, now time.Time) {
	if poll.RatingKey != "" {
		s.RatingKey = poll.RatingKey
	}
	if poll.State != "" {
		s.State = poll.State
	}
	if poll.IPAddress != "" {
		s.IPAddress = poll.IPAddress
	}
	if poll.LocationType != "" {
		s.LocationType = poll.LocationType
	}
	if !rules.IsUnknownLocation(poll.Latitude, poll.Longitude) {
		s.Latitude = poll.Latitude
		s.Longitude = poll.Longitude
		s.City = poll.City
		s.Region = poll.Region
		s.Country = poll.Country
	}
	// Progress only moves forward; a stale poll arriving late must not
	// rewind the marker.
	if poll.ViewOffsetMs > s.ViewOffsetMs {
		s.ViewOffsetMs = poll.ViewOffsetMs
	}
	s.LastSeenAt = now
}

// finalize marks a session stopped. No further updates reach it.
func finalize(s *models.Session, now time.Time) {
	s.State = models.StateStopped
	stopped := now
	s.StoppedAt = &stopped
	if s.LastSeenAt.Before(now) {
		s.LastSeenAt = now
	}
}
