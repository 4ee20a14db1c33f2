// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package models defines the shared domain types: logical playback sessions,
// server users, servers, and violations. Sessions are owned and mutated by the
// tracker package; everything else treats them as read-only.
package models

import (
	"time"
)

// PlaybackState is the playback state reported by a media server.
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateStopped PlaybackState = "stopped"
)

// LocationType classifies the network origin of a session.
type LocationType string

const (
	LocationWAN LocationType = "wan"
	LocationLAN LocationType = "lan"
)

// Session is a logical playback session. It is keyed by its own ID, not by the
// media server's session key: one external session key produces a new logical
// Session every time the media playing under it changes.
type Session struct {
	// ID is the logical session identity (UUID), assigned by the tracker.
	ID string `json:"id"`

	// ServerID identifies the media server instance that reported the session.
	ServerID string `json:"server_id"`

	// SessionKey is the external session identifier assigned by the media
	// server. It is only unique per server and may outlive media changes.
	SessionKey string `json:"session_key"`

	// RatingKey is the stable content identifier of the media item currently
	// playing. Empty when the server did not report one.
	RatingKey string `json:"rating_key,omitempty"`

	// User information.
	UserID   int    `json:"user_id"`
	Username string `json:"username,omitempty"`

	// Device information. MachineID is the device fingerprint used for
	// same-device exclusions in detection rules.
	MachineID string `json:"machine_id,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Player    string `json:"player,omitempty"`

	// Media information.
	MediaType        string `json:"media_type,omitempty"`
	Title            string `json:"title,omitempty"`
	GrandparentTitle string `json:"grandparent_title,omitempty"`

	// Network origin. Latitude/Longitude are (0, 0) until geolocation has
	// been resolved; consumers must treat that sentinel as unknown.
	IPAddress    string       `json:"ip_address,omitempty"`
	LocationType LocationType `json:"location_type,omitempty"`
	Latitude     float64      `json:"latitude,omitempty"`
	Longitude    float64      `json:"longitude,omitempty"`
	City         string       `json:"city,omitempty"`
	Region       string       `json:"region,omitempty"`
	Country      string       `json:"country,omitempty"`

	// Playback state and progress.
	State        PlaybackState `json:"state"`
	ViewOffsetMs int64         `json:"view_offset_ms,omitempty"`

	// Lifecycle timestamps.
	StartedAt  time.Time  `json:"started_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
}

// Active reports whether the session is still being observed.
func (s *Session) Active() bool {
	return s.State != StateStopped && s.StoppedAt == nil
}

// IsLocalNetwork reports whether the session originates from the local network.
func (s *Session) IsLocalNetwork() bool {
	return s.LocationType == LocationLAN
}

// ServerUser is a media-server account as seen by one server instance.
type ServerUser struct {
	ServerID      string     `json:"server_id"`
	UserID        int        `json:"user_id"`
	Username      string     `json:"username,omitempty"`
	FriendlyName  string     `json:"friendly_name,omitempty"`
	LastSessionAt *time.Time `json:"last_session_at,omitempty"`
}

// Server identifies a configured media server instance.
type Server struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"` // plex, jellyfin, emby
}
