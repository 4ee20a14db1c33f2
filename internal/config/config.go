// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package config loads application configuration with layered precedence:
// built-in defaults, then an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration. Immutable after Load and safe
// for concurrent reads.
type Config struct {
	Servers   []MediaServerConfig `koanf:"servers" validate:"dive"`
	Poll      PollConfig          `koanf:"poll"`
	Tracker   TrackerConfig       `koanf:"tracker"`
	Detection DetectionConfig     `koanf:"detection"`
	Notify    NotifyConfig        `koanf:"notify"`
	Server    ServerConfig        `koanf:"server"`
	Logging   LoggingConfig       `koanf:"logging"`
}

// MediaServerConfig identifies one media server to watch. Kind selects the
// session source implementation.
type MediaServerConfig struct {
	ID     string `koanf:"id" validate:"required"`
	Name   string `koanf:"name"`
	Kind   string `koanf:"kind" validate:"required,oneof=plex jellyfin emby tautulli"`
	URL    string `koanf:"url" validate:"required,url"`
	APIKey string `koanf:"api_key" validate:"required"`
}

// PollConfig controls the session polling loop.
type PollConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`

	// RatePerSecond caps outbound requests per server. Zero means the
	// interval is the only pacing.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// TrackerConfig controls logical-session retention.
type TrackerConfig struct {
	SessionTTL     time.Duration `koanf:"session_ttl"`
	HistoryPerUser int           `koanf:"history_per_user"`
}

// DetectionConfig enables the built-in rule templates and sets their
// thresholds. Zero thresholds fall back to the template defaults.
type DetectionConfig struct {
	ImpossibleTravel struct {
		Enabled     bool    `koanf:"enabled"`
		MaxSpeedKmh float64 `koanf:"max_speed_kmh"`
	} `koanf:"impossible_travel"`

	SimultaneousLocations struct {
		Enabled       bool    `koanf:"enabled"`
		MinDistanceKm float64 `koanf:"min_distance_km"`
	} `koanf:"simultaneous_locations"`

	DeviceVelocity struct {
		Enabled      bool    `koanf:"enabled"`
		MaxUniqueIPs int     `koanf:"max_unique_ips"`
		WindowHours  float64 `koanf:"window_hours"`
	} `koanf:"device_velocity"`

	ConcurrentStreams struct {
		Enabled           bool `koanf:"enabled"`
		MaxStreams        int  `koanf:"max_streams"`
		ExcludeSameDevice bool `koanf:"exclude_same_device"`
		KillOnMatch       bool `koanf:"kill_on_match"`
	} `koanf:"concurrent_streams"`

	GeoRestriction struct {
		Enabled   bool     `koanf:"enabled"`
		Mode      string   `koanf:"mode" validate:"omitempty,oneof=allowlist blocklist"`
		Countries []string `koanf:"countries"`
	} `koanf:"geo_restriction"`

	AccountInactivity struct {
		Enabled   bool   `koanf:"enabled"`
		Threshold int    `koanf:"threshold"`
		Unit      string `koanf:"unit" validate:"omitempty,oneof=days weeks months"`
	} `koanf:"account_inactivity"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	Webhook WebhookChannelConfig `koanf:"webhook"`
	Discord DiscordChannelConfig `koanf:"discord"`
}

// WebhookChannelConfig configures the generic webhook channel.
type WebhookChannelConfig struct {
	Enabled     bool              `koanf:"enabled"`
	URL         string            `koanf:"url" validate:"omitempty,url"`
	Headers     map[string]string `koanf:"headers"`
	RateLimitMs int               `koanf:"rate_limit_ms"`
}

// DiscordChannelConfig configures the Discord channel.
type DiscordChannelConfig struct {
	Enabled     bool   `koanf:"enabled"`
	WebhookURL  string `koanf:"webhook_url" validate:"omitempty,url"`
	RateLimitMs int    `koanf:"rate_limit_ms"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the HTTP listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural problems plus the
// cross-field constraints struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config validation: duplicate server id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	if c.Detection.GeoRestriction.Enabled && len(c.Detection.GeoRestriction.Countries) == 0 {
		return fmt.Errorf("config validation: geo_restriction enabled with no countries")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("config validation: webhook channel enabled with no url")
	}
	if c.Notify.Discord.Enabled && c.Notify.Discord.WebhookURL == "" {
		return fmt.Errorf("config validation: discord channel enabled with no webhook_url")
	}
	return nil
}
