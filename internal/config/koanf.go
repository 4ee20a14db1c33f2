// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/streamwarden/config.yaml",
	"/etc/streamwarden/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults; the file and environment
// layers override them.
func defaultConfig() *Config {
	cfg := &Config{
		Poll: PollConfig{
			Interval:      15 * time.Second,
			Timeout:       10 * time.Second,
			RatePerSecond: 2,
		},
		Tracker: TrackerConfig{
			SessionTTL:     10 * time.Minute,
			HistoryPerUser: 200,
		},
		Notify: NotifyConfig{
			Webhook: WebhookChannelConfig{RateLimitMs: 500},
			Discord: DiscordChannelConfig{RateLimitMs: 1000},
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3858,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}

	cfg.Detection.ImpossibleTravel.Enabled = true
	cfg.Detection.SimultaneousLocations.Enabled = true
	cfg.Detection.DeviceVelocity.Enabled = true
	cfg.Detection.ConcurrentStreams.Enabled = true

	return cfg
}

// Load builds configuration with layered precedence: ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set via env.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"detection.geo_restriction.countries",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names onto config paths.
// Unmapped variables are skipped so stray environment does not pollute the
// configuration.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - POLL_INTERVAL -> poll.interval
//   - DETECTION_MAX_TRAVEL_SPEED -> detection.impossible_travel.max_speed_kmh
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Polling
		"poll_interval":        "poll.interval",
		"poll_timeout":         "poll.timeout",
		"poll_rate_per_second": "poll.rate_per_second",

		// Tracker
		"tracker_session_ttl":      "tracker.session_ttl",
		"tracker_history_per_user": "tracker.history_per_user",

		// Detection templates
		"detection_impossible_travel_enabled": "detection.impossible_travel.enabled",
		"detection_max_travel_speed":          "detection.impossible_travel.max_speed_kmh",
		"detection_simultaneous_enabled":      "detection.simultaneous_locations.enabled",
		"detection_min_distance_km":           "detection.simultaneous_locations.min_distance_km",
		"detection_velocity_enabled":          "detection.device_velocity.enabled",
		"detection_max_unique_ips":            "detection.device_velocity.max_unique_ips",
		"detection_velocity_window_hours":     "detection.device_velocity.window_hours",
		"detection_concurrent_enabled":        "detection.concurrent_streams.enabled",
		"detection_max_streams":               "detection.concurrent_streams.max_streams",
		"detection_exclude_same_device":       "detection.concurrent_streams.exclude_same_device",
		"detection_kill_on_match":             "detection.concurrent_streams.kill_on_match",
		"detection_geo_enabled":               "detection.geo_restriction.enabled",
		"detection_geo_mode":                  "detection.geo_restriction.mode",
		"detection_geo_countries":             "detection.geo_restriction.countries",
		"detection_inactivity_enabled":        "detection.account_inactivity.enabled",
		"detection_inactivity_threshold":      "detection.account_inactivity.threshold",
		"detection_inactivity_unit":           "detection.account_inactivity.unit",

		// Notification channels
		"webhook_enabled":       "notify.webhook.enabled",
		"webhook_url":           "notify.webhook.url",
		"webhook_rate_limit_ms": "notify.webhook.rate_limit_ms",
		"discord_enabled":       "notify.discord.enabled",
		"discord_webhook_url":   "notify.discord.webhook_url",
		"discord_rate_limit_ms": "notify.discord.rate_limit_ms",

		// HTTP server
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"rate_limit_requests": "server.rate_limit_reqs",
		"rate_limit_window":   "server.rate_limit_window",
		"cors_origins":        "server.cors_origins",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
