// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Server.Port != 3858 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Poll.Interval != 15*time.Second {
		t.Errorf("default poll interval = %v", cfg.Poll.Interval)
	}
	if cfg.Tracker.SessionTTL != 10*time.Minute {
		t.Errorf("default session ttl = %v", cfg.Tracker.SessionTTL)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default logging = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if !cfg.Detection.ImpossibleTravel.Enabled {
		t.Error("impossible travel not enabled by default")
	}
	if cfg.Detection.GeoRestriction.Enabled {
		t.Error("geo restriction enabled by default without countries")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DETECTION_MAX_STREAMS", "5")
	t.Setenv("DETECTION_GEO_ENABLED", "true")
	t.Setenv("DETECTION_GEO_MODE", "blocklist")
	t.Setenv("DETECTION_GEO_COUNTRIES", "RU, KP")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if cfg.Detection.ConcurrentStreams.MaxStreams != 5 {
		t.Errorf("max streams = %d", cfg.Detection.ConcurrentStreams.MaxStreams)
	}
	countries := cfg.Detection.GeoRestriction.Countries
	if len(countries) != 2 || countries[0] != "RU" || countries[1] != "KP" {
		t.Errorf("countries = %v", countries)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 8081
poll:
  interval: 30s
servers:
  - id: den
    kind: plex
    url: http://plex.local:32400
    api_key: secret
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.Poll.Interval)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Kind != "plex" {
		t.Errorf("servers = %+v", cfg.Servers)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"duplicate server id", func(c *Config) {
			s := MediaServerConfig{ID: "a", Kind: "plex", URL: "http://x", APIKey: "k"}
			c.Servers = []MediaServerConfig{s, s}
		}},
		{"server bad kind", func(c *Config) {
			c.Servers = []MediaServerConfig{{ID: "a", Kind: "kodi", URL: "http://x", APIKey: "k"}}
		}},
		{"geo enabled without countries", func(c *Config) {
			c.Detection.GeoRestriction.Enabled = true
			c.Detection.GeoRestriction.Countries = nil
		}},
		{"webhook enabled without url", func(c *Config) {
			c.Notify.Webhook.Enabled = true
			c.Notify.Webhook.URL = ""
		}},
		{"discord enabled without url", func(c *Config) {
			c.Notify.Discord.Enabled = true
			c.Notify.Discord.WebhookURL = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config passed validation")
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}
