// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/rules"
)

// DiscordNotifier sends notifications to Discord via webhooks.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	enabled    bool
	mu         sync.RWMutex
}

// DiscordConfig configures the Discord notifier.
type DiscordConfig struct {
	WebhookURL  string `json:"webhook_url" koanf:"webhook_url"`
	Enabled     bool   `json:"enabled" koanf:"enabled"`
	RateLimitMs int    `json:"rate_limit_ms" koanf:"rate_limit_ms"` // Minimum ms between messages
}

// NewDiscordNotifier creates a Discord notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	interval := time.Duration(config.RateLimitMs) * time.Millisecond
	if interval == 0 {
		interval = 1 * time.Second // Discord rate-limits webhooks aggressively
	}

	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the notifier name.
func (n *DiscordNotifier) Name() string {
	return "discord"
}

// Enabled returns whether this notifier is enabled.
func (n *DiscordNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *DiscordNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetWebhookURL updates the webhook URL.
func (n *DiscordNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = url
}

// Send delivers a notification to Discord.
func (n *DiscordNotifier) Send(ctx context.Context, notification *rules.Notification) error {
	n.mu.RLock()
	if !n.enabled || n.webhookURL == "" {
		n.mu.RUnlock()
		return nil
	}
	webhookURL := n.webhookURL
	n.mu.RUnlock()

	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := discordWebhookPayload{
		Embeds: []discordEmbed{buildEmbed(notification)},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// buildEmbed creates a Discord embed from a notification.
func buildEmbed(n *rules.Notification) discordEmbed {
	fields := []discordEmbedField{
		{Name: "User", Value: n.Username, Inline: true},
		{Name: "Severity", Value: string(n.Severity), Inline: true},
		{Name: "Rule", Value: n.RuleName, Inline: true},
	}

	if n.ServerID != "" {
		fields = append(fields, discordEmbedField{
			Name:   "Server",
			Value:  n.ServerID,
			Inline: true,
		})
	}
	if n.UserID != 0 {
		fields = append(fields, discordEmbedField{
			Name:   "User ID",
			Value:  strconv.Itoa(n.UserID),
			Inline: true,
		})
	}

	return discordEmbed{
		Title:       n.RuleName,
		Description: n.Message,
		Color:       severityColor(n.Severity),
		Timestamp:   n.CreatedAt.Format(time.RFC3339),
		Fields:      fields,
		Footer: discordEmbedFooter{
			Text: "Streamwarden Detection Engine",
		},
	}
}

// severityColor returns the Discord embed color for a severity level.
func severityColor(severity models.Severity) int {
	switch severity {
	case models.SeverityCritical:
		return 0xFF0000 // Red
	case models.SeverityWarning:
		return 0xFFA500 // Orange
	case models.SeverityInfo:
		return 0x3498DB // Blue
	default:
		return 0x95A5A6 // Gray
	}
}

// Discord webhook structures
type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      discordEmbedFooter  `json:"footer,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text,omitempty"`
}
