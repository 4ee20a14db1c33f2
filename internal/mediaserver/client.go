// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package mediaserver talks to the watched media servers: it snapshots
// their active sessions for the poller and carries out kill_session
// actions for the engine. Outbound calls run behind a circuit breaker so
// an unreachable server degrades to skipped poll cycles, not pile-ups.
package mediaserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/streamwarden/internal/config"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/tracker"
)

// maxErrorBody bounds how much of an error response is read for messages.
const maxErrorBody = 4 * 1024

// Client polls one media server through its Tautulli-compatible HTTP API.
type Client struct {
	serverID string
	kind     string
	baseURL  string
	apiKey   string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[any]

	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates a client for one configured server.
func NewClient(cfg config.MediaServerConfig) *Client {
	return &Client{
		serverID: cfg.ID,
		kind:     cfg.Kind,
		baseURL:  cfg.URL,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        cfg.ID + "-api",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Info().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("media server circuit breaker state change")
			},
		}),
		maxRetries:     5,
		retryBaseDelay: time.Second,
	}
}

// ServerID identifies the server this client polls.
func (c *Client) ServerID() string {
	return c.serverID
}

// Server returns the server's identity record.
func (c *Client) Server(name string) *models.Server {
	return &models.Server{ID: c.serverID, Name: name, Kind: c.kind}
}

// activityResponse is the get_activity wire shape.
type activityResponse struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
		Data    struct {
			Sessions []wireSession `json:"sessions"`
		} `json:"data"`
	} `json:"response"`
}

type wireSession struct {
	SessionKey       string  `json:"session_key"`
	RatingKey        string  `json:"rating_key"`
	UserID           int     `json:"user_id"`
	FriendlyName     string  `json:"friendly_name"`
	MachineID        string  `json:"machine_id"`
	Platform         string  `json:"platform"`
	Player           string  `json:"player"`
	MediaType        string  `json:"media_type"`
	Title            string  `json:"title"`
	GrandparentTitle string  `json:"grandparent_title"`
	IPAddress        string  `json:"ip_address"`
	Location         string  `json:"location"` // lan / wan
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	City             string  `json:"city"`
	Region           string  `json:"region"`
	Country          string  `json:"country"`
	State            string  `json:"state"` // playing / paused
	ViewOffsetMs     int64   `json:"view_offset"`
}

// ActiveSessions returns a full snapshot of the server's live sessions.
func (c *Client) ActiveSessions(ctx context.Context) ([]tracker.Poll, error) {
	result, err := c.cb.Execute(func() (any, error) {
		var resp activityResponse
		if err := c.makeRequest(ctx, "get_activity", nil, &resp); err != nil {
			return nil, err
		}
		if resp.Response.Result != "success" {
			return nil, fmt.Errorf("get_activity returned %q: %s", resp.Response.Result, resp.Response.Message)
		}

		now := time.Now()
		polls := make([]tracker.Poll, 0, len(resp.Response.Data.Sessions))
		for _, s := range resp.Response.Data.Sessions {
			polls = append(polls, c.toPoll(s, now))
		}
		return polls, nil
	})
	if err != nil {
		return nil, err
	}
	polls, ok := result.([]tracker.Poll)
	if !ok {
		return nil, fmt.Errorf("mediaserver: unexpected result type %T", result)
	}
	return polls, nil
}

func (c *Client) toPoll(s wireSession, now time.Time) tracker.Poll {
	locType := models.LocationWAN
	if s.Location == "lan" {
		locType = models.LocationLAN
	}
	state := models.StatePlaying
	if s.State == "paused" {
		state = models.StatePaused
	}

	return tracker.Poll{
		ServerID:         c.serverID,
		SessionKey:       s.SessionKey,
		RatingKey:        s.RatingKey,
		UserID:           s.UserID,
		Username:         s.FriendlyName,
		MachineID:        s.MachineID,
		Platform:         s.Platform,
		Player:           s.Player,
		MediaType:        s.MediaType,
		Title:            s.Title,
		GrandparentTitle: s.GrandparentTitle,
		IPAddress:        s.IPAddress,
		LocationType:     locType,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		City:             s.City,
		Region:           s.Region,
		Country:          s.Country,
		State:            state,
		ViewOffsetMs:     s.ViewOffsetMs,
		Timestamp:        now,
	}
}

// terminateResponse is the terminate_session wire shape.
type terminateResponse struct {
	Response struct {
		Result  string `json:"result"`
		Message string `json:"message"`
	} `json:"response"`
}

// KillSession asks the server to terminate the external session, passing
// the reason through as the message shown to the viewer.
func (c *Client) KillSession(ctx context.Context, sessionKey, reason string) error {
	_, err := c.cb.Execute(func() (any, error) {
		params := url.Values{}
		params.Set("session_key", sessionKey)
		if reason != "" {
			params.Set("message", reason)
		}

		var resp terminateResponse
		if err := c.makeRequest(ctx, "terminate_session", params, &resp); err != nil {
			return nil, err
		}
		if resp.Response.Result != "success" {
			return nil, fmt.Errorf("terminate_session returned %q: %s", resp.Response.Result, resp.Response.Message)
		}
		return nil, nil
	})
	return err
}

// makeRequest performs one API call with 429 backoff and decodes the JSON
// response into result.
func (c *Client) makeRequest(ctx context.Context, cmd string, params url.Values, result any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)

	reqURL := fmt.Sprintf("%s/api/v2?%s", c.baseURL, params.Encode())

	resp, err := c.doRequestWithRateLimit(ctx, reqURL)
	if err != nil {
		return fmt.Errorf("failed to make %s request: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s request failed with status %d: %s", cmd, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cmd, err)
	}
	return nil
}

// doRequestWithRateLimit retries HTTP 429 with exponential backoff,
// honoring Retry-After when the server sends one.
func (c *Client) doRequestWithRateLimit(ctx context.Context, reqURL string) (*http.Response, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			break
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
}

// Fleet routes engine kill requests to the right server's client.
type Fleet struct {
	clients map[string]*Client
}

// NewFleet indexes clients by server ID.
func NewFleet(clients ...*Client) *Fleet {
	f := &Fleet{clients: make(map[string]*Client, len(clients))}
	for _, c := range clients {
		f.clients[c.ServerID()] = c
	}
	return f
}

// Client returns the client for a server, or nil.
func (f *Fleet) Client(serverID string) *Client {
	return f.clients[serverID]
}

// KillSession dispatches a termination to the owning server.
func (f *Fleet) KillSession(ctx context.Context, serverID, sessionKey, reason string) error {
	c, ok := f.clients[serverID]
	if !ok {
		return errors.New("mediaserver: unknown server " + serverID)
	}
	return c.KillSession(ctx, sessionKey, reason)
}
