// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Severity indicates the severity level of a violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a recognized severity level.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Violation is a recorded rule violation against a logical session.
type Violation struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"rule_id"`
	RuleName  string          `json:"rule_name"`
	SessionID string          `json:"session_id"`
	ServerID  string          `json:"server_id,omitempty"`
	UserID    int             `json:"user_id"`
	Username  string          `json:"username,omitempty"`
	MachineID string          `json:"machine_id,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	Severity  Severity        `json:"severity"`
	Message   string          `json:"message,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
