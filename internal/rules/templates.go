// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"github.com/tomtom215/streamwarden/internal/models"
)

// The six classic violation archetypes compile to the generic Rule shape.
// Each produces a single condition group and a single create_violation
// action at warning severity; thresholds are caller-supplied with the
// defaults below.
const (
	// DefaultMaxTravelSpeedKmH is faster than any commercial flight.
	DefaultMaxTravelSpeedKmH = 500.0

	// DefaultMinSimultaneousDistanceKm separates genuinely different cities.
	DefaultMinSimultaneousDistanceKm = 100.0

	// DefaultMaxUniqueIPs within DefaultVelocityWindowHours.
	DefaultMaxUniqueIPs        = 5
	DefaultVelocityWindowHours = 24

	// DefaultMaxConcurrentStreams per user account.
	DefaultMaxConcurrentStreams = 3

	// DefaultInactivityDays before an account counts as dormant.
	DefaultInactivityDays = 30
)

// GeoRestrictionMode selects whether the country list permits or forbids.
type GeoRestrictionMode string

const (
	// GeoModeAllowlist: only the listed countries may stream.
	GeoModeAllowlist GeoRestrictionMode = "allowlist"

	// GeoModeBlocklist: the listed countries may not stream.
	GeoModeBlocklist GeoRestrictionMode = "blocklist"
)

// InactivityUnit is the unit of an account-inactivity threshold.
type InactivityUnit string

const (
	UnitDays   InactivityUnit = "days"
	UnitWeeks  InactivityUnit = "weeks"
	UnitMonths InactivityUnit = "months"
)

// NewImpossibleTravelTemplate flags sessions whose required travel speed from
// the user's previous session exceeds maxSpeedKmH. Same-device comparisons
// are excluded: a device switching network paths (e.g. through a VPN) is not
// travel.
func NewImpossibleTravelTemplate(maxSpeedKmH float64) *Rule {
	return &Rule{
		ID:      "classic-impossible-travel",
		Name:    "Impossible Travel",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{{
				Field:    FieldTravelSpeedKmh,
				Operator: OpGt,
				Value:    maxSpeedKmH,
				Params:   map[string]any{ParamExcludeSameDevice: true},
			}},
		}}},
		Actions: defaultViolationActions(),
	}
}

// NewSimultaneousLocationsTemplate flags users with concurrently active
// sessions at least minDistanceKm apart on different devices.
func NewSimultaneousLocationsTemplate(minDistanceKm float64) *Rule {
	return &Rule{
		ID:      "classic-simultaneous-locations",
		Name:    "Simultaneous Locations",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{{
				Field:    FieldActiveSessionDistanceKm,
				Operator: OpGte,
				Value:    minDistanceKm,
				Params:   map[string]any{ParamExcludeSameDevice: true},
			}},
		}}},
		Actions: defaultViolationActions(),
	}
}

// NewDeviceVelocityTemplate flags users seen from more than maxUniqueIPs
// distinct addresses within windowHours.
func NewDeviceVelocityTemplate(maxUniqueIPs, windowHours int) *Rule {
	return &Rule{
		ID:      "classic-device-velocity",
		Name:    "Device Velocity",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{{
				Field:    FieldUniqueIPsInWindow,
				Operator: OpGt,
				Value:    maxUniqueIPs,
				Params:   map[string]any{ParamWindowHours: windowHours},
			}},
		}}},
		Actions: defaultViolationActions(),
	}
}

// NewConcurrentStreamsTemplate flags users exceeding limit simultaneous
// streams, with same-device duplicates collapsed.
func NewConcurrentStreamsTemplate(limit int) *Rule {
	return &Rule{
		ID:      "classic-concurrent-streams",
		Name:    "Concurrent Streams",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{{
				Field:    FieldConcurrentStreams,
				Operator: OpGt,
				Value:    limit,
				Params:   map[string]any{ParamExcludeSameDevice: true},
			}},
		}}},
		Actions: defaultViolationActions(),
	}
}

// NewGeoRestrictionTemplate flags sessions from restricted countries.
// Allowlist mode compiles to not_in (anywhere outside the list violates);
// blocklist mode compiles to in. A forced is_local_network exclusion is
// always appended: local-network traffic has no meaningful geo
// classification and must never trigger geo rules.
func NewGeoRestrictionTemplate(mode GeoRestrictionMode, countries []string) *Rule {
	op := OpIn
	if mode == GeoModeAllowlist {
		op = OpNotIn
	}

	return &Rule{
		ID:      "classic-geo-restriction",
		Name:    "Geo Restriction",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{
				{
					Field:    FieldCountry,
					Operator: op,
					Value:    countries,
				},
				{
					Field:    FieldIsLocalNetwork,
					Operator: OpEq,
					Value:    false,
				},
			},
		}}},
		Actions: defaultViolationActions(),
	}
}

// NewAccountInactivityTemplate flags accounts whose last session started more
// than the threshold ago. The threshold is unit-converted to days
// (weeks multiply by 7, months by 30).
func NewAccountInactivityTemplate(threshold int, unit InactivityUnit) *Rule {
	days := threshold
	switch unit {
	case UnitWeeks:
		days = threshold * 7
	case UnitMonths:
		days = threshold * 30
	}

	return &Rule{
		ID:      "classic-account-inactivity",
		Name:    "Account Inactivity",
		Enabled: true,
		Conditions: ConditionSet{Groups: []ConditionGroup{{
			Conditions: []Condition{{
				Field:    FieldInactiveDays,
				Operator: OpGte,
				Value:    days,
			}},
		}}},
		Actions: defaultViolationActions(),
	}
}

// defaultViolationActions is the single default action every classic
// template carries.
func defaultViolationActions() ActionSet {
	return ActionSet{Actions: []Action{{
		Type:     ActionCreateViolation,
		Severity: models.SeverityWarning,
	}}}
}
