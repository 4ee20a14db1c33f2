// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import (
	"math"
	"time"

	"github.com/tomtom215/streamwarden/internal/models"
)

// Built-in condition field names.
const (
	FieldTravelSpeedKmh          = "travel_speed_kmh"
	FieldActiveSessionDistanceKm = "active_session_distance_km"
	FieldUniqueIPsInWindow       = "unique_ips_in_window"
	FieldConcurrentStreams       = "concurrent_streams"
	FieldCountry                 = "country"
	FieldIsLocalNetwork          = "is_local_network"
	FieldInactiveDays            = "inactive_days"
)

// Resolver params keys.
const (
	ParamExcludeSameDevice = "exclude_same_device"
	ParamWindowHours       = "window_hours"
)

// DefaultWindowHours is the lookback window applied when a velocity-style
// condition omits the window_hours param.
const DefaultWindowHours = 24.0

// FieldResolver computes a field value from an evaluation context. A nil
// return means the signal is absent or not yet computed (e.g. geolocation
// pending), which fails every comparison per the fail-closed contract.
type FieldResolver func(ec *EvalContext, params map[string]any) any

// fieldRegistry maps every built-in field name to its resolver. The registry
// is consulted at rule-load time too, so unknown field names fail fast
// instead of silently resolving to "always false" in production.
var fieldRegistry = map[string]FieldResolver{
	FieldTravelSpeedKmh:          resolveTravelSpeed,
	FieldActiveSessionDistanceKm: resolveActiveSessionDistance,
	FieldUniqueIPsInWindow:       resolveUniqueIPsInWindow,
	FieldConcurrentStreams:       resolveConcurrentStreams,
	FieldCountry:                 resolveCountry,
	FieldIsLocalNetwork:          resolveIsLocalNetwork,
	FieldInactiveDays:            resolveInactiveDays,
}

// KnownField reports whether name is a registered condition field.
func KnownField(name string) bool {
	_, ok := fieldRegistry[name]
	return ok
}

// KnownFields returns the sorted-insensitive list of registered field names.
func KnownFields() []string {
	names := make([]string, 0, len(fieldRegistry))
	for name := range fieldRegistry {
		names = append(names, name)
	}
	return names
}

// ResolveField resolves a condition field against the context. The second
// return is false for unknown field names; a nil value with true means the
// field is known but its signal is absent.
func ResolveField(name string, ec *EvalContext, params map[string]any) (any, bool) {
	resolver, ok := fieldRegistry[name]
	if !ok {
		return nil, false
	}
	return resolver(ec, params), true
}

// resolveTravelSpeed computes the speed in km/h that would be required to
// travel from the user's most recent prior session to the subject session.
// Absent when there is no prior session or either end lacks geolocation.
func resolveTravelSpeed(ec *EvalContext, params map[string]any) any {
	s := ec.Session
	if s == nil || IsUnknownLocation(s.Latitude, s.Longitude) {
		return nil
	}

	excludeSameDevice := boolParam(params, ParamExcludeSameDevice)

	var prev *models.Session
	for _, candidate := range ec.RecentSessions {
		if candidate.ID == s.ID {
			continue
		}
		if !candidate.StartedAt.Before(s.StartedAt) {
			continue
		}
		if excludeSameDevice && sameDevice(candidate, s) {
			continue
		}
		if IsUnknownLocation(candidate.Latitude, candidate.Longitude) {
			continue
		}
		if prev == nil || candidate.StartedAt.After(prev.StartedAt) {
			prev = candidate
		}
	}
	if prev == nil {
		return nil
	}

	distanceKm := HaversineDistanceKm(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)

	// Guard against a zero time delta; direct float equality on hours is
	// unreliable under IEEE 754.
	const floatEpsilon = 1e-9
	hours := s.StartedAt.Sub(prev.StartedAt).Hours()
	if math.Abs(hours) < floatEpsilon {
		hours = 0.001
	}

	return distanceKm / hours
}

// resolveActiveSessionDistance computes the maximum pairwise distance in km
// between the subject session and each other currently active session for
// the same user. Absent when the subject lacks geolocation or no comparable
// peer exists.
func resolveActiveSessionDistance(ec *EvalContext, params map[string]any) any {
	s := ec.Session
	if s == nil || IsUnknownLocation(s.Latitude, s.Longitude) {
		return nil
	}

	excludeSameDevice := boolParam(params, ParamExcludeSameDevice)

	maxKm := -1.0
	for _, peer := range ec.ActiveSessions {
		if peer.ID == s.ID {
			continue
		}
		if excludeSameDevice && sameDevice(peer, s) {
			continue
		}
		if IsUnknownLocation(peer.Latitude, peer.Longitude) {
			continue
		}
		km := HaversineDistanceKm(s.Latitude, s.Longitude, peer.Latitude, peer.Longitude)
		if km > maxKm {
			maxKm = km
		}
	}
	if maxKm < 0 {
		return nil
	}
	return maxKm
}

// resolveUniqueIPsInWindow counts distinct IP addresses across the user's
// sessions within the window_hours param (default 24h), including the
// subject session's IP.
func resolveUniqueIPsInWindow(ec *EvalContext, params map[string]any) any {
	s := ec.Session
	if s == nil {
		return nil
	}

	window := time.Duration(floatParam(params, ParamWindowHours, DefaultWindowHours) * float64(time.Hour))
	cutoff := ec.Now.Add(-window)

	ips := make(map[string]struct{})
	if s.IPAddress != "" {
		ips[s.IPAddress] = struct{}{}
	}
	for _, recent := range ec.RecentSessions {
		if recent.IPAddress == "" {
			continue
		}
		if recent.StartedAt.Before(cutoff) {
			continue
		}
		ips[recent.IPAddress] = struct{}{}
	}

	return len(ips)
}

// resolveConcurrentStreams counts the user's currently active sessions.
// With exclude_same_device, sessions sharing a device fingerprint collapse
// into one: a single player reconnecting under two session keys is not two
// streams.
func resolveConcurrentStreams(ec *EvalContext, params map[string]any) any {
	s := ec.Session
	if s == nil {
		return nil
	}

	if !boolParam(params, ParamExcludeSameDevice) {
		return countSubjectAndPeers(ec)
	}

	devices := make(map[string]struct{})
	count := 0
	counted := false
	for _, active := range ec.ActiveSessions {
		if active.ID == s.ID {
			counted = true
		}
		if active.MachineID == "" {
			count++
			continue
		}
		if _, seen := devices[active.MachineID]; seen {
			continue
		}
		devices[active.MachineID] = struct{}{}
		count++
	}
	if !counted {
		if s.MachineID == "" {
			count++
		} else if _, seen := devices[s.MachineID]; !seen {
			count++
		}
	}
	return count
}

// countSubjectAndPeers returns the active session count, ensuring the subject
// is included even when the provider's snapshot omits it.
func countSubjectAndPeers(ec *EvalContext) int {
	count := len(ec.ActiveSessions)
	for _, active := range ec.ActiveSessions {
		if active.ID == ec.Session.ID {
			return count
		}
	}
	return count + 1
}

// resolveCountry passes through the session's resolved country code.
// Absent until geolocation has classified the session.
func resolveCountry(ec *EvalContext, _ map[string]any) any {
	if ec.Session == nil || ec.Session.Country == "" {
		return nil
	}
	return ec.Session.Country
}

// resolveIsLocalNetwork passes through the session's network classification.
// Absent when the poller has not classified the origin yet.
func resolveIsLocalNetwork(ec *EvalContext, _ map[string]any) any {
	if ec.Session == nil || ec.Session.LocationType == "" {
		return nil
	}
	return ec.Session.IsLocalNetwork()
}

// resolveInactiveDays computes the days elapsed since the server-user's last
// session start. Absent when the user record or its history is unknown.
func resolveInactiveDays(ec *EvalContext, _ map[string]any) any {
	if ec.User == nil || ec.User.LastSessionAt == nil {
		return nil
	}
	return ec.Now.Sub(*ec.User.LastSessionAt).Hours() / 24.0
}

// sameDevice reports whether two sessions share a device fingerprint.
// Sessions without a fingerprint never count as the same device.
func sameDevice(a, b *models.Session) bool {
	return a.MachineID != "" && a.MachineID == b.MachineID
}

// boolParam reads a boolean param, tolerating absence and wrong types.
func boolParam(params map[string]any, key string) bool {
	if params == nil {
		return false
	}
	v, ok := params[key].(bool)
	return ok && v
}

// floatParam reads a numeric param with a default, tolerating the int/float64
// ambiguity of decoded JSON.
func floatParam(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if f, ok := toFloat(params[key]); ok && f > 0 {
		return f
	}
	return def
}
