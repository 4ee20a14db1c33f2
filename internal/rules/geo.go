// Streamwarden - Media Server Session Intelligence and Abuse Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package rules

import "math"

// CoordinateEpsilon is the threshold for considering coordinates as
// effectively zero. A coordinate pair is "unknown" (sentinel value 0,0) if
// both latitude and longitude are within this epsilon of zero.
//
// Value rationale: 1e-7 degrees is roughly 1.1cm at the equator, well below
// GPS accuracy and any meaningful coordinate difference, while providing a
// reliable float comparison.
const CoordinateEpsilon = 1e-7

// IsUnknownLocation returns true if the coordinates represent an unknown
// location. Uses epsilon comparison instead of direct float equality, which
// is unreliable under IEEE 754 representation.
func IsUnknownLocation(lat, lon float64) bool {
	return math.Abs(lat) < CoordinateEpsilon && math.Abs(lon) < CoordinateEpsilon
}

// HaversineDistanceKm calculates the great-circle distance between two points
// on Earth using the Haversine formula. Returns distance in kilometers.
func HaversineDistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
