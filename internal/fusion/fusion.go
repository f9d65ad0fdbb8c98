// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion places the vehicle on the map from a surface GPS fix and an
// acoustic bearing/range/elevation reading to the vehicle's transponder.
package fusion

import (
	"math"

	"github.com/relabs-tech/usbl_relay/internal/gps"
	"github.com/relabs-tech/usbl_relay/internal/usbl"
)

// EarthRadius is the WGS-84 equatorial radius in meters.
const EarthRadius = 6378137.0

// FusedTalker is the talker id stamped on fused RMC sentences.
const FusedTalker = "GN"

// Combine offsets fix by the horizontal component of the acoustic reading.
//
// The offset uses a local flat-earth approximation on a sphere of radius
// EarthRadius, which is accurate for the few hundred meters an acoustic
// link covers:
//
//	horizontal = slantRange * cos(trueElevation)
//	dNorth     = cos(compassBearing) * horizontal
//	dEast      = sin(compassBearing) * horizontal
//	dLat       = dNorth / R
//	dLon       = dEast / (R * cos(lat))
//
// Speed and course are cleared since the acoustic link cannot supply them.
// Every other field is taken from fix.
func Combine(fix gps.Fix, r usbl.RTH) gps.Fix {
	horizontal := r.SlantRange * math.Cos(radians(r.TrueElevation))

	dNorth := math.Cos(radians(r.CompassBearing)) * horizontal
	dEast := math.Sin(radians(r.CompassBearing)) * horizontal

	dLat := dNorth / EarthRadius
	dLon := dEast / (EarthRadius * math.Cos(radians(fix.Latitude)))

	lat := fix.Latitude + degrees(dLat)
	lon := fix.Longitude + degrees(dLon)

	return fix.WithPosition(FusedTalker, lat, lon).WithoutMotion()
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }

func degrees(rad float64) float64 { return rad * 180.0 / math.Pi }
