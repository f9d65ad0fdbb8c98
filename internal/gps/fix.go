// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// RMC data field positions (after the talker+type prefix).
const (
	fieldTime = iota
	fieldValidity
	fieldLat
	fieldLatHemi
	fieldLon
	fieldLonHemi
	fieldSpeed
	fieldCourse
	fieldDate

	minRMCFields = fieldDate + 1
)

// Fix is an absolute position taken from an RMC sentence. A Fix is
// immutable: derived fixes are new values, and the raw field list is only
// reachable through copies.
type Fix struct {
	Talker     string    `json:"talker"`
	Time       string    `json:"time"`        // hhmmss.ss as received
	Date       string    `json:"date"`        // ddmmyy as received
	Latitude   float64   `json:"lat"`         // decimal degrees
	Longitude  float64   `json:"lon"`         // decimal degrees
	SpeedKnots float64   `json:"speed_knots"` // speed over ground
	CourseDeg  float64   `json:"course_deg"`  // course over ground
	Validity   string    `json:"validity"`    // "A" (valid) / "V" (void)
	ReceivedAt time.Time `json:"received_at"`

	fields []string
}

// FromRMC builds a Fix from a parsed RMC sentence.
func FromRMC(m nmea.RMC, receivedAt time.Time) (Fix, error) {
	if len(m.Fields) < minRMCFields {
		return Fix{}, fmt.Errorf("gps: RMC has %d fields, need at least %d", len(m.Fields), minRMCFields)
	}
	return Fix{
		Talker:     m.Talker,
		Time:       m.Fields[fieldTime],
		Date:       m.Fields[fieldDate],
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Validity:   m.Validity,
		ReceivedAt: receivedAt,
		fields:     append([]string(nil), m.Fields...),
	}, nil
}

// Valid reports whether the receiver marked this fix as usable.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// Age is how long ago the fix was received.
func (f Fix) Age(now time.Time) time.Duration {
	return now.Sub(f.ReceivedAt)
}

// Fields returns the RMC data fields with latitude and longitude in
// canonical form. The slice is a fresh copy.
func (f Fix) Fields() []string {
	out := append([]string(nil), f.fields...)
	for len(out) < minRMCFields {
		out = append(out, "")
	}
	out[fieldLat], out[fieldLatHemi] = FormatLatitude(f.Latitude)
	out[fieldLon], out[fieldLonHemi] = FormatLongitude(f.Longitude)
	return out
}

// WithPosition returns a copy of f moved to lat/lon and reported by talker.
func (f Fix) WithPosition(talker string, lat, lon float64) Fix {
	out := f
	out.fields = append([]string(nil), f.fields...)
	out.Talker = talker
	out.Latitude = lat
	out.Longitude = lon
	return out
}

// WithoutMotion returns a copy of f with speed and course cleared.
func (f Fix) WithoutMotion() Fix {
	out := f
	out.fields = append([]string(nil), f.fields...)
	for len(out.fields) < minRMCFields {
		out.fields = append(out.fields, "")
	}
	out.fields[fieldSpeed] = ""
	out.fields[fieldCourse] = ""
	out.SpeedKnots = 0
	out.CourseDeg = 0
	return out
}

// Encode renders f as an RMC sentence with a fresh checksum, without the
// line terminator.
func (f Fix) Encode() string {
	payload := f.Talker + nmea.TypeRMC + "," + strings.Join(f.Fields(), ",")
	return "$" + payload + "*" + nmea.Checksum(payload)
}

// Line is Encode plus the CRLF terminator, ready to send.
func (f Fix) Line() []byte {
	return []byte(f.Encode() + "\r\n")
}

// FormatLatitude renders signed degrees as ddmm.mmm and N/S. A value that
// rounds to zero is N.
func FormatLatitude(deg float64) (string, string) {
	text, negative := formatDegMin(deg)
	if negative {
		return text, "S"
	}
	return text, "N"
}

// FormatLongitude renders signed degrees as ddmm.mmm and E/W. Degrees are
// padded to two digits, so longitudes of 100 and beyond take three. A
// value that rounds to zero is E.
func FormatLongitude(deg float64) (string, string) {
	text, negative := formatDegMin(deg)
	if negative {
		return text, "W"
	}
	return text, "E"
}

// formatDegMin reports negative only when the rounded value is non-zero.
func formatDegMin(deg float64) (string, bool) {
	a := math.Abs(deg)
	whole := math.Floor(a)
	minutes := math.Round((a-whole)*60*1000) / 1000
	if minutes >= 60 {
		whole++
		minutes -= 60
	}
	negative := deg < 0 && (whole != 0 || minutes != 0)
	return fmt.Sprintf("%02d%06.3f", int(whole), minutes), negative
}
