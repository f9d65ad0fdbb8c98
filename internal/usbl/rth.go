// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package usbl holds the sentence emitted by the acoustic positioning
// receiver: the vendor RTH sentence with bearing, range and elevation to
// the transponder.
package usbl

import (
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

const (
	// TypeRTH is the sentence type code of the acoustic positioning sentence.
	TypeRTH = "RTH"
	// FieldCountRTH is the number of data fields an RTH sentence must carry.
	FieldCountRTH = 12
)

// RTH is one bearing/range/elevation reading relative to the transponder.
// Angles are in degrees, range in meters, gain in dB.
type RTH struct {
	nmea.BaseSentence
	ApparentBearing        float64 `json:"ab"`
	ApparentCompassBearing float64 `json:"ac"`
	ApparentElevation      float64 `json:"ae"`
	SlantRange             float64 `json:"sr"`
	TrueBearing            float64 `json:"tb"`
	CompassBearing         float64 `json:"cb"` // true bearing, compass referenced
	TrueElevation          float64 `json:"te"`
	Roll                   float64 `json:"er"`
	Pitch                  float64 `json:"ep"`
	Yaw                    float64 `json:"ey"`
	Heading                float64 `json:"ch"`
	AGCGain                float64 `json:"db"`
}

// FieldCountError reports a sentence that does not carry the fixed number
// of fields its type requires.
type FieldCountError struct {
	Type     string
	Expected int
	Actual   int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("nmea: %s expects %d fields, got %d", e.Type, e.Expected, e.Actual)
}

var rthFieldNames = [FieldCountRTH]string{
	"apparent bearing", "apparent compass bearing", "apparent elevation",
	"slant range", "true bearing", "compass bearing", "true elevation",
	"euler roll", "euler pitch", "euler yaw", "compass heading", "agc gain",
}

// ParseRTH is the go-nmea parser for RTH sentences. Every field must be
// present; an empty field is an error rather than zero.
func ParseRTH(s nmea.BaseSentence) (nmea.Sentence, error) {
	if len(s.Fields) != FieldCountRTH {
		return nil, &FieldCountError{Type: TypeRTH, Expected: FieldCountRTH, Actual: len(s.Fields)}
	}
	for i, f := range s.Fields {
		if strings.TrimSpace(f) == "" {
			return nil, fmt.Errorf("nmea: %s field %d (%s) is empty", TypeRTH, i, rthFieldNames[i])
		}
	}
	p := nmea.NewParser(s)
	m := RTH{
		BaseSentence:           s,
		ApparentBearing:        p.Float64(0, rthFieldNames[0]),
		ApparentCompassBearing: p.Float64(1, rthFieldNames[1]),
		ApparentElevation:      p.Float64(2, rthFieldNames[2]),
		SlantRange:             p.Float64(3, rthFieldNames[3]),
		TrueBearing:            p.Float64(4, rthFieldNames[4]),
		CompassBearing:         p.Float64(5, rthFieldNames[5]),
		TrueElevation:          p.Float64(6, rthFieldNames[6]),
		Roll:                   p.Float64(7, rthFieldNames[7]),
		Pitch:                  p.Float64(8, rthFieldNames[8]),
		Yaw:                    p.Float64(9, rthFieldNames[9]),
		Heading:                p.Float64(10, rthFieldNames[10]),
		AGCGain:                p.Float64(11, rthFieldNames[11]),
	}
	return m, p.Err()
}
