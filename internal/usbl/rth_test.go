// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package usbl

import (
	"errors"
	"strings"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
)

func base(fields string) nmea.BaseSentence {
	return nmea.BaseSentence{Talker: "--", Type: TypeRTH, Fields: strings.Split(fields, ",")}
}

func TestParseRTH_AllFields(t *testing.T) {
	s, err := ParseRTH(base("1.5,2.5,3.5,120.0,5.5,45.0,-10.0,0.1,0.2,0.3,270.0,-6.0"))
	if err != nil {
		t.Fatalf("ParseRTH() error: %v", err)
	}
	m, ok := s.(RTH)
	if !ok {
		t.Fatalf("type=%T want RTH", s)
	}
	if m.SlantRange != 120 || m.CompassBearing != 45 || m.TrueElevation != -10 {
		t.Fatalf("sr=%v cb=%v te=%v", m.SlantRange, m.CompassBearing, m.TrueElevation)
	}
	if m.ApparentBearing != 1.5 || m.Heading != 270 || m.AGCGain != -6 {
		t.Fatalf("ab=%v ch=%v db=%v", m.ApparentBearing, m.Heading, m.AGCGain)
	}
}

func TestParseRTH_WrongArity(t *testing.T) {
	_, err := ParseRTH(base("1,2,3,4,5,6,7,8,9,10,11"))
	var fce *FieldCountError
	if !errors.As(err, &fce) {
		t.Fatalf("err=%v want FieldCountError", err)
	}
	if fce.Expected != 12 || fce.Actual != 11 {
		t.Fatalf("expected=%d actual=%d want 12/11", fce.Expected, fce.Actual)
	}
}

func TestParseRTH_NonNumericField(t *testing.T) {
	_, err := ParseRTH(base("1,2,3,x,5,6,7,8,9,10,11,12"))
	if err == nil {
		t.Fatalf("expected error for non-numeric slant range")
	}
}

func TestParseRTH_EmptyField(t *testing.T) {
	for _, fields := range []string{
		",,,,,,,,,,,",
		"1.5,2.5,3.5,,5.5,45.0,-10.0,0.1,0.2,0.3,270.0,-6.0",
	} {
		if _, err := ParseRTH(base(fields)); err == nil {
			t.Fatalf("ParseRTH(%q) expected error for empty field", fields)
		}
	}
}
