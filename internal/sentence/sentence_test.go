// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sentence

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/usbl_relay/internal/usbl"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const rthPayload = "--RTH,1.0,2.0,3.0,100.0,5.0,0.0,0.0,0.1,0.2,0.3,90.0,-3.0"

func TestParse_RMC(t *testing.T) {
	s, err := Parse(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W") + "\r\n")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if _, ok := s.(nmea.RMC); !ok {
		t.Fatalf("type=%T want nmea.RMC", s)
	}
}

func TestParse_RTHRecognized(t *testing.T) {
	s, err := Parse(nmeaLine(rthPayload))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	m, ok := s.(usbl.RTH)
	if !ok {
		t.Fatalf("type=%T want usbl.RTH", s)
	}
	if m.DataType() != usbl.TypeRTH {
		t.Fatalf("DataType()=%q want %q", m.DataType(), usbl.TypeRTH)
	}
	if m.SlantRange != 100 || m.Heading != 90 {
		t.Fatalf("sr=%v ch=%v", m.SlantRange, m.Heading)
	}
}

func TestParse_RTHOtherTalker(t *testing.T) {
	s, err := Parse(nmeaLine(strings.Replace(rthPayload, "--", "UP", 1)))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if s.TalkerID() != "UP" {
		t.Fatalf("talker=%q want UP", s.TalkerID())
	}
}

func TestParse_RTHArity(t *testing.T) {
	_, err := Parse(nmeaLine("--RTH,1,2,3,4,5,6,7,8,9,10,11"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v want *ParseError", err)
	}
	if pe.Kind != KindMalformed {
		t.Fatalf("kind=%v want %v", pe.Kind, KindMalformed)
	}
	if pe.Expected != 12 || pe.Actual != 11 {
		t.Fatalf("expected=%d actual=%d want 12/11", pe.Expected, pe.Actual)
	}
	if !strings.Contains(pe.Error(), "expected 12 fields, got 11") {
		t.Fatalf("message=%q", pe.Error())
	}
}

func TestParse_Kinds(t *testing.T) {
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"checksum", good[:len(good)-2] + "00", KindChecksum},
		{"unknown type", nmeaLine("GPXYZ,1,2,3"), KindUnknownType},
		{"no start", "GPRMC,1,2*00", KindMalformed},
		{"no checksum", "$GPRMC,123519,A", KindMalformed},
		{"bad field", nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,abc,084.4,230394,003.1,W"), KindMalformed},
		{"empty", "", KindMalformed},
		{"rth empty fields", nmeaLine("USRTH" + strings.Repeat(",", usbl.FieldCountRTH)), KindMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.line)
			if got := KindOf(err); got != tc.want {
				t.Fatalf("KindOf(%v)=%v want %v", err, got, tc.want)
			}
		})
	}
}

func TestParse_LowercaseChecksumAccepted(t *testing.T) {
	line := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	lower := line[:len(line)-2] + strings.ToLower(line[len(line)-2:])
	if _, err := Parse(lower); err != nil {
		t.Fatalf("Parse(lowercase checksum) error: %v", err)
	}
}

func TestKindOf_NonParseError(t *testing.T) {
	if got := KindOf(errors.New("x")); got != KindNone {
		t.Fatalf("KindOf=%v want none", got)
	}
	if got := KindOf(nil); got != KindNone {
		t.Fatalf("KindOf(nil)=%v want none", got)
	}
}
