// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package fusion

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/usbl_relay/internal/gps"
	"github.com/relabs-tech/usbl_relay/internal/usbl"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func fixAt(t *testing.T, lat, lon float64) gps.Fix {
	t.Helper()
	latS, ns := gps.FormatLatitude(lat)
	lonS, ew := gps.FormatLongitude(lon)
	line := nmeaLine(fmt.Sprintf("GPRMC,120000.00,A,%s,%s,%s,%s,1.5,42.0,160126,2.0,E", latS, ns, lonS, ew))
	s, err := nmea.Parse(line)
	if err != nil {
		t.Fatalf("nmea.Parse(%q) error: %v", line, err)
	}
	f, err := gps.FromRMC(s.(nmea.RMC), time.Date(2026, 1, 16, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FromRMC() error: %v", err)
	}
	return f
}

func TestCombine_DueNorth(t *testing.T) {
	fix := fixAt(t, 10.0, 20.0)
	out := Combine(fix, usbl.RTH{CompassBearing: 0, SlantRange: 100, TrueElevation: 0})

	wantLat := 10.0 + (100/EarthRadius)*(180/math.Pi)
	if math.Abs(out.Latitude-wantLat) > 1e-12 {
		t.Fatalf("lat=%.12f want %.12f", out.Latitude, wantLat)
	}
	if math.Abs(out.Longitude-20.0) > 1e-12 {
		t.Fatalf("lon=%.12f want 20", out.Longitude)
	}
}

func TestCombine_DueEastScalesWithLatitude(t *testing.T) {
	fix := fixAt(t, 60.0, 5.0)
	out := Combine(fix, usbl.RTH{CompassBearing: 90, SlantRange: 200, TrueElevation: 0})

	wantLon := 5.0 + (200/(EarthRadius*math.Cos(60*math.Pi/180)))*(180/math.Pi)
	if math.Abs(out.Longitude-wantLon) > 1e-12 {
		t.Fatalf("lon=%.12f want %.12f", out.Longitude, wantLon)
	}
	if math.Abs(out.Latitude-60.0) > 1e-9 {
		t.Fatalf("lat=%.12f want 60", out.Latitude)
	}
}

func TestCombine_ElevationShortensRange(t *testing.T) {
	fix := fixAt(t, 0, 0)
	flat := Combine(fix, usbl.RTH{CompassBearing: 180, SlantRange: 100, TrueElevation: 0})
	steep := Combine(fix, usbl.RTH{CompassBearing: 180, SlantRange: 100, TrueElevation: 60})

	if flat.Latitude >= 0 {
		t.Fatalf("bearing 180 should move south, lat=%v", flat.Latitude)
	}
	if math.Abs(steep.Latitude*2-flat.Latitude) > 1e-12 {
		t.Fatalf("60 deg elevation should halve the offset: flat=%v steep=%v", flat.Latitude, steep.Latitude)
	}
	vertical := Combine(fix, usbl.RTH{CompassBearing: 45, SlantRange: 100, TrueElevation: -90})
	if math.Abs(vertical.Latitude) > 1e-12 || math.Abs(vertical.Longitude) > 1e-12 {
		t.Fatalf("straight down should not move: lat=%v lon=%v", vertical.Latitude, vertical.Longitude)
	}
}

func TestCombine_FieldsCopiedMotionCleared(t *testing.T) {
	fix := fixAt(t, -33.85, 151.2)
	out := Combine(fix, usbl.RTH{CompassBearing: 10, SlantRange: 50, TrueElevation: 5})

	in := fix.Fields()
	got := out.Fields()
	if len(got) != len(in) {
		t.Fatalf("fields len=%d want %d", len(got), len(in))
	}
	if got[0] != in[0] || got[1] != in[1] {
		t.Fatalf("time/status changed: %v", got[:2])
	}
	if got[6] != "" || got[7] != "" {
		t.Fatalf("speed/course not cleared: %q %q", got[6], got[7])
	}
	for i := 8; i < len(in); i++ {
		if got[i] != in[i] {
			t.Fatalf("field %d=%q want %q", i, got[i], in[i])
		}
	}
	if out.Talker != FusedTalker {
		t.Fatalf("talker=%q want %q", out.Talker, FusedTalker)
	}
	if got[3] != "S" || got[5] != "E" {
		t.Fatalf("hemispheres=%q,%q want S,E", got[3], got[5])
	}
	if !out.ReceivedAt.Equal(fix.ReceivedAt) {
		t.Fatalf("received_at=%v want %v", out.ReceivedAt, fix.ReceivedAt)
	}
}

func TestCombine_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		fix := fixAt(t, rng.Float64()*160-80, rng.Float64()*340-170)
		r := usbl.RTH{
			CompassBearing: rng.Float64() * 360,
			SlantRange:     rng.Float64() * 1000,
			TrueElevation:  rng.Float64()*180 - 90,
		}
		a := Combine(fix, r).Encode()
		b := Combine(fix, r).Encode()
		if a != b {
			t.Fatalf("Combine not deterministic:\n%q\n%q", a, b)
		}
		if _, err := nmea.Parse(a); err != nil {
			t.Fatalf("fused sentence %q does not parse: %v", a, err)
		}
	}
}

func TestCombine_DoesNotMutateInput(t *testing.T) {
	fix := fixAt(t, 10, 20)
	before := fix.Encode()
	_ = Combine(fix, usbl.RTH{CompassBearing: 30, SlantRange: 300})
	if fix.Encode() != before {
		t.Fatalf("input fix mutated")
	}
}
