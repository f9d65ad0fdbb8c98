// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import "time"

// Event keys.
const (
	KeyState         = "state"
	KeyGPSEndpoint   = "gps_endpoint"
	KeyFusedEndpoint = "fused_endpoint"
	KeyGPSReader     = "gps_reader"
	KeyUSBLReader    = "usbl_reader"
	KeyFix           = "fix"
	KeyFused         = "fused"
)

// Event reports a change in the controller. Value is a State, an endpoint
// string, a ReaderStatus or a gps.Fix depending on Key.
type Event struct {
	Key   string    `json:"key"`
	Value any       `json:"value"`
	Time  time.Time `json:"time"`
}

// Listener receives events on the goroutine that caused them. It must not
// block: GPS fixes arrive on the device read loop.
type Listener func(Event)

// ReaderStatus is the Value of reader events.
type ReaderStatus struct {
	Device string `json:"device"`
	Open   bool   `json:"open"`
	Error  string `json:"error,omitempty"`
}

func (c *Controller) emit(key string, value any) {
	ev := Event{Key: key, Value: value, Time: c.now()}
	for _, l := range c.listeners {
		l(ev)
	}
}
