// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import "github.com/relabs-tech/usbl_relay/internal/gps"

// Status is a point-in-time view of the controller for status pages.
type Status struct {
	SessionID     string            `json:"session_id,omitempty"`
	State         State             `json:"state"`
	GPSDevice     string            `json:"gps_device"`
	USBLDevice    string            `json:"usbl_device"`
	GPSEndpoint   string            `json:"gps_endpoint,omitempty"`
	FusedEndpoint string            `json:"fused_endpoint,omitempty"`
	LastFix       *gps.Fix          `json:"last_fix,omitempty"`
	GPSLines      uint64            `json:"gps_lines"`
	USBLLines     uint64            `json:"usbl_lines"`
	FusedSent     uint64            `json:"fused_sent"`
	Dropped       map[string]uint64 `json:"dropped"`
}

// Snapshot collects the current Status.
func (c *Controller) Snapshot() Status {
	st := Status{
		SessionID:     c.cfg.SessionID,
		State:         c.State(),
		GPSDevice:     c.gpsReader.Name(),
		USBLDevice:    c.usblReader.Name(),
		GPSEndpoint:   endpointString(c.gpsAddr.Load()),
		FusedEndpoint: endpointString(c.fusedAddr.Load()),
		GPSLines:      c.gpsLines.Load(),
		USBLLines:     c.usblLines.Load(),
		FusedSent:     c.fusedSent.Load(),
		Dropped:       make(map[string]uint64, len(c.dropped)),
	}
	if f, ok := c.LastFix(); ok {
		st.LastFix = &f
	}
	for reason, n := range c.dropped {
		st.Dropped[reason] = n.Load()
	}
	return st
}
