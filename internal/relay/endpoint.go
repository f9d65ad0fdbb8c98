// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package relay

import (
	"fmt"
	"net"
	"strings"
)

// ParseEndpoint resolves a "host:port" UDP destination. An empty string
// means no destination and yields nil.
func ParseEndpoint(s string) (*net.UDPAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, fmt.Errorf("relay: endpoint %q: %w", s, err)
	}
	if addr.Port == 0 {
		return nil, fmt.Errorf("relay: endpoint %q: port is required", s)
	}
	return addr, nil
}

func endpointString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
