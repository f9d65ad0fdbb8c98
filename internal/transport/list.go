// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"path/filepath"
	"sort"
)

// devicePatterns are the device nodes USB serial adapters, on-board UARTs
// and macOS call-out devices show up as.
var devicePatterns = []string{
	"/dev/serial/by-id/*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
	"/dev/ttyAMA*",
	"/dev/serial[0-9]*",
	"/dev/ttyS*",
	"/dev/cu.*",
}

// ListPorts returns candidate serial devices, most specific names first.
func ListPorts() []string {
	return listPorts(filepath.Glob, devicePatterns)
}

func listPorts(glob func(string) ([]string, error), patterns []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matches, err := glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
