// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReplayPort plays a capture file back as if it were a device. Non-blank
// lines are replayed in order, CRLF-terminated, and the file is cycled
// forever. Writes are recorded but go nowhere.
type ReplayPort struct {
	name  string
	delay time.Duration
	lines [][]byte

	mu      sync.Mutex
	next    int
	pending []byte
	written [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenReplay loads path for replay, pausing delay before each line.
func OpenReplay(path string, delay time.Duration) (*ReplayPort, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open replay %s: %w", path, err)
	}
	var lines [][]byte
	for _, ln := range bytes.Split(b, []byte("\n")) {
		ln = bytes.TrimRight(ln, "\r")
		if len(bytes.TrimSpace(ln)) == 0 {
			continue
		}
		line := make([]byte, 0, len(ln)+2)
		line = append(line, ln...)
		lines = append(lines, append(line, '\r', '\n'))
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("transport: replay %s has no lines", path)
	}
	return &ReplayPort{
		name:   ReplayScheme + path,
		delay:  delay,
		lines:  lines,
		closed: make(chan struct{}),
	}, nil
}

func (p *ReplayPort) Name() string { return p.name }

// Read returns the rest of the current line, or waits out the line delay
// and starts the next one.
func (p *ReplayPort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}

	p.mu.Lock()
	havePending := len(p.pending) > 0
	p.mu.Unlock()

	if !havePending && p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-p.closed:
			t.Stop()
			return 0, ErrPortClosed
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		p.pending = p.lines[p.next]
		p.next = (p.next + 1) % len(p.lines)
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}
	slog.Debug("replay: pretending to write", "device", p.name, "data", string(b))
	p.mu.Lock()
	p.written = append(p.written, append([]byte(nil), b...))
	p.mu.Unlock()
	return len(b), nil
}

// Written returns copies of everything written so far.
func (p *ReplayPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	for i, w := range p.written {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
