// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package linereader runs a background loop over a device port, splits the
// byte stream into CRLF-terminated ASCII lines and hands each one to a
// callback.
package linereader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/relabs-tech/usbl_relay/internal/transport"
)

// Terminator ends every line on the wire.
const Terminator = "\r\n"

const (
	readChunk = 1024
	// maxLineBytes caps a line without terminator; longer runs are
	// discarded as garbage.
	maxLineBytes = 16 * 1024
)

// LineFunc receives one decoded line, terminator removed. A returned error
// is logged and the loop keeps going.
type LineFunc func(line string) error

// ClosedFunc is called exactly once when the loop ends: with nil after
// Close or end of stream, with the read error otherwise. A reader closed
// before Start reports nil from Close.
type ClosedFunc func(err error)

// Reader owns a port and the goroutine reading from it.
type Reader struct {
	port     transport.Port
	onLine   LineFunc
	onClosed ClosedFunc
	logger   *slog.Logger

	mu        sync.Mutex
	started   bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	lines   atomic.Uint64
	dropped atomic.Uint64
}

// New prepares a reader; Start launches the loop.
func New(port transport.Port, onLine LineFunc, onClosed ClosedFunc, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		port:     port,
		onLine:   onLine,
		onClosed: onClosed,
		logger:   logger.With("device", port.Name()),
		done:     make(chan struct{}),
	}
}

// Start launches the read loop.
func (r *Reader) Start() error {
	if r.onLine == nil {
		return fmt.Errorf("linereader: onLine is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return fmt.Errorf("linereader: %s is closed", r.port.Name())
	}
	if r.started {
		return fmt.Errorf("linereader: %s already started", r.port.Name())
	}
	r.started = true
	r.logger.Info("port opened")
	go r.run()
	return nil
}

// Name is the underlying port's name.
func (r *Reader) Name() string { return r.port.Name() }

// Write sends raw bytes to the device.
func (r *Reader) Write(p []byte) (int, error) {
	if r.closing.Load() {
		return 0, transport.ErrPortClosed
	}
	return r.port.Write(p)
}

// Close stops the loop and closes the port. It is idempotent and may be
// called from any goroutine, including a callback; it does not wait for
// the loop, use Wait for that.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closing.Store(true)
		started := r.started
		r.mu.Unlock()

		r.closeErr = r.port.Close()
		if !started {
			if r.onClosed != nil {
				r.onClosed(nil)
			}
			close(r.done)
		}
	})
	return r.closeErr
}

// Wait blocks until the loop has ended and onClosed has returned.
func (r *Reader) Wait() { <-r.done }

// Done is closed when the loop has ended.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Lines is the number of lines handed to onLine.
func (r *Reader) Lines() uint64 { return r.lines.Load() }

// Dropped is the number of over-long garbage runs discarded.
func (r *Reader) Dropped() uint64 { return r.dropped.Load() }

func (r *Reader) run() {
	defer close(r.done)

	buf := make([]byte, readChunk)
	var pending []byte
	var loopErr error

	for {
		n, err := r.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = r.dispatch(pending)
		}
		if err != nil {
			if !r.closing.Load() && !errors.Is(err, io.EOF) {
				loopErr = err
			}
			break
		}
		if r.closing.Load() {
			break
		}
	}

	if loopErr != nil {
		r.logger.Error("closing port because of an error", "err", loopErr)
		_ = r.Close()
	}
	r.logger.Info("port closed")
	if r.onClosed != nil {
		r.onClosed(loopErr)
	}
}

// dispatch hands every complete line in pending to onLine and returns the
// unterminated remainder.
func (r *Reader) dispatch(pending []byte) []byte {
	term := []byte(Terminator)
	for {
		i := bytes.Index(pending, term)
		if i < 0 {
			break
		}
		raw := pending[:i]
		pending = pending[i+len(term):]

		if r.closing.Load() {
			return nil
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		line := decodeASCII(raw)
		r.lines.Add(1)
		r.logger.Debug("line received", "line", line)
		if err := r.onLine(line); err != nil {
			r.logger.Warn("line handler failed", "err", err)
		}
	}

	if len(pending) > maxLineBytes {
		r.dropped.Add(1)
		r.logger.Warn("discarding unterminated data", "bytes", len(pending))
		return nil
	}
	// Compact so the backing array does not grow without bound.
	return append([]byte(nil), pending...)
}

// decodeASCII maps bytes outside 7-bit ASCII to U+FFFD rather than failing.
func decodeASCII(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c >= utf8.RuneSelf {
			sb.WriteRune(utf8.RuneError)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
