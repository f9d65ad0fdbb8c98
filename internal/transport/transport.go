// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport opens the byte streams the devices are attached to:
// real serial ports, or a file replay standing in for one.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// ReplayScheme prefixes device names that should be replayed from a file.
const ReplayScheme = "replay:"

// ErrPortClosed is returned by Read and Write after Close.
var ErrPortClosed = errors.New("transport: port closed")

// Port is a bidirectional byte stream with a human-readable name.
type Port interface {
	io.ReadWriteCloser
	Name() string
}

// Options selects and configures a device.
type Options struct {
	Device   string
	BaudRate uint
	// Timeout bounds how long a single read waits for data. Serial only;
	// rounded to 100ms by the driver.
	Timeout time.Duration
	// ReplayLineDelay is the pause before each replayed line.
	ReplayLineDelay time.Duration
}

// Open opens the device named in opts.
func Open(opts Options) (Port, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("transport: device is required")
	}
	if path, ok := strings.CutPrefix(opts.Device, ReplayScheme); ok {
		p, err := OpenReplay(path, opts.ReplayLineDelay)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return OpenSerial(opts)
}

// Read timeouts the termios driver can express.
const (
	minReadTimeout = 100 * time.Millisecond
	maxReadTimeout = 25500 * time.Millisecond
)

type serialPort struct {
	io.ReadWriteCloser
	name string
}

func (p *serialPort) Name() string { return p.name }

// Read returns (0, nil) when the read timeout expires with no data. The
// driver reports that case as io.EOF.
func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.ReadWriteCloser.Read(b)
	if n == 0 && errors.Is(err, io.EOF) {
		return 0, nil
	}
	return n, err
}

// OpenSerial opens a serial device as 8N1 at opts.BaudRate. Every Read
// returns within opts.Timeout, or 100ms if shorter, even when the device
// is silent, so Close takes effect on an idle line.
func OpenSerial(opts Options) (Port, error) {
	if !serial.IsStandardBaudRate(opts.BaudRate) {
		return nil, fmt.Errorf("transport: %s: non-standard baud rate %d", opts.Device, opts.BaudRate)
	}
	timeout := max(opts.Timeout, minReadTimeout)
	if timeout > maxReadTimeout {
		return nil, fmt.Errorf("transport: %s: read timeout %v exceeds %v", opts.Device, timeout, maxReadTimeout)
	}
	serialOpts := serial.OpenOptions{
		PortName:              opts.Device,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: uint(timeout / time.Millisecond),
	}
	rwc, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", opts.Device, err)
	}
	return &serialPort{ReadWriteCloser: rwc, name: opts.Device}, nil
}
