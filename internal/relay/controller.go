// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package relay ties the two device readers together: GPS lines are echoed
// to a ground station and remembered as the reference fix, acoustic RTH
// readings are fused against that fix and sent to the vehicle.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/usbl_relay/internal/fusion"
	"github.com/relabs-tech/usbl_relay/internal/gps"
	"github.com/relabs-tech/usbl_relay/internal/linereader"
	"github.com/relabs-tech/usbl_relay/internal/sentence"
	"github.com/relabs-tech/usbl_relay/internal/transport"
	"github.com/relabs-tech/usbl_relay/internal/usbl"
)

// State of the controller. Stopped is terminal.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// SyncCommand asks the acoustic receiver to re-zero its reference.
const SyncCommand = "D0\r\n"

// ErrStopped is returned by operations on a stopped controller.
var ErrStopped = errors.New("relay: controller stopped")

// Drop reasons, as reported in Status.Dropped.
const (
	DropChecksum    = "checksum"
	DropUnknownType = "unknown_type"
	DropMalformed   = "malformed"
	DropInvalidFix  = "invalid_fix"
	DropNotRTH      = "not_rth"
	DropNoFix       = "no_fix"
	DropStaleFix    = "stale_fix"
	DropNoEndpoint  = "no_endpoint"
)

var dropReasons = []string{
	DropChecksum, DropUnknownType, DropMalformed, DropInvalidFix,
	DropNotRTH, DropNoFix, DropStaleFix, DropNoEndpoint,
}

// Config describes the devices and destinations of a controller.
type Config struct {
	GPS  transport.Options
	USBL transport.Options

	// GPSEndpoint receives every GPS line unchanged; FusedEndpoint receives
	// fused RMC sentences. Empty disables either.
	GPSEndpoint   string
	FusedEndpoint string

	// MaxFixAge drops acoustic readings whose reference fix is older.
	// Zero fuses against any fix, however old.
	MaxFixAge time.Duration

	SessionID string
	Logger    *slog.Logger
	Listeners []Listener
}

// packetConn is the part of *net.UDPConn the controller sends through.
type packetConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// Controller relays GPS and fused positions over UDP. It is Running from
// construction until Stop.
type Controller struct {
	cfg       Config
	logger    *slog.Logger
	listeners []Listener
	now       func() time.Time

	gpsReader  *linereader.Reader
	usblReader *linereader.Reader
	conn       packetConn

	gpsAddr   atomic.Pointer[net.UDPAddr]
	fusedAddr atomic.Pointer[net.UDPAddr]

	// lastFix is written by the GPS loop and read by the acoustic loop.
	lastFix atomic.Pointer[gps.Fix]

	mu       sync.Mutex
	state    State
	stopping atomic.Bool

	gpsLines  atomic.Uint64
	usblLines atomic.Uint64
	fusedSent atomic.Uint64
	dropped   map[string]*atomic.Uint64
}

// Open opens both devices and starts a controller on them.
func Open(cfg Config) (*Controller, error) {
	gpsPort, err := transport.Open(cfg.GPS)
	if err != nil {
		return nil, fmt.Errorf("relay: gps: %w", err)
	}
	usblPort, err := transport.Open(cfg.USBL)
	if err != nil {
		_ = gpsPort.Close()
		return nil, fmt.Errorf("relay: usbl: %w", err)
	}
	return New(gpsPort, usblPort, cfg)
}

// New starts a controller on already opened ports. The controller owns the
// ports from here on and closes them on error.
func New(gpsPort, usblPort transport.Port, cfg Config) (*Controller, error) {
	fail := func(err error) (*Controller, error) {
		_ = gpsPort.Close()
		_ = usblPort.Close()
		return nil, err
	}
	gpsAddr, err := ParseEndpoint(cfg.GPSEndpoint)
	if err != nil {
		return fail(err)
	}
	fusedAddr, err := ParseEndpoint(cfg.FusedEndpoint)
	if err != nil {
		return fail(err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fail(fmt.Errorf("relay: open udp socket: %w", err))
	}
	c := newController(gpsPort, usblPort, conn, cfg)
	c.gpsAddr.Store(gpsAddr)
	c.fusedAddr.Store(fusedAddr)
	if err := c.start(); err != nil {
		_ = c.Stop()
		return nil, err
	}
	return c, nil
}

func newController(gpsPort, usblPort transport.Port, conn packetConn, cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		listeners: append([]Listener(nil), cfg.Listeners...),
		now:       time.Now,
		conn:      conn,
		state:     StateRunning,
		dropped:   make(map[string]*atomic.Uint64, len(dropReasons)),
	}
	for _, r := range dropReasons {
		c.dropped[r] = new(atomic.Uint64)
	}
	c.gpsReader = linereader.New(gpsPort, c.handleGPSLine, c.readerClosed(KeyGPSReader, gpsPort.Name()), logger.With("reader", "gps"))
	c.usblReader = linereader.New(usblPort, c.handleUSBLLine, c.readerClosed(KeyUSBLReader, usblPort.Name()), logger.With("reader", "usbl"))
	return c
}

func (c *Controller) start() error {
	if err := c.gpsReader.Start(); err != nil {
		return err
	}
	if err := c.usblReader.Start(); err != nil {
		return err
	}
	c.logger.Info("relay started",
		"gps", c.gpsReader.Name(),
		"usbl", c.usblReader.Name(),
		"gps_endpoint", endpointString(c.gpsAddr.Load()),
		"fused_endpoint", endpointString(c.fusedAddr.Load()),
	)
	c.emit(KeyState, StateRunning)
	c.emit(KeyGPSReader, ReaderStatus{Device: c.gpsReader.Name(), Open: true})
	c.emit(KeyUSBLReader, ReaderStatus{Device: c.usblReader.Name(), Open: true})
	return nil
}

// handleGPSLine echoes the raw line and keeps the latest valid RMC fix.
func (c *Controller) handleGPSLine(line string) error {
	c.gpsLines.Add(1)

	var sendErr error
	if addr := c.gpsAddr.Load(); addr != nil {
		sendErr = c.send([]byte(line+linereader.Terminator), addr)
	}

	s, err := sentence.Parse(line)
	if err != nil {
		c.dropParseError("gps", line, err)
		return sendErr
	}
	m, ok := s.(nmea.RMC)
	if !ok {
		return sendErr
	}
	fix, err := gps.FromRMC(m, c.now())
	if err != nil {
		c.drop(DropMalformed)
		c.logger.Warn("dropping gps sentence", "line", line, "err", err)
		return sendErr
	}
	if !fix.Valid() {
		c.drop(DropInvalidFix)
		c.logger.Debug("no GPS fix", "line", line)
		return sendErr
	}

	c.lastFix.Store(&fix)
	c.emit(KeyFix, fix)
	return sendErr
}

// handleUSBLLine fuses an RTH reading with the latest fix and sends it.
func (c *Controller) handleUSBLLine(line string) error {
	c.usblLines.Add(1)

	s, err := sentence.Parse(line)
	if err != nil {
		c.dropParseError("usbl", line, err)
		return nil
	}
	rth, ok := s.(usbl.RTH)
	if !ok {
		c.drop(DropNotRTH)
		c.logger.Debug("ignoring unexpected message from USBL, expected RTH", "type", s.DataType(), "line", line)
		return nil
	}
	c.logger.Debug("RTH received", "line", line)

	fix := c.lastFix.Load()
	if fix == nil {
		c.drop(DropNoFix)
		c.logger.Info("ignoring RTH message because no GPS fix is available yet")
		return nil
	}
	if c.cfg.MaxFixAge > 0 {
		if age := fix.Age(c.now()); age > c.cfg.MaxFixAge {
			c.drop(DropStaleFix)
			c.logger.Info("ignoring RTH message because the GPS fix is stale", "age", age, "max_age", c.cfg.MaxFixAge)
			return nil
		}
	}
	addr := c.fusedAddr.Load()
	if addr == nil {
		c.drop(DropNoEndpoint)
		return nil
	}

	fused := fusion.Combine(*fix, rth)
	if err := c.send(fused.Line(), addr); err != nil {
		return err
	}
	c.fusedSent.Add(1)
	c.emit(KeyFused, fused)
	return nil
}

// send writes one datagram. Failures while stopping are expected, since
// the socket may close under an in-flight callback, and are dropped.
func (c *Controller) send(payload []byte, addr *net.UDPAddr) error {
	if _, err := c.conn.WriteTo(payload, addr); err != nil {
		if c.stopping.Load() {
			return nil
		}
		return fmt.Errorf("relay: send to %s: %w", addr, err)
	}
	return nil
}

func (c *Controller) dropParseError(reader, line string, err error) {
	switch sentence.KindOf(err) {
	case sentence.KindChecksum:
		c.drop(DropChecksum)
		c.logger.Debug("ignoring message with bad checksum", "reader", reader, "line", line)
	case sentence.KindUnknownType:
		c.drop(DropUnknownType)
		c.logger.Debug("ignoring message with unrecognized sentence type", "reader", reader, "line", line)
	default:
		c.drop(DropMalformed)
		c.logger.Warn("dropping malformed sentence", "reader", reader, "line", line, "err", err)
	}
}

func (c *Controller) drop(reason string) {
	c.dropped[reason].Add(1)
}

func (c *Controller) readerClosed(key, device string) linereader.ClosedFunc {
	return func(err error) {
		st := ReaderStatus{Device: device}
		if err != nil {
			st.Error = err.Error()
		}
		c.emit(key, st)
	}
}

// SyncLocation tells the acoustic receiver to re-zero its reference. No
// reply is read.
func (c *Controller) SyncLocation() error {
	if c.State() == StateStopped {
		return ErrStopped
	}
	if _, err := c.usblReader.Write([]byte(SyncCommand)); err != nil {
		return fmt.Errorf("relay: sync location: %w", err)
	}
	c.logger.Info("sync location sent", "device", c.usblReader.Name())
	return nil
}

// SetGPSEndpoint changes where raw GPS lines are echoed. Empty disables it.
func (c *Controller) SetGPSEndpoint(s string) error {
	return c.setEndpoint(&c.gpsAddr, KeyGPSEndpoint, s)
}

// SetFusedEndpoint changes where fused positions are sent. Empty disables it.
func (c *Controller) SetFusedEndpoint(s string) error {
	return c.setEndpoint(&c.fusedAddr, KeyFusedEndpoint, s)
}

func (c *Controller) setEndpoint(dst *atomic.Pointer[net.UDPAddr], key, s string) error {
	addr, err := ParseEndpoint(s)
	if err != nil {
		return err
	}
	dst.Store(addr)
	c.logger.Info("endpoint changed", "endpoint", key, "addr", endpointString(addr))
	c.emit(key, endpointString(addr))
	return nil
}

// LastFix returns the reference fix, if any.
func (c *Controller) LastFix() (gps.Fix, bool) {
	f := c.lastFix.Load()
	if f == nil {
		return gps.Fix{}, false
	}
	return *f, true
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stop closes both readers and then the UDP socket. Every release is
// attempted even if an earlier one fails. A second call only logs.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		c.logger.Warn("stop called on a stopped controller")
		return nil
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.stopping.Store(true)
	c.logger.Info("stopping relay")

	var errs []error
	if err := c.gpsReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gps: %w", err))
	}
	if err := c.usblReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close usbl: %w", err))
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close udp: %w", err))
	}

	c.emit(KeyState, StateStopped)
	return errors.Join(errs...)
}

// Wait blocks until both read loops have ended.
func (c *Controller) Wait() {
	c.gpsReader.Wait()
	c.usblReader.Wait()
}
