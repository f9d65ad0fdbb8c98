// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/relabs-tech/usbl_relay/internal/config"
	"github.com/relabs-tech/usbl_relay/internal/logging"
	"github.com/relabs-tech/usbl_relay/internal/relay"
	"github.com/relabs-tech/usbl_relay/internal/telemetry"
	"github.com/relabs-tech/usbl_relay/internal/transport"
	"github.com/relabs-tech/usbl_relay/internal/web"
)

// ErrDevicesClosed is returned by RunRelay when both devices went away.
var ErrDevicesClosed = errors.New("both devices closed")

// RunRelay relays GPS and fused acoustic positions until ctx is done or
// both devices close. config.InitGlobal must have been called.
func RunRelay(ctx context.Context) error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialized")
	}
	return runRelay(ctx, cfg, os.Stderr)
}

func runRelay(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat, "usbl_relay")
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	logger = logger.With("session", sessionID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listeners := []relay.Listener{logEvents(logger)}

	var pub *telemetry.Publisher
	if cfg.MQTTBroker != "" {
		client, err := telemetry.Dial(ctx, cfg.MQTTBroker, cfg.MQTTClientID+"-"+sessionID[:8], logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub = telemetry.New(client, telemetry.Topics{
			State: cfg.TopicState,
			GPS:   cfg.TopicGPS,
			Fused: cfg.TopicFused,
		}, sessionID, logger)
		listeners = append(listeners, pub.Handle)
	}

	var srv *web.Server
	if cfg.WebServerPort > 0 {
		srv = web.New(logger)
		listeners = append(listeners, srv.Handle)
	}

	c, err := relay.Open(relay.Config{
		GPS: transport.Options{
			Device:          cfg.GPSSerialPort,
			BaudRate:        uint(cfg.GPSBaudRate),
			Timeout:         cfg.GPSTimeout(),
			ReplayLineDelay: cfg.ReplayLineDelay(),
		},
		USBL: transport.Options{
			Device:          cfg.USBLSerialPort,
			BaudRate:        uint(cfg.USBLBaudRate),
			Timeout:         cfg.USBLTimeout(),
			ReplayLineDelay: cfg.ReplayLineDelay(),
		},
		GPSEndpoint:   cfg.GPSEchoAddr,
		FusedEndpoint: cfg.FusedAddr,
		MaxFixAge:     cfg.FixMaxAge(),
		SessionID:     sessionID,
		Logger:        logger,
		Listeners:     listeners,
	})
	if err != nil {
		return err
	}

	// Background services end with ctx; their errors are logged only.
	if pub != nil {
		go func() {
			if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("telemetry stopped", "err", err)
			}
		}()
	}
	if srv != nil {
		srv.Attach(c)
		go func() {
			if err := srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.WebServerPort)); err != nil {
				logger.Error("web server stopped", "err", err)
			}
		}()
	}

	readersDone := make(chan struct{})
	go func() {
		c.Wait()
		close(readersDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-readersDone:
		runErr = ErrDevicesClosed
	}

	if err := c.Stop(); err != nil {
		logger.Error("stop", "err", err)
	}
	<-readersDone
	return runErr
}

// logEvents reports every controller change at info level.
func logEvents(logger *slog.Logger) relay.Listener {
	return func(ev relay.Event) {
		switch ev.Key {
		case relay.KeyFix, relay.KeyFused:
			// one per sentence, too chatty for info
			logger.Debug(ev.Key+" is now", "value", ev.Value)
		default:
			logger.Info(ev.Key+" is now", "value", ev.Value)
		}
	}
}

// ListPorts prints the serial devices found on this machine.
func ListPorts() {
	ports := transport.ListPorts()
	if len(ports) == 0 {
		fmt.Println("No serial devices detected")
		return
	}
	fmt.Println("Serial devices detected:")
	for _, p := range ports {
		fmt.Println("  " + p)
	}
}
