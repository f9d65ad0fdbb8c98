// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/usbl_relay/internal/app"
	"github.com/relabs-tech/usbl_relay/internal/config"
)

// flagKeys maps command-line flags onto the config keys they override.
var flagKeys = map[string]string{
	"gps":  "GPS_SERIAL_PORT",
	"usbl": "USBL_SERIAL_PORT",
	"baud": "USBL_BAUD_RATE",
	"echo": "GPS_ECHO_ADDR",
	"mav":  "FUSED_ADDR",
	"log":  "LOG_LEVEL",
}

func newFlagSet() (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("usbl_relay", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (KEY=VALUE, or .yaml/.yml)")
	fs.String("gps", "", "GPS device, or replay:<file>")
	fs.String("usbl", "", "USBL receiver device, or replay:<file>")
	fs.Int("baud", 115200, "USBL receiver baud rate")
	fs.String("echo", "127.0.0.1:14401", "UDP address to pass GPS data to, empty disables")
	fs.String("mav", "192.168.2.2:27000", "UDP address to send the fused position to, empty disables")
	fs.String("log", "info", "log level: error, warn, info, debug")
	return fs, configPath
}

// overrides returns the flags given on the command line, keyed like the
// config file. Flags left out do not override the file, and an explicit
// empty value does.
func overrides(fs *flag.FlagSet) map[string]string {
	out := map[string]string{}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	return out
}

func main() {
	fs, configPath := newFlagSet()
	_ = fs.Parse(os.Args[1:])
	flagOverrides := overrides(fs)

	if err := config.InitGlobal(*configPath, flagOverrides); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n\n", err)
		app.ListPorts()
		os.Exit(2)
	}

	log.Println("starting usbl relay (GPS + RTH → UDP)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunRelay(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
