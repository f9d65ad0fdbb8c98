// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/usbl_relay/internal/app"
	"github.com/relabs-tech/usbl_relay/internal/config"
	"github.com/relabs-tech/usbl_relay/internal/telemetry"
)

func main() {
	def := config.Default()
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker")
	state := flag.String("state", def.TopicState, "state topic")
	gpsTopic := flag.String("gps", def.TopicGPS, "GPS fix topic")
	fused := flag.String("fused", def.TopicFused, "fused position topic")
	flag.Parse()

	log.Println("starting usbl relay console (MQTT subscriber)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.RunConsoleMQTT(ctx, app.ConsoleOptions{
		Broker: *broker,
		Topics: telemetry.Topics{State: *state, GPS: *gpsTopic, Fused: *fused},
		Out:    os.Stdout,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
