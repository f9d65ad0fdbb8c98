// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/usbl_relay/internal/gps"
	"github.com/relabs-tech/usbl_relay/internal/telemetry"
)

// ConsoleOptions selects the broker and topics RunConsoleMQTT listens to.
type ConsoleOptions struct {
	Broker string
	Topics telemetry.Topics
	Out    io.Writer
	Logger *slog.Logger
}

// RunConsoleMQTT prints one line per relay telemetry message until ctx is
// done.
func RunConsoleMQTT(ctx context.Context, opts ConsoleOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "console")

	client, err := telemetry.Dial(ctx, opts.Broker, "usbl-console-"+uuid.NewString()[:8], logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	p := &consolePrinter{out: opts.Out, topics: opts.Topics, logger: logger}
	// "state/#" also matches "state" itself.
	subs := map[string]byte{}
	if opts.Topics.State != "" {
		subs[opts.Topics.State+"/#"] = 0
	}
	for _, t := range []string{opts.Topics.GPS, opts.Topics.Fused} {
		if t != "" {
			subs[t] = 0
		}
	}
	token := client.SubscribeMultiple(subs, func(_ mqtt.Client, msg mqtt.Message) {
		p.print(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	logger.Info("subscribed", "broker", opts.Broker, "topics", len(subs))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

type consolePrinter struct {
	out    io.Writer
	topics telemetry.Topics
	logger *slog.Logger
}

func (p *consolePrinter) print(topic string, payload []byte) {
	var msg struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.logger.Warn("unmarshal error", "topic", topic, "err", err)
		return
	}

	switch topic {
	case p.topics.GPS, p.topics.Fused:
		var f gps.Fix
		if err := json.Unmarshal(msg.Value, &f); err != nil {
			p.logger.Warn("fix unmarshal error", "topic", topic, "err", err)
			return
		}
		tag := "GPS "
		if topic == p.topics.Fused {
			tag = "USBL"
		}
		fmt.Fprintf(p.out,
			"[%s]  talker=%s time=%s lat=%.6f lon=%.6f speed=%.1fkn course=%.1f° validity=%s\n",
			tag, f.Talker, f.Time, f.Latitude, f.Longitude, f.SpeedKnots, f.CourseDeg, f.Validity,
		)
	default:
		fmt.Fprintf(p.out, "[STATE] %s is now %s\n", msg.Key, strings.TrimSpace(string(msg.Value)))
	}
}
