// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry mirrors relay events onto MQTT topics.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/usbl_relay/internal/relay"
)

const (
	publishTimeout = 5 * time.Second
	queueSize      = 64
)

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Topics names the destination of each kind of event. State also
// prefixes reader and endpoint events.
type Topics struct {
	State string
	GPS   string
	Fused string
}

// Message is the JSON payload of every publish.
type Message struct {
	SessionID string    `json:"session_id,omitempty"`
	Key       string    `json:"key"`
	Time      time.Time `json:"time"`
	Value     any       `json:"value"`
}

// Publisher queues events from the relay and publishes them from Run.
// Handle never blocks; events that do not fit in the queue are dropped.
type Publisher struct {
	client    Client
	topics    Topics
	sessionID string
	logger    *slog.Logger

	queue   chan relay.Event
	dropped atomic.Uint64
}

func New(client Client, topics Topics, sessionID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:    client,
		topics:    topics,
		sessionID: sessionID,
		logger:    logger.With("component", "telemetry"),
		queue:     make(chan relay.Event, queueSize),
	}
}

// Handle is a relay.Listener.
func (p *Publisher) Handle(ev relay.Event) {
	select {
	case p.queue <- ev:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("telemetry queue full, dropping events")
		}
	}
}

// Dropped is the number of events that did not fit in the queue.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.queue:
			if err := p.publish(ev); err != nil {
				p.logger.Error("publish failed", "key", ev.Key, "err", err)
			}
		}
	}
}

func (p *Publisher) publish(ev relay.Event) error {
	topic, retained := p.topicFor(ev.Key)
	if topic == "" {
		return nil
	}
	data, err := json.Marshal(Message{SessionID: p.sessionID, Key: ev.Key, Time: ev.Time, Value: ev.Value})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Key, err)
	}

	token := p.client.Publish(topic, 0, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("published", "topic", topic, "key", ev.Key)
	return nil
}

func (p *Publisher) topicFor(key string) (string, bool) {
	switch key {
	case relay.KeyFix:
		return p.topics.GPS, false
	case relay.KeyFused:
		return p.topics.Fused, false
	case relay.KeyState:
		return p.topics.State, true
	}
	if p.topics.State == "" {
		return "", false
	}
	return p.topics.State + "/" + key, true
}

// Dial connects to broker and waits for the first connection, honouring
// ctx. Paho keeps reconnecting in the background afterwards.
func Dial(ctx context.Context, broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			client.Disconnect(0)
			return nil, ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return client, nil
}
