// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"gopkg.in/yaml.v3"
)

// Config holds the relay settings. Durations are kept in milliseconds as
// written in the file; use the accessor methods for time.Duration values.
type Config struct {
	// Devices. A "replay:<path>" device plays a capture file back.
	GPSSerialPort  string
	GPSBaudRate    int
	GPSTimeoutMS   int
	USBLSerialPort string
	USBLBaudRate   int
	USBLTimeoutMS  int

	ReplayLineDelayMS int

	// UDP destinations, host:port. Empty disables the output.
	GPSEchoAddr string
	FusedAddr   string

	FixMaxAgeMS int // 0 = fuse against any fix

	// Telemetry. Empty broker disables MQTT.
	MQTTBroker   string
	MQTTClientID string
	TopicState   string
	TopicGPS     string
	TopicFused   string

	WebServerPort int // 0 = disabled

	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
}

// Default returns the settings used for keys missing from the file.
func Default() *Config {
	return &Config{
		GPSBaudRate:       4800,
		GPSTimeoutMS:      300,
		USBLBaudRate:      115200,
		USBLTimeoutMS:     300,
		ReplayLineDelayMS: 100,
		GPSEchoAddr:       "127.0.0.1:14401",
		FusedAddr:         "192.168.2.2:27000",
		MQTTClientID:      "usbl-relay",
		TopicState:        "usbl/state",
		TopicGPS:          "usbl/gps",
		TopicFused:        "usbl/fused",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// maxTimeoutMS is the longest read timeout a serial port accepts.
const maxTimeoutMS = 25500

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load builds a configuration from the defaults, the file at configPath
// (skipped when empty) and then overrides, keyed like the file. The result
// is validated.
//
// Files ending in .yaml or .yml are read as YAML with lower-case keys;
// anything else as KEY=VALUE lines with # comments.
func Load(configPath string, overrides map[string]string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		if err := cfg.readFile(configPath); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cfg.Set(k, overrides[k]); err != nil {
			return nil, fmt.Errorf("override: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(configPath string) error {
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		return c.readYAML(file)
	default:
		return c.readKeyValue(file)
	}
}

func (c *Config) readKeyValue(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.Set(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (c *Config) readYAML(r io.Reader) error {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value := ""
		switch v := doc[k].(type) {
		case nil:
		case map[string]any, []any:
			return fmt.Errorf("config key %q: expected a scalar value", k)
		default:
			value = fmt.Sprint(v)
		}
		if err := c.Set(strings.ToUpper(k), value); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one KEY=VALUE setting. Command-line overrides go through
// here too.
func (c *Config) Set(key, value string) error {
	switch key {
	// Devices
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		return setInt(&c.GPSBaudRate, key, value)
	case "GPS_TIMEOUT_MS":
		return setInt(&c.GPSTimeoutMS, key, value)
	case "USBL_SERIAL_PORT":
		c.USBLSerialPort = value
	case "USBL_BAUD_RATE":
		return setInt(&c.USBLBaudRate, key, value)
	case "USBL_TIMEOUT_MS":
		return setInt(&c.USBLTimeoutMS, key, value)
	case "REPLAY_LINE_DELAY_MS":
		return setInt(&c.ReplayLineDelayMS, key, value)

	// Outputs
	case "GPS_ECHO_ADDR":
		c.GPSEchoAddr = value
	case "FUSED_ADDR":
		c.FusedAddr = value
	case "FIX_MAX_AGE_MS":
		return setInt(&c.FixMaxAgeMS, key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_STATE":
		c.TopicState = value
	case "TOPIC_GPS":
		c.TopicGPS = value
	case "TOPIC_FUSED":
		c.TopicFused = value

	// Web Server
	case "WEB_SERVER_PORT":
		return setInt(&c.WebServerPort, key, value)

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
		if c.LogLevel == "warning" {
			c.LogLevel = "warn"
		}
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setInt(dst *int, key, value string) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, v)
	}
	*dst = v
	return nil
}

// Validate checks that required fields are set and values are usable.
func (c *Config) Validate() error {
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.USBLSerialPort == "" {
		return fmt.Errorf("USBL_SERIAL_PORT is required")
	}
	if !serial.IsStandardBaudRate(uint(c.GPSBaudRate)) {
		return fmt.Errorf("GPS_BAUD_RATE %d is not a standard baud rate", c.GPSBaudRate)
	}
	if !serial.IsStandardBaudRate(uint(c.USBLBaudRate)) {
		return fmt.Errorf("USBL_BAUD_RATE %d is not a standard baud rate", c.USBLBaudRate)
	}
	for _, to := range []struct {
		key   string
		value int
	}{
		{"GPS_TIMEOUT_MS", c.GPSTimeoutMS},
		{"USBL_TIMEOUT_MS", c.USBLTimeoutMS},
	} {
		if to.value > maxTimeoutMS {
			return fmt.Errorf("%s must be at most %d, got %d", to.key, maxTimeoutMS, to.value)
		}
	}
	for _, ep := range []struct{ key, value string }{
		{"GPS_ECHO_ADDR", c.GPSEchoAddr},
		{"FUSED_ADDR", c.FusedAddr},
	} {
		if ep.value == "" {
			continue
		}
		if _, err := net.ResolveUDPAddr("udp", ep.value); err != nil {
			return fmt.Errorf("%s %q: %w", ep.key, ep.value, err)
		}
	}
	if c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) GPSTimeout() time.Duration      { return ms(c.GPSTimeoutMS) }
func (c *Config) USBLTimeout() time.Duration     { return ms(c.USBLTimeoutMS) }
func (c *Config) ReplayLineDelay() time.Duration { return ms(c.ReplayLineDelayMS) }
func (c *Config) FixMaxAge() time.Duration       { return ms(c.FixMaxAgeMS) }

// InitGlobal initializes the global configuration, see Load.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string, overrides map[string]string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath, overrides)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
