// Package telemetry publishes plugin events to a message bus.
//
// This package handles:
//   - Topic naming with an optional deployment prefix
//   - JSON envelopes carrying id, topic, timestamp and metadata
//   - Bus backends: stdout, MQTT, Kafka, HTTP and WebSocket
//   - File uploads alongside regular messages
package telemetry

import (
	"fmt"
	"time"
)

// Bus kinds.
const (
	KindStdout    = "stdout"
	KindMQTT      = "mqtt"
	KindKafka     = "kafka"
	KindHTTP      = "http"
	KindWebSocket = "websocket"
)

// Config holds bus connection configuration.
type Config struct {
	// Kind selects the backend.
	Kind string `yaml:"kind" json:"kind"`

	// Endpoint is the broker or server address.
	// Examples: "tcp://localhost:1883", "kafka-1:9092,kafka-2:9092",
	// "http://beehive:8080", "ws://beehive:8080/ws"
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Prefix is prepended to every topic when non-empty.
	Prefix string `yaml:"prefix" json:"prefix"`

	// ClientID identifies this plugin to MQTT brokers.
	ClientID string `yaml:"client_id" json:"client_id"`

	// KafkaTopic is the Kafka topic all messages are written to.
	KafkaTopic string `yaml:"kafka_topic" json:"kafka_topic"`

	// Timeout bounds connect and per-message delivery.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns a Config that writes to stdout.
func DefaultConfig() Config {
	return Config{
		Kind:       KindStdout,
		ClientID:   "objdetect",
		KafkaTopic: "objdetect",
		Timeout:    10 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Kind {
	case KindStdout:
		return nil
	case KindMQTT, KindKafka, KindHTTP, KindWebSocket:
	default:
		return fmt.Errorf("%w %q", ErrUnknownKind, c.Kind)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for %s bus", c.Kind)
	}
	if c.Kind == KindKafka && c.KafkaTopic == "" {
		return fmt.Errorf("kafka_topic is required for kafka bus")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	return nil
}
