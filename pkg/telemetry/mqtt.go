package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// mqttQoS is at-least-once delivery.
const mqttQoS = 1

// disconnectQuiesce is how long Disconnect waits for in-flight work (ms).
const disconnectQuiesce = 250

// mqttClient is the subset of mqtt.Client used for publishing.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes envelopes to an MQTT broker.
type MQTT struct {
	counters

	client  mqttClient
	topics  *Topics
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DialMQTT connects to the broker at cfg.Endpoint.
func DialMQTT(ctx context.Context, cfg Config, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "objdetect"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Endpoint).
		SetClientID(fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8])).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(false).
		SetCleanSession(true)

	logger.Info("connecting to MQTT broker", "endpoint", cfg.Endpoint)
	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", cfg.Endpoint, err)
	}

	return NewMQTT(client, cfg, logger), nil
}

// NewMQTT wraps a connected client.
func NewMQTT(client mqttClient, cfg Config, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:  client,
		topics:  NewTopics(cfg.Prefix),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Publish implements Publisher.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	full := m.topics.Full(topic)
	env, err := NewEnvelope(full, payload, ts, nil)
	if err != nil {
		return err
	}
	return m.record(false, m.send(ctx, full, env))
}

// UploadFile implements Publisher. The file travels base64-encoded in an
// envelope on the upload topic.
func (m *MQTT) UploadFile(ctx context.Context, path string, ts int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return m.record(true, fmt.Errorf("read upload: %w", err))
	}
	full := m.topics.Upload()
	env, err := NewFileEnvelope(full, filepath.Base(path), data, ts)
	if err != nil {
		return err
	}
	return m.record(true, m.send(ctx, full, env))
}

func (m *MQTT) send(ctx context.Context, topic string, env *Envelope) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := env.Bytes()
	if err != nil {
		return err
	}
	if err := waitToken(ctx, m.client.Publish(topic, mqttQoS, false, data), m.timeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	m.logger.Debug("published", "topic", topic, "id", env.ID, "bytes", len(data))
	return nil
}

// Close implements Publisher.
func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Disconnect(disconnectQuiesce)
	return nil
}

// waitToken waits for t to complete, ctx to end or timeout to pass.
// A zero timeout waits indefinitely.
func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	}
}
