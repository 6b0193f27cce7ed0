package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Sentinel errors.
var (
	// ErrUnknownKind is returned for an unsupported bus kind.
	ErrUnknownKind = errors.New("telemetry: unknown bus kind")

	// ErrClosed is returned when publishing on a closed publisher.
	ErrClosed = errors.New("telemetry: publisher closed")

	// ErrTimeout is returned when a broker does not acknowledge in time.
	ErrTimeout = errors.New("telemetry: timed out waiting for broker")
)

// Publisher sends plugin events to a bus.
type Publisher interface {
	// Publish sends payload on topic, tagged with ts (Unix nanoseconds).
	// topic is the short name; backends apply the configured prefix.
	Publish(ctx context.Context, topic string, payload []byte, ts int64) error

	// UploadFile sends the contents of the file at path, tagged with ts.
	UploadFile(ctx context.Context, path string, ts int64) error

	// Stats returns delivery counters.
	Stats() Stats

	// Close flushes and releases the connection.
	Close() error
}

// Stats contains publisher statistics.
type Stats struct {
	MessagesSent int64 `json:"messages_sent"`
	FilesSent    int64 `json:"files_sent"`
	Failures     int64 `json:"failures"`
}

// counters is embedded by backends to track Stats.
type counters struct {
	messagesSent atomic.Int64
	filesSent    atomic.Int64
	failures     atomic.Int64
}

func (c *counters) record(file bool, err error) error {
	switch {
	case err != nil:
		c.failures.Add(1)
	case file:
		c.filesSent.Add(1)
	default:
		c.messagesSent.Add(1)
	}
	return err
}

// Stats returns the counters.
func (c *counters) Stats() Stats {
	return Stats{
		MessagesSent: c.messagesSent.Load(),
		FilesSent:    c.filesSent.Load(),
		Failures:     c.failures.Load(),
	}
}

// New connects to the bus described by cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bus config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry", "bus", cfg.Kind)

	var (
		pub Publisher
		err error
	)
	switch cfg.Kind {
	case KindStdout:
		pub = NewStdout(os.Stdout, cfg.Prefix)
	case KindMQTT:
		pub, err = DialMQTT(ctx, cfg, logger)
	case KindKafka:
		pub = NewKafka(NewKafkaWriter(cfg), cfg, logger)
	case KindHTTP:
		pub, err = NewHTTP(cfg, logger)
	case KindWebSocket:
		pub, err = DialWebSocket(ctx, cfg, logger)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("telemetry bus ready", "endpoint", cfg.Endpoint, "prefix", cfg.Prefix)
	return pub, nil
}
