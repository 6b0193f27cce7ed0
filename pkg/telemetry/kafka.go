package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Kafka header keys.
const (
	HeaderTopic    = "topic"
	HeaderTS       = "ts"
	HeaderID       = "id"
	HeaderMeta     = "meta"
	HeaderFilename = "filename"
)

// kafkaWriter is the subset of *kafka.Writer used for publishing.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer for cfg.KafkaTopic.
// cfg.Endpoint is a comma-separated broker list.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	var brokers []string
	for _, b := range strings.Split(cfg.Endpoint, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		WriteTimeout:           cfg.Timeout,
		AllowAutoTopicCreation: true,
	}
}

// Kafka publishes to a single Kafka topic. The logical topic is the message
// key and travels in a header; the value is the raw payload.
type Kafka struct {
	counters

	writer kafkaWriter
	topics *Topics
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafka wraps a writer.
func NewKafka(w kafkaWriter, cfg Config, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{
		writer: w,
		topics: NewTopics(cfg.Prefix),
		logger: logger,
	}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	full := k.topics.Full(topic)
	return k.record(false, k.write(ctx, full, payload, ts, nil))
}

// UploadFile implements Publisher. The value is the file bytes.
func (k *Kafka) UploadFile(ctx context.Context, path string, ts int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return k.record(true, fmt.Errorf("read upload: %w", err))
	}
	extra := []kafka.Header{{Key: HeaderFilename, Value: []byte(filepath.Base(path))}}
	return k.record(true, k.write(ctx, k.topics.Upload(), data, ts, extra))
}

func (k *Kafka) write(ctx context.Context, topic string, value []byte, ts int64, extra []kafka.Header) error {
	k.mu.Lock()
	closed := k.closed
	k.mu.Unlock()
	if closed {
		return ErrClosed
	}

	id := uuid.NewString()
	headers := []kafka.Header{
		{Key: HeaderTopic, Value: []byte(topic)},
		{Key: HeaderTS, Value: []byte(strconv.FormatInt(ts, 10))},
		{Key: HeaderID, Value: []byte(id)},
		{Key: HeaderMeta, Value: []byte("{}")},
	}
	msg := kafka.Message{
		Key:     []byte(topic),
		Value:   value,
		Headers: append(headers, extra...),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s to kafka: %w", topic, err)
	}
	k.logger.Debug("published", "topic", topic, "id", id, "bytes", len(value))
	return nil
}

// Close implements Publisher.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}
