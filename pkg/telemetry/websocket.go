package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write when no timeout is configured.
const writeWait = 10 * time.Second

// WebSocket sends envelopes as text frames. An upload is an envelope
// describing the file followed by one binary frame with its contents.
type WebSocket struct {
	counters

	conn    *websocket.Conn
	topics  *Topics
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex // one writer at a time
	closed bool
}

// DialWebSocket connects to cfg.Endpoint.
func DialWebSocket(ctx context.Context, cfg Config, logger *slog.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.Timeout,
	}

	logger.Info("connecting to websocket bus", "endpoint", cfg.Endpoint)
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Endpoint, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = writeWait
	}
	return &WebSocket{
		conn:    conn,
		topics:  NewTopics(cfg.Prefix),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Publish implements Publisher.
func (w *WebSocket) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	full := w.topics.Full(topic)
	env, err := NewEnvelope(full, payload, ts, nil)
	if err != nil {
		return err
	}
	data, err := env.Bytes()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record(false, w.write(websocket.TextMessage, data))
}

// UploadFile implements Publisher.
func (w *WebSocket) UploadFile(ctx context.Context, path string, ts int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return w.record(true, fmt.Errorf("read upload: %w", err))
	}
	meta := map[string]string{
		"filename": filepath.Base(path),
		"size":     strconv.Itoa(len(data)),
	}
	env, err := NewEnvelope(w.topics.Upload(), nil, ts, meta)
	if err != nil {
		return err
	}
	header, err := env.Bytes()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(websocket.TextMessage, header); err != nil {
		return w.record(true, err)
	}
	return w.record(true, w.write(websocket.BinaryMessage, data))
}

// write sends one frame. Callers hold w.mu.
func (w *WebSocket) write(messageType int, data []byte) error {
	if w.closed {
		return ErrClosed
	}
	w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	if err := w.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.timeout)); err != nil {
		w.logger.Debug("close frame not sent", "error", err)
	}
	return w.conn.Close()
}
