package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/teslashibe/go-objdetect/internal/httpc"
)

// HTTP posts envelopes to <endpoint>/publish and files to <endpoint>/upload.
type HTTP struct {
	counters

	base   string
	client *http.Client
	topics *Topics
	logger *slog.Logger
}

// NewHTTP creates an HTTP publisher for cfg.Endpoint.
func NewHTTP(cfg Config, logger *slog.Logger) (*HTTP, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid http endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid http endpoint %q: scheme must be http or https", cfg.Endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		base:   strings.TrimRight(cfg.Endpoint, "/"),
		client: httpc.NewClient(cfg.Timeout),
		topics: NewTopics(cfg.Prefix),
		logger: logger,
	}, nil
}

// Publish implements Publisher.
func (h *HTTP) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	full := h.topics.Full(topic)
	env, err := NewEnvelope(full, payload, ts, nil)
	if err != nil {
		return err
	}
	data, err := env.Bytes()
	if err != nil {
		return err
	}
	if err := httpc.PostJSON(ctx, h.client, h.base+"/publish", data); err != nil {
		return h.record(false, fmt.Errorf("failed to publish to %s: %w", full, err))
	}
	h.logger.Debug("published", "topic", full, "id", env.ID)
	return h.record(false, nil)
}

// UploadFile implements Publisher with a multipart form holding the file
// and its ts, id and topic fields.
func (h *HTTP) UploadFile(ctx context.Context, path string, ts int64) error {
	f, err := os.Open(path)
	if err != nil {
		return h.record(true, fmt.Errorf("read upload: %w", err))
	}
	defer f.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"topic": h.topics.Upload(),
		"ts":    strconv.FormatInt(ts, 10),
		"id":    uuid.NewString(),
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return h.record(true, err)
		}
	}
	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return h.record(true, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return h.record(true, fmt.Errorf("read upload: %w", err))
	}
	if err := form.Close(); err != nil {
		return h.record(true, err)
	}

	if err := httpc.Post(ctx, h.client, h.base+"/upload", form.FormDataContentType(), &body); err != nil {
		return h.record(true, fmt.Errorf("failed to upload %s: %w", filepath.Base(path), err))
	}
	h.logger.Debug("uploaded", "file", filepath.Base(path), "bytes", body.Len())
	return h.record(true, nil)
}

// Close implements Publisher.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
