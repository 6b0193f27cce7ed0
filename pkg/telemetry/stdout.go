package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Stdout writes one JSON envelope per line. Uploads are announced with the
// file name and size; the contents are not written.
type Stdout struct {
	counters

	w      io.Writer
	topics *Topics

	mu     sync.Mutex
	closed bool
}

// NewStdout creates a line-oriented publisher writing to w.
func NewStdout(w io.Writer, prefix string) *Stdout {
	return &Stdout{w: w, topics: NewTopics(prefix)}
}

// Publish implements Publisher.
func (s *Stdout) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	env, err := NewEnvelope(s.topics.Full(topic), payload, ts, nil)
	if err != nil {
		return err
	}
	return s.record(false, s.writeLine(env))
}

// UploadFile implements Publisher.
func (s *Stdout) UploadFile(ctx context.Context, path string, ts int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return s.record(true, fmt.Errorf("read upload: %w", err))
	}
	meta := map[string]string{
		"filename": filepath.Base(path),
		"size":     strconv.FormatInt(info.Size(), 10),
	}
	env, err := NewEnvelope(s.topics.Upload(), nil, ts, meta)
	if err != nil {
		return err
	}
	return s.record(true, s.writeLine(env))
}

func (s *Stdout) writeLine(env *Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err = s.w.Write(append(data, '\n'))
	return err
}

// Close implements Publisher.
func (s *Stdout) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
