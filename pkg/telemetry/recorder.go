package telemetry

import (
	"context"
	"os"
	"sync"
)

// Message is a published message captured by Recorder.
type Message struct {
	Topic     string
	Payload   []byte
	Timestamp int64
}

// Upload is an uploaded file captured by Recorder.
type Upload struct {
	Path      string
	Data      []byte
	Timestamp int64
}

// Recorder implements Publisher in memory for testing.
type Recorder struct {
	counters

	// PublishFunc, when set, is called before a message is recorded.
	// A non-nil error fails the publish and the message is not recorded.
	PublishFunc func(topic string, payload []byte, ts int64) error

	// UploadFunc, when set, is called before an upload is recorded.
	UploadFunc func(path string, ts int64) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu       sync.Mutex
	messages []Message
	uploads  []Upload
	closed   bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implements Publisher.
func (r *Recorder) Publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	if r.PublishFunc != nil {
		if err := r.PublishFunc(topic, payload, ts); err != nil {
			return r.record(false, err)
		}
	}

	r.mu.Lock()
	r.messages = append(r.messages, Message{
		Topic:     topic,
		Payload:   append([]byte(nil), payload...),
		Timestamp: ts,
	})
	r.mu.Unlock()
	return r.record(false, nil)
}

// UploadFile implements Publisher. The file is read immediately so tests
// can inspect it after the caller removes it.
func (r *Recorder) UploadFile(ctx context.Context, path string, ts int64) error {
	if r.UploadFunc != nil {
		if err := r.UploadFunc(path, ts); err != nil {
			return r.record(true, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return r.record(true, err)
	}

	r.mu.Lock()
	r.uploads = append(r.uploads, Upload{Path: path, Data: data, Timestamp: ts})
	r.mu.Unlock()
	return r.record(true, nil)
}

// Close implements Publisher.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	if r.CloseFunc != nil {
		return r.CloseFunc()
	}
	return nil
}

// Messages returns all recorded messages in publish order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// OnTopic returns the recorded messages for topic.
func (r *Recorder) OnTopic(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Uploads returns all recorded uploads.
func (r *Recorder) Uploads() []Upload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Upload(nil), r.uploads...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
