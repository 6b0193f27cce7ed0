package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/teslashibe/go-objdetect/internal/log"
)

// fakeToken is a completed (or never-completing) mqtt.Token.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTTClient struct {
	mu           sync.Mutex
	published    []published
	token        func() mqtt.Token
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	c.mu.Unlock()
	if c.token != nil {
		return c.token()
	}
	return completedToken(nil)
}

func (c *fakeMQTTClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestMQTT_PublishAndUpload(t *testing.T) {
	client := &fakeMQTTClient{}
	pub := NewMQTT(client, Config{Prefix: "node", Timeout: time.Second}, log.Discard())
	ctx := context.Background()

	if err := pub.Publish(ctx, TopicDetections, []byte(`{"total_objects":1}`), 99); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	path := writeTempFile(t, "frame.jpg", []byte("jpeg"))
	if err := pub.UploadFile(ctx, path, 99); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	if len(client.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(client.published))
	}
	first := client.published[0]
	if first.topic != "node/object.detections" || first.qos != 1 {
		t.Errorf("first publish: topic %q qos %d", first.topic, first.qos)
	}
	env, err := ParseEnvelope(first.payload)
	if err != nil {
		t.Fatal(err)
	}
	if env.Timestamp != 99 || string(env.Value) != `{"total_objects":1}` {
		t.Errorf("envelope: %+v", env)
	}

	upload, err := ParseEnvelope(client.published[1].payload)
	if err != nil {
		t.Fatal(err)
	}
	if client.published[1].topic != "node/upload" || upload.Meta["filename"] != "frame.jpg" {
		t.Errorf("upload: topic %q meta %v", client.published[1].topic, upload.Meta)
	}

	if stats := pub.Stats(); stats.MessagesSent != 1 || stats.FilesSent != 1 {
		t.Errorf("stats: %+v", stats)
	}

	pub.Close()
	if !client.disconnected {
		t.Error("expected Disconnect on Close")
	}
	if err := pub.Publish(ctx, TopicError, nil, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMQTT_TokenFailures(t *testing.T) {
	brokerErr := errors.New("not authorized")

	tests := []struct {
		name    string
		token   func() mqtt.Token
		ctx     func() context.Context
		wantErr error
	}{
		{
			name:    "broker error",
			token:   func() mqtt.Token { return completedToken(brokerErr) },
			ctx:     context.Background,
			wantErr: brokerErr,
		},
		{
			name:    "timeout",
			token:   func() mqtt.Token { return &fakeToken{done: make(chan struct{})} },
			ctx:     context.Background,
			wantErr: ErrTimeout,
		},
		{
			name:  "cancelled",
			token: func() mqtt.Token { return &fakeToken{done: make(chan struct{})} },
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: context.Canceled,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeMQTTClient{token: tc.token}
			pub := NewMQTT(client, Config{Timeout: 20 * time.Millisecond}, log.Discard())

			err := pub.Publish(tc.ctx(), TopicDetections, []byte("{}"), 1)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
			if pub.Stats().Failures != 1 {
				t.Errorf("failure not counted: %+v", pub.Stats())
			}
		})
	}
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafka_PublishAndUpload(t *testing.T) {
	w := &fakeKafkaWriter{}
	pub := NewKafka(w, Config{Prefix: "edge"}, log.Discard())
	ctx := context.Background()

	if err := pub.Publish(ctx, TopicTestMessage, []byte("object detection plugin is running"), 1234); err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "snap.jpg", []byte("jpeg"))
	if err := pub.UploadFile(ctx, path, 1234); err != nil {
		t.Fatal(err)
	}

	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "edge/test.message" || header(msg, HeaderTopic) != "edge/test.message" {
		t.Errorf("key/topic header: %q %q", msg.Key, header(msg, HeaderTopic))
	}
	if string(msg.Value) != "object detection plugin is running" {
		t.Errorf("value: %q", msg.Value)
	}
	if header(msg, HeaderTS) != "1234" || header(msg, HeaderID) == "" {
		t.Errorf("headers: %+v", msg.Headers)
	}
	if msg.Topic != "" {
		t.Error("message topic must be empty when the writer has one")
	}

	up := w.msgs[1]
	if header(up, HeaderFilename) != "snap.jpg" || string(up.Value) != "jpeg" || string(up.Key) != "edge/upload" {
		t.Errorf("upload message: key %q headers %+v", up.Key, up.Headers)
	}

	pub.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestKafka_WriteError(t *testing.T) {
	w := &fakeKafkaWriter{err: errors.New("leader not available")}
	pub := NewKafka(w, Config{}, log.Discard())

	err := pub.Publish(context.Background(), TopicDetections, []byte("{}"), 1)
	if err == nil || !strings.Contains(err.Error(), "leader not available") {
		t.Fatalf("expected writer error, got %v", err)
	}
	if pub.Stats().Failures != 1 {
		t.Errorf("stats: %+v", pub.Stats())
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter(Config{Endpoint: "k1:9092, k2:9092", KafkaTopic: "objdetect", Timeout: time.Second})
	defer w.Close()

	if w.Topic != "objdetect" {
		t.Errorf("topic: got %q", w.Topic)
	}
	if w.Addr == nil {
		t.Error("addr not set")
	}
	if w.Async {
		t.Error("writer must be synchronous")
	}
}

func TestHTTP_PublishAndUpload(t *testing.T) {
	var (
		mu       sync.Mutex
		envs     []*Envelope
		uploaded string
		fields   map[string]string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/publish", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env, err := ParseEnvelope(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		envs = append(envs, env)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		mu.Lock()
		uploaded = hdr.Filename + ":" + string(data)
		fields = map[string]string{"ts": r.FormValue("ts"), "topic": r.FormValue("topic")}
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pub, err := NewHTTP(Config{Endpoint: srv.URL + "/", Timeout: time.Second}, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()
	ctx := context.Background()

	if err := pub.Publish(ctx, TopicTiming, []byte(`{"model_type":"yolov8n"}`), 5); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	path := writeTempFile(t, "frame.jpg", []byte("jpeg"))
	if err := pub.UploadFile(ctx, path, 5); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(envs) != 1 || envs[0].Topic != TopicTiming || envs[0].Timestamp != 5 {
		t.Errorf("published envelopes: %+v", envs)
	}
	if uploaded != "frame.jpg:jpeg" {
		t.Errorf("upload: %q", uploaded)
	}
	if fields["ts"] != "5" || fields["topic"] != "upload" {
		t.Errorf("upload fields: %v", fields)
	}
}

func TestHTTP_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	pub, err := NewHTTP(Config{Endpoint: srv.URL}, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := pub.Publish(context.Background(), TopicError, []byte("{}"), 1); err == nil {
		t.Fatal("expected error for 502")
	}
	if pub.Stats().Failures != 1 {
		t.Errorf("stats: %+v", pub.Stats())
	}
}

func TestNewHTTP_BadEndpoint(t *testing.T) {
	if _, err := NewHTTP(Config{Endpoint: "tcp://broker:1883"}, nil); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

type wsFrame struct {
	kind int
	data []byte
}

func TestWebSocket_PublishAndUpload(t *testing.T) {
	frames := make(chan wsFrame, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			frames <- wsFrame{kind: kind, data: data}
		}
	}))
	defer srv.Close()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()
	pub, err := DialWebSocket(ctx, Config{Endpoint: endpoint, Prefix: "p", Timeout: time.Second}, log.Discard())
	if err != nil {
		t.Fatalf("DialWebSocket: %v", err)
	}

	if err := pub.Publish(ctx, TopicDetections, []byte(`{"total_objects":0}`), 8); err != nil {
		t.Fatal(err)
	}
	path := writeTempFile(t, "frame.jpg", []byte("jpeg"))
	if err := pub.UploadFile(ctx, path, 8); err != nil {
		t.Fatal(err)
	}
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}

	var got []wsFrame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(got))
	}

	env, err := ParseEnvelope(got[0].data)
	if err != nil || got[0].kind != websocket.TextMessage || env.Topic != "p/object.detections" {
		t.Errorf("first frame: kind %d env %+v err %v", got[0].kind, env, err)
	}
	hdr, err := ParseEnvelope(got[1].data)
	if err != nil || hdr.Topic != "p/upload" || hdr.Meta["size"] != "4" {
		t.Errorf("upload header: %+v err %v", hdr, err)
	}
	if got[2].kind != websocket.BinaryMessage || string(got[2].data) != "jpeg" {
		t.Errorf("upload body: kind %d data %q", got[2].kind, got[2].data)
	}

	if stats := pub.Stats(); stats.MessagesSent != 1 || stats.FilesSent != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if err := pub.Publish(ctx, TopicError, nil, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
