// Package plugin runs the single-shot detection pipeline: load the model,
// capture one frame, detect, aggregate and publish. Any failure is reported
// on the error topic before it is returned.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/detection"
	"github.com/teslashibe/go-objdetect/pkg/model"
	"github.com/teslashibe/go-objdetect/pkg/telemetry"
)

// Variant selects which outputs a run produces.
type Variant string

const (
	// VariantBase publishes detections and a liveness test message.
	VariantBase Variant = "base"
	// VariantExtended also uploads the frame and publishes timing.
	VariantExtended Variant = "extended"
)

// Loader obtains a ready model.
type Loader interface {
	Load(ctx context.Context) (model.Model, error)
}

// Config controls a run.
type Config struct {
	Variant      Variant
	Camera       string
	ChannelOrder camera.ChannelOrder
	Threshold    float64

	// Location is the civil timezone for timing reports.
	Location *time.Location

	// TempDir holds the uploaded frame; empty uses os.TempDir.
	TempDir     string
	JPEGQuality int
}

// Plugin wires the pipeline's collaborators.
type Plugin struct {
	cfg     Config
	loader  Loader
	cameras camera.Opener
	bus     telemetry.Publisher
	logger  *slog.Logger

	stderr io.Writer
	now    func() time.Time
}

// New creates a plugin. The bus stays owned by the caller.
func New(cfg Config, loader Loader, cameras camera.Opener, bus telemetry.Publisher, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantBase
	}
	return &Plugin{
		cfg:     cfg,
		loader:  loader,
		cameras: cameras,
		bus:     bus,
		logger:  logger.With("component", "plugin"),
		stderr:  os.Stderr,
		now:     time.Now,
	}
}

// Run executes the pipeline once. On failure an ErrorReport is published on
// the error topic, the error and its stack trace are written to stderr, and
// the error is returned.
func (p *Plugin) Run(ctx context.Context) error {
	start := p.now()

	frameTS, err := p.run(ctx, start)
	if err == nil {
		return nil
	}

	ts := p.now().UnixNano()
	if frameTS != nil {
		ts = *frameTS
	}
	err = withStack(err)
	p.reportError(ctx, err, ts)
	return err
}

// Fail reports err on the error topic and stderr as Run does for pipeline
// failures, stamped with the current time, and returns it.
func (p *Plugin) Fail(ctx context.Context, err error) error {
	err = withStack(err)
	p.reportError(ctx, err, p.now().UnixNano())
	return err
}

// run returns the frame timestamp once a frame has been captured, even
// when a later step fails.
func (p *Plugin) run(ctx context.Context, start time.Time) (*int64, error) {
	m, err := p.loader.Load(ctx)
	if err != nil {
		return nil, errors.WithStack(&ModelLoadError{Err: err})
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			p.logger.Warn("model close failed", "error", cerr)
		}
	}()

	frame, err := camera.Capture(ctx, p.cameras, p.cfg.Camera, p.cfg.ChannelOrder)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ts := frame.Timestamp
	p.logger.Info("frame captured",
		"camera", p.cfg.Camera,
		"width", frame.Image.Width,
		"height", frame.Image.Height,
		"timestamp", ts,
	)

	dets, err := detection.Detect(ctx, m, frame.Image, p.cfg.Threshold)
	if err != nil {
		return &ts, errors.WithStack(&InferenceError{Err: err})
	}

	report := detection.Aggregate(dets)
	p.logger.Info("publishing detection data",
		"total_objects", report.TotalObjects,
		"counts", report.Counts,
	)
	if err := p.publishJSON(ctx, telemetry.TopicDetections, report, ts); err != nil {
		return &ts, err
	}

	switch p.cfg.Variant {
	case VariantExtended:
		if err := p.uploadFrame(ctx, frame); err != nil {
			return &ts, err
		}
		timing := NewTimingReport(start, p.now(), ts, m.Type(), p.cfg.Location)
		if err := p.publishJSON(ctx, telemetry.TopicTiming, timing, ts); err != nil {
			return &ts, err
		}
	default:
		if err := p.publish(ctx, telemetry.TopicTestMessage, []byte(TestMessage), ts); err != nil {
			return &ts, err
		}
	}

	p.logger.Info("run complete", "variant", p.cfg.Variant, "bus", p.bus.Stats())
	return &ts, nil
}

// uploadFrame saves the frame to a temporary JPEG, uploads it and removes it.
func (p *Plugin) uploadFrame(ctx context.Context, frame *camera.Frame) error {
	path, err := frame.SaveTempJPEG(p.cfg.TempDir, p.cfg.JPEGQuality)
	if err != nil {
		return errors.WithStack(&PublishError{Topic: telemetry.TopicUpload, Err: err})
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil {
			p.logger.Warn("temp image not removed", "path", path, "error", rerr)
		}
	}()

	if err := p.bus.UploadFile(ctx, path, frame.Timestamp); err != nil {
		return errors.WithStack(&PublishError{Topic: telemetry.TopicUpload, Err: err})
	}
	p.logger.Debug("frame uploaded", "path", path)
	return nil
}

func (p *Plugin) publishJSON(ctx context.Context, topic string, v any, ts int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(&PublishError{Topic: topic, Err: err})
	}
	return p.publish(ctx, topic, data, ts)
}

func (p *Plugin) publish(ctx context.Context, topic string, payload []byte, ts int64) error {
	if err := p.bus.Publish(ctx, topic, payload, ts); err != nil {
		return errors.WithStack(&PublishError{Topic: topic, Err: err})
	}
	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// reportError publishes the error event and prints the traceback. A failure
// to publish is logged and never replaces err.
func (p *Plugin) reportError(ctx context.Context, err error, ts int64) {
	kind, message := classify(err)
	report := ErrorReport{
		Status:       "error",
		ErrorType:    kind,
		ErrorMessage: message,
		Traceback:    fmt.Sprintf("%+v", err),
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("error report publish panicked", "panic", r)
			}
		}()
		data, merr := json.Marshal(report)
		if merr != nil {
			p.logger.Error("error report not encoded", "error", merr)
			return
		}
		// The run's context may already be cancelled.
		pubCtx := context.WithoutCancel(ctx)
		if perr := p.bus.Publish(pubCtx, telemetry.TopicError, data, ts); perr != nil {
			p.logger.Error("error report not published", "error", perr, "original_error", err)
		}
	}()

	fmt.Fprintf(p.stderr, "Error in plugin: %v\n%s\n", err, report.Traceback)
}
