package plugin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/teslashibe/go-objdetect/internal/config"
	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/detection"
	"github.com/teslashibe/go-objdetect/pkg/model"
	"github.com/teslashibe/go-objdetect/pkg/telemetry"
	"go.uber.org/multierr"
)

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (model.Model, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (model.Model, error) {
	return f(ctx)
}

// Execute builds the pipeline from cfg, runs it once and closes the bus.
// Errors before the bus is connected are returned without an error event;
// later setup failures are reported on the error topic like run failures.
func Execute(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bus, err := telemetry.New(ctx, BusConfig(cfg.Bus), logger)
	if err != nil {
		return err
	}

	runErr := execute(ctx, cfg, bus, logger, os.Stderr)
	if cerr := bus.Close(); cerr != nil {
		logger.Error("bus close failed", "error", cerr)
		return multierr.Append(runErr, cerr)
	}
	return runErr
}

func execute(ctx context.Context, cfg config.Config, bus telemetry.Publisher, logger *slog.Logger, stderr io.Writer) error {
	p, err := FromConfig(cfg, bus, logger)
	if err != nil {
		reporter := New(Config{Camera: cfg.Camera}, nil, nil, bus, logger)
		reporter.stderr = stderr
		return reporter.Fail(ctx, errors.WithStack(&SetupError{Err: err}))
	}
	p.stderr = stderr
	return p.Run(ctx)
}

// FromConfig creates a Plugin publishing to bus.
func FromConfig(cfg config.Config, bus telemetry.Publisher, logger *slog.Logger) (*Plugin, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	cameras := make(map[string]camera.Config, len(cfg.Cameras))
	for name, c := range cfg.Cameras {
		cc, err := CameraConfig(c)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", name, err)
		}
		cameras[name] = cc
	}
	selected, ok := cameras[cfg.Camera]
	if !ok {
		return nil, fmt.Errorf("no camera configured with name %q", cfg.Camera)
	}

	return New(Config{
		Variant:      Variant(cfg.Variant),
		Camera:       cfg.Camera,
		ChannelOrder: selected.ChannelOrder,
		Threshold:    cfg.Threshold,
		Location:     loc,
		JPEGQuality:  selected.Quality,
	}, ModelLoader(cfg.Model, logger), camera.NewRegistry(cameras), bus, logger), nil
}

// ModelLoader returns a Loader for the configured runtime. An unknown
// runtime surfaces as a load failure.
func ModelLoader(mc config.ModelConfig, logger *slog.Logger) Loader {
	spec := model.Spec{
		Path:         mc.Path,
		Format:       model.FormatONNX,
		ModelType:    mc.ModelType,
		InputWidth:   mc.InputWidth,
		InputHeight:  mc.InputHeight,
		NumClasses:   len(detection.COCOClasses),
		Classes:      detection.COCOClasses,
		NMSThreshold: mc.NMSThreshold,
		ORTLibrary:   mc.ORTLibrary,
	}
	return LoaderFunc(func(ctx context.Context) (model.Model, error) {
		loader, err := model.NewLoader(mc.Runtime, spec, mc.BackupPath, logger)
		if err != nil {
			return nil, err
		}
		return loader.Load(ctx)
	})
}

// CameraConfig converts a configured camera into a backend config. An
// empty channel order takes the backend's native order.
func CameraConfig(c config.CameraConfig) (camera.Config, error) {
	order := camera.DefaultChannelOrder(c.Kind)
	if strings.TrimSpace(c.ChannelOrder) != "" {
		var err error
		if order, err = camera.ParseChannelOrder(c.ChannelOrder); err != nil {
			return camera.Config{}, err
		}
	}
	cc := camera.DefaultConfig()
	cc.Kind = c.Kind
	cc.Device = c.Device
	cc.Path = c.Path
	cc.ChannelOrder = order
	cc.Width = c.Width
	cc.Height = c.Height
	return cc, nil
}

// BusConfig converts the configured bus into a telemetry config.
func BusConfig(b config.BusConfig) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Kind = b.Kind
	tc.Endpoint = b.Endpoint
	tc.Prefix = b.Prefix
	if b.ClientID != "" {
		tc.ClientID = b.ClientID
	}
	if b.KafkaTopic != "" {
		tc.KafkaTopic = b.KafkaTopic
	}
	if b.Timeout != 0 {
		tc.Timeout = b.Timeout
	}
	return tc
}
