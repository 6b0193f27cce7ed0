// objdetect captures one frame, runs object detection on it and publishes
// the results to the telemetry bus. It exits non-zero when the run fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-objdetect/internal/config"
	"github.com/teslashibe/go-objdetect/internal/log"
	"github.com/teslashibe/go-objdetect/pkg/plugin"

	_ "github.com/teslashibe/go-objdetect/pkg/camera/opencv"
	_ "github.com/teslashibe/go-objdetect/pkg/model/onnx"
	_ "github.com/teslashibe/go-objdetect/pkg/model/opencv"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "objdetect: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)
	log.Info("starting object detection plugin",
		"variant", cfg.Variant,
		"camera", cfg.Camera,
		"runtime", cfg.Model.Runtime,
		"bus", cfg.Bus.Kind,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := plugin.Execute(ctx, cfg, log.L()); err != nil {
		log.Error("plugin failed", "error", err)
		cancel()
		os.Exit(1)
	}
	log.Info("plugin finished")
}

// parseFlags loads the config file and applies command line overrides.
// Only flags that were set explicitly replace file and env values.
func parseFlags() (config.Config, error) {
	configPath := flag.String("config", os.Getenv("OBJDETECT_CONFIG"), "Path to YAML config file")
	variant := flag.String("variant", "", "Output variant: base, extended")
	cameraName := flag.String("camera", "", "Camera resource name")
	threshold := flag.Float64("threshold", config.DefaultThreshold, "Minimum detection confidence")
	bus := flag.String("bus", "", "Telemetry bus: stdout, mqtt, kafka, http, websocket")
	endpoint := flag.String("bus-endpoint", "", "Telemetry bus endpoint")
	modelPath := flag.String("model", "", "Primary model path")
	runtime := flag.String("runtime", "", "Inference runtime: opencv, onnxruntime")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "variant":
			cfg.Variant = config.Variant(*variant)
		case "camera":
			cfg.Camera = *cameraName
		case "threshold":
			cfg.Threshold = *threshold
		case "bus":
			cfg.Bus.Kind = *bus
		case "bus-endpoint":
			cfg.Bus.Endpoint = *endpoint
		case "model":
			cfg.Model.Path = *modelPath
		case "runtime":
			cfg.Model.Runtime = *runtime
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg, nil
}
