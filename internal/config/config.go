// Package config provides configuration loading for the objdetect plugin.
//
// Values are layered: DefaultConfig, then an optional YAML file, then
// OBJDETECT_* environment variables. Command-line flags are applied last by
// cmd/objdetect; this package is data only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Variant selects which outputs a run produces.
type Variant string

const (
	// VariantBase publishes detections and a liveness test message.
	VariantBase Variant = "base"
	// VariantExtended also uploads the captured image and publishes timing.
	VariantExtended Variant = "extended"
)

// Default configuration values.
const (
	DefaultCamera       = "bottom_camera"
	DefaultThreshold    = 0.5
	DefaultModelPath    = "models/yolov8n.onnx"
	DefaultBackupPath   = "/app/models/detector_backup.ckpt"
	DefaultModelType    = "yolov8n"
	DefaultTimezone     = "America/Chicago"
	DefaultBusKind      = "stdout"
	DefaultBusTimeout   = 10 * time.Second
	DefaultNMSThreshold = 0.45
	DefaultInputSize    = 640
)

// CameraConfig describes how a named camera resource is opened.
type CameraConfig struct {
	// Kind is the camera backend: "opencv" or "file".
	Kind string `yaml:"kind" json:"kind"`

	// Device is the OpenCV device index ("0") or stream URL.
	Device string `yaml:"device" json:"device"`

	// Path is the still image read by the "file" backend.
	Path string `yaml:"path" json:"path"`

	// ChannelOrder is the order the source emits: "BGR" or "RGB".
	ChannelOrder string `yaml:"channel_order" json:"channel_order"`

	// Width and Height request a capture resolution (0 = driver default).
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// ModelConfig describes the detection model and its fallback checkpoint.
type ModelConfig struct {
	// Runtime is the inference backend: "opencv" or "onnxruntime".
	Runtime string `yaml:"runtime" json:"runtime"`

	// Path is the primary model file in the local weight cache.
	Path string `yaml:"path" json:"path"`

	// BackupPath is the checkpoint tried only when the primary load fails.
	BackupPath string `yaml:"backup_path" json:"backup_path"`

	// ModelType is a human-readable label reported in timing events.
	ModelType string `yaml:"model_type" json:"model_type"`

	InputWidth   int     `yaml:"input_width" json:"input_width"`
	InputHeight  int     `yaml:"input_height" json:"input_height"`
	NMSThreshold float32 `yaml:"nms_threshold" json:"nms_threshold"`

	// ORTLibrary is the path to the ONNX Runtime shared library.
	ORTLibrary string `yaml:"ort_library" json:"ort_library"`
}

// BusConfig describes the telemetry bus connection.
type BusConfig struct {
	// Kind is the transport: "stdout", "mqtt", "kafka", "http" or "websocket".
	Kind string `yaml:"kind" json:"kind"`

	// Endpoint is the broker or server address.
	// Examples: "tcp://localhost:1883", "localhost:9092", "http://beehive:8080"
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Prefix is prepended to every topic when non-empty.
	Prefix string `yaml:"prefix" json:"prefix"`

	// ClientID identifies this plugin to MQTT brokers.
	ClientID string `yaml:"client_id" json:"client_id"`

	// KafkaTopic is the single Kafka topic all messages are written to.
	// The logical topic travels in a header.
	KafkaTopic string `yaml:"kafka_topic" json:"kafka_topic"`

	// Timeout bounds connect and publish calls.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Config holds all configuration for a plugin run.
type Config struct {
	Variant   Variant                 `yaml:"variant" json:"variant"`
	Threshold float64                 `yaml:"threshold" json:"threshold"`
	Camera    string                  `yaml:"camera" json:"camera"`
	Cameras   map[string]CameraConfig `yaml:"cameras" json:"cameras"`
	Model     ModelConfig             `yaml:"model" json:"model"`
	Bus       BusConfig               `yaml:"bus" json:"bus"`
	Timezone  string                  `yaml:"timezone" json:"timezone"`
	LogLevel  string                  `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns production defaults for a bottom-camera deployment.
func DefaultConfig() Config {
	return Config{
		Variant:   VariantBase,
		Threshold: DefaultThreshold,
		Camera:    DefaultCamera,
		Cameras: map[string]CameraConfig{
			DefaultCamera: {Kind: "opencv", Device: "0", ChannelOrder: "BGR"},
		},
		Model: ModelConfig{
			Runtime:      "opencv",
			Path:         DefaultModelPath,
			BackupPath:   DefaultBackupPath,
			ModelType:    DefaultModelType,
			InputWidth:   DefaultInputSize,
			InputHeight:  DefaultInputSize,
			NMSThreshold: DefaultNMSThreshold,
		},
		Bus: BusConfig{
			Kind:     DefaultBusKind,
			ClientID: "objdetect",
			Timeout:  DefaultBusTimeout,
		},
		Timezone: DefaultTimezone,
		LogLevel: "info",
	}
}

// Load returns DefaultConfig overlaid with the YAML file at path (if any)
// and then with environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.LoadEnvConfig(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnvConfig applies OBJDETECT_* environment overrides.
func (c *Config) LoadEnvConfig() error {
	if v := os.Getenv("OBJDETECT_VARIANT"); v != "" {
		c.Variant = Variant(v)
	}
	if v := os.Getenv("OBJDETECT_CAMERA"); v != "" {
		c.Camera = v
	}
	if v := os.Getenv("OBJDETECT_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &ConfigError{Field: "Threshold", Message: fmt.Sprintf("OBJDETECT_THRESHOLD: %v", err)}
		}
		c.Threshold = f
	}
	if v := os.Getenv("OBJDETECT_MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv("OBJDETECT_MODEL_BACKUP"); v != "" {
		c.Model.BackupPath = v
	}
	if v := os.Getenv("OBJDETECT_MODEL_RUNTIME"); v != "" {
		c.Model.Runtime = v
	}
	if v := os.Getenv("ORT_LIBRARY_PATH"); v != "" {
		c.Model.ORTLibrary = v
	}
	if v := os.Getenv("OBJDETECT_BUS"); v != "" {
		c.Bus.Kind = v
	}
	if v := os.Getenv("OBJDETECT_BUS_ENDPOINT"); v != "" {
		c.Bus.Endpoint = v
	}
	if v := os.Getenv("OBJDETECT_BUS_PREFIX"); v != "" {
		c.Bus.Prefix = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// CameraFor returns the camera configuration for name.
func (c *Config) CameraFor(name string) (CameraConfig, bool) {
	cam, ok := c.Cameras[name]
	return cam, ok
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Variant != VariantBase && c.Variant != VariantExtended {
		return &ConfigError{Field: "Variant", Message: fmt.Sprintf("variant must be 'base' or 'extended', got '%s'", c.Variant)}
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return &ConfigError{Field: "Threshold", Message: fmt.Sprintf("threshold must be between 0 and 1, got %v", c.Threshold)}
	}
	if c.Camera == "" {
		return &ConfigError{Field: "Camera", Message: "camera name is required"}
	}
	cam, ok := c.CameraFor(c.Camera)
	if !ok {
		return &ConfigError{Field: "Cameras", Message: fmt.Sprintf("no camera configured with name %q", c.Camera)}
	}
	switch strings.ToUpper(cam.ChannelOrder) {
	case "", "BGR", "RGB":
	default:
		return &ConfigError{Field: "Cameras", Message: fmt.Sprintf("camera %q: channel_order must be BGR or RGB, got %q", c.Camera, cam.ChannelOrder)}
	}
	if c.Model.Path == "" {
		return &ConfigError{Field: "Model.Path", Message: "model path is required"}
	}
	if c.Model.Runtime == "" {
		return &ConfigError{Field: "Model.Runtime", Message: "model runtime is required"}
	}
	if c.Model.InputWidth <= 0 || c.Model.InputHeight <= 0 {
		return &ConfigError{Field: "Model.InputWidth", Message: "model input size must be positive"}
	}
	switch c.Bus.Kind {
	case "stdout":
	case "mqtt", "kafka", "http", "websocket":
		if c.Bus.Endpoint == "" {
			return &ConfigError{Field: "Bus.Endpoint", Message: fmt.Sprintf("bus %s requires an endpoint", c.Bus.Kind)}
		}
	default:
		return &ConfigError{Field: "Bus.Kind", Message: fmt.Sprintf("unknown bus kind %q", c.Bus.Kind)}
	}
	if c.Timezone == "" {
		return &ConfigError{Field: "Timezone", Message: "timezone is required"}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ConfigError{Field: "Timezone", Message: fmt.Sprintf("unknown timezone %q", c.Timezone)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
