// Package model loads object-detection models and runs them on frames.
//
// Models are opened through named runtimes ("opencv", "onnxruntime") that
// register themselves from init() in their subpackages. The Loader tries the
// primary model file first and falls back to a single backup checkpoint.
package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/teslashibe/go-objdetect/pkg/camera"
)

// Sentinel errors for common conditions.
var (
	// ErrUnknownRuntime is returned when no runtime is registered under a name.
	ErrUnknownRuntime = errors.New("model: unknown runtime")

	// ErrNoModelData is returned when a Spec names neither a path nor bytes.
	ErrNoModelData = errors.New("model: spec has no path or data")

	// ErrClosed is returned when predicting on a closed model.
	ErrClosed = errors.New("model: closed")
)

// Predictions are the raw outputs of one inference as parallel slices.
// Boxes are [x1, y1, x2, y2] in absolute pixel coordinates of the input image.
type Predictions struct {
	ClassID    []int
	Confidence []float32
	XYXY       [][4]float32
}

// Len returns the number of predictions.
func (p *Predictions) Len() int {
	return len(p.ClassID)
}

// Validate checks that the parallel slices have equal length.
func (p *Predictions) Validate() error {
	if len(p.Confidence) != len(p.ClassID) || len(p.XYXY) != len(p.ClassID) {
		return fmt.Errorf("model: mismatched prediction lengths (class_id=%d confidence=%d xyxy=%d)",
			len(p.ClassID), len(p.Confidence), len(p.XYXY))
	}
	return nil
}

// Model is a loaded detector.
type Model interface {
	// Predict runs inference on an RGB image and keeps predictions whose
	// confidence is at least threshold.
	Predict(ctx context.Context, img *camera.Image, threshold float64) (*Predictions, error)

	// Type returns a human-readable model label.
	Type() string

	// Close releases runtime resources.
	Close() error
}

// Spec describes what a runtime should open.
type Spec struct {
	// Path is a model file on disk. Ignored when Data is set.
	Path string

	// Data holds serialized model bytes, e.g. a checkpoint payload.
	Data []byte

	// Format is the serialization format; only "onnx" is supported.
	Format string

	ModelType    string
	InputWidth   int
	InputHeight  int
	NumClasses   int
	NMSThreshold float32

	// Classes is the label table class ids are resolved against. A backup
	// checkpoint listing classes must match it.
	Classes []string

	// ORTLibrary is the ONNX Runtime shared library path (onnxruntime only).
	ORTLibrary string
}

// Validate checks that the spec can be opened.
func (s *Spec) Validate() error {
	if s.Path == "" && len(s.Data) == 0 {
		return ErrNoModelData
	}
	if s.Format != "" && s.Format != FormatONNX {
		return fmt.Errorf("model: unsupported format %q", s.Format)
	}
	if s.InputWidth <= 0 || s.InputHeight <= 0 {
		return fmt.Errorf("model: input size must be positive, got %dx%d", s.InputWidth, s.InputHeight)
	}
	if s.NumClasses <= 0 {
		return fmt.Errorf("model: class count must be positive, got %d", s.NumClasses)
	}
	return nil
}

// FormatONNX is the only model serialization format supported.
const FormatONNX = "onnx"

// Runtime opens a model from a spec.
type Runtime func(ctx context.Context, spec Spec) (Model, error)

var (
	runtimesMu sync.RWMutex
	runtimes   = map[string]Runtime{}
)

// RegisterRuntime makes a runtime available under name.
// Runtimes call this from init().
func RegisterRuntime(name string, rt Runtime) {
	runtimesMu.Lock()
	defer runtimesMu.Unlock()
	runtimes[name] = rt
}

// LookupRuntime returns the runtime registered under name.
func LookupRuntime(name string) (Runtime, error) {
	runtimesMu.RLock()
	defer runtimesMu.RUnlock()
	rt, ok := runtimes[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownRuntime, name, runtimeNames())
	}
	return rt, nil
}

func runtimeNames() []string {
	names := make([]string, 0, len(runtimes))
	for n := range runtimes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
