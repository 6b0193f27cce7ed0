// Package onnx registers the "onnxruntime" model runtime, which runs YOLOv8
// ONNX exports through ONNX Runtime.
//
// Import it for side effects:
//
//	import _ "github.com/teslashibe/go-objdetect/pkg/model/onnx"
package onnx

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/model"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// Tensor names used by Ultralytics YOLOv8 exports.
const (
	InputName  = "images"
	OutputName = "output0"
)

func init() {
	model.RegisterRuntime("onnxruntime", Open)
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(library string) error {
	envOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Session is a YOLOv8 model bound to preallocated input and output tensors.
type Session struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	spec    model.Spec
	mu      sync.Mutex
	closed  bool
}

// threadOptions is the subset of *ort.SessionOptions used for threading.
type threadOptions interface {
	SetIntraOpNumThreads(n int) error
	SetInterOpNumThreads(n int) error
}

// configureThreads runs one graph at a time, parallel within operators.
func configureThreads(o threadOptions, cpus int) error {
	if err := o.SetIntraOpNumThreads(cpus); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := o.SetInterOpNumThreads(1); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}
	return nil
}

// Open creates an ONNX Runtime session for spec.
func Open(ctx context.Context, spec model.Spec) (model.Model, error) {
	if err := initEnvironment(spec.ORTLibrary); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	if len(spec.Data) == 0 {
		if _, err := os.Stat(spec.Path); err != nil {
			return nil, fmt.Errorf("model file not found: %w", err)
		}
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if err := configureThreads(options, runtime.NumCPU()); err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, 3, int64(spec.InputHeight), int64(spec.InputWidth))
	outputShape := ort.NewShape(1, int64(4+spec.NumClasses), int64(model.YOLOv8Anchors(spec.InputWidth, spec.InputHeight)))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	inputs := []ort.ArbitraryTensor{inputTensor}
	outputs := []ort.ArbitraryTensor{outputTensor}
	names := []string{InputName}
	outNames := []string{OutputName}

	var session *ort.AdvancedSession
	if len(spec.Data) > 0 {
		session, err = ort.NewAdvancedSessionWithONNXData(spec.Data, names, outNames, inputs, outputs, options)
	} else {
		session, err = ort.NewAdvancedSession(spec.Path, names, outNames, inputs, outputs, options)
	}
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &Session{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		spec:    spec,
	}, nil
}

// Predict runs inference on an RGB image.
func (s *Session) Predict(ctx context.Context, img *camera.Image, threshold float64) (*model.Predictions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, model.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := model.FillCHW(img, s.spec.InputWidth, s.spec.InputHeight, s.input.GetData()); err != nil {
		return nil, fmt.Errorf("prepare input buffer: %w", err)
	}

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	return model.DecodeYOLOv8(s.output.GetData(), model.DecodeOptions{
		NumClasses:   s.spec.NumClasses,
		ScaleX:       float32(img.Width) / float32(s.spec.InputWidth),
		ScaleY:       float32(img.Height) / float32(s.spec.InputHeight),
		ImageWidth:   float32(img.Width),
		ImageHeight:  float32(img.Height),
		Threshold:    float32(threshold),
		NMSThreshold: s.spec.NMSThreshold,
	})
}

// Type returns the configured model label.
func (s *Session) Type() string {
	return s.spec.ModelType
}

// Close destroys the session and its tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	return multierr.Combine(s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
}
