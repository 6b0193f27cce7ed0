// Package opencv registers the "opencv" model runtime, which runs YOLOv8
// ONNX exports through the OpenCV DNN module.
//
// Import it for side effects:
//
//	import _ "github.com/teslashibe/go-objdetect/pkg/model/opencv"
package opencv

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/model"
	"gocv.io/x/gocv"
)

func init() {
	model.RegisterRuntime("opencv", Open)
}

// Detector is a YOLOv8 model loaded into an OpenCV DNN net.
type Detector struct {
	net       gocv.Net
	spec      model.Spec
	mu        sync.Mutex
	inputSize image.Point
	closed    bool
}

// Open loads the model from spec.Data when set, otherwise from spec.Path.
func Open(ctx context.Context, spec model.Spec) (model.Model, error) {
	var net gocv.Net
	if len(spec.Data) > 0 {
		var err error
		net, err = gocv.ReadNetFromONNXBytes(spec.Data)
		if err != nil {
			return nil, fmt.Errorf("load ONNX model from bytes: %w", err)
		}
	} else {
		if _, err := os.Stat(spec.Path); err != nil {
			return nil, fmt.Errorf("model file not found: %w", err)
		}
		net = gocv.ReadNetFromONNX(spec.Path)
	}
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("failed to load ONNX model %s", spec.Path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Detector{
		net:       net,
		spec:      spec,
		inputSize: image.Pt(spec.InputWidth, spec.InputHeight),
	}, nil
}

// Predict runs a forward pass on an RGB image.
func (d *Detector) Predict(ctx context.Context, img *camera.Image, threshold float64) (*model.Predictions, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, model.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// Pixels are already RGB, so no swap.
	blob := gocv.BlobFromImage(mat, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 4+C, N]
	dims := output.Size()
	if len(dims) != 3 || dims[1] != 4+d.spec.NumClasses {
		return nil, fmt.Errorf("unexpected YOLOv8 output shape %v", dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	return model.DecodeYOLOv8(data, model.DecodeOptions{
		NumClasses:   d.spec.NumClasses,
		ScaleX:       float32(img.Width) / float32(d.spec.InputWidth),
		ScaleY:       float32(img.Height) / float32(d.spec.InputHeight),
		ImageWidth:   float32(img.Width),
		ImageHeight:  float32(img.Height),
		Threshold:    float32(threshold),
		NMSThreshold: d.spec.NMSThreshold,
	})
}

// Type returns the configured model label.
func (d *Detector) Type() string {
	return d.spec.ModelType
}

// Close releases the detector resources.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}

func toMat(img *camera.Image) (gocv.Mat, error) {
	if err := img.Validate(); err != nil {
		return gocv.Mat{}, err
	}

	var typ gocv.MatType
	switch img.Channels {
	case 1:
		typ = gocv.MatTypeCV8UC1
	case 3:
		typ = gocv.MatTypeCV8UC3
	case 4:
		typ = gocv.MatTypeCV8UC4
	default:
		return gocv.Mat{}, fmt.Errorf("unsupported channel count %d", img.Channels)
	}

	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, typ, img.Pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap image: %w", err)
	}
	if img.Channels == 3 {
		return mat, nil
	}

	rgb := gocv.NewMat()
	code := gocv.ColorGrayToBGR
	if img.Channels == 4 {
		code = gocv.ColorBGRAToBGR
	}
	gocv.CvtColor(mat, &rgb, code)
	mat.Close()
	return rgb, nil
}
