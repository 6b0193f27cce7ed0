// Package opencv registers the "opencv" camera backend, which reads frames
// from a local video device or stream URL through GoCV.
//
// Import it for side effects:
//
//	import _ "github.com/teslashibe/go-objdetect/pkg/camera/opencv"
package opencv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/teslashibe/go-objdetect/pkg/camera"
	"gocv.io/x/gocv"
)

func init() {
	camera.Register("opencv", func(ctx context.Context, cfg camera.Config) (camera.Source, error) {
		return Open(cfg)
	})
}

// Source wraps a GoCV VideoCapture.
type Source struct {
	cap    *gocv.VideoCapture
	device string
	mu     sync.Mutex
}

// Open opens the configured device. Numeric devices are treated as indexes.
func Open(cfg camera.Config) (*Source, error) {
	var device interface{} = cfg.Device
	if idx, err := strconv.Atoi(cfg.Device); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open video device %s: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video device %s not available", cfg.Device)
	}

	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &Source{cap: vc, device: cfg.Device}, nil
}

// Snapshot reads one frame. OpenCV delivers BGR for color devices.
func (s *Source) Snapshot(ctx context.Context) (*camera.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.cap.Read(&mat); !ok {
		return nil, fmt.Errorf("read from video device %s failed", s.device)
	}
	ts := time.Now().UnixNano()
	if mat.Empty() {
		return nil, camera.ErrNoData
	}
	if mat.Type() != gocv.MatTypeCV8UC1 && mat.Type() != gocv.MatTypeCV8UC3 && mat.Type() != gocv.MatTypeCV8UC4 {
		return nil, fmt.Errorf("unsupported frame type %v", mat.Type())
	}

	pix, err := mat.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("frame data: %w", err)
	}

	return &camera.Snapshot{
		Image: &camera.Image{
			Width:    mat.Cols(),
			Height:   mat.Rows(),
			Channels: mat.Channels(),
			Pix:      append([]uint8(nil), pix...),
		},
		Timestamp: ts,
	}, nil
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cap.Close()
}
