package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoData is returned when a snapshot carries no pixels.
var ErrNoData = errors.New("camera: snapshot returned no data")

// Snapshot is one raw capture as delivered by a source.
type Snapshot struct {
	Image     *Image
	Timestamp int64 // Unix nanoseconds
}

// Frame is a captured image normalized to RGB channel order.
type Frame struct {
	Image     *Image
	Timestamp int64 // Unix nanoseconds of the capture instant
}

// Source is an opened camera.
type Source interface {
	// Snapshot captures a single frame.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Close releases the device.
	Close() error
}

// Opener opens camera resources by name.
type Opener interface {
	Open(ctx context.Context, name string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, name string) (Source, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, name string) (Source, error) {
	return f(ctx, name)
}

// CaptureError reports a failure to open or read a camera.
type CaptureError struct {
	Camera string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Camera, e.Err)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Capture opens the named camera, takes exactly one snapshot and normalizes
// its channel order. The camera is closed on every path; a close failure
// fails the capture.
func Capture(ctx context.Context, opener Opener, name string, order ChannelOrder) (frame *Frame, err error) {
	src, err := opener.Open(ctx, name)
	if err != nil {
		return nil, &CaptureError{Camera: name, Err: err}
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			frame, err = nil, &CaptureError{Camera: name, Err: cerr}
		}
	}()

	snap, err := src.Snapshot(ctx)
	if err != nil {
		return nil, &CaptureError{Camera: name, Err: err}
	}
	if snap == nil || snap.Image == nil || len(snap.Image.Pix) == 0 {
		return nil, &CaptureError{Camera: name, Err: ErrNoData}
	}
	if err := snap.Image.Validate(); err != nil {
		return nil, &CaptureError{Camera: name, Err: err}
	}

	return &Frame{
		Image:     Normalize(snap.Image, order),
		Timestamp: snap.Timestamp,
	}, nil
}

// Factory opens a source for a camera config.
type Factory func(ctx context.Context, cfg Config) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under kind.
// Backends call this from init().
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// Kinds lists the registered backends.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Registry maps camera names to their configs and opens them through the
// registered backends.
type Registry struct {
	cameras map[string]Config
}

// NewRegistry creates a registry over the named camera configs.
func NewRegistry(cameras map[string]Config) *Registry {
	return &Registry{cameras: cameras}
}

// Open implements Opener.
func (r *Registry) Open(ctx context.Context, name string) (Source, error) {
	cfg, ok := r.cameras[name]
	if !ok {
		return nil, fmt.Errorf("no camera named %q", name)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid camera config: %v", errs)
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("camera backend %q not registered (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
