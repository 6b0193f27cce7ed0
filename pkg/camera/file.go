package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
)

func init() {
	Register("file", func(ctx context.Context, cfg Config) (Source, error) {
		return OpenFile(cfg.Path)
	})
}

// FileSource serves a still image from disk as if it were a camera.
// Decoded pixels are RGB, so file cameras should be configured with RGB order.
type FileSource struct {
	path   string
	closed bool
}

// OpenFile opens a still-image camera.
func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("file camera: empty path")
	}
	return &FileSource{path: path}, nil
}

// Snapshot decodes the image. The timestamp is the decode instant.
func (s *FileSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.closed {
		return nil, fmt.Errorf("file camera %s: closed", s.path)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Open(s.path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}

	return &Snapshot{
		Image:     FromImage(img),
		Timestamp: time.Now().UnixNano(),
	}, nil
}

// Close marks the source closed.
func (s *FileSource) Close() error {
	s.closed = true
	return nil
}
