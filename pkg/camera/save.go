package camera

import (
	"fmt"
	"os"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when SaveJPEG is given a quality outside 1-100.
const DefaultJPEGQuality = 90

// SaveJPEG writes the frame to path as a JPEG.
func (f *Frame) SaveJPEG(path string, quality int) error {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	img, err := f.Image.ToNRGBA()
	if err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	return nil
}

// SaveTempJPEG writes the frame to a new temporary JPEG and returns its path.
// The caller removes the file.
func (f *Frame) SaveTempJPEG(dir string, quality int) (string, error) {
	tmp, err := os.CreateTemp(dir, "frame-*.jpg")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	if err := f.SaveJPEG(path, quality); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
