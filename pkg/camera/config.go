// Package camera acquires single frames from named camera resources.
//
// A camera is opened, asked for exactly one snapshot and closed again; the
// color channel order is then normalized to RGB according to the source's
// configured channel order.
package camera

import "fmt"

// Config holds the settings a backend needs to open one camera.
type Config struct {
	// Kind selects the registered backend ("opencv", "file").
	Kind string `json:"kind"`

	// Device is the backend-specific device: an index ("0") or stream URL.
	Device string `json:"device"`

	// Path is the still image served by the file backend.
	Path string `json:"path"`

	// ChannelOrder is the order the source emits.
	ChannelOrder ChannelOrder `json:"channel_order"`

	// Requested resolution; 0 keeps the driver default.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Quality is the JPEG quality used when the frame is saved (1-100).
	Quality int `json:"quality"`
}

// Sensor limits accepted for requested resolutions.
const (
	MaxWidth  = 7680
	MaxHeight = 4320
)

// DefaultConfig returns an OpenCV camera on device 0 emitting BGR.
func DefaultConfig() Config {
	return Config{
		Kind:         "opencv",
		Device:       "0",
		ChannelOrder: BGR,
		Quality:      90,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Kind == "" {
		errors = append(errors, "kind is required")
	}
	if c.Kind == "file" && c.Path == "" {
		errors = append(errors, "file camera requires a path")
	}
	if c.ChannelOrder != BGR && c.ChannelOrder != RGB {
		errors = append(errors, "channel_order must be BGR or RGB")
	}
	if c.Width < 0 || c.Width > MaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between 0 and %d", MaxWidth))
	}
	if c.Height < 0 || c.Height > MaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between 0 and %d", MaxHeight))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}
