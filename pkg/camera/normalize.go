package camera

import (
	"fmt"
	"strings"
)

// ChannelOrder is the color channel order a source emits.
type ChannelOrder string

const (
	// BGR is the native order of most OpenCV capture backends.
	BGR ChannelOrder = "BGR"
	// RGB is the order detection models expect.
	RGB ChannelOrder = "RGB"
)

// ParseChannelOrder parses "BGR" or "RGB" (case-insensitive). Empty means BGR.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BGR":
		return BGR, nil
	case "RGB":
		return RGB, nil
	default:
		return "", fmt.Errorf("camera: unknown channel order %q", s)
	}
}

// DefaultChannelOrder returns the order a backend emits when none is
// configured: the file backend decodes to RGB, OpenCV captures BGR.
func DefaultChannelOrder(kind string) ChannelOrder {
	if kind == "file" {
		return RGB
	}
	return BGR
}

// ReverseChannels returns a copy of im with the channel axis reversed.
// Applying it twice restores the original.
func ReverseChannels(im *Image) *Image {
	out := im.Clone()
	ch := im.Channels
	for p := 0; p+ch <= len(out.Pix); p += ch {
		for i, j := p, p+ch-1; i < j; i, j = i+1, j-1 {
			out.Pix[i], out.Pix[j] = out.Pix[j], out.Pix[i]
		}
	}
	return out
}

// Normalize converts im to RGB order.
// Only 3-channel images from a BGR source are flipped; everything else
// (grayscale, RGBA, sources already emitting RGB) passes through unchanged.
func Normalize(im *Image, order ChannelOrder) *Image {
	if order == BGR && im.Channels == 3 {
		return ReverseChannels(im)
	}
	return im
}
