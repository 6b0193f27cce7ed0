package camera

import (
	"fmt"
	"image"
	"image/color"
)

// Image is a raw interleaved pixel buffer laid out height × width × channels.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewImage allocates a zeroed image.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Validate checks the buffer length against the declared shape.
func (im *Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 || im.Channels <= 0 {
		return fmt.Errorf("invalid image shape %dx%dx%d", im.Height, im.Width, im.Channels)
	}
	if want := im.Width * im.Height * im.Channels; len(im.Pix) != want {
		return fmt.Errorf("pixel buffer has %d bytes, shape %dx%dx%d needs %d",
			len(im.Pix), im.Height, im.Width, im.Channels, want)
	}
	return nil
}

// Offset returns the index of channel c of pixel (x, y).
func (im *Image) Offset(x, y, c int) int {
	return (y*im.Width+x)*im.Channels + c
}

// At returns channel c of pixel (x, y).
func (im *Image) At(x, y, c int) uint8 {
	return im.Pix[im.Offset(x, y, c)]
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := *im
	out.Pix = append([]uint8(nil), im.Pix...)
	return &out
}

// ToNRGBA converts an RGB, RGBA or single-channel image to a standard library image.
// Three-channel buffers are interpreted as RGB.
func (im *Image) ToNRGBA() (*image.NRGBA, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	out := image.NewNRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			i := im.Offset(x, y, 0)
			var c color.NRGBA
			switch im.Channels {
			case 1:
				c = color.NRGBA{im.Pix[i], im.Pix[i], im.Pix[i], 255}
			case 3:
				c = color.NRGBA{im.Pix[i], im.Pix[i+1], im.Pix[i+2], 255}
			case 4:
				c = color.NRGBA{im.Pix[i], im.Pix[i+1], im.Pix[i+2], im.Pix[i+3]}
			default:
				return nil, fmt.Errorf("cannot convert %d-channel image", im.Channels)
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}

// FromImage copies a standard library image into a 3-channel RGB buffer.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy(), 3)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := out.Offset(x, y, 0)
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
		}
	}
	return out
}
