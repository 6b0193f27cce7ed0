package model

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/teslashibe/go-objdetect/pkg/camera"
)

// FillCHW resizes an RGB image to width × height and writes it into dst as
// planar float32 RGB scaled to [0, 1]. dst must hold 3*width*height values.
func FillCHW(img *camera.Image, width, height int, dst []float32) error {
	channelSize := width * height
	if len(dst) != 3*channelSize {
		return fmt.Errorf("model: input buffer has %d values, need %d", len(dst), 3*channelSize)
	}

	src, err := img.ToNRGBA()
	if err != nil {
		return err
	}
	resized := imaging.Resize(src, width, height, imaging.Linear)

	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride:]
		offset := y * width
		for x := 0; x < width; x++ {
			i := offset + x
			p := row[x*4:]
			dst[i] = float32(p[0]) / 255.0
			dst[channelSize+i] = float32(p[1]) / 255.0
			dst[channelSize*2+i] = float32(p[2]) / 255.0
		}
	}
	return nil
}

// YOLOv8Anchors returns the number of candidate boxes a YOLOv8 export
// produces for an input size (strides 8, 16 and 32).
func YOLOv8Anchors(width, height int) int {
	n := 0
	for _, s := range []int{8, 16, 32} {
		n += (width / s) * (height / s)
	}
	return n
}
