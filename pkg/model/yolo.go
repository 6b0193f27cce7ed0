package model

import (
	"fmt"
	"sort"
)

// DecodeOptions controls YOLOv8 output decoding.
type DecodeOptions struct {
	// NumClasses is the number of class score rows after the 4 box rows.
	NumClasses int

	// ScaleX and ScaleY map model input pixels to source image pixels.
	ScaleX, ScaleY float32

	// ImageWidth and ImageHeight clamp boxes to the source image.
	ImageWidth, ImageHeight float32

	// Threshold is the minimum class score kept.
	Threshold float32

	// NMSThreshold is the IoU above which same-class boxes are suppressed.
	// Zero disables NMS.
	NMSThreshold float32
}

// DecodeYOLOv8 parses a YOLOv8 output tensor of shape [1, 4+C, N] into
// predictions ordered by descending confidence.
// Rows 0-3 are center x, center y, width, height in model input pixels.
func DecodeYOLOv8(data []float32, opts DecodeOptions) (*Predictions, error) {
	rowsPerBox := 4 + opts.NumClasses
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("model: class count must be positive, got %d", opts.NumClasses)
	}
	if len(data) == 0 || len(data)%rowsPerBox != 0 {
		return nil, fmt.Errorf("model: output length %d is not a multiple of %d", len(data), rowsPerBox)
	}
	n := len(data) / rowsPerBox

	var (
		boxes   [][4]float32
		scores  []float32
		classes []int
	)

	for i := 0; i < n; i++ {
		maxScore := float32(0)
		maxClass := 0
		for c := 0; c < opts.NumClasses; c++ {
			score := data[(4+c)*n+i]
			if score > maxScore {
				maxScore = score
				maxClass = c
			}
		}

		if maxScore < opts.Threshold {
			continue
		}

		cx := data[0*n+i]
		cy := data[1*n+i]
		w := data[2*n+i]
		h := data[3*n+i]

		box := [4]float32{
			clamp((cx-w/2)*opts.ScaleX, opts.ImageWidth),
			clamp((cy-h/2)*opts.ScaleY, opts.ImageHeight),
			clamp((cx+w/2)*opts.ScaleX, opts.ImageWidth),
			clamp((cy+h/2)*opts.ScaleY, opts.ImageHeight),
		}
		if box[2] <= box[0] || box[3] <= box[1] {
			continue
		}

		boxes = append(boxes, box)
		scores = append(scores, maxScore)
		classes = append(classes, maxClass)
	}

	keep := NMS(boxes, scores, classes, opts.NMSThreshold)

	out := &Predictions{
		ClassID:    make([]int, 0, len(keep)),
		Confidence: make([]float32, 0, len(keep)),
		XYXY:       make([][4]float32, 0, len(keep)),
	}
	for _, idx := range keep {
		out.ClassID = append(out.ClassID, classes[idx])
		out.Confidence = append(out.Confidence, scores[idx])
		out.XYXY = append(out.XYXY, boxes[idx])
	}
	return out, nil
}

// NMS performs class-aware greedy non-maximum suppression and returns the
// kept indices in descending score order. A threshold <= 0 keeps everything.
func NMS(boxes [][4]float32, scores []float32, classes []int, iouThresh float32) []int {
	order := make([]int, len(boxes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if iouThresh <= 0 {
		return order
	}

	suppressed := make([]bool, len(boxes))
	keep := make([]int, 0, len(boxes))
	for oi, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order[oi+1:] {
			if suppressed[j] || classes[j] != classes[i] {
				continue
			}
			if IoU(boxes[i], boxes[j]) > iouThresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// IoU returns the intersection over union of two xyxy boxes.
func IoU(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, limit float32) float32 {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}
