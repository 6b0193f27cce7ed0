// Package detection turns raw model predictions into labelled detections
// and aggregates them into per-class counts.
package detection

// DefaultThreshold is the confidence cutoff applied when none is configured.
const DefaultThreshold = 0.5

// Detection is one labelled object in a frame.
type Detection struct {
	ClassLabel string     `json:"class"`
	ClassID    *int       `json:"class_id,omitempty"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2 in pixels
}

// Report is the aggregated result of one run.
// TotalObjects always equals len(Detections) and the sum of Counts.
type Report struct {
	Detections   []Detection    `json:"detections"`
	Counts       map[string]int `json:"counts"`
	TotalObjects int            `json:"total_objects"`
}

// Aggregate builds a Report from detections. The detections slice is kept
// as is; an empty input yields empty (non-nil) Detections and Counts.
func Aggregate(detections []Detection) Report {
	if detections == nil {
		detections = []Detection{}
	}
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.ClassLabel]++
	}
	return Report{
		Detections:   detections,
		Counts:       counts,
		TotalObjects: len(detections),
	}
}
