package detection

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/model"
)

// ErrUnknownClass is returned when a model reports a class index outside
// the label table.
var ErrUnknownClass = errors.New("detection: class index out of range")

// Detect runs m on img and labels every prediction at or above threshold.
// Detections keep the model's order.
func Detect(ctx context.Context, m model.Model, img *camera.Image, threshold float64) ([]Detection, error) {
	if m == nil {
		return nil, errors.New("detection: no model")
	}
	if img == nil {
		return nil, errors.New("detection: no image")
	}

	preds, err := m.Predict(ctx, img, threshold)
	if err != nil {
		return nil, err
	}
	if preds == nil {
		return []Detection{}, nil
	}
	if err := preds.Validate(); err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, preds.Len())
	for i, id := range preds.ClassID {
		label, err := Label(id)
		if err != nil {
			return nil, err
		}
		box := preds.XYXY[i]
		classID := id
		detections = append(detections, Detection{
			ClassLabel: label,
			ClassID:    &classID,
			Confidence: float64(preds.Confidence[i]),
			BBox:       [4]float64{float64(box[0]), float64(box[1]), float64(box[2]), float64(box[3])},
		})
	}
	return detections, nil
}

// Label returns the COCO class name for index id.
func Label(id int) (string, error) {
	if id < 0 || id >= len(COCOClasses) {
		return "", fmt.Errorf("%w: %d", ErrUnknownClass, id)
	}
	return COCOClasses[id], nil
}

// COCOClasses contains the 80 COCO class names in model index order.
var COCOClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator",
	"book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
