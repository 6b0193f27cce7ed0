package detection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/teslashibe/go-objdetect/pkg/camera"
	"github.com/teslashibe/go-objdetect/pkg/model"
)

func intPtr(v int) *int { return &v }

func testImage() *camera.Image {
	return camera.NewImage(8, 8, 3)
}

func TestDetect_TwoCars(t *testing.T) {
	m := model.NewMock(&model.Predictions{
		ClassID:    []int{2, 2},
		Confidence: []float32{0.9, 0.75},
		XYXY:       [][4]float32{{10, 20, 110, 80}, {200, 40, 300, 120}},
	})

	dets, err := Detect(context.Background(), m, testImage(), DefaultThreshold)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	want := []Detection{
		{ClassLabel: "car", ClassID: intPtr(2), Confidence: float64(float32(0.9)), BBox: [4]float64{10, 20, 110, 80}},
		{ClassLabel: "car", ClassID: intPtr(2), Confidence: float64(float32(0.75)), BBox: [4]float64{200, 40, 300, 120}},
	}
	if diff := cmp.Diff(want, dets); diff != "" {
		t.Errorf("detections mismatch (-want +got):\n%s", diff)
	}

	if got := m.Thresholds(); len(got) != 1 || got[0] != 0.5 {
		t.Errorf("threshold passed to model: %v", got)
	}

	report := Aggregate(dets)
	if report.TotalObjects != 2 || report.Counts["car"] != 2 || len(report.Counts) != 1 {
		t.Errorf("report: %+v", report)
	}
}

func TestDetect_PreservesModelOrder(t *testing.T) {
	m := model.NewMock(&model.Predictions{
		ClassID:    []int{16, 0, 15},
		Confidence: []float32{0.6, 0.95, 0.7},
		XYXY:       [][4]float32{{0, 0, 1, 1}, {1, 1, 2, 2}, {2, 2, 3, 3}},
	})

	dets, err := Detect(context.Background(), m, testImage(), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	var labels []string
	for _, d := range dets {
		labels = append(labels, d.ClassLabel)
	}
	if diff := cmp.Diff([]string{"dog", "person", "cat"}, labels); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDetect_Empty(t *testing.T) {
	tests := []struct {
		name  string
		preds *model.Predictions
	}{
		{"nil predictions", nil},
		{"zero predictions", &model.Predictions{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dets, err := Detect(context.Background(), model.NewMock(tc.preds), testImage(), 0.5)
			if err != nil {
				t.Fatal(err)
			}
			if dets == nil || len(dets) != 0 {
				t.Errorf("expected empty non-nil slice, got %#v", dets)
			}
		})
	}
}

func TestDetect_Errors(t *testing.T) {
	predictErr := errors.New("tensor shape mismatch")

	tests := []struct {
		name    string
		model   model.Model
		img     *camera.Image
		wantErr error
	}{
		{
			name:    "model failure",
			model:   model.MockWithError(predictErr),
			img:     testImage(),
			wantErr: predictErr,
		},
		{
			name: "class out of range",
			model: model.NewMock(&model.Predictions{
				ClassID:    []int{80},
				Confidence: []float32{0.9},
				XYXY:       [][4]float32{{0, 0, 1, 1}},
			}),
			img:     testImage(),
			wantErr: ErrUnknownClass,
		},
		{
			name: "mismatched lengths",
			model: model.NewMock(&model.Predictions{
				ClassID:    []int{0, 1},
				Confidence: []float32{0.9},
				XYXY:       [][4]float32{{0, 0, 1, 1}, {0, 0, 1, 1}},
			}),
			img: testImage(),
		},
		{
			name:  "no model",
			model: nil,
			img:   testImage(),
		},
		{
			name:  "no image",
			model: model.NewMock(&model.Predictions{}),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dets, err := Detect(context.Background(), tc.model, tc.img, 0.5)
			if err == nil {
				t.Fatalf("expected error, got %v", dets)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		id      int
		want    string
		wantErr bool
	}{
		{0, "person", false},
		{2, "car", false},
		{79, "toothbrush", false},
		{80, "", true},
		{-1, "", true},
	}

	for _, tc := range tests {
		got, err := Label(tc.id)
		if (err != nil) != tc.wantErr {
			t.Errorf("Label(%d) error: %v", tc.id, err)
		}
		if got != tc.want {
			t.Errorf("Label(%d): got %q, want %q", tc.id, got, tc.want)
		}
	}

	if len(COCOClasses) != 80 {
		t.Errorf("expected 80 COCO classes, got %d", len(COCOClasses))
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   map[string]int
	}{
		{"empty", nil, map[string]int{}},
		{"single", []string{"dog"}, map[string]int{"dog": 1}},
		{"mixed", []string{"person", "car", "person", "bus", "person"}, map[string]int{"person": 3, "car": 1, "bus": 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var dets []Detection
			for _, l := range tc.labels {
				dets = append(dets, Detection{ClassLabel: l, Confidence: 0.8})
			}

			r := Aggregate(dets)
			if diff := cmp.Diff(tc.want, r.Counts); diff != "" {
				t.Errorf("counts mismatch (-want +got):\n%s", diff)
			}

			sum := 0
			for _, n := range r.Counts {
				sum += n
			}
			if r.TotalObjects != len(r.Detections) || r.TotalObjects != sum {
				t.Errorf("totals disagree: total=%d len=%d sum=%d", r.TotalObjects, len(r.Detections), sum)
			}
		})
	}
}

func TestReport_JSON(t *testing.T) {
	raw, err := json.Marshal(Aggregate(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(raw); got != `{"detections":[],"counts":{},"total_objects":0}` {
		t.Errorf("empty report JSON: %s", got)
	}

	raw, err = json.Marshal(Detection{ClassLabel: "car", ClassID: intPtr(2), Confidence: 0.5, BBox: [4]float64{1, 2, 3, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(raw); got != `{"class":"car","class_id":2,"confidence":0.5,"bbox":[1,2,3,4]}` {
		t.Errorf("detection JSON: %s", got)
	}

	raw, _ = json.Marshal(Detection{ClassLabel: "car", Confidence: 0.5})
	if got := string(raw); got != `{"class":"car","confidence":0.5,"bbox":[0,0,0,0]}` {
		t.Errorf("detection without class id: %s", got)
	}
}
