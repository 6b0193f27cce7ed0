package model

import (
	"context"
	"sync"

	"github.com/teslashibe/go-objdetect/pkg/camera"
)

// Mock implements Model for testing.
type Mock struct {
	// PredictFunc is called when Predict is invoked.
	PredictFunc func(ctx context.Context, img *camera.Image, threshold float64) (*Predictions, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// ModelType is returned by Type.
	ModelType string

	mu         sync.Mutex
	calls      int
	thresholds []float64
	closed     bool
}

// NewMock creates a mock that returns preds from every Predict call.
func NewMock(preds *Predictions) *Mock {
	return &Mock{
		ModelType: "mock",
		PredictFunc: func(ctx context.Context, img *camera.Image, threshold float64) (*Predictions, error) {
			return preds, nil
		},
	}
}

// MockWithError creates a mock whose Predict always fails with err.
func MockWithError(err error) *Mock {
	return &Mock{
		ModelType: "mock",
		PredictFunc: func(ctx context.Context, img *camera.Image, threshold float64) (*Predictions, error) {
			return nil, err
		},
	}
}

// Predict implements Model.
func (m *Mock) Predict(ctx context.Context, img *camera.Image, threshold float64) (*Predictions, error) {
	m.mu.Lock()
	m.calls++
	m.thresholds = append(m.thresholds, threshold)
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if m.PredictFunc == nil {
		return &Predictions{}, nil
	}
	return m.PredictFunc(ctx, img, threshold)
}

// Type implements Model.
func (m *Mock) Type() string {
	return m.ModelType
}

// Close implements Model.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns the number of Predict invocations.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Thresholds returns the thresholds passed to Predict, in call order.
func (m *Mock) Thresholds() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.thresholds...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
