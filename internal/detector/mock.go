package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	detections []Detection
	err        error
	calls      int
	closed     bool
	mu         sync.Mutex
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections that will be returned by Detect.
func (m *MockDetector) SetDetections(detections []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = detections
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]Detection(nil), m.detections...), nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// PlasticBottle returns a high-confidence detection of class 0, which is
// "plastic bottle" in the default label set.
func PlasticBottle() Detection {
	return Detection{
		ClassID:    0,
		Confidence: 0.91,
		Box:        Box{X1: 0.25, Y1: 0.10, X2: 0.45, Y2: 0.80},
	}
}

// CrumpledPaper returns a low-confidence detection of class 3, which is
// "crumpled paper" in the default label set.
func CrumpledPaper() Detection {
	return Detection{
		ClassID:    3,
		Confidence: 0.22,
		Box:        Box{X1: 0.60, Y1: 0.55, X2: 0.85, Y2: 0.90},
	}
}
