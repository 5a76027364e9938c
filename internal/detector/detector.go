// Package detector provides object detection interfaces, result types and the
// model backends used to find trash in video frames.
package detector

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Detector defines the interface for open-vocabulary detection backends.
type Detector interface {
	// Detect analyzes a video frame and returns the detected objects with
	// ClassID indexing into the backend's label set.
	// Returns an empty slice if nothing is found.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options shared by all backends.
type Config struct {
	// ConfidenceThreshold is the minimum score for a candidate to be reported (0.0-1.0).
	ConfidenceThreshold float64

	// IoUThreshold is the overlap above which non-max suppression drops the
	// lower-scored box (0.0-1.0).
	IoUThreshold float64

	// InputSize is the square network input side in pixels (ONNX backend).
	InputSize int
}

// DefaultConfig returns the thresholds the service is tuned for.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.15,
		IoUThreshold:        0.5,
		InputSize:           640,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return fmt.Errorf("iou threshold %v outside [0,1]", c.IoUThreshold)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", c.InputSize)
	}
	return nil
}
