package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ONNXDetector runs a YOLO-World model exported to ONNX with its class
// vocabulary baked in, using the OpenCV DNN module.
type ONNXDetector struct {
	config Config
	labels LabelSet
	net    gocv.Net
	closed bool
	mu     sync.Mutex
}

// NewONNXDetector loads the network at modelPath. The model's class count
// must equal labels.Len(); this is checked on the first forward pass.
func NewONNXDetector(modelPath string, labels LabelSet, config Config) (*ONNXDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if labels.Len() == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrInvalidLabels)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model not found: %w", err)
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("set preferable target: %w", err)
	}

	return &ONNXDetector{
		config: config,
		labels: labels,
		net:    net,
	}, nil
}

// Detect resizes the frame to the network input, runs a forward pass and
// returns the detections that survive thresholding and NMS.
func (d *ONNXDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	size := d.config.InputSize
	blob := gocv.BlobFromImage(*frame, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("detector is closed")
	}

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}

	detections, err := decodeYOLOOutput(data, output.Size(), d.labels.Len(), size, d.config.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	return suppress(detections, d.config.IoUThreshold, size), nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.net.Close()
}
