package detector

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// decodeYOLOOutput reads a YOLOv8/YOLO-World detection head. dims is the
// output tensor shape, either [1, 4+C, N] or the transposed [1, N, 4+C].
// Each candidate carries cx, cy, w, h in network input pixels followed by C
// class scores. Candidates whose best score is below minScore, or whose box
// is not finite or falls outside the frame, are dropped. NaN scores never win.
func decodeYOLOOutput(data []float32, dims []int, numClasses, inputSize int, minScore float64) ([]Detection, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}

	attrs := 4 + numClasses
	var n int
	var at func(attr, i int) float32

	switch {
	case dims[1] == attrs:
		n = dims[2]
		at = func(attr, i int) float32 { return data[attr*n+i] }
	case dims[2] == attrs:
		n = dims[1]
		at = func(attr, i int) float32 { return data[i*attrs+attr] }
	default:
		return nil, fmt.Errorf("output shape %v does not match %d classes", dims, numClasses)
	}

	if len(data) < attrs*n {
		return nil, fmt.Errorf("output has %d values, want %d", len(data), attrs*n)
	}

	size := float64(inputSize)
	var detections []Detection
	for i := 0; i < n; i++ {
		classID := -1
		var best float32
		for c := 0; c < numClasses; c++ {
			score := at(4+c, i)
			if score != score { // NaN
				continue
			}
			if classID < 0 || score > best {
				best = score
				classID = c
			}
		}

		if classID < 0 || !(float64(best) >= minScore) {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))

		box := Box{
			X1: (cx - w/2) / size,
			Y1: (cy - h/2) / size,
			X2: (cx + w/2) / size,
			Y2: (cy + h/2) / size,
		}

		if !box.Finite() {
			continue
		}
		// Candidates lying entirely outside the frame collapse to nothing.
		box = box.Clamp()
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}

		detections = append(detections, Detection{
			ClassID:    classID,
			Confidence: float64(best),
			Box:        box,
		})
	}

	return detections, nil
}

// suppress runs class-aware non-max suppression. Boxes of different classes
// are shifted apart so they never overlap and only compete within a class.
func suppress(detections []Detection, iouThreshold float64, inputSize int) []Detection {
	if len(detections) < 2 {
		return detections
	}

	size := float64(inputSize)
	offset := 2 * inputSize

	rects := make([]image.Rectangle, len(detections))
	scores := make([]float32, len(detections))
	for i, d := range detections {
		shift := d.ClassID * offset
		rects[i] = image.Rect(
			int(d.Box.X1*size)+shift,
			int(d.Box.Y1*size),
			int(d.Box.X2*size)+shift,
			int(d.Box.Y2*size),
		)
		scores[i] = float32(d.Confidence)
	}

	indices := gocv.NMSBoxes(rects, scores, 0, float32(iouThreshold))

	kept := make([]Detection, 0, len(indices))
	for _, idx := range indices {
		kept = append(kept, detections[idx])
	}
	return kept
}
