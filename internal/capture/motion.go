package capture

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Stream rates. The stream drops to IdleFPS once nothing has moved for
// IdleTimeout and returns to ActiveFPS on the next change.
const (
	ActiveFPS   = 15
	IdleFPS     = 5
	IdleTimeout = 2 * time.Second
)

const (
	// motionWidth is the width frames are shrunk to before differencing.
	motionWidth = 160
	blurSize    = 9
	diffLevel   = 25
)

// MotionGate decides whether a frame differs enough from the previous one to
// be worth running the detector on.
type MotionGate struct {
	threshold float64
	prev      gocv.Mat
	hasPrev   bool
	mu        sync.Mutex
}

// NewMotionGate creates a gate that opens when more than threshold percent
// of pixels changed.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		prev:      gocv.NewMat(),
	}
}

// Changed compares frame with the previous one and reports whether it
// changed, and by what percentage of pixels. The first frame always counts as
// changed so the stream starts with fresh detections.
func (g *MotionGate) Changed(frame *gocv.Mat) (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	small := gocv.NewMat()
	defer small.Close()
	height := frame.Rows() * motionWidth / frame.Cols()
	if height < 1 {
		height = 1
	}
	gocv.Resize(*frame, &small, image.Pt(motionWidth, height), 0, 0, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	if small.Channels() > 1 {
		gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)
	} else {
		small.CopyTo(&gray)
	}
	gocv.GaussianBlur(gray, &gray, image.Pt(blurSize, blurSize), 0, 0, gocv.BorderDefault)

	if !g.hasPrev || g.prev.Rows() != gray.Rows() || g.prev.Cols() != gray.Cols() {
		gray.CopyTo(&g.prev)
		g.hasPrev = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, g.prev, &diff)
	gocv.Threshold(diff, &diff, diffLevel, 255, gocv.ThresholdBinary)

	percent := float64(gocv.CountNonZero(diff)) / float64(diff.Rows()*diff.Cols()) * 100
	gray.CopyTo(&g.prev)

	return percent > g.threshold, percent
}

// Reset forgets the previous frame.
func (g *MotionGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasPrev = false
}

// Close releases the stored frame.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prev.Close()
	g.prev = gocv.NewMat()
	g.hasPrev = false
}
