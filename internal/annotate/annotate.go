// Package annotate draws labelled detections onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"gocv.io/x/gocv"

	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/pipeline"
)

const (
	boxThickness  = 2
	fontScale     = 0.5
	textThickness = 1
	captionMargin = 4
)

var fallbackColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// Annotator draws boxes and captions with one colour per label.
type Annotator struct {
	labels  detector.LabelSet
	palette []color.RGBA
}

// New creates an Annotator whose palette spreads the labels evenly around
// the HSV hue circle.
func New(labels detector.LabelSet) *Annotator {
	n := labels.Len()
	palette := make([]color.RGBA, n)
	for i := 0; i < n; i++ {
		c := colorful.Hsv(float64(i)*360/float64(n), 0.85, 0.95)
		r, g, b := c.RGB255()
		palette[i] = color.RGBA{R: r, G: g, B: b, A: 0}
	}
	return &Annotator{labels: labels, palette: palette}
}

// Color returns the drawing colour for label.
func (a *Annotator) Color(label string) color.RGBA {
	i := a.labels.Index(label)
	if i < 0 {
		return fallbackColor
	}
	return a.palette[i]
}

// Caption returns the text drawn above a detection, e.g. "aluminum can 0.87".
func Caption(d pipeline.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

// Draw renders detections onto mat in place. Boxes are normalized and are
// scaled to the frame size.
func (a *Annotator) Draw(mat *gocv.Mat, detections []pipeline.Detection) error {
	if mat == nil || mat.Empty() {
		return fmt.Errorf("empty frame")
	}

	width, height := mat.Cols(), mat.Rows()
	for _, d := range detections {
		rect := PixelRect(d.Box, width, height)
		c := a.Color(d.Label)

		if err := gocv.Rectangle(mat, rect, c, boxThickness); err != nil {
			return fmt.Errorf("draw rectangle: %w", err)
		}

		// Keep the caption inside the frame for boxes touching the top edge.
		y := rect.Min.Y - captionMargin
		if y < 12 {
			y = rect.Min.Y + 12
		}
		pt := image.Pt(rect.Min.X, y)
		if err := gocv.PutText(mat, Caption(d), pt, gocv.FontHersheySimplex, fontScale, c, textThickness); err != nil {
			return fmt.Errorf("draw caption: %w", err)
		}
	}
	return nil
}

// PixelRect converts a normalized [x1,y1,x2,y2] box to pixel coordinates.
func PixelRect(box [4]float64, width, height int) image.Rectangle {
	return image.Rect(
		int(box[0]*float64(width)),
		int(box[1]*float64(height)),
		int(box[2]*float64(width)),
		int(box[3]*float64(height)),
	)
}

// EncodeJPEG returns mat as JPEG bytes.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
