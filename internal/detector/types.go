package detector

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Box is an axis-aligned bounding box in image-normalized coordinates:
// fractions of the image width and height with the origin at the top left.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Clamp returns the box with every coordinate clipped into [0,1] and the
// corners ordered so that X1 <= X2 and Y1 <= Y2.
func (b Box) Clamp() Box {
	x1, x2 := clamp01(b.X1), clamp01(b.X2)
	y1, y2 := clamp01(b.Y1), clamp01(b.Y2)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Array returns the box as [x1, y1, x2, y2].
func (b Box) Array() [4]float64 {
	return [4]float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Width returns the normalized box width.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the normalized box height.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Finite reports whether no coordinate is NaN or infinite.
func (b Box) Finite() bool {
	for _, v := range b.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Normalized reports whether the box is finite, inside [0,1] and ordered.
func (b Box) Normalized() bool {
	return b.Finite() && b == b.Clamp()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Detection is a single object found by a backend.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// ErrInvalidLabels is returned when a label list cannot form a LabelSet.
var ErrInvalidLabels = errors.New("invalid label set")

// LabelSet is an immutable, ordered list of category names. A detection's
// ClassID indexes into it.
type LabelSet struct {
	names []string
}

// NewLabelSet copies names into a LabelSet. Names are trimmed; blank or
// duplicate names are rejected.
func NewLabelSet(names []string) (LabelSet, error) {
	if len(names) == 0 {
		return LabelSet{}, fmt.Errorf("%w: no labels", ErrInvalidLabels)
	}

	seen := make(map[string]bool, len(names))
	copied := make([]string, 0, len(names))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return LabelSet{}, fmt.Errorf("%w: label %d is blank", ErrInvalidLabels, i)
		}
		if seen[name] {
			return LabelSet{}, fmt.Errorf("%w: duplicate label %q", ErrInvalidLabels, name)
		}
		seen[name] = true
		copied = append(copied, name)
	}

	return LabelSet{names: copied}, nil
}

// Len returns the number of labels.
func (s LabelSet) Len() int { return len(s.names) }

// Name resolves a class index. ok is false when the index is out of range.
func (s LabelSet) Name(classID int) (name string, ok bool) {
	if classID < 0 || classID >= len(s.names) {
		return "", false
	}
	return s.names[classID], true
}

// Index returns the class index of name, or -1.
func (s LabelSet) Index(name string) int {
	for i, n := range s.names {
		if n == name {
			return i
		}
	}
	return -1
}

// Contains reports whether name is one of the labels.
func (s LabelSet) Contains(name string) bool {
	return s.Index(name) >= 0
}

// Names returns a copy of the label list.
func (s LabelSet) Names() []string {
	return append([]string(nil), s.names...)
}
