// Package pipeline implements the decode, infer and format steps behind the
// detection endpoints. Run returns an explicit (Response, error) result and
// Suppress maps every failure onto the empty response.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/frame"
)

var (
	// ErrDecode covers a request that cannot be parsed into a payload: bad
	// JSON, a missing or non-string image field, no comma or bad base64.
	ErrDecode = errors.New("decode error")

	// ErrImageDecode is returned when the payload bytes are not an image.
	ErrImageDecode = errors.New("image decode error")

	// ErrInference is returned when the detector fails.
	ErrInference = errors.New("inference error")

	// ErrLabel is returned when the detector reports a class index outside
	// the label set.
	ErrLabel = errors.New("label error")
)

// Request is the body of a detection call.
type Request struct {
	Image *string `json:"image"`
}

// Detection is one labelled object in normalized coordinates.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Response is the body returned by a detection call.
type Response struct {
	Detections []Detection `json:"detections"`
}

// Empty returns a response with no detections. Detections is a non-nil
// slice so it serializes as [] rather than null.
func Empty() Response {
	return Response{Detections: []Detection{}}
}

// Pipeline turns requests into responses using a detector and label set
// fixed at construction.
type Pipeline struct {
	detector     detector.Detector
	labels       detector.LabelSet
	maxFrameSide int
}

// New creates a Pipeline. Frames larger than maxFrameSide on either side are
// downscaled before inference; 0 disables downscaling.
func New(det detector.Detector, labels detector.LabelSet, maxFrameSide int) *Pipeline {
	return &Pipeline{
		detector:     det,
		labels:       labels,
		maxFrameSide: maxFrameSide,
	}
}

// Labels returns the label set detections are resolved against.
func (p *Pipeline) Labels() detector.LabelSet {
	return p.labels
}

// DecodeRequest reads a JSON Request from r.
func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return req, nil
}

// ParseRequest parses a JSON Request from data.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return req, nil
}

// Run decodes the request image, runs the detector and formats the result.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	mat, err := p.Frame(req)
	if err != nil {
		return Response{}, err
	}
	defer mat.Close()

	return p.Infer(&mat)
}

// Frame decodes the request image into a BGR Mat. The caller must Close it.
func (p *Pipeline) Frame(req Request) (gocv.Mat, error) {
	if req.Image == nil {
		return gocv.NewMat(), fmt.Errorf("%w: missing image field", ErrDecode)
	}

	payload, err := frame.Payload(*req.Image)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}

	data, err := frame.DecodeBase64(payload)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img, err := frame.DecodeImage(data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrImageDecode, err)
	}

	mat, err := frame.ToMat(frame.Fit(img, p.maxFrameSide))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return mat, nil
}

// Infer runs the detector on an already decoded frame and resolves labels.
func (p *Pipeline) Infer(mat *gocv.Mat) (Response, error) {
	found, err := p.detector.Detect(mat)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInference, err)
	}

	resp := Response{Detections: make([]Detection, 0, len(found))}
	for _, d := range found {
		if math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0) || !d.Box.Finite() {
			return Response{}, fmt.Errorf("%w: non-finite score or box for class %d", ErrInference, d.ClassID)
		}
		label, ok := p.labels.Name(d.ClassID)
		if !ok {
			return Response{}, fmt.Errorf("%w: class index %d outside %d labels", ErrLabel, d.ClassID, p.labels.Len())
		}
		resp.Detections = append(resp.Detections, Detection{
			Label:      label,
			Confidence: clampConfidence(d.Confidence),
			Box:        d.Box.Clamp().Array(),
		})
	}
	return resp, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Suppress maps any failure to the empty response. A successful response is
// returned as is, with a nil detection list replaced by an empty one.
func Suppress(resp Response, err error) Response {
	if err != nil || resp.Detections == nil {
		return Empty()
	}
	return resp
}

// Kind names the failure class of err for logging.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrImageDecode):
		return "image_decode"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrLabel):
		return "label"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
