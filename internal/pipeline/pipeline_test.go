package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"github.com/ayusman/binsight/internal/config"
	"github.com/ayusman/binsight/internal/detector"
)

func testLabels(t *testing.T) detector.LabelSet {
	t.Helper()
	labels, err := detector.NewLabelSet(config.DefaultClasses)
	if err != nil {
		t.Fatalf("NewLabelSet() error = %v", err)
	}
	return labels
}

// dataURL returns a PNG data URL of a grey frame.
func dataURL(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{120, 120, 120, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func strPtr(s string) *string { return &s }

func TestRun_PlasticBottle(t *testing.T) {
	mock := detector.NewMockDetector()
	mock.SetDetections([]detector.Detection{detector.PlasticBottle()})
	p := New(mock, testLabels(t), 1280)

	resp, err := p.Run(context.Background(), Request{Image: strPtr(dataURL(t, 64, 48))})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(resp.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(resp.Detections))
	}
	d := resp.Detections[0]
	if d.Label != "plastic bottle" {
		t.Errorf("label = %q, want plastic bottle", d.Label)
	}
	if d.Confidence < 0.15 {
		t.Errorf("confidence = %v, want >= 0.15", d.Confidence)
	}
	if d.Box != [4]float64{0.25, 0.10, 0.45, 0.80} {
		t.Errorf("box = %v", d.Box)
	}
	if mock.Calls() != 1 {
		t.Errorf("detector calls = %d, want 1", mock.Calls())
	}
}

func TestRun_NoDetections(t *testing.T) {
	p := New(detector.NewMockDetector(), testLabels(t), 0)

	resp, err := p.Run(context.Background(), Request{Image: strPtr(dataURL(t, 8, 8))})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, _ := json.Marshal(resp)
	if string(data) != `{"detections":[]}` {
		t.Errorf("json = %s, want {\"detections\":[]}", data)
	}
}

func TestRun_NormalizesDetectorOutput(t *testing.T) {
	mock := detector.NewMockDetector()
	mock.SetDetections([]detector.Detection{
		{ClassID: 1, Confidence: 1.3, Box: detector.Box{X1: 0.9, Y1: -0.2, X2: 0.1, Y2: 1.4}},
	})
	p := New(mock, testLabels(t), 0)

	resp, err := p.Run(context.Background(), Request{Image: strPtr(dataURL(t, 8, 8))})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	d := resp.Detections[0]
	if d.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", d.Confidence)
	}
	if d.Box != [4]float64{0.1, 0, 0.9, 1} {
		t.Errorf("box = %v, want [0.1 0 0.9 1]", d.Box)
	}
	for _, v := range d.Box {
		if v < 0 || v > 1 {
			t.Errorf("box component %v outside [0,1]", v)
		}
	}
}

func TestRun_NonFiniteDetectorOutput(t *testing.T) {
	tests := []struct {
		name string
		det  detector.Detection
	}{
		{"nan confidence", detector.Detection{ClassID: 0, Confidence: math.NaN(), Box: detector.Box{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2}}},
		{"inf confidence", detector.Detection{ClassID: 0, Confidence: math.Inf(1), Box: detector.Box{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2}}},
		{"nan box", detector.Detection{ClassID: 1, Confidence: 0.5, Box: detector.Box{X1: math.NaN(), Y1: 0.1, X2: 0.2, Y2: 0.2}}},
		{"inf box", detector.Detection{ClassID: 1, Confidence: 0.5, Box: detector.Box{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: math.Inf(-1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := detector.NewMockDetector()
			mock.SetDetections([]detector.Detection{detector.PlasticBottle(), tt.det})
			p := New(mock, testLabels(t), 0)

			resp, err := p.Run(context.Background(), Request{Image: strPtr(dataURL(t, 8, 8))})
			if !errors.Is(err, ErrInference) {
				t.Fatalf("Run() error = %v, want ErrInference", err)
			}
			if Kind(err) != "inference" {
				t.Errorf("Kind() = %q, want inference", Kind(err))
			}

			data, jsonErr := json.Marshal(Suppress(resp, err))
			if jsonErr != nil {
				t.Fatalf("json.Marshal() error = %v", jsonErr)
			}
			if string(data) != `{"detections":[]}` {
				t.Errorf("json = %s, want {\"detections\":[]}", data)
			}
		})
	}
}

func TestRun_Failures(t *testing.T) {
	valid := dataURL(t, 8, 8)

	tests := []struct {
		name    string
		req     Request
		setup   func(*detector.MockDetector)
		wantErr error
		kind    string
	}{
		{
			name:    "missing image",
			req:     Request{},
			wantErr: ErrDecode,
			kind:    "decode",
		},
		{
			name:    "missing comma",
			req:     Request{Image: strPtr("data:image/png;base64")},
			wantErr: ErrDecode,
			kind:    "decode",
		},
		{
			name:    "invalid base64",
			req:     Request{Image: strPtr("data:image/png;base64,@@@@")},
			wantErr: ErrDecode,
			kind:    "decode",
		},
		{
			name:    "corrupt image bytes",
			req:     Request{Image: strPtr("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("garbage")))},
			wantErr: ErrImageDecode,
			kind:    "image_decode",
		},
		{
			name: "detector failure",
			req:  Request{Image: strPtr(valid)},
			setup: func(m *detector.MockDetector) {
				m.SetError(errors.New("model unavailable"))
			},
			wantErr: ErrInference,
			kind:    "inference",
		},
		{
			name: "class index out of range",
			req:  Request{Image: strPtr(valid)},
			setup: func(m *detector.MockDetector) {
				m.SetDetections([]detector.Detection{detector.PlasticBottle(), {ClassID: 9, Confidence: 0.5}})
			},
			wantErr: ErrLabel,
			kind:    "label",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := detector.NewMockDetector()
			if tt.setup != nil {
				tt.setup(mock)
			}
			p := New(mock, testLabels(t), 0)

			resp, err := p.Run(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := Kind(err); got != tt.kind {
				t.Errorf("Kind() = %q, want %q", got, tt.kind)
			}

			suppressed := Suppress(resp, err)
			if suppressed.Detections == nil || len(suppressed.Detections) != 0 {
				t.Errorf("Suppress() = %+v, want empty detections", suppressed)
			}
		})
	}
}

func TestRun_DecodeFailureSkipsDetector(t *testing.T) {
	mock := detector.NewMockDetector()
	p := New(mock, testLabels(t), 0)

	if _, err := p.Run(context.Background(), Request{Image: strPtr("nocomma")}); err == nil {
		t.Fatal("expected an error")
	}
	if mock.Calls() != 0 {
		t.Errorf("detector calls = %d, want 0", mock.Calls())
	}
}

func TestRun_CanceledContext(t *testing.T) {
	mock := detector.NewMockDetector()
	p := New(mock, testLabels(t), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, Request{Image: strPtr(dataURL(t, 8, 8))})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if Kind(err) != "canceled" {
		t.Errorf("Kind() = %q, want canceled", Kind(err))
	}
	if mock.Calls() != 0 {
		t.Errorf("detector calls = %d, want 0", mock.Calls())
	}
}

func TestFrame_Downscales(t *testing.T) {
	p := New(detector.NewMockDetector(), testLabels(t), 32)

	mat, err := p.Frame(Request{Image: strPtr(dataURL(t, 128, 64))})
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	defer mat.Close()

	if mat.Cols() != 32 || mat.Rows() != 16 {
		t.Errorf("frame size = %dx%d, want 32x16", mat.Cols(), mat.Rows())
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantImage bool
	}{
		{"image present", `{"image":"data:x,AAAA"}`, false, true},
		{"image absent", `{}`, false, false},
		{"image null", `{"image":null}`, false, false},
		{"image not a string", `{"image":42}`, true, false},
		{"not json", `image=abc`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Errorf("ParseRequest() error = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRequest() error = %v", err)
			}
			if (req.Image != nil) != tt.wantImage {
				t.Errorf("Image present = %v, want %v", req.Image != nil, tt.wantImage)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"image":"data:x,AAAA"}`))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if req.Image == nil || *req.Image != "data:x,AAAA" {
		t.Errorf("Image = %v", req.Image)
	}

	if _, err := DecodeRequest(strings.NewReader("")); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeRequest(empty) error = %v, want ErrDecode", err)
	}
}

func TestSuppress(t *testing.T) {
	ok := Response{Detections: []Detection{{Label: "aluminum can", Confidence: 0.4}}}
	if got := Suppress(ok, nil); len(got.Detections) != 1 {
		t.Errorf("Suppress(success) dropped detections: %+v", got)
	}

	if got := Suppress(Response{}, nil); got.Detections == nil {
		t.Error("Suppress() should replace nil detections with an empty slice")
	}

	if got := Suppress(ok, errors.New("boom")); len(got.Detections) != 0 {
		t.Errorf("Suppress(failure) = %+v, want empty", got)
	}

	if Kind(nil) != "none" || Kind(errors.New("x")) != "unknown" {
		t.Error("unexpected Kind for nil or unclassified errors")
	}
}
