package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/binsight/internal/annotate"
	"github.com/ayusman/binsight/internal/capture"
	"github.com/ayusman/binsight/internal/logger"
	"github.com/ayusman/binsight/internal/pipeline"
)

// motionThreshold is the percentage of changed pixels that wakes the stream.
const motionThreshold = 1.0

// StreamHandler serves annotated MJPEG frames from the server camera.
// A single producer (Run) reads the camera and runs detection; every client
// receives the latest annotated frame.
type StreamHandler struct {
	camera    capture.Camera
	pipeline  *pipeline.Pipeline
	annotator *annotate.Annotator
	motion    *capture.MotionGate
	logger    *logger.Logger

	mu         sync.RWMutex
	frame      []byte
	seq        uint64
	detections []pipeline.Detection

	done     chan struct{}
	doneOnce sync.Once
}

// NewStreamHandler creates a new StreamHandler. Nothing is captured until Run.
func NewStreamHandler(camera capture.Camera, p *pipeline.Pipeline, a *annotate.Annotator, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		camera:    camera,
		pipeline:  p,
		annotator: a,
		motion:    capture.NewMotionGate(motionThreshold),
		logger:    log,
		done:      make(chan struct{}),
	}
}

// Run opens the camera and produces frames until ctx is cancelled.
//
// Detection only runs on frames that changed. After capture.IdleTimeout
// without motion the camera drops to capture.IdleFPS, and the last
// detections keep being drawn on the unchanged scene.
func (h *StreamHandler) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })
	defer h.motion.Close()

	if err := h.camera.Open(); err != nil {
		h.logger.Error("open camera: %v", err)
		return
	}
	defer h.camera.Close()

	h.camera.SetFPS(capture.ActiveFPS)
	active := true
	lastMotion := time.Now()

	ticker := time.NewTicker(time.Second / capture.ActiveFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		changed, err := h.step()
		if err != nil {
			h.logger.Warning("stream frame: %v", err)
			continue
		}

		if changed {
			lastMotion = time.Now()
			if !active {
				active = true
				h.camera.SetFPS(capture.ActiveFPS)
				ticker.Reset(time.Second / capture.ActiveFPS)
				h.logger.Info("stream switched to active mode")
			}
		} else if active && time.Since(lastMotion) > capture.IdleTimeout {
			active = false
			h.camera.SetFPS(capture.IdleFPS)
			ticker.Reset(time.Second / capture.IdleFPS)
			h.logger.Info("stream switched to idle mode")
		}
	}
}

// step captures, detects and publishes one frame. It reports whether the
// frame showed motion.
func (h *StreamHandler) step() (bool, error) {
	frame, err := h.camera.ReadFrame()
	if err != nil {
		return false, err
	}
	defer frame.Close()

	changed, _ := h.motion.Changed(frame)

	h.mu.RLock()
	detections := h.detections
	h.mu.RUnlock()

	if changed {
		resp, err := h.pipeline.Infer(frame)
		if err != nil {
			h.logger.Error("stream detect failed (%s): %v", pipeline.Kind(err), err)
			detections = nil
		} else {
			detections = resp.Detections
		}
	}

	if err := h.annotator.Draw(frame, detections); err != nil {
		return changed, err
	}
	data, err := annotate.EncodeJPEG(*frame)
	if err != nil {
		return changed, err
	}

	h.mu.Lock()
	h.frame = data
	h.seq++
	h.detections = detections
	h.mu.Unlock()

	return changed, nil
}

// Latest returns the most recent annotated JPEG and its sequence number.
// The sequence is 0 before the first frame.
func (h *StreamHandler) Latest() ([]byte, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frame, h.seq
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(time.Second / capture.ActiveFPS)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}

		data, seq := h.Latest()
		if seq == sent {
			continue
		}
		sent = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
