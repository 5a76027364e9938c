package api

import (
	"net/http"

	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/game"
)

// LabelsHandler reports the categories the detector is prompted with, the
// thresholds it runs at and the game difficulties.
type LabelsHandler struct {
	response labelsResponse
}

type difficultyResponse struct {
	Name       string `json:"name"`
	MaxSeconds int    `json:"max_seconds"`
}

type labelsResponse struct {
	Labels              []string             `json:"labels"`
	ConfidenceThreshold float64              `json:"confidence_threshold"`
	IoUThreshold        float64              `json:"iou_threshold"`
	Difficulties        []difficultyResponse `json:"difficulties"`
}

// NewLabelsHandler creates a new LabelsHandler.
func NewLabelsHandler(labels detector.LabelSet, config detector.Config) *LabelsHandler {
	resp := labelsResponse{
		Labels:              labels.Names(),
		ConfidenceThreshold: config.ConfidenceThreshold,
		IoUThreshold:        config.IoUThreshold,
	}
	for _, d := range game.Difficulties() {
		resp.Difficulties = append(resp.Difficulties, difficultyResponse{
			Name:       string(d),
			MaxSeconds: d.MaxSeconds(),
		})
	}
	return &LabelsHandler{response: resp}
}

// ServeHTTP handles GET /api/labels.
func (h *LabelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.response)
}
