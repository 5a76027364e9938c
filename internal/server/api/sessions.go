package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/game"
	"github.com/ayusman/binsight/internal/store"
)

// maxListLimit caps the leaderboard page size.
const maxListLimit = 100

// SessionHandler handles HTTP requests for trash hunt sessions.
type SessionHandler struct {
	store  *store.Store
	labels detector.LabelSet
	now    func() time.Time
}

// NewSessionHandler creates a new SessionHandler. Targets must be labels
// from the given set.
func NewSessionHandler(s *store.Store, labels detector.LabelSet) *SessionHandler {
	return &SessionHandler{
		store:  s,
		labels: labels,
		now:    time.Now,
	}
}

// ServeHTTP routes /api/sessions, /api/sessions/{id} and
// /api/sessions/{id}/finish. DELETE on a session abandons it.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id, action, _ := strings.Cut(path, "/")
	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, id)
		case http.MethodDelete:
			h.remove(w, r, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "finish":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.finish(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// Request and response types

type createSessionRequest struct {
	Target     string `json:"target"`
	Difficulty string `json:"difficulty"`
}

type catchPayload struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

type finishSessionRequest struct {
	TimedOut bool          `json:"timed_out"`
	Catch    *catchPayload `json:"catch,omitempty"`
}

type sessionResponse struct {
	ID             string        `json:"id"`
	Target         string        `json:"target"`
	Difficulty     string        `json:"difficulty"`
	MaxSeconds     int           `json:"max_seconds"`
	StartedAt      string        `json:"started_at"`
	FinishedAt     *string       `json:"finished_at"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	TimedOut       bool          `json:"timed_out"`
	Grade          string        `json:"grade"`
	Message        string        `json:"message,omitempty"`
	Catch          *catchPayload `json:"catch,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

// toSessionResponse converts a store.Session to a sessionResponse.
func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		Target:         s.Target,
		Difficulty:     string(s.Difficulty),
		MaxSeconds:     s.MaxSeconds,
		StartedAt:      s.StartedAt.Format(time.RFC3339),
		ElapsedSeconds: s.ElapsedSeconds,
		TimedOut:       s.TimedOut,
		Grade:          string(s.Grade),
	}
	if s.Finished() {
		finished := s.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
		resp.Message = game.Message(s.Grade, s.ElapsedSeconds, s.MaxSeconds)
	}
	if s.Catch != nil {
		resp.Catch = &catchPayload{
			Label:      s.Catch.Label,
			Confidence: s.Catch.Confidence,
			Box:        s.Catch.Box,
		}
	}
	return resp
}

// list handles GET /api/sessions and returns the leaderboard.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.SessionFilter{
		Target: query.Get("target"),
	}

	if d := query.Get("difficulty"); d != "" {
		difficulty, err := game.ParseDifficulty(d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid difficulty")
			return
		}
		filter.Difficulty = difficulty
	}

	if l := query.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	sessions, err := h.store.Sessions().List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/sessions/{id} and returns a single session.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	session, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// create handles POST /api/sessions and starts a new round.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if !h.labels.Contains(req.Target) {
		writeError(w, http.StatusBadRequest, "Unknown target")
		return
	}

	difficulty, err := game.ParseDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid difficulty")
		return
	}

	session := &store.Session{
		ID:         uuid.New().String(),
		Target:     req.Target,
		Difficulty: difficulty,
		StartedAt:  h.now().UTC(),
	}

	if err := h.store.Sessions().Create(session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// finish handles POST /api/sessions/{id}/finish and grades the round using
// the server clock.
func (h *SessionHandler) finish(w http.ResponseWriter, r *http.Request, id string) {
	var req finishSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var catch *store.Catch
	if req.Catch != nil {
		if !h.labels.Contains(req.Catch.Label) {
			writeError(w, http.StatusBadRequest, "Unknown catch label")
			return
		}
		if req.Catch.Confidence < 0 || req.Catch.Confidence > 1 {
			writeError(w, http.StatusBadRequest, "Catch confidence outside [0,1]")
			return
		}
		b := req.Catch.Box
		box := detector.Box{X1: b[0], Y1: b[1], X2: b[2], Y2: b[3]}
		if !box.Normalized() || box.Width() <= 0 || box.Height() <= 0 {
			writeError(w, http.StatusBadRequest, "Catch box must be ordered, inside [0,1] and non-empty")
			return
		}
		catch = &store.Catch{
			Label:      req.Catch.Label,
			Confidence: req.Catch.Confidence,
			Box:        req.Catch.Box,
		}
	}

	session, err := h.store.Sessions().Finish(id, h.now(), req.TimedOut, catch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, store.ErrAlreadyFinished):
			writeError(w, http.StatusConflict, "Session already finished")
		case errors.Is(err, store.ErrCatchMismatch):
			writeError(w, http.StatusBadRequest, "Catch does not match session target")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to finish session")
		}
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// remove handles DELETE /api/sessions/{id}.
func (h *SessionHandler) remove(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
