// Package server provides the HTTP server for the binsight detection service.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/binsight/internal/annotate"
	"github.com/ayusman/binsight/internal/capture"
	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/logger"
	"github.com/ayusman/binsight/internal/pipeline"
	"github.com/ayusman/binsight/internal/server/api"
	"github.com/ayusman/binsight/internal/store"
	"github.com/ayusman/binsight/web"
)

// maxRequestBytes bounds a detection request body.
const maxRequestBytes = 20 << 20

// shutdownTimeout is how long Serve waits for in-flight requests on exit.
const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir   string
	Pipeline    *pipeline.Pipeline
	Detector    detector.Config
	BackendName string
	Store       *store.Store
	Camera      capture.Camera
	Annotator   *annotate.Annotator
	Logger      *logger.Logger
}

// Server represents the HTTP server for the binsight application.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	stream  *StreamHandler
	logger  *logger.Logger
	start   time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}
	if config.Annotator == nil && config.Pipeline != nil {
		config.Annotator = annotate.New(config.Pipeline.Labels())
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		logger: config.Logger,
		start:  time.Now(),
	}
	s.setupRoutes()
	s.handler = corsMiddleware(s.mux)
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Pipeline != nil {
		labels := s.config.Pipeline.Labels()

		s.mux.HandleFunc("/detect", s.handleDetect)
		s.mux.HandleFunc("/detect/preview", s.handlePreview)
		s.mux.Handle("/api/detect/ws", NewDetectSocketHandler(s.config.Pipeline, s.logger))
		s.mux.Handle("/api/labels", api.NewLabelsHandler(labels, s.config.Detector))

		if s.config.Store != nil {
			sessions := api.NewSessionHandler(s.config.Store, labels)
			s.mux.Handle("/api/sessions", sessions)
			s.mux.Handle("/api/sessions/", sessions)
		}

		// The camera stream is only available when a device is attached.
		if s.config.Camera != nil {
			s.stream = NewStreamHandler(s.config.Camera, s.config.Pipeline, s.config.Annotator, s.logger)
			s.mux.Handle("/api/stream", s.stream)
		}
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	} else {
		s.mux.HandleFunc("/", s.handleIndex)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Stream returns the camera stream handler, or nil without a camera.
func (s *Server) Stream() *StreamHandler {
	return s.stream
}

// corsMiddleware allows any origin and answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes data as a JSON response with the given status code.
// The body is encoded before the header goes out, so a value that cannot be
// encoded becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":   "ok",
		"uptime":   time.Since(s.start).Round(time.Second).String(),
		"detector": s.config.BackendName,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleIndex serves the embedded page at / and 404 elsewhere.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.ServeContent(w, r, "index.html", s.start, bytes.NewReader(web.Index))
}

// handleDetect handles POST /detect. Every failure is logged and answered
// with an empty detection list and status 200 so the client's frame loop
// keeps running.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, err := s.detect(w, r)
	if err != nil {
		s.logger.Error("detect failed (%s): %v", pipeline.Kind(err), err)
	}

	writeJSON(w, http.StatusOK, pipeline.Suppress(resp, err))
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) (pipeline.Response, error) {
	req, err := pipeline.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		return pipeline.Response{}, err
	}
	return s.config.Pipeline.Run(r.Context(), req)
}

// handlePreview handles POST /detect/preview and returns the decoded frame
// as JPEG with the detections drawn on it. Unlike /detect it reports errors.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := pipeline.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mat, err := s.config.Pipeline.Frame(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer mat.Close()

	resp, err := s.config.Pipeline.Infer(&mat)
	if err != nil {
		s.logger.Error("preview failed (%s): %v", pipeline.Kind(err), err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.config.Annotator.Draw(&mat, resp.Detections); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data, err := annotate.EncodeJPEG(mat)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// The camera stream, if any, runs for the same lifetime.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.stream != nil {
		go s.stream.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
