// Package app wires the binsight detection service together: detector
// backend, pipeline, session store, optional camera and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ayusman/binsight/internal/annotate"
	"github.com/ayusman/binsight/internal/capture"
	"github.com/ayusman/binsight/internal/config"
	"github.com/ayusman/binsight/internal/detector"
	"github.com/ayusman/binsight/internal/logger"
	"github.com/ayusman/binsight/internal/pipeline"
	"github.com/ayusman/binsight/internal/server"
	"github.com/ayusman/binsight/internal/store"
)

// App owns the long-lived resources of the service.
type App struct {
	config   *config.Config
	logger   *logger.Logger
	detector detector.Detector
	backend  string
	store    *store.Store
	server   *server.Server
}

// New builds the application from cfg. A detector backend that fails to
// start is replaced by the mock detector so the service still comes up.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Discard()
	}

	labels, err := detector.NewLabelSet(cfg.Classes)
	if err != nil {
		return nil, fmt.Errorf("invalid classes: %w", err)
	}

	detCfg := detector.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IoUThreshold:        cfg.IoUThreshold,
		InputSize:           cfg.InputSize,
	}
	if err := detCfg.Validate(); err != nil {
		return nil, err
	}

	det, backend := newDetector(cfg, labels, detCfg, log)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		det.Close()
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath())
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	log.Info("session store at %s", st.Path())

	var camera capture.Camera
	if cfg.CameraID >= 0 {
		camera = capture.NewCamera(cfg.CameraID, capture.DefaultOptions())
		log.Info("camera stream enabled on device %d", cfg.CameraID)
	}

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findStaticDir()
	}
	if staticDir != "" {
		log.Info("serving static files from %s", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir:   staticDir,
		Pipeline:    pipeline.New(det, labels, cfg.MaxFrameSide),
		Detector:    detCfg,
		BackendName: backend,
		Store:       st,
		Camera:      camera,
		Annotator:   annotate.New(labels),
		Logger:      log,
	})

	return &App{
		config:   cfg,
		logger:   log,
		detector: det,
		backend:  backend,
		store:    st,
		server:   srv,
	}, nil
}

// newDetector starts the configured backend, falling back to the mock.
func newDetector(cfg *config.Config, labels detector.LabelSet, detCfg detector.Config, log *logger.Logger) (detector.Detector, string) {
	var (
		det detector.Detector
		err error
	)

	switch cfg.Backend {
	case config.BackendYOLOWorld:
		var yw *detector.YOLOWorldDetector
		yw, err = detector.NewYOLOWorldDetector(cfg.ModelPath, labels, detCfg)
		if err == nil {
			// Load the model now so a broken Python setup falls back here.
			if err = yw.Start(); err != nil {
				yw.Close()
			} else {
				det = yw
			}
		}
	case config.BackendONNX:
		det, err = detector.NewONNXDetector(cfg.ONNXModelPath, labels, detCfg)
	case config.BackendMock:
		log.Warning("using mock detector, no objects will be found")
		return detector.NewMockDetector(), config.BackendMock
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if err != nil {
		log.Warning("%s detector not available (%v), using mock detector", cfg.Backend, err)
		return detector.NewMockDetector(), config.BackendMock
	}

	log.Info("using %s detector with %d classes", cfg.Backend, labels.Len())
	return det, cfg.Backend
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler {
	return a.server
}

// Backend returns the name of the detector backend actually in use.
func (a *App) Backend() string {
	return a.backend
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// releases the detector and the store.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	a.logger.Info("listening on %s", a.config.Addr())
	return a.server.Serve(ctx, a.config.Addr())
}

// Close releases the detector and the store.
func (a *App) Close() error {
	if err := a.detector.Close(); err != nil {
		a.logger.Warning("error closing detector: %v", err)
	}
	return a.store.Close()
}

// findStaticDir looks for a directory holding an index.html override.
// It checks "static", "../static" and ~/.binsight/web, and returns "" when
// none exists so the embedded page is served.
func findStaticDir() string {
	candidates := []string{"static", filepath.Join("..", "static")}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".binsight", "web"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(filepath.Join(dir, "index.html")); err == nil && !info.IsDir() {
			if abs, err := filepath.Abs(dir); err == nil {
				return abs
			}
			return dir
		}
	}
	return ""
}
