// Package config loads binsight's process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultClasses is the trash category list the detector is prompted with.
var DefaultClasses = []string{
	"plastic bottle",
	"aluminum can",
	"crushed can",
	"crumpled paper",
}

// Detector backend names accepted by DETECTOR_BACKEND.
const (
	BackendYOLOWorld = "yoloworld"
	BackendONNX      = "onnx"
	BackendMock      = "mock"
)

// Config holds the process configuration. It is read once at startup.
type Config struct {
	Host                string
	Port                int
	Backend             string
	ModelPath           string
	ONNXModelPath       string
	Classes             []string
	ConfidenceThreshold float64
	IoUThreshold        float64
	InputSize           int
	MaxFrameSide        int // Frames larger than this are downscaled before inference (0 = never)
	StaticDir           string
	DataDir             string
	LogDir              string
	CameraID            int // -1 disables the server-side camera stream
}

// Load reads an optional .env file and then the environment.
// Unset or unparsable values fall back to defaults.
func Load() *Config {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	return &Config{
		Host:                getEnv("HOST", "0.0.0.0"),
		Port:                getEnvAsInt("PORT", 5000),
		Backend:             strings.ToLower(getEnv("DETECTOR_BACKEND", BackendYOLOWorld)),
		ModelPath:           getEnv("MODEL_PATH", "yolov8s-world.pt"),
		ONNXModelPath:       getEnv("ONNX_MODEL_PATH", filepath.Join("models", "yolov8s-world.onnx")),
		Classes:             getEnvAsList("CLASSES", DefaultClasses),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.15),
		IoUThreshold:        getEnvAsFloat("IOU_THRESHOLD", 0.5),
		InputSize:           getEnvAsInt("INPUT_SIZE", 640),
		MaxFrameSide:        getEnvAsInt("MAX_FRAME_SIDE", 1280),
		StaticDir:           getEnv("STATIC_DIR", ""),
		DataDir:             getEnv("DATA_DIR", defaultDataDir()),
		LogDir:              getEnv("LOG_DIR", ""),
		CameraID:            getEnvAsInt("CAMERA_ID", -1),
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DBPath returns the path of the SQLite database inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "binsight.db")
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".binsight"
	}
	return filepath.Join(homeDir, ".binsight")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return items
}
