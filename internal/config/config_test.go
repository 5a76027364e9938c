package config

import (
	"reflect"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"HOST", "PORT", "DETECTOR_BACKEND", "CLASSES",
		"CONFIDENCE_THRESHOLD", "IOU_THRESHOLD", "CAMERA_ID", "MAX_FRAME_SIDE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Addr() != "0.0.0.0:5000" {
		t.Errorf("Addr() = %q, want 0.0.0.0:5000", cfg.Addr())
	}
	if cfg.Backend != BackendYOLOWorld {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendYOLOWorld)
	}
	if cfg.ConfidenceThreshold != 0.15 {
		t.Errorf("ConfidenceThreshold = %v, want 0.15", cfg.ConfidenceThreshold)
	}
	if cfg.IoUThreshold != 0.5 {
		t.Errorf("IoUThreshold = %v, want 0.5", cfg.IoUThreshold)
	}
	if !reflect.DeepEqual(cfg.Classes, DefaultClasses) {
		t.Errorf("Classes = %v, want %v", cfg.Classes, DefaultClasses)
	}
	if cfg.CameraID != -1 {
		t.Errorf("CameraID = %d, want -1", cfg.CameraID)
	}
	if cfg.MaxFrameSide != 1280 {
		t.Errorf("MaxFrameSide = %d, want 1280", cfg.MaxFrameSide)
	}
}

func TestLoad_DefaultClassesAreCopied(t *testing.T) {
	t.Setenv("CLASSES", "")

	cfg := Load()
	cfg.Classes[0] = "changed"

	if DefaultClasses[0] != "plastic bottle" {
		t.Fatalf("modifying Config.Classes changed DefaultClasses: %v", DefaultClasses)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "8081")
	t.Setenv("DETECTOR_BACKEND", "ONNX")
	t.Setenv("CLASSES", " glass jar , ,cardboard box")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.3")
	t.Setenv("IOU_THRESHOLD", "0.6")
	t.Setenv("CAMERA_ID", "0")
	t.Setenv("DATA_DIR", "/tmp/binsight")

	cfg := Load()

	if cfg.Addr() != "127.0.0.1:8081" {
		t.Errorf("Addr() = %q, want 127.0.0.1:8081", cfg.Addr())
	}
	if cfg.Backend != BackendONNX {
		t.Errorf("Backend = %q, want %q", cfg.Backend, BackendONNX)
	}
	want := []string{"glass jar", "cardboard box"}
	if !reflect.DeepEqual(cfg.Classes, want) {
		t.Errorf("Classes = %v, want %v", cfg.Classes, want)
	}
	if cfg.ConfidenceThreshold != 0.3 || cfg.IoUThreshold != 0.6 {
		t.Errorf("thresholds = %v/%v, want 0.3/0.6", cfg.ConfidenceThreshold, cfg.IoUThreshold)
	}
	if cfg.CameraID != 0 {
		t.Errorf("CameraID = %d, want 0", cfg.CameraID)
	}
	if cfg.DBPath() != "/tmp/binsight/binsight.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")

	cfg := Load()

	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.ConfidenceThreshold != 0.15 {
		t.Errorf("ConfidenceThreshold = %v, want 0.15", cfg.ConfidenceThreshold)
	}
}

func TestGetEnvAsList(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"", []string{"a"}},
		{" , ", []string{"a"}},
		{"x", []string{"x"}},
		{"x, y ,z", []string{"x", "y", "z"}},
	}

	for _, tt := range tests {
		t.Setenv("BINSIGHT_TEST_LIST", tt.value)
		got := getEnvAsList("BINSIGHT_TEST_LIST", []string{"a"})
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("getEnvAsList(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
