package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultIdleTimeout is how long the Python service may sit unused before it
// is shut down. It is restarted on the next detection.
const DefaultIdleTimeout = 30 * time.Second

// DefaultRestartBackoff is how long a failed start is remembered. Detections
// in that window fail at once instead of spawning another process.
const DefaultRestartBackoff = 10 * time.Second

const yoloWorldScript = "yoloworld_service.py"

// YOLOWorldDetector implements Detector using a Python subprocess that hosts
// an ultralytics YOLO-World model prompted with the label set.
type YOLOWorldDetector struct {
	config      Config
	labels      LabelSet
	modelPath   string
	idleTimeout time.Duration
	backoff     time.Duration
	newCmd      func() (*exec.Cmd, error)

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	lastUsed  time.Time
	idleTimer *time.Timer
	startErr  error
	failedAt  time.Time
}

// NewYOLOWorldDetector creates a new YOLO-World detector.
// The Python process is started lazily on first detection.
func NewYOLOWorldDetector(modelPath string, labels LabelSet, config Config) (*YOLOWorldDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if labels.Len() == 0 {
		return nil, fmt.Errorf("%w: no labels", ErrInvalidLabels)
	}

	scriptPath := findScript(yoloWorldScript)
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", yoloWorldScript)
	}

	d := &YOLOWorldDetector{
		config:      config,
		labels:      labels,
		modelPath:   modelPath,
		idleTimeout: DefaultIdleTimeout,
		backoff:     DefaultRestartBackoff,
	}
	d.newCmd = func() (*exec.Cmd, error) {
		return d.pythonCommand(scriptPath)
	}
	return d, nil
}

// pythonCommand builds the service command line. Classes travel as a JSON
// array so names may contain spaces and commas.
func (d *YOLOWorldDetector) pythonCommand(scriptPath string) (*exec.Cmd, error) {
	classes, err := json.Marshal(d.labels.Names())
	if err != nil {
		return nil, fmt.Errorf("encode classes: %w", err)
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return exec.Command(pythonPath, scriptPath,
		"--model", d.modelPath,
		"--classes", string(classes),
		"--conf", strconv.FormatFloat(d.config.ConfidenceThreshold, 'f', -1, 64),
		"--iou", strconv.FormatFloat(d.config.IoUThreshold, 'f', -1, 64),
	), nil
}

// Detect sends a frame to the service and returns its detections.
func (d *YOLOWorldDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	detections, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		var remote *serviceError
		if !errors.As(err, &remote) {
			// The pipe is in an unknown state; start a fresh process next time.
			d.shutdown()
		}
		return nil, err
	}

	d.lastUsed = time.Now()
	d.resetIdleTimer()

	return detections, nil
}

// serviceError is an error reported by the Python service itself. The
// process stays usable after one.
type serviceError struct {
	msg string
}

func (e *serviceError) Error() string {
	return "yolo-world service: " + e.msg
}

func (d *YOLOWorldDetector) roundTrip(data []byte) ([]Detection, error) {
	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	// Read JSON response
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Detections []jsonDetection `json:"detections"`
		Error      string          `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, &serviceError{msg: response.Error}
	}

	result := make([]Detection, len(response.Detections))
	for i, jd := range response.Detections {
		result[i] = jd.toDetection()
	}
	return result, nil
}

// Start launches the service and waits until the model is loaded. Detect
// does this on demand; calling Start up front surfaces a broken Python
// environment before any frame arrives.
func (d *YOLOWorldDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return err
	}
	d.resetIdleTimer()
	return nil
}

// Close shuts down the Python process.
func (d *YOLOWorldDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *YOLOWorldDetector) ensureStarted() error {
	if d.started {
		return nil
	}
	if d.startErr != nil && time.Since(d.failedAt) < d.backoff {
		return fmt.Errorf("yolo-world service unavailable: %w", d.startErr)
	}

	if err := d.start(); err != nil {
		d.startErr = err
		d.failedAt = time.Now()
		return err
	}
	d.startErr = nil
	return nil
}

// start spawns the process and waits for its ready line.
func (d *YOLOWorldDetector) start() error {
	cmd, err := d.newCmd()
	if err != nil {
		return err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Model loading progress goes to stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yolo-world service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true
	d.lastUsed = time.Now()

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		d.kill()
		return fmt.Errorf("yolo-world service exited during startup: %w", err)
	}

	var hello struct {
		Ready bool   `json:"ready"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &hello); err != nil || !hello.Ready {
		msg := hello.Error
		if msg == "" {
			msg = strings.TrimSpace(line)
		}
		d.kill()
		return fmt.Errorf("yolo-world service failed to start: %s", msg)
	}

	return nil
}

// kill stops a process that never became ready.
func (d *YOLOWorldDetector) kill() {
	d.stdin.Close()
	d.cmd.Process.Kill()
	d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
}

func (d *YOLOWorldDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *YOLOWorldDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.idleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if time.Since(d.lastUsed) >= d.idleTimeout {
			d.shutdown()
		}
	})
}

func findScript(name string) string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join("..", "..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".binsight", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
// It checks for venv/bin/python relative to the project directory.
func findVenvPython() string {
	// Get executable directory to find project root
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".binsight/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonDetection represents the JSON structure from the Python service.
type jsonDetection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

func (j jsonDetection) toDetection() Detection {
	return Detection{
		ClassID:    j.ClassID,
		Confidence: j.Confidence,
		Box:        Box{X1: j.Box[0], Y1: j.Box[1], X2: j.Box[2], Y2: j.Box[3]},
	}
}
