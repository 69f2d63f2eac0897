package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mediscan-tech/mediscan/internal/preprocess"
	ort "github.com/yalue/onnxruntime_go"
)

// UnavailableError indicates the detection model could not be loaded or
// invoked. It is fatal for the pipeline run that hits it.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("detection unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Detector locates label-bearing regions in a canonical image.
// Implementations must be safe for concurrent use after construction.
type Detector interface {
	// Detect returns candidate regions ordered by confidence, descending.
	// The result is never empty: when no candidate clears the configured
	// threshold, a single whole-image fallback region is returned.
	Detect(ctx context.Context, img *preprocess.Canonical) ([]Region, error)
	Close() error
}

// Config holds configuration for the ONNX box detector.
type Config struct {
	ModelPath     string  // Path to the ONNX detection model
	InputSize     int     // Square letterbox input edge (e.g. 640)
	ConfThreshold float64 // Minimum confidence to accept a candidate box
	IoUThreshold  float64 // NMS suppression threshold
	NumThreads    int     // Intra-op CPU threads (0 = runtime default)
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:     640,
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		NumThreads:    0,
	}
}

// ModelDetector performs box detection using ONNX Runtime.
type ModelDetector struct {
	config     Config
	session    *ort.DynamicAdvancedSession
	inputInfo  ort.InputOutputInfo
	outputInfo ort.InputOutputInfo
	mu         sync.RWMutex
}

// NewModelDetector creates a detector backed by the configured ONNX model.
// Any failure here surfaces as *UnavailableError so callers can report a
// model-infrastructure problem rather than a bad input.
func NewModelDetector(config Config) (*ModelDetector, error) {
	if config.ModelPath == "" {
		return nil, &UnavailableError{Err: errors.New("model path cannot be empty")}
	}
	if _, err := os.Stat(config.ModelPath); os.IsNotExist(err) {
		return nil, &UnavailableError{Err: fmt.Errorf("model file not found: %s", config.ModelPath)}
	}
	if config.InputSize <= 0 {
		return nil, &UnavailableError{Err: fmt.Errorf("invalid input size %d", config.InputSize)}
	}

	slog.Debug("Initializing box detector",
		"model_path", config.ModelPath,
		"input_size", config.InputSize,
		"conf_threshold", config.ConfThreshold)

	if err := setupEnvironment(); err != nil {
		return nil, &UnavailableError{Err: err}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(config.ModelPath)
	if err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("failed to read model info: %w", err)}
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, &UnavailableError{
			Err: fmt.Errorf("expected single-input single-output model, got %d/%d", len(inputs), len(outputs)),
		}
	}

	session, err := createSession(config, inputs[0].Name, outputs[0].Name)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	d := &ModelDetector{
		config:     config,
		session:    session,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
	}
	slog.Debug("Box detector initialized")
	return d, nil
}

// GetConfig returns a copy of the detector's configuration.
func (d *ModelDetector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Detect runs inference and decodes candidate regions. If no candidate
// clears the confidence threshold the whole image is returned as a single
// fallback region with confidence 0.
func (d *ModelDetector) Detect(ctx context.Context, img *preprocess.Canonical) ([]Region, error) {
	if img == nil || img.Color == nil {
		return nil, errors.New("input image is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	session := d.session
	d.mu.RUnlock()
	if session == nil {
		return nil, &UnavailableError{Err: errors.New("detector session is closed")}
	}

	lb := letterbox(img.Color, d.config.InputSize)
	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(d.config.InputSize), int64(d.config.InputSize)), lb.data)
	if err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("failed to create input tensor: %w", err)}
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("Failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []ort.Value{nil}
	if err := session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, &UnavailableError{Err: fmt.Errorf("inference failed: %w", err)}
	}
	defer func() {
		if err := outputs[0].Destroy(); err != nil {
			slog.Warn("Failed to destroy output tensor", "error", err)
		}
	}()

	floatTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, &UnavailableError{Err: fmt.Errorf("expected float32 output tensor, got %T", outputs[0])}
	}

	regions := decodeDetections(floatTensor.GetData(), lb, img.Width, img.Height, d.config.ConfThreshold)
	regions = suppressOverlaps(regions, d.config.IoUThreshold)
	sortByConfidence(regions)

	if len(regions) == 0 {
		slog.Debug("No region above threshold, using whole-image fallback",
			"conf_threshold", d.config.ConfThreshold)
		return []Region{WholeImage(img.Width, img.Height)}, nil
	}
	slog.Debug("Box detection completed", "regions_found", len(regions))
	return regions, nil
}

// Close releases the ONNX session.
func (d *ModelDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			slog.Warn("Failed to destroy detector session", "error", err)
		}
		d.session = nil
	}
	return nil
}

func setupEnvironment() error {
	if ort.IsInitialized() {
		return nil
	}
	if lib := os.Getenv("MEDISCAN_ONNX_LIB"); lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

func createSession(config Config, inputName, outputName string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()

	if config.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath,
		[]string{inputName}, []string{outputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return session, nil
}
