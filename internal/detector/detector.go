// Package detector runs YOLO-style object detectors exported to ONNX. The same
// code serves the primary wagon detector and the secondary number-region
// localizer; only the weights and thresholds differ.
package detector

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/mempool"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// Detection is one object found in an image, in source image coordinates.
type Detection struct {
	Box        utils.Box `json:"box"`
	Class      int       `json:"class"`
	Confidence float64   `json:"confidence"`
}

// Config holds detector settings.
type Config struct {
	ModelPath     string         // Path to ONNX detection model
	InputSize     int            // Square input size when the model declares a dynamic one (default: 640)
	ConfThreshold float64        // Minimum class score kept before NMS (default: 0.25)
	NMSThreshold  float64        // IoU threshold for NMS (default: 0.45)
	NMSMethod     string         // "hard" (default), "linear", or "gaussian" for Soft-NMS
	SoftNMSSigma  float64        // Sigma for Gaussian Soft-NMS
	Classes       []int          // Keep only these class ids; empty keeps all
	NumThreads    int            // Number of CPU threads (default: 0 for auto)
	GPU           onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default detector configuration.
func DefaultConfig() Config {
	return Config{
		InputSize:     640,
		ConfThreshold: 0.25,
		NMSThreshold:  0.45,
		NMSMethod:     NMSMethodHard,
		SoftNMSSigma:  0.5,
		GPU:           onnx.DefaultGPUConfig(),
	}
}

func validateConfig(c Config) error {
	if c.ModelPath == "" {
		return errors.New("model path cannot be empty")
	}
	if c.InputSize < 0 {
		return fmt.Errorf("input size must be non-negative, got %d", c.InputSize)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", c.ConfThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("NMS threshold must be in [0,1], got %f", c.NMSThreshold)
	}
	switch c.NMSMethod {
	case "", NMSMethodHard, NMSMethodLinear, NMSMethodGaussian:
	default:
		return fmt.Errorf("unknown NMS method %q", c.NMSMethod)
	}
	return nil
}

type model interface {
	Run(input onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// Detector performs object detection. It is safe for concurrent use.
type Detector struct {
	config    Config
	model     model
	inputSize int
	mu        sync.RWMutex
}

// NewDetector loads the model and returns a ready detector.
func NewDetector(config Config) (*Detector, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	slog.Debug("Initializing detector",
		"model_path", config.ModelPath,
		"gpu_enabled", config.GPU.UseGPU,
		"conf_threshold", config.ConfThreshold,
		"nms_method", config.NMSMethod)

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, fmt.Errorf("load detector %s: %w", config.ModelPath, err)
	}

	in := session.InputShape()
	size := onnx.FixedDim(in, 3, onnx.FixedDim(in, 2, config.InputSize))
	if size <= 0 {
		size = DefaultConfig().InputSize
	}

	slog.Debug("Detector initialized", "input_size", size, "output_shape", session.OutputShape())
	return &Detector{config: config, model: session, inputSize: size}, nil
}

// NewWithModel wraps an already loaded model. Used by tests to script
// raw model output.
func NewWithModel(config Config, m model) *Detector {
	size := config.InputSize
	if size <= 0 {
		size = DefaultConfig().InputSize
	}
	return &Detector{config: config, model: m, inputSize: size}
}

// Detect finds objects in img. An image without objects yields an empty
// slice and no error.
func (d *Detector) Detect(img image.Image) ([]Detection, error) {
	if utils.IsEmpty(img) {
		return nil, errors.New("detector: empty image")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.model == nil {
		return nil, errors.New("detector: closed")
	}

	start := time.Now()
	canvas, lb, err := utils.LetterboxImage(img, d.inputSize)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	data, w, h, err := utils.NormalizeImage(canvas)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	defer mempool.PutFloat32(data)
	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}

	out, err := d.model.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("detector inference: %w", err)
	}

	raw, err := DecodeYOLO(out, d.config.ConfThreshold)
	if err != nil {
		return nil, err
	}
	raw = filterClasses(raw, d.config.Classes)
	kept := d.suppress(raw)

	bounds := img.Bounds()
	frame := utils.NewBox(float64(bounds.Min.X), float64(bounds.Min.Y), float64(bounds.Max.X), float64(bounds.Max.Y))
	dets := make([]Detection, 0, len(kept))
	for _, det := range kept {
		det.Box = clip(lb.Unmap(det.Box).Offset(float64(bounds.Min.X), float64(bounds.Min.Y)), frame)
		if det.Box.Empty() {
			continue
		}
		dets = append(dets, det)
	}

	slog.Debug("Detection complete",
		"candidates", len(raw),
		"detections", len(dets),
		"duration_ms", time.Since(start).Milliseconds())
	return dets, nil
}

func (d *Detector) suppress(dets []Detection) []Detection {
	switch d.config.NMSMethod {
	case NMSMethodLinear, NMSMethodGaussian:
		return SoftNonMaxSuppression(dets, d.config.NMSMethod,
			d.config.NMSThreshold, d.config.SoftNMSSigma, d.config.ConfThreshold)
	default:
		return NonMaxSuppression(dets, d.config.NMSThreshold)
	}
}

func filterClasses(dets []Detection, classes []int) []Detection {
	if len(classes) == 0 {
		return dets
	}
	out := dets[:0]
	for _, det := range dets {
		for _, c := range classes {
			if det.Class == c {
				out = append(out, det)
				break
			}
		}
	}
	return out
}

func clip(b, frame utils.Box) utils.Box {
	return utils.Box{
		MinX: max(b.MinX, frame.MinX), MinY: max(b.MinY, frame.MinY),
		MaxX: min(b.MaxX, frame.MaxX), MaxY: min(b.MaxY, frame.MaxY),
	}
}

// InputSize returns the square model input size.
func (d *Detector) InputSize() int { return d.inputSize }

// GetConfig returns a copy of the detector's configuration.
func (d *Detector) GetConfig() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Warmup runs a number of forward passes on a blank frame to reduce
// first-frame latency.
func (d *Detector) Warmup(iterations int) error {
	if iterations <= 0 {
		return nil
	}
	blank := image.NewNRGBA(image.Rect(0, 0, d.inputSize, d.inputSize))
	for i := range iterations {
		if _, err := d.Detect(blank); err != nil {
			return fmt.Errorf("warmup iteration %d: %w", i, err)
		}
	}
	return nil
}

// Close releases resources used by the detector.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model == nil {
		return nil
	}
	err := d.model.Close()
	d.model = nil
	return err
}
