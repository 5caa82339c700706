// Package enhance brightens low-light frames with a Zero-DCE curve
// estimation model. An enhancer without a usable model passes images through
// unchanged.
package enhance

import (
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/rakescan/internal/mempool"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// Config holds enhancer settings.
type Config struct {
	ModelPath  string         // Path to the Zero-DCE ONNX export; empty disables enhancement
	NumThreads int            // Intra-op threads (0 = runtime default)
	GPU        onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns an enhancer config without weights.
func DefaultConfig() Config {
	return Config{GPU: onnx.DefaultGPUConfig()}
}

type model interface {
	Run(input onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// Enhancer applies low-light enhancement. It is safe for concurrent use.
type Enhancer struct {
	config Config
	model  model
	mu     sync.RWMutex
}

// New loads the model described by config. Missing or unusable weights leave
// the enhancer in identity mode.
func New(config Config) *Enhancer {
	e := &Enhancer{config: config}
	if config.ModelPath == "" {
		slog.Warn("No enhancer weights configured, low-light enhancement disabled")
		return e
	}

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		slog.Warn("Enhancer weights unavailable, low-light enhancement disabled",
			"model_path", config.ModelPath, "error", err)
		return e
	}
	e.model = session
	slog.Info("Enhancer loaded", "model_path", config.ModelPath)
	return e
}

// NewWithModel builds an enhancer around an already loaded model.
func NewWithModel(config Config, m model) *Enhancer {
	return &Enhancer{config: config, model: m}
}

// Enabled reports whether a model is loaded.
func (e *Enhancer) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// Enhance returns a brightened copy of img with the same dimensions. If the
// enhancer is disabled or inference fails, img is returned unchanged.
func (e *Enhancer) Enhance(img image.Image) image.Image {
	if utils.IsEmpty(img) {
		return img
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.model == nil {
		return img
	}
	out, err := e.infer(img)
	if err != nil {
		slog.Warn("Enhancement failed, using original image", "error", err)
		return img
	}
	return out
}

func (e *Enhancer) infer(img image.Image) (*image.NRGBA, error) {
	data, w, h, err := utils.NormalizeImage(img)
	if err != nil {
		return nil, err
	}
	defer mempool.PutFloat32(data)
	tensor, err := onnx.NewImageTensor(data, 3, h, w)
	if err != nil {
		return nil, err
	}

	out, err := e.model.Run(tensor)
	if err != nil {
		return nil, err
	}
	if err := onnx.ValidateNCHW(out.Shape); err != nil {
		return nil, fmt.Errorf("unexpected output shape: %w", err)
	}
	if out.Shape[1] != 3 || int(out.Shape[2]) != h || int(out.Shape[3]) != w {
		return nil, fmt.Errorf("output shape %v does not match input %dx%d", out.Shape, w, h)
	}
	return utils.DenormalizeImage(out.Data, w, h)
}

// Info returns enhancer metadata for logging and diagnostics.
func (e *Enhancer) Info() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]interface{}{
		"enabled":    e.model != nil,
		"model_path": e.config.ModelPath,
	}
}

// Close releases the model.
func (e *Enhancer) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}
