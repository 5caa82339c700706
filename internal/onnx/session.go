package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// SessionConfig describes how to open a single-input, single-output model.
type SessionConfig struct {
	ModelPath  string
	NumThreads int
	GPU        GPUConfig
}

// Session wraps a DynamicAdvancedSession for models with one image input and
// one float32 output, which covers every model the pipeline loads.
type Session struct {
	path       string
	session    *onnxruntime_go.DynamicAdvancedSession
	inputInfo  onnxruntime_go.InputOutputInfo
	outputInfo onnxruntime_go.InputOutputInfo
	mu         sync.RWMutex
}

// NewSession validates the model file, initializes the runtime and creates a
// session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}
	if err := ValidateGPUConfig(cfg.GPU); err != nil {
		return nil, err
	}
	if err := InitializeEnvironment(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	if len(outputs) < 1 {
		return nil, errors.New("model declares no outputs")
	}
	if len(inputs[0].Dimensions) != 4 {
		return nil, fmt.Errorf("expected 4D input tensor, got %dD", len(inputs[0].Dimensions))
	}

	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if err := ConfigureSessionForGPU(sessionOptions, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := sessionOptions.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	slog.Debug("ONNX session created",
		"model_path", cfg.ModelPath,
		"input", inputs[0].Name,
		"input_shape", inputs[0].Dimensions,
		"output", outputs[0].Name,
		"gpu_enabled", cfg.GPU.UseGPU)

	return &Session{
		path:       cfg.ModelPath,
		session:    session,
		inputInfo:  inputs[0],
		outputInfo: outputs[0],
	}, nil
}

// CustomMetadata looks up key in the custom metadata map of the model at
// path. The boolean is false when the model does not carry the key.
func CustomMetadata(path, key string) (string, bool, error) {
	meta, err := onnxruntime_go.GetModelMetadata(path)
	if err != nil {
		return "", false, fmt.Errorf("failed to read model metadata: %w", err)
	}
	defer func() {
		if err := meta.Destroy(); err != nil {
			slog.Warn("failed to destroy model metadata", "error", err)
		}
	}()
	return meta.LookupCustomMetadataMap(key)
}

// Path returns the model file the session was created from.
func (s *Session) Path() string { return s.path }

// InputShape returns the declared input shape; dynamic dimensions are -1.
func (s *Session) InputShape() []int64 {
	shape := make([]int64, len(s.inputInfo.Dimensions))
	copy(shape, s.inputInfo.Dimensions)
	return shape
}

// OutputShape returns the declared output shape; dynamic dimensions are -1.
func (s *Session) OutputShape() []int64 {
	shape := make([]int64, len(s.outputInfo.Dimensions))
	copy(shape, s.outputInfo.Dimensions)
	return shape
}

// Run executes the model on one input tensor and returns a copy of the
// output, so no runtime memory outlives the call.
func (s *Session) Run(input Tensor) (Tensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return Tensor{}, errors.New("session is closed")
	}

	inputTensor, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := s.session.Run([]onnxruntime_go.Value{inputTensor}, outputs); err != nil {
		return Tensor{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	floatTensor, ok := outputs[0].(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("expected float32 output tensor, got %T", outputs[0])
	}

	data := floatTensor.GetData()
	out := Tensor{
		Data:  make([]float32, len(data)),
		Shape: append([]int64(nil), floatTensor.GetShape()...),
	}
	copy(out.Data, data)
	return out, nil
}

// Close releases the session. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}
