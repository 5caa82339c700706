package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/rakescan/internal/detector"
	"github.com/MeKo-Tech/rakescan/internal/enhance"
	"github.com/MeKo-Tech/rakescan/internal/models"
	"github.com/MeKo-Tech/rakescan/internal/perception"
	"github.com/MeKo-Tech/rakescan/internal/recognition"
	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/restore"
	"github.com/MeKo-Tech/rakescan/internal/tracker"
)

// Config holds configuration for an inspection and its components.
type Config struct {
	ModelsDir        string
	Detector         detector.Config // Primary wagon detector
	Tracker          tracker.Config
	Localizer        detector.Config // Secondary number-region localizer
	Restorer         restore.Config
	Enhancer         enhance.Config  // Low-light enhancer, loaded unless Policy.Enhance is off
	Recognizer       recognizer.Config
	Tesseract        recognizer.TesseractConfig
	Backend          string // Recognition backend: onnx or tesseract
	Worker           recognition.Config
	Policy           Policy
	WarmupIterations int // Optional warmup runs of the primary detector
}

// DefaultConfig returns a default config with model paths resolved against
// the default models directory.
func DefaultConfig() Config {
	cfg := Config{
		ModelsDir:  models.GetModelsDir(""),
		Detector:   detector.DefaultConfig(),
		Tracker:    tracker.DefaultConfig(),
		Localizer:  detector.DefaultConfig(),
		Restorer:   restore.DefaultConfig(),
		Enhancer:   enhance.DefaultConfig(),
		Recognizer: recognizer.DefaultConfig(),
		Tesseract:  recognizer.DefaultTesseractConfig(),
		Backend:    recognizer.BackendONNX,
		Worker:     recognition.DefaultConfig(),
		Policy:     DefaultPolicy(),
	}
	cfg.Localizer.ConfThreshold = cfg.Policy.ConfidenceFloor
	cfg.updateModelPaths(false)
	return cfg
}

// updateModelPaths fills model paths from ModelsDir. With force set, paths
// already configured are replaced too.
func (c *Config) updateModelPaths(force bool) {
	set := func(dst *string, path string) {
		if force || *dst == "" {
			*dst = path
		}
	}
	set(&c.Detector.ModelPath, models.GetDetectorModelPath(c.ModelsDir))
	set(&c.Localizer.ModelPath, models.GetLocalizerModelPath(c.ModelsDir))
	set(&c.Restorer.ModelPath, models.GetRestorerModelPath(c.ModelsDir, string(c.Restorer.Variant)))
	set(&c.Enhancer.ModelPath, models.GetEnhancerModelPath(c.ModelsDir))
	set(&c.Recognizer.ModelPath, models.GetRecognizerModelPath(c.ModelsDir))
	set(&c.Recognizer.DictPath, models.GetCharsetPath(c.ModelsDir))
}

// Builder constructs a Coordinator with fluent configuration.
type Builder struct {
	cfg      Config
	evidence EvidenceSink
	progress ProgressCallback
	runID    string
}

// NewBuilder creates a new builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// NewBuilderFromConfig starts from an existing config.
func NewBuilderFromConfig(cfg Config) *Builder { return &Builder{cfg: cfg} }

// WithModelsDir sets the models directory and re-resolves every model path.
func (b *Builder) WithModelsDir(dir string) *Builder {
	if dir != "" {
		b.cfg.ModelsDir = dir
		b.cfg.updateModelPaths(true)
	}
	return b
}

// WithDetectorModelPath overrides the primary detector weights.
func (b *Builder) WithDetectorModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Detector.ModelPath = path
	}
	return b
}

// WithLocalizerModelPath overrides the number-region localizer weights.
func (b *Builder) WithLocalizerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Localizer.ModelPath = path
	}
	return b
}

// WithRestorerModelPath overrides the restorer weights.
func (b *Builder) WithRestorerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Restorer.ModelPath = path
	}
	return b
}

// WithRestorerVariant sets the restorer width variant. A restorer path that
// was derived from the models directory follows the variant.
func (b *Builder) WithRestorerVariant(v restore.Variant) *Builder {
	if v == "" {
		return b
	}
	derived := models.GetRestorerModelPath(b.cfg.ModelsDir, string(b.cfg.Restorer.Variant))
	if b.cfg.Restorer.ModelPath == derived {
		b.cfg.Restorer.ModelPath = models.GetRestorerModelPath(b.cfg.ModelsDir, string(v))
	}
	b.cfg.Restorer.Variant = v
	return b
}

// WithTTA toggles test-time augmentation in the restorer.
func (b *Builder) WithTTA(enabled bool) *Builder {
	b.cfg.Restorer.TTA = enabled
	return b
}

// WithEnhancerModelPath overrides the low-light enhancer weights.
func (b *Builder) WithEnhancerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Enhancer.ModelPath = path
	}
	return b
}

// WithEnhanceMode sets when low-light enhancement runs.
func (b *Builder) WithEnhanceMode(m EnhanceMode) *Builder {
	if m != "" {
		b.cfg.Policy.Enhance = m
	}
	return b
}

// WithRecognizerModelPath overrides the recognizer weights.
func (b *Builder) WithRecognizerModelPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.ModelPath = path
	}
	return b
}

// WithDictionaryPath overrides the recognizer charset.
func (b *Builder) WithDictionaryPath(path string) *Builder {
	if path != "" {
		b.cfg.Recognizer.DictPath = path
	}
	return b
}

// WithBackend selects the recognition backend.
func (b *Builder) WithBackend(backend string) *Builder {
	if backend != "" {
		b.cfg.Backend = backend
	}
	return b
}

// WithPolicy replaces the dispatch policy. The localizer threshold follows
// the policy's confidence floor.
func (b *Builder) WithPolicy(p Policy) *Builder {
	b.cfg.Policy = p
	b.cfg.Localizer.ConfThreshold = p.ConfidenceFloor
	return b
}

// WithMode sets the dispatch mode.
func (b *Builder) WithMode(m Mode) *Builder {
	if m != "" {
		b.cfg.Policy.Mode = m
	}
	return b
}

// WithQueueSize sets the recognition request queue capacity.
func (b *Builder) WithQueueSize(n int) *Builder {
	if n > 0 {
		b.cfg.Worker.QueueSize = n
	}
	return b
}

// WithThreads sets the intra-op thread count of every model.
func (b *Builder) WithThreads(n int) *Builder {
	if n >= 0 {
		b.cfg.Detector.NumThreads = n
		b.cfg.Localizer.NumThreads = n
		b.cfg.Restorer.NumThreads = n
		b.cfg.Enhancer.NumThreads = n
		b.cfg.Recognizer.NumThreads = n
	}
	return b
}

// WithGPU toggles GPU acceleration for every model.
func (b *Builder) WithGPU(enabled bool) *Builder {
	b.cfg.Detector.GPU.UseGPU = enabled
	b.cfg.Localizer.GPU.UseGPU = enabled
	b.cfg.Restorer.GPU.UseGPU = enabled
	b.cfg.Enhancer.GPU.UseGPU = enabled
	b.cfg.Recognizer.GPU.UseGPU = enabled
	return b
}

// WithWarmupIterations sets how many warmup runs the primary detector gets.
func (b *Builder) WithWarmupIterations(n int) *Builder {
	if n >= 0 {
		b.cfg.WarmupIterations = n
	}
	return b
}

// WithEvidence sets where evidence images are saved.
func (b *Builder) WithEvidence(sink EvidenceSink) *Builder {
	b.evidence = sink
	return b
}

// WithRunID fixes the run identifier instead of generating one, so evidence
// directories and stored reports can share it.
func (b *Builder) WithRunID(id string) *Builder {
	b.runID = id
	return b
}

// WithProgressCallback sets the progress reporter.
func (b *Builder) WithProgressCallback(cb ProgressCallback) *Builder {
	b.progress = cb
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks the parts of the config that make a run impossible. Only
// the primary detector weights are mandatory.
func (b *Builder) Validate() error {
	if err := b.cfg.Policy.Validate(); err != nil {
		return err
	}
	if err := b.cfg.Tracker.Validate(); err != nil {
		return err
	}
	if b.cfg.Detector.ModelPath == "" {
		return errors.New("detector model path is empty")
	}
	if _, err := os.Stat(b.cfg.Detector.ModelPath); err != nil {
		return fmt.Errorf("detector model not found: %s", b.cfg.Detector.ModelPath)
	}
	if !b.cfg.Restorer.Variant.Valid() {
		return fmt.Errorf("%w: %q", restore.ErrInvalidVariant, b.cfg.Restorer.Variant)
	}
	switch b.cfg.Backend {
	case recognizer.BackendONNX, recognizer.BackendTesseract:
	default:
		return fmt.Errorf("unknown recognizer backend %q", b.cfg.Backend)
	}
	return nil
}

// Build loads the models and returns a ready coordinator. A primary detector
// that cannot be loaded is an error; every other model degrades with a
// warning.
func (b *Builder) Build() (*Coordinator, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	primary, err := perception.LoadPrimary(b.cfg.Detector, b.cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("init primary stage: %w", err)
	}
	if b.cfg.WarmupIterations > 0 {
		if w, ok := primaryWarmer(primary); ok {
			if err := w.Warmup(b.cfg.WarmupIterations); err != nil {
				slog.Warn("Detector warmup failed", "error", err)
			}
		}
	}

	var secondary *perception.Secondary
	if b.cfg.Policy.Mode == ModeNumberRegion {
		secondary = perception.LoadSecondary(b.cfg.Localizer, b.cfg.Policy.ConfidenceFloor)
	}
	restorer := restore.New(b.cfg.Restorer)

	if b.cfg.Backend == recognizer.BackendONNX {
		if err := models.ValidateModelExists(b.cfg.Recognizer.ModelPath); err != nil {
			slog.Warn("Recognizer weights missing, wagons will not be read", "path", b.cfg.Recognizer.ModelPath)
		}
	}
	recCfg, tessCfg, backend := b.cfg.Recognizer, b.cfg.Tesseract, b.cfg.Backend
	worker := recognition.NewWorker(b.cfg.Worker, func() (recognizer.TextReader, error) {
		return recognizer.Open(backend, recCfg, tessCfg)
	})

	closers := []io.Closer{primary, restorer}
	if secondary != nil {
		closers = append(closers, secondary)
	}
	parts := Components{
		Primary:  primary,
		Restorer: restorer,
		Worker:   worker,
		Evidence: b.evidence,
	}
	if secondary != nil {
		parts.Secondary = secondary
	}
	if b.cfg.Policy.Enhance != "" && b.cfg.Policy.Enhance != EnhanceOff {
		enhancer := enhance.New(b.cfg.Enhancer)
		parts.Enhancer = enhancer
		closers = append(closers, enhancer)
	}
	parts.Closers = closers

	c, err := NewCoordinator(b.cfg.Policy, parts)
	if err != nil {
		for _, cl := range closers {
			_ = cl.Close()
		}
		return nil, err
	}
	c.SetProgressCallback(b.progress)
	c.SetRunID(b.runID)
	return c, nil
}

type warmer interface {
	Warmup(iterations int) error
}

func primaryWarmer(p *perception.Primary) (warmer, bool) {
	w, ok := p.Detector().(warmer)
	return w, ok
}
