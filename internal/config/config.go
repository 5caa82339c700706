package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/rakescan/internal/enhance"
	"github.com/MeKo-Tech/rakescan/internal/evidence"
	"github.com/MeKo-Tech/rakescan/internal/models"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/recognition"
	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/report"
	"github.com/MeKo-Tech/rakescan/internal/restore"
	"github.com/MeKo-Tech/rakescan/internal/tracker"
	"github.com/MeKo-Tech/rakescan/internal/video"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	policy := pipeline.DefaultPolicy()
	worker := recognition.DefaultConfig()
	restorer := restore.DefaultConfig()
	trk := tracker.DefaultConfig()
	vid := video.DefaultConfig()
	ev := evidence.DefaultConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		Verbose:   false,
		Models: ModelsConfig{
			Variant:           string(restorer.Variant),
			Backend:           recognizer.BackendONNX,
			TesseractLanguage: recognizer.DefaultTesseractConfig().Language,
		},
		Policy: PolicyConfig{
			Mode:                       string(policy.Mode),
			MinBoxSize:                 policy.MinBoxSize,
			SampleEveryNFrames:         policy.SampleEveryNFrames,
			ConfidenceFloor:            policy.ConfidenceFloor,
			RecognitionConfidenceFloor: worker.ConfidenceFloor,
			BlurThreshold:              policy.BlurThreshold,
			NightLuma:                  policy.NightLuma,
			Enhance:                    string(policy.Enhance),
			QueueSize:                  worker.QueueSize,
			WagonClass:                 policy.WagonClass,
			NumberClass:                policy.NumberClass,
			TTA:                        restorer.TTA,
		},
		Tracker: TrackerConfig{
			HighThreshold:     trk.HighThreshold,
			LowThreshold:      trk.LowThreshold,
			NewTrackThreshold: trk.NewTrackThreshold,
			MatchIoU:          trk.MatchIoU,
			MinHits:           trk.MinHits,
			MaxAge:            trk.MaxAge,
		},
		Video: VideoConfig{
			Backend:     vid.Backend,
			FFmpegPath:  vid.FFmpegPath,
			FFprobePath: vid.FFprobePath,
		},
		Output: OutputConfig{
			Dir:            ev.Dir,
			Format:         report.FormatText,
			SaveEvidence:   true,
			EvidenceFormat: ev.Format,
			JPEGQuality:    ev.JPEGQuality,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "inspections.db",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			MaxInspections:  1,
		},
		GPU: GPUConfig{
			Enabled:     false,
			Device:      0,
			MemoryLimit: "auto",
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Output.Format != "" && !contains(report.Formats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(report.Formats, ", "))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d (must be between 1 and 100)", c.Output.JPEGQuality)
	}

	if _, err := restore.ParseVariant(c.Models.Variant); err != nil {
		return err
	}
	validBackends := []string{recognizer.BackendONNX, recognizer.BackendTesseract}
	if !contains(validBackends, c.Models.Backend) {
		return fmt.Errorf("invalid recognizer backend: %s (must be one of: %s)", c.Models.Backend, strings.Join(validBackends, ", "))
	}
	validVideo := []string{video.BackendFFmpeg, video.BackendGocv}
	if !contains(validVideo, c.Video.Backend) {
		return fmt.Errorf("invalid video backend: %s (must be one of: %s)", c.Video.Backend, strings.Join(validVideo, ", "))
	}
	if c.Video.MaxFrames < 0 {
		return fmt.Errorf("invalid max frames: %d (must not be negative)", c.Video.MaxFrames)
	}

	// Thresholds must be between 0.0 and 1.0
	thresholds := []struct {
		name  string
		value float64
	}{
		{"policy.confidence_floor", c.Policy.ConfidenceFloor},
		{"policy.recognition_confidence_floor", c.Policy.RecognitionConfidenceFloor},
		{"tracker.high_threshold", c.Tracker.HighThreshold},
		{"tracker.low_threshold", c.Tracker.LowThreshold},
		{"tracker.new_track_threshold", c.Tracker.NewTrackThreshold},
		{"tracker.match_iou", c.Tracker.MatchIoU},
	}
	for _, th := range thresholds {
		if err := validateThreshold(th.value, th.name); err != nil {
			return err
		}
	}

	if c.Policy.QueueSize <= 0 {
		return fmt.Errorf("invalid queue size: %d (must be positive)", c.Policy.QueueSize)
	}
	if err := c.ToPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	if err := c.ToTrackerConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tracker: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.MaxInspections <= 0 {
		return fmt.Errorf("invalid max inspections: %d (must be positive)", c.Server.MaxInspections)
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store is enabled but store.path is empty")
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if err := validateMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}

	return nil
}

// ToPipelineConfig converts the config to the coordinator builder's
// configuration. Model paths left empty resolve against ModelsDir.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ModelsDir = models.GetModelsDir(c.ModelsDir)
	cfg.Policy = c.ToPolicy()
	cfg.Tracker = c.ToTrackerConfig()
	cfg.Worker = c.ToWorkerConfig()
	cfg.Backend = c.Models.Backend
	cfg.WarmupIterations = c.Models.WarmupIterations
	cfg.Tesseract.Language = c.Models.TesseractLanguage

	gpu := c.toGPUConfig()
	cfg.Detector.ModelPath = c.Models.Detector
	cfg.Detector.NumThreads = c.Models.NumThreads
	cfg.Detector.GPU = gpu

	cfg.Localizer.ModelPath = c.Models.Localizer
	cfg.Localizer.NumThreads = c.Models.NumThreads
	cfg.Localizer.ConfThreshold = c.Policy.ConfidenceFloor
	cfg.Localizer.GPU = gpu

	cfg.Restorer = c.ToRestoreConfig()
	cfg.Enhancer = c.ToEnhanceConfig()

	cfg.Recognizer.ModelPath = c.Models.Recognizer
	cfg.Recognizer.DictPath = c.Models.Dictionary
	cfg.Recognizer.NumThreads = c.Models.NumThreads
	cfg.Recognizer.GPU = gpu

	fillModelPaths(&cfg)
	return cfg
}

// fillModelPaths resolves empty weight paths against the models directory.
func fillModelPaths(cfg *pipeline.Config) {
	if cfg.Detector.ModelPath == "" {
		cfg.Detector.ModelPath = models.GetDetectorModelPath(cfg.ModelsDir)
	}
	if cfg.Localizer.ModelPath == "" {
		cfg.Localizer.ModelPath = models.GetLocalizerModelPath(cfg.ModelsDir)
	}
	if cfg.Restorer.ModelPath == "" {
		cfg.Restorer.ModelPath = models.GetRestorerModelPath(cfg.ModelsDir, string(cfg.Restorer.Variant))
	}
	if cfg.Enhancer.ModelPath == "" {
		cfg.Enhancer.ModelPath = models.GetEnhancerModelPath(cfg.ModelsDir)
	}
	if cfg.Recognizer.ModelPath == "" {
		cfg.Recognizer.ModelPath = models.GetRecognizerModelPath(cfg.ModelsDir)
	}
	if cfg.Recognizer.DictPath == "" {
		cfg.Recognizer.DictPath = models.GetCharsetPath(cfg.ModelsDir)
	}
}

// ToPolicy converts to pipeline.Policy.
func (c *Config) ToPolicy() pipeline.Policy {
	p := pipeline.DefaultPolicy()
	p.Mode = pipeline.Mode(c.Policy.Mode)
	if c.Policy.Mode == "" {
		p.Mode = pipeline.ModeNumberRegion
	}
	p.MinBoxSize = c.Policy.MinBoxSize
	p.SampleEveryNFrames = c.Policy.SampleEveryNFrames
	p.ConfidenceFloor = c.Policy.ConfidenceFloor
	p.WagonClass = c.Policy.WagonClass
	p.NumberClass = c.Policy.NumberClass
	p.BlurThreshold = c.Policy.BlurThreshold
	p.NightLuma = c.Policy.NightLuma
	p.Enhance = pipeline.EnhanceMode(c.Policy.Enhance)
	if c.Policy.Enhance == "" {
		p.Enhance = pipeline.EnhanceOff
	}
	return p
}

// ToWorkerConfig converts to recognition.Config.
func (c *Config) ToWorkerConfig() recognition.Config {
	cfg := recognition.DefaultConfig()
	cfg.QueueSize = c.Policy.QueueSize
	cfg.ConfidenceFloor = c.Policy.RecognitionConfidenceFloor
	return cfg
}

// ToTrackerConfig converts to tracker.Config.
func (c *Config) ToTrackerConfig() tracker.Config {
	return tracker.Config{
		HighThreshold:     c.Tracker.HighThreshold,
		LowThreshold:      c.Tracker.LowThreshold,
		NewTrackThreshold: c.Tracker.NewTrackThreshold,
		MatchIoU:          c.Tracker.MatchIoU,
		MinHits:           c.Tracker.MinHits,
		MaxAge:            c.Tracker.MaxAge,
	}
}

// ToRestoreConfig converts to restore.Config.
func (c *Config) ToRestoreConfig() restore.Config {
	cfg := restore.DefaultConfig()
	cfg.Variant = restore.Variant(c.Models.Variant)
	cfg.ModelPath = c.Models.Restorer
	cfg.TTA = c.Policy.TTA
	cfg.NumThreads = c.Models.NumThreads
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// ToEnhanceConfig converts to enhance.Config.
func (c *Config) ToEnhanceConfig() enhance.Config {
	cfg := enhance.DefaultConfig()
	cfg.ModelPath = c.Models.Enhancer
	cfg.NumThreads = c.Models.NumThreads
	cfg.GPU = c.toGPUConfig()
	return cfg
}

// ToVideoConfig converts to video.Config.
func (c *Config) ToVideoConfig() video.Config {
	return video.Config{
		Backend:     c.Video.Backend,
		FFmpegPath:  c.Video.FFmpegPath,
		FFprobePath: c.Video.FFprobePath,
	}
}

// ToEvidenceConfig converts to evidence.Config.
func (c *Config) ToEvidenceConfig() evidence.Config {
	return evidence.Config{
		Dir:         c.Output.Dir,
		Format:      c.Output.EvidenceFormat,
		JPEGQuality: c.Output.JPEGQuality,
	}
}

// toGPUConfig converts to onnx.GPUConfig.
func (c *Config) toGPUConfig() onnx.GPUConfig {
	cfg := onnx.DefaultGPUConfig()
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	if limit, err := parseMemoryLimit(c.GPU.MemoryLimit); err == nil {
		cfg.GPUMemLimit = limit
	}
	return cfg
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

var memoryUnits = []struct {
	suffix string
	scale  float64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

// parseMemoryLimit converts "512MB" style limits to bytes. "auto" and "" are 0.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	for _, u := range memoryUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSuffix(upper, u.suffix), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}
