package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "rakescan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RAKESCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings apply.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load loads configuration from files, environment variables, and defaults,
// then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables maps keys like policy.queue_size to
// RAKESCAN_POLICY_QUEUE_SIZE.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	l.v.SetDefault("models_dir", defaults.ModelsDir)
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	l.v.SetDefault("models.detector", defaults.Models.Detector)
	l.v.SetDefault("models.localizer", defaults.Models.Localizer)
	l.v.SetDefault("models.restorer", defaults.Models.Restorer)
	l.v.SetDefault("models.enhancer", defaults.Models.Enhancer)
	l.v.SetDefault("models.variant", defaults.Models.Variant)
	l.v.SetDefault("models.recognizer", defaults.Models.Recognizer)
	l.v.SetDefault("models.dictionary", defaults.Models.Dictionary)
	l.v.SetDefault("models.backend", defaults.Models.Backend)
	l.v.SetDefault("models.tesseract_language", defaults.Models.TesseractLanguage)
	l.v.SetDefault("models.num_threads", defaults.Models.NumThreads)
	l.v.SetDefault("models.warmup_iterations", defaults.Models.WarmupIterations)

	l.v.SetDefault("policy.mode", defaults.Policy.Mode)
	l.v.SetDefault("policy.min_box_size", defaults.Policy.MinBoxSize)
	l.v.SetDefault("policy.sample_every_n_frames", defaults.Policy.SampleEveryNFrames)
	l.v.SetDefault("policy.confidence_floor", defaults.Policy.ConfidenceFloor)
	l.v.SetDefault("policy.recognition_confidence_floor", defaults.Policy.RecognitionConfidenceFloor)
	l.v.SetDefault("policy.blur_threshold", defaults.Policy.BlurThreshold)
	l.v.SetDefault("policy.night_luma", defaults.Policy.NightLuma)
	l.v.SetDefault("policy.enhance", defaults.Policy.Enhance)
	l.v.SetDefault("policy.queue_size", defaults.Policy.QueueSize)
	l.v.SetDefault("policy.wagon_class", defaults.Policy.WagonClass)
	l.v.SetDefault("policy.number_class", defaults.Policy.NumberClass)
	l.v.SetDefault("policy.tta", defaults.Policy.TTA)

	l.v.SetDefault("tracker.high_threshold", defaults.Tracker.HighThreshold)
	l.v.SetDefault("tracker.low_threshold", defaults.Tracker.LowThreshold)
	l.v.SetDefault("tracker.new_track_threshold", defaults.Tracker.NewTrackThreshold)
	l.v.SetDefault("tracker.match_iou", defaults.Tracker.MatchIoU)
	l.v.SetDefault("tracker.min_hits", defaults.Tracker.MinHits)
	l.v.SetDefault("tracker.max_age", defaults.Tracker.MaxAge)

	l.v.SetDefault("video.backend", defaults.Video.Backend)
	l.v.SetDefault("video.ffmpeg_path", defaults.Video.FFmpegPath)
	l.v.SetDefault("video.ffprobe_path", defaults.Video.FFprobePath)
	l.v.SetDefault("video.max_frames", defaults.Video.MaxFrames)

	l.v.SetDefault("output.dir", defaults.Output.Dir)
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.file", defaults.Output.File)
	l.v.SetDefault("output.save_evidence", defaults.Output.SaveEvidence)
	l.v.SetDefault("output.evidence_format", defaults.Output.EvidenceFormat)
	l.v.SetDefault("output.jpeg_quality", defaults.Output.JPEGQuality)

	l.v.SetDefault("store.enabled", defaults.Store.Enabled)
	l.v.SetDefault("store.path", defaults.Store.Path)

	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.max_inspections", defaults.Server.MaxInspections)

	l.v.SetDefault("gpu.enabled", defaults.GPU.Enabled)
	l.v.SetDefault("gpu.device", defaults.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", defaults.GPU.MemoryLimit)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]interface{} {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes every default to filename
// (default rakescan.yaml).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
		paths = append(paths, filepath.Join(home, ".config", "rakescan"))
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, "rakescan"))
	}

	paths = append(paths, "/etc/rakescan")

	return paths
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
