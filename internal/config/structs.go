//nolint:lll
package config

// Config represents the complete configuration for rakescan. It covers every
// command (inspect, serve, history, report) and is loaded from configuration
// files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Model weights and recognition backend
	Models ModelsConfig `mapstructure:"models" yaml:"models" json:"models"`

	// Dispatch policy of the coordinator
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy" json:"policy"`

	// Multi-object tracker
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker" json:"tracker"`

	// Frame source
	Video VideoConfig `mapstructure:"video" yaml:"video" json:"video"`

	// Report and evidence output
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Inspection history database
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// GPU configuration
	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// ModelsConfig contains the weight files of every stage.
type ModelsConfig struct {
	Detector          string `mapstructure:"detector" yaml:"detector" json:"detector"`
	Localizer         string `mapstructure:"localizer" yaml:"localizer" json:"localizer"`
	Restorer          string `mapstructure:"restorer" yaml:"restorer" json:"restorer"`
	Variant           string `mapstructure:"variant" yaml:"variant" json:"variant"`
	Enhancer          string `mapstructure:"enhancer" yaml:"enhancer" json:"enhancer"`
	Recognizer        string `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Dictionary        string `mapstructure:"dictionary" yaml:"dictionary" json:"dictionary"`
	Backend           string `mapstructure:"backend" yaml:"backend" json:"backend"`
	TesseractLanguage string `mapstructure:"tesseract_language" yaml:"tesseract_language" json:"tesseract_language"`
	NumThreads        int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	WarmupIterations  int    `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// PolicyConfig contains the dispatch rules.
type PolicyConfig struct {
	Mode                       string  `mapstructure:"mode" yaml:"mode" json:"mode"`
	MinBoxSize                 float64 `mapstructure:"min_box_size" yaml:"min_box_size" json:"min_box_size"`
	SampleEveryNFrames         int     `mapstructure:"sample_every_n_frames" yaml:"sample_every_n_frames" json:"sample_every_n_frames"`
	ConfidenceFloor            float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	RecognitionConfidenceFloor float64 `mapstructure:"recognition_confidence_floor" yaml:"recognition_confidence_floor" json:"recognition_confidence_floor"`
	BlurThreshold              float64 `mapstructure:"blur_threshold" yaml:"blur_threshold" json:"blur_threshold"`
	NightLuma                  float64 `mapstructure:"night_luma" yaml:"night_luma" json:"night_luma"`
	Enhance                    string  `mapstructure:"enhance" yaml:"enhance" json:"enhance"`
	QueueSize                  int     `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	WagonClass                 int     `mapstructure:"wagon_class" yaml:"wagon_class" json:"wagon_class"`
	NumberClass                int     `mapstructure:"number_class" yaml:"number_class" json:"number_class"`
	TTA                        bool    `mapstructure:"tta" yaml:"tta" json:"tta"`
}

// TrackerConfig contains tracker thresholds.
type TrackerConfig struct {
	HighThreshold     float64 `mapstructure:"high_threshold" yaml:"high_threshold" json:"high_threshold"`
	LowThreshold      float64 `mapstructure:"low_threshold" yaml:"low_threshold" json:"low_threshold"`
	NewTrackThreshold float64 `mapstructure:"new_track_threshold" yaml:"new_track_threshold" json:"new_track_threshold"`
	MatchIoU          float64 `mapstructure:"match_iou" yaml:"match_iou" json:"match_iou"`
	MinHits           int     `mapstructure:"min_hits" yaml:"min_hits" json:"min_hits"`
	MaxAge            int     `mapstructure:"max_age" yaml:"max_age" json:"max_age"`
}

// VideoConfig contains frame source settings.
type VideoConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend" json:"backend"`
	FFmpegPath  string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path" yaml:"ffprobe_path" json:"ffprobe_path"`
	MaxFrames   int    `mapstructure:"max_frames" yaml:"max_frames" json:"max_frames"`
}

// OutputConfig contains report and evidence settings.
type OutputConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Format         string `mapstructure:"format" yaml:"format" json:"format"`
	File           string `mapstructure:"file" yaml:"file" json:"file"`
	SaveEvidence   bool   `mapstructure:"save_evidence" yaml:"save_evidence" json:"save_evidence"`
	EvidenceFormat string `mapstructure:"evidence_format" yaml:"evidence_format" json:"evidence_format"`
	JPEGQuality    int    `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

// StoreConfig contains the history database settings.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxInspections  int    `mapstructure:"max_inspections" yaml:"max_inspections" json:"max_inspections"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
