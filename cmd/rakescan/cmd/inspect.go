package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/config"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/spf13/cobra"
)

// inspectCmd runs the inspection pipeline over recorded videos.
var inspectCmd = &cobra.Command{
	Use:   "inspect [videos...]",
	Short: "Count wagons and read their numbers in recorded train videos",
	Long: `Inspect one or more recorded train videos. Every wagon that crosses the
frame is counted once and its 11-digit number is read in the background.
A directory argument is searched for videos; a directory holding only
images is replayed as a frame sequence.

The inventory is printed to stdout (or --output) and stored in the
inspection history unless --no-store is given.

Supported formats: MP4, AVI, MKV, MOV, WEBM and image sequences

Examples:
  rakescan inspect train.mp4
  rakescan inspect train.mp4 --mode wagon_box --variant width32
  rakescan inspect night_run.mp4 --enhance night
  rakescan inspect recordings/ --recursive --format json --output inventory.json
  rakescan inspect train.mp4 --max-frames 600 --no-store --no-evidence`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runInspectCommand,
}

// applyInspectFlags copies explicitly set flags over the loaded config.
func applyInspectFlags(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"detector-model":   &cfg.Models.Detector,
		"localizer-model":  &cfg.Models.Localizer,
		"restorer-model":   &cfg.Models.Restorer,
		"enhancer-model":   &cfg.Models.Enhancer,
		"recognizer-model": &cfg.Models.Recognizer,
		"dictionary":       &cfg.Models.Dictionary,
		"variant":          &cfg.Models.Variant,
		"backend":          &cfg.Models.Backend,
		"mode":             &cfg.Policy.Mode,
		"enhance":          &cfg.Policy.Enhance,
		"video-backend":    &cfg.Video.Backend,
		"format":           &cfg.Output.Format,
		"output":           &cfg.Output.File,
		"evidence-dir":     &cfg.Output.Dir,
		"db":               &cfg.Store.Path,
	}
	for name, dst := range stringFlags {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	if flags.Changed("tta") {
		cfg.Policy.TTA, _ = flags.GetBool("tta")
	}
	if flags.Changed("sample-every") {
		cfg.Policy.SampleEveryNFrames, _ = flags.GetInt("sample-every")
	}
	if flags.Changed("queue-size") {
		cfg.Policy.QueueSize, _ = flags.GetInt("queue-size")
	}
	if flags.Changed("max-frames") {
		cfg.Video.MaxFrames, _ = flags.GetInt("max-frames")
	}
	if flags.Changed("gpu") {
		cfg.GPU.Enabled, _ = flags.GetBool("gpu")
	}
	if noEvidence, _ := flags.GetBool("no-evidence"); noEvidence {
		cfg.Output.SaveEvidence = false
	}
	if noStore, _ := flags.GetBool("no-store"); noStore {
		cfg.Store.Enabled = false
	}
}

// configToBatchConfig maps centralized configuration to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	batchConfig := &batch.Config{
		Pipeline:     cfg.ToPipelineConfig(),
		Video:        cfg.ToVideoConfig(),
		Evidence:     cfg.ToEvidenceConfig(),
		SaveEvidence: cfg.Output.SaveEvidence,
		MaxFrames:    cfg.Video.MaxFrames,
	}

	batchConfig.Recursive, _ = cmd.Flags().GetBool("recursive")
	batchConfig.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	batchConfig.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	batchConfig.StopTimeout, _ = cmd.Flags().GetDuration("stop-timeout")

	return batchConfig
}

func runInspectCommand(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if _, err := os.Stat(arg); err != nil {
			return fmt.Errorf("video not found: %s", arg)
		}
	}

	cfg := GetConfig()
	applyInspectFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	batchConfig := configToBatchConfig(cfg, cmd)

	if cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open inspection store: %w", err)
		}
		defer func() { _ = st.Close() }()
		batchConfig.Store = st
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !quiet {
		batchConfig.Progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Inspecting")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := batch.ProcessBatch(ctx, args, batchConfig)
	if result == nil {
		return err
	}

	if saveErr := result.SaveResults(cfg.Output.Format, cfg.Output.File, quiet); saveErr != nil {
		return saveErr
	}

	if showStats, _ := cmd.Flags().GetBool("stats"); showStats {
		result.PrintStats(statsWriter(cmd, cfg.Output.File))
	}

	return err
}

// statsWriter keeps statistics off stdout when the report itself is there.
func statsWriter(cmd *cobra.Command, outputFile string) io.Writer {
	if outputFile == "" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	// Model weights
	inspectCmd.Flags().String("detector-model", "", "override wagon detector model path")
	inspectCmd.Flags().String("localizer-model", "", "override number localizer model path")
	inspectCmd.Flags().String("restorer-model", "", "override NAFNet restorer model path")
	inspectCmd.Flags().String("enhancer-model", "", "override Zero-DCE enhancer model path")
	inspectCmd.Flags().String("recognizer-model", "", "override number recognizer model path")
	inspectCmd.Flags().String("dictionary", "", "override recognizer character dictionary path")
	inspectCmd.Flags().String("variant", "width32", "NAFNet variant: width32 or width64")
	inspectCmd.Flags().String("backend", "onnx", "recognizer backend: onnx or tesseract")
	inspectCmd.Flags().Bool("tta", true, "average the restorer over a horizontal flip")
	inspectCmd.Flags().Bool("gpu", false, "run ONNX sessions on the GPU")

	// Dispatch policy
	inspectCmd.Flags().String("mode", "number_region", "dispatch mode: number_region or wagon_box")
	inspectCmd.Flags().String("enhance", "off", "low-light enhancement: off, night or always")
	inspectCmd.Flags().Int("sample-every", 3, "run the quality gate every N frames")
	inspectCmd.Flags().Int("queue-size", 10, "recognition queue capacity")

	// Input
	inspectCmd.Flags().String("video-backend", "ffmpeg", "frame source: ffmpeg or gocv")
	inspectCmd.Flags().Int("max-frames", 0, "stop after this many frames (0 reads to the end)")
	inspectCmd.Flags().Duration("stop-timeout", batch.DefaultStopTimeout, "how long to wait for pending recognitions")
	inspectCmd.Flags().BoolP("recursive", "r", false, "search directories recursively")
	inspectCmd.Flags().StringSlice("include", nil, "include only files matching these patterns")
	inspectCmd.Flags().StringSlice("exclude", nil, "skip files matching these patterns")

	// Output
	inspectCmd.Flags().StringP("format", "f", "text", "output format: text, json, csv or yaml")
	inspectCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	inspectCmd.Flags().String("evidence-dir", "output", "directory for evidence crops")
	inspectCmd.Flags().Bool("no-evidence", false, "do not save evidence crops")
	inspectCmd.Flags().Bool("no-store", false, "do not record the inspection in the history database")
	inspectCmd.Flags().String("db", "inspections.db", "inspection history database")
	inspectCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
	inspectCmd.Flags().Bool("stats", false, "print processing statistics")
}
