package batch

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/evidence"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/video"
)

// CoordinatorFactory builds the coordinator for one video. sink is nil when
// evidence is disabled.
type CoordinatorFactory func(cfg pipeline.Config, runID string, sink pipeline.EvidenceSink,
	progress pipeline.ProgressCallback) (*pipeline.Coordinator, error)

// Config holds all configuration for inspecting one or more videos.
type Config struct {
	Pipeline pipeline.Config
	Video    video.Config
	Evidence evidence.Config

	RunID        string // Fixed run id for a single video; empty generates one per video
	SaveEvidence bool
	MaxFrames    int           // Stop each video after this many frames; 0 reads to the end
	StopTimeout  time.Duration // How long Finalize waits for outstanding recognitions

	// Input discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Store receives every finished report when set.
	Store *store.Store

	// Progress settings
	Progress pipeline.ProgressCallback

	// NewCoordinator replaces the model-backed builder. Tests use it to
	// inject stub stages.
	NewCoordinator CoordinatorFactory
}

// Inspection is the outcome of one video.
type Inspection struct {
	Video        string                     `json:"video"`
	RunID        string                     `json:"run_id"`
	InspectionID int64                      `json:"inspection_id,omitempty"`
	Report       *pipeline.InspectionReport `json:"report"`
	EvidenceDir  string                     `json:"evidence_dir,omitempty"`
	Duration     time.Duration              `json:"duration"`
}

// Result holds the outcome of a batch.
type Result struct {
	Inspections []*Inspection
	Videos      []string
	Duration    time.Duration
}

// FormatResults renders every inspection in the given report format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Inspections, format)
}

// SaveResults writes the formatted results to outputFile, or stdout when
// outputFile is empty.
func (r *Result) SaveResults(format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(os.Stdout, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(os.Stdout, output)
	}

	return nil
}

// PrintStats prints processing statistics to w.
func (r *Result) PrintStats(w io.Writer) {
	var frames, wagons, withText, dropped int
	for _, in := range r.Inspections {
		frames += in.Report.FrameCount
		wagons += in.Report.TotalWagons()
		withText += in.Report.Stats.WithText
		dropped += in.Report.Stats.Dropped
	}
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Videos: %d\n", len(r.Inspections))
	_, _ = fmt.Fprintf(w, "  Frames: %d\n", frames)
	_, _ = fmt.Fprintf(w, "  Wagons: %d\n", wagons)
	_, _ = fmt.Fprintf(w, "  Read: %d\n", withText)
	_, _ = fmt.Fprintf(w, "  Dropped dispatches: %d\n", dropped)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if secs := r.Duration.Seconds(); secs > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f frames/sec\n", float64(frames)/secs)
	}
}
