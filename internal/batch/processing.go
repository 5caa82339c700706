package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/evidence"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/video"
	"github.com/google/uuid"
)

// DefaultStopTimeout bounds the wait for outstanding recognitions.
const DefaultStopTimeout = 30 * time.Second

// InspectVideo runs one inspection over path. A video that cannot be opened
// or a pipeline that cannot be built is an error with no inspection. Once
// frames flow the report is always returned, together with any read or
// cancellation error that cut the run short.
func InspectVideo(ctx context.Context, path string, cfg *Config) (*Inspection, error) {
	src, err := video.Open(path, cfg.Video)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("Error closing video source", "video", path, "error", err)
		}
	}()

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	var sink pipeline.EvidenceSink
	var ev *evidence.Store
	var evidenceDir string
	if cfg.SaveEvidence {
		ev, err = evidence.New(cfg.Evidence, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare evidence directory: %w", err)
		}
		sink, evidenceDir = ev, ev.Dir()
	}

	coord, err := cfg.factory()(cfg.Pipeline, runID, sink, cfg.Progress)
	if err != nil {
		if ev != nil {
			if derr := ev.Discard(); derr != nil {
				slog.Warn("Failed to remove evidence directory", "dir", evidenceDir, "error", derr)
			}
		}
		return nil, fmt.Errorf("failed to build inspection pipeline: %w", err)
	}
	coord.SetVideoName(filepath.Base(path))
	coord.SetMaxFrames(cfg.MaxFrames)

	start := time.Now()
	runErr := coord.Run(ctx, src)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("Inspection stopped early", "video", path, "error", runErr)
	}

	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	rep, err := coord.Finalize(stopCtx)
	if err != nil {
		slog.Warn("Some wagons are still pending", "video", path, "error", err)
	}

	in := &Inspection{
		Video:       path,
		RunID:       coord.RunID(),
		Report:      rep,
		EvidenceDir: evidenceDir,
		Duration:    time.Since(start),
	}

	if cfg.Store != nil && rep != nil {
		id, err := cfg.Store.SaveReport(context.WithoutCancel(ctx), rep)
		if err != nil {
			return in, fmt.Errorf("failed to store inspection: %w", err)
		}
		in.InspectionID = id
		slog.Info("Inspection stored", "inspection_id", id, "db", cfg.Store.Path())
	}

	return in, runErr
}

// processVideos inspects each input in order and stops at the first failure.
func processVideos(ctx context.Context, inputs []string, cfg *Config) ([]*Inspection, error) {
	inspections := make([]*Inspection, 0, len(inputs))

	for _, path := range inputs {
		in, err := InspectVideo(ctx, path, cfg)
		if in != nil {
			inspections = append(inspections, in)
		}
		if err != nil {
			return inspections, err
		}
	}

	return inspections, nil
}
