package batch

import (
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
)

// buildCoordinator is the default CoordinatorFactory: it loads the models
// named in cfg.
func buildCoordinator(cfg pipeline.Config, runID string, sink pipeline.EvidenceSink,
	progress pipeline.ProgressCallback) (*pipeline.Coordinator, error) {
	b := pipeline.NewBuilderFromConfig(cfg).
		WithRunID(runID).
		WithProgressCallback(progress)
	if sink != nil {
		b = b.WithEvidence(sink)
	}
	return b.Build()
}

// factory returns the configured factory or the model-backed default.
func (c *Config) factory() CoordinatorFactory {
	if c.NewCoordinator != nil {
		return c.NewCoordinator
	}
	return buildCoordinator
}
