// Package batch runs inspections over one or more recorded videos and
// hands the reports to storage and the report formatters.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProcessBatch inspects every video found in paths with the given
// configuration. Inspections finished before a failure are kept in the
// result.
func ProcessBatch(ctx context.Context, paths []string, config *Config) (*Result, error) {
	inputs, err := discoverVideos(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover videos: %w", err)
	}

	if len(inputs) == 0 {
		return nil, errors.New("no videos found")
	}

	startTime := time.Now()
	inspections, err := processVideos(ctx, inputs, config)
	result := &Result{
		Inspections: inspections,
		Videos:      inputs,
		Duration:    time.Since(startTime),
	}
	if err != nil {
		return result, fmt.Errorf("batch processing failed: %w", err)
	}

	return result, nil
}
