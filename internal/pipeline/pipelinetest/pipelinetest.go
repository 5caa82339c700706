// Package pipelinetest builds coordinators from scripted stages so callers
// of the pipeline can be tested without model weights.
package pipelinetest

import (
	"image"

	"github.com/MeKo-Tech/rakescan/internal/perception"
	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/recognition"
	"github.com/MeKo-Tech/rakescan/internal/recognizer"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// FixedTracker reports the same objects on every frame.
type FixedTracker struct {
	Objects []perception.TrackedObject
}

func (f FixedTracker) Track(image.Image) ([]perception.TrackedObject, error) {
	return f.Objects, nil
}

// StaticReader reads the same text from every crop.
type StaticReader struct {
	Text       string
	Confidence float64
}

func (r StaticReader) ReadText(image.Image) ([]recognizer.Fragment, error) {
	if r.Text == "" {
		return nil, nil
	}
	return []recognizer.Fragment{{Text: r.Text, Confidence: r.Confidence}}, nil
}

func (StaticReader) Close() error { return nil }

// Wagon returns a wagon-class object of the given width.
func Wagon(trackID int, width float64) perception.TrackedObject {
	return perception.TrackedObject{
		TrackID:    trackID,
		Box:        utils.NewBox(10, 10, 10+width, 210),
		Class:      0,
		Confidence: 0.9,
	}
}

// Policy dispatches whole wagon boxes on every frame.
func Policy() pipeline.Policy {
	p := pipeline.DefaultPolicy()
	p.Mode = pipeline.ModeWagonBox
	p.SampleEveryNFrames = 1
	return p
}

// Factory returns a coordinator factory whose tracker always sees objs and
// whose reader always reads text. Its signature matches
// batch.CoordinatorFactory.
func Factory(text string, objs ...perception.TrackedObject) func(pipeline.Config, string,
	pipeline.EvidenceSink, pipeline.ProgressCallback) (*pipeline.Coordinator, error) {
	return func(_ pipeline.Config, runID string, sink pipeline.EvidenceSink,
		progress pipeline.ProgressCallback) (*pipeline.Coordinator, error) {
		worker := recognition.NewWorker(recognition.DefaultConfig(), func() (recognizer.TextReader, error) {
			return StaticReader{Text: text, Confidence: 0.9}, nil
		})
		c, err := pipeline.NewCoordinator(Policy(), pipeline.Components{
			Primary:  FixedTracker{Objects: objs},
			Worker:   worker,
			Evidence: sink,
		})
		if err != nil {
			return nil, err
		}
		c.SetRunID(runID)
		c.SetProgressCallback(progress)
		return c, nil
	}
}
