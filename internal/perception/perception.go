// Package perception wraps the two detection stages of the pipeline: the
// primary stage tracks wagons across frames, the secondary stage localizes
// the number region inside one wagon crop.
package perception

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"

	"github.com/MeKo-Tech/rakescan/internal/detector"
	"github.com/MeKo-Tech/rakescan/internal/tracker"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// DefaultConfidenceFloor is the minimum secondary-stage confidence.
const DefaultConfidenceFloor = 0.25

// Detector finds objects in one image.
type Detector interface {
	Detect(img image.Image) ([]detector.Detection, error)
}

// TrackedObject is one tracked object in the current frame.
type TrackedObject struct {
	TrackID    int       `json:"track_id"`
	Box        utils.Box `json:"box"`
	Class      int       `json:"class"`
	Confidence float64   `json:"confidence"`
}

// Primary runs the detector on every frame and feeds a persistent tracker.
type Primary struct {
	detector Detector
	tracker  *tracker.Tracker
}

// NewPrimary combines a detector with a tracker.
func NewPrimary(d Detector, t *tracker.Tracker) *Primary {
	return &Primary{detector: d, tracker: t}
}

// LoadPrimary loads the primary detector model. A failure here is fatal for
// an inspection run.
func LoadPrimary(dc detector.Config, tc tracker.Config) (*Primary, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	d, err := detector.NewDetector(dc)
	if err != nil {
		return nil, fmt.Errorf("primary detector: %w", err)
	}
	return NewPrimary(d, tracker.New(tc)), nil
}

// Track detects objects in frame and returns those with a confirmed track.
// A frame without objects yields an empty slice.
func (p *Primary) Track(frame image.Image) ([]TrackedObject, error) {
	dets, err := p.detector.Detect(frame)
	if err != nil {
		return nil, err
	}
	tracks := p.tracker.Update(dets)
	out := make([]TrackedObject, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, TrackedObject{
			TrackID:    tr.ID,
			Box:        tr.Box,
			Class:      tr.Class,
			Confidence: tr.Confidence,
		})
	}
	return out, nil
}

// ActiveTracks returns how many tracks the tracker currently holds.
func (p *Primary) ActiveTracks() int { return p.tracker.ActiveCount() }

// Detector returns the underlying detector.
func (p *Primary) Detector() Detector { return p.detector }

// Close releases the detector.
func (p *Primary) Close() error { return closeDetector(p.detector) }

// Candidate is a possible number region, in crop coordinates.
type Candidate struct {
	Box        utils.Box `json:"box"`
	Confidence float64   `json:"confidence"`
}

// Secondary localizes number regions inside wagon crops. Without a model it
// is inert.
type Secondary struct {
	detector Detector
	floor    float64
}

// NewSecondary builds a localizer around d. A nil d yields an inert stage.
// A non-positive floor selects DefaultConfidenceFloor.
func NewSecondary(d Detector, floor float64) *Secondary {
	if floor <= 0 {
		floor = DefaultConfidenceFloor
	}
	return &Secondary{detector: d, floor: floor}
}

// LoadSecondary loads the localizer model. Missing or broken weights disable
// the stage with a warning.
func LoadSecondary(dc detector.Config, floor float64) *Secondary {
	if dc.ModelPath == "" {
		slog.Warn("No number localizer configured, secondary stage disabled")
		return NewSecondary(nil, floor)
	}
	d, err := detector.NewDetector(dc)
	if err != nil {
		slog.Warn("Number localizer unavailable, secondary stage disabled",
			"model_path", dc.ModelPath, "error", err)
		return NewSecondary(nil, floor)
	}
	return NewSecondary(d, floor)
}

// Enabled reports whether a localizer model is present.
func (s *Secondary) Enabled() bool { return s != nil && s.detector != nil }

// ConfidenceFloor returns the minimum candidate confidence.
func (s *Secondary) ConfidenceFloor() float64 { return s.floor }

// Localize returns number-region candidates in crop with confidence at or
// above the floor, best first.
func (s *Secondary) Localize(crop image.Image) ([]Candidate, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if utils.IsEmpty(crop) {
		return nil, errors.New("localize: empty crop")
	}

	dets, err := s.detector.Detect(crop)
	if err != nil {
		return nil, err
	}

	origin := crop.Bounds().Min
	var out []Candidate
	for _, d := range dets {
		if d.Confidence < s.floor {
			continue
		}
		out = append(out, Candidate{
			Box:        d.Box.Offset(-float64(origin.X), -float64(origin.Y)),
			Confidence: d.Confidence,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Close releases the detector.
func (s *Secondary) Close() error {
	if !s.Enabled() {
		return nil
	}
	return closeDetector(s.detector)
}

func closeDetector(d Detector) error {
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
