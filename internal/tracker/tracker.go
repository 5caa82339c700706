// Package tracker assigns persistent identities to detections across video
// frames. Association is greedy on IoU in two stages: confident detections
// are matched against every live track first, then weak detections may
// extend tracks that were matched recently. Tracks that go unmatched for
// MaxAge frames leave the active set; their ids are never reused.
package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MeKo-Tech/rakescan/internal/detector"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// Config holds tracker settings.
type Config struct {
	HighThreshold     float64 // Detections at or above this score take part in the first stage
	LowThreshold      float64 // Weaker detections below this score are ignored entirely
	NewTrackThreshold float64 // Minimum score for an unmatched detection to start a track
	MatchIoU          float64 // Minimum IoU for a detection to continue a track
	MinHits           int     // Matches needed before a track is reported
	MaxAge            int     // Frames a track survives without a match
}

// DefaultConfig returns ByteTrack-like defaults.
func DefaultConfig() Config {
	return Config{
		HighThreshold:     0.5,
		LowThreshold:      0.1,
		NewTrackThreshold: 0.6,
		MatchIoU:          0.2,
		MinHits:           2,
		MaxAge:            30,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"high_threshold":      c.HighThreshold,
		"low_threshold":       c.LowThreshold,
		"new_track_threshold": c.NewTrackThreshold,
		"match_iou":           c.MatchIoU,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("tracker %s must be in [0,1], got %f", name, v)
		}
	}
	if c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("tracker low_threshold %f exceeds high_threshold %f", c.LowThreshold, c.HighThreshold)
	}
	if c.MinHits < 1 {
		return fmt.Errorf("tracker min_hits must be >= 1, got %d", c.MinHits)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("tracker max_age must be >= 0, got %d", c.MaxAge)
	}
	return nil
}

// Track is a snapshot of one tracked object.
type Track struct {
	ID         int       `json:"track_id"`
	Box        utils.Box `json:"box"`
	Class      int       `json:"class"`
	Confidence float64   `json:"confidence"`
	Hits       int       `json:"hits"`
	FirstFrame int       `json:"first_frame"`
	LastFrame  int       `json:"last_frame"`
}

type track struct {
	Track
	missed int
	dx, dy float64
}

// predicted returns the box advanced by the track's last displacement.
func (t *track) predicted() utils.Box {
	return t.Box.Offset(t.dx, t.dy)
}

func (t *track) update(det detector.Detection, frame int) {
	cx0, cy0 := center(t.Box)
	cx1, cy1 := center(det.Box)
	steps := float64(t.missed + 1)
	t.dx, t.dy = (cx1-cx0)/steps, (cy1-cy0)/steps

	t.Box = det.Box
	t.Confidence = det.Confidence
	t.Hits++
	t.LastFrame = frame
	t.missed = 0
}

func center(b utils.Box) (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Tracker is a stateful multi-object tracker. It is safe for concurrent use,
// though frames must be fed in order.
type Tracker struct {
	config Config
	tracks []*track
	nextID int
	frame  int
	mu     sync.Mutex
}

// New creates a tracker.
func New(config Config) *Tracker {
	return &Tracker{config: config, nextID: 1}
}

// Update consumes the detections of the next frame and returns the confirmed
// tracks that were matched in it, ordered by id.
func (t *Tracker) Update(dets []detector.Detection) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frame++

	var high, low []int
	for i, d := range dets {
		switch {
		case d.Confidence >= t.config.HighThreshold:
			high = append(high, i)
		case d.Confidence >= t.config.LowThreshold:
			low = append(low, i)
		}
	}

	all := make([]int, len(t.tracks))
	for i := range t.tracks {
		all[i] = i
	}
	matchedTracks := make(map[int]bool, len(t.tracks))

	// Stage 1: confident detections against every live track.
	unmatchedHigh := t.associate(dets, high, all, matchedTracks)

	// Stage 2: weak detections only extend tracks seen on the previous frame.
	var recent []int
	for i, tr := range t.tracks {
		if !matchedTracks[i] && tr.missed == 0 {
			recent = append(recent, i)
		}
	}
	t.associate(dets, low, recent, matchedTracks)

	for i, tr := range t.tracks {
		if !matchedTracks[i] {
			tr.missed++
		}
	}

	for _, di := range unmatchedHigh {
		d := dets[di]
		if d.Confidence < t.config.NewTrackThreshold {
			continue
		}
		t.tracks = append(t.tracks, &track{Track: Track{
			ID:         t.nextID,
			Box:        d.Box,
			Class:      d.Class,
			Confidence: d.Confidence,
			Hits:       1,
			FirstFrame: t.frame,
			LastFrame:  t.frame,
		}})
		t.nextID++
	}

	live := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.missed <= t.config.MaxAge {
			live = append(live, tr)
		}
	}
	t.tracks = live

	var out []Track
	for _, tr := range t.tracks {
		if tr.LastFrame == t.frame && tr.Hits >= t.config.MinHits {
			out = append(out, tr.Track)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type pair struct {
	det, trk int
	iou      float64
}

// associate greedily matches detections to tracks of the same class by
// descending IoU and returns the detection indices left unmatched.
func (t *Tracker) associate(dets []detector.Detection, detIdx, trkIdx []int, matched map[int]bool) []int {
	var pairs []pair
	for _, di := range detIdx {
		for _, ti := range trkIdx {
			tr := t.tracks[ti]
			if matched[ti] || tr.Class != dets[di].Class {
				continue
			}
			if iou := utils.IoU(dets[di].Box, tr.predicted()); iou >= t.config.MatchIoU && iou > 0 {
				pairs = append(pairs, pair{det: di, trk: ti, iou: iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	usedDet := make(map[int]bool, len(detIdx))
	for _, p := range pairs {
		if usedDet[p.det] || matched[p.trk] {
			continue
		}
		t.tracks[p.trk].update(dets[p.det], t.frame)
		usedDet[p.det] = true
		matched[p.trk] = true
	}

	var rest []int
	for _, di := range detIdx {
		if !usedDet[di] {
			rest = append(rest, di)
		}
	}
	return rest
}

// ActiveCount returns the number of tracks still in the active set.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Frame returns the number of frames processed.
func (t *Tracker) Frame() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame
}

// Reset clears all tracks. Ids keep increasing across resets.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.frame = 0
}
