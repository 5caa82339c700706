package perception

import (
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/rakescan/internal/detector"
	"github.com/MeKo-Tech/rakescan/internal/tracker"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	frames [][]detector.Detection
	err    error
	calls  int
	closed bool
}

func (s *scripted) Detect(image.Image) ([]detector.Detection, error) {
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	s.calls++
	if i < len(s.frames) {
		return s.frames[i], nil
	}
	return nil, nil
}

func (s *scripted) Close() error {
	s.closed = true
	return nil
}

func frame() image.Image { return image.NewNRGBA(image.Rect(0, 0, 640, 480)) }

func oneTrackerConfig() tracker.Config {
	c := tracker.DefaultConfig()
	c.MinHits = 1
	return c
}

func TestPrimaryTrack(t *testing.T) {
	d := &scripted{frames: [][]detector.Detection{
		{{Box: utils.NewBox(10, 10, 200, 100), Confidence: 0.9}},
		{{Box: utils.NewBox(20, 10, 210, 100), Confidence: 0.9}},
		{},
	}}
	p := NewPrimary(d, tracker.New(oneTrackerConfig()))

	objs, err := p.Track(frame())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, 1, objs[0].TrackID)

	objs, err = p.Track(frame())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, 1, objs[0].TrackID)
	assert.Equal(t, 20.0, objs[0].Box.MinX)

	objs, err = p.Track(frame())
	require.NoError(t, err)
	assert.Empty(t, objs)
	assert.Equal(t, 1, p.ActiveTracks())

	require.NoError(t, p.Close())
	assert.True(t, d.closed)
}

func TestPrimaryPropagatesErrors(t *testing.T) {
	p := NewPrimary(&scripted{err: errors.New("boom")}, tracker.New(oneTrackerConfig()))
	_, err := p.Track(frame())
	require.Error(t, err)
}

func TestLoadPrimaryFailsWithoutModel(t *testing.T) {
	dc := detector.DefaultConfig()
	dc.ModelPath = filepath.Join(t.TempDir(), "wagon_detector.onnx")
	_, err := LoadPrimary(dc, tracker.DefaultConfig())
	require.Error(t, err)
}

func TestSecondaryFiltersAndSorts(t *testing.T) {
	d := &scripted{frames: [][]detector.Detection{{
		{Box: utils.NewBox(110, 60, 150, 80), Confidence: 0.4},
		{Box: utils.NewBox(100, 50, 140, 70), Confidence: 0.2},
		{Box: utils.NewBox(120, 55, 160, 75), Confidence: 0.8},
	}}}
	s := NewSecondary(d, 0)
	require.True(t, s.Enabled())
	assert.Equal(t, DefaultConfidenceFloor, s.ConfidenceFloor())

	// Crop with a non-zero origin, as produced by SubImage.
	crop := image.NewNRGBA(image.Rect(100, 50, 300, 150))
	cands, err := s.Localize(crop)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.InDelta(t, 0.8, cands[0].Confidence, 1e-9)
	assert.Equal(t, utils.NewBox(20, 5, 60, 25), cands[0].Box)
	assert.InDelta(t, 0.4, cands[1].Confidence, 1e-9)
}

func TestSecondaryInert(t *testing.T) {
	s := NewSecondary(nil, 0.25)
	assert.False(t, s.Enabled())
	cands, err := s.Localize(frame())
	require.NoError(t, err)
	assert.Empty(t, cands)
	require.NoError(t, s.Close())

	loaded := LoadSecondary(detector.Config{ModelPath: filepath.Join(t.TempDir(), "x.onnx")}, 0.25)
	assert.False(t, loaded.Enabled())
	assert.False(t, LoadSecondary(detector.Config{}, 0.25).Enabled())
}

func TestSecondaryEmptyCrop(t *testing.T) {
	s := NewSecondary(&scripted{}, 0.25)
	_, err := s.Localize(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	require.Error(t, err)
}
