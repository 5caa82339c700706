package tracker

import (
	"testing"

	"github.com/MeKo-Tech/rakescan/internal/detector"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x, y, w, h, conf float64) detector.Detection {
	return detector.Detection{Box: utils.NewBox(x, y, x+w, y+h), Confidence: conf}
}

func ids(tracks []Track) []int {
	out := make([]int, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.ID
	}
	return out
}

func TestConfirmationAfterMinHits(t *testing.T) {
	tr := New(DefaultConfig())

	assert.Empty(t, tr.Update([]detector.Detection{det(0, 0, 100, 50, 0.9)}))
	out := tr.Update([]detector.Detection{det(5, 0, 100, 50, 0.9)})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ID)
	assert.Equal(t, 2, out[0].Hits)
	assert.Equal(t, 1, out[0].FirstFrame)
	assert.Equal(t, 2, out[0].LastFrame)
}

func TestIdentityPersistsWhileMoving(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, LowThreshold: 0.1, NewTrackThreshold: 0.5, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})

	for i := range 20 {
		out := tr.Update([]detector.Detection{
			det(float64(i*20), 0, 100, 50, 0.9),
			det(float64(400+i*20), 0, 100, 50, 0.9),
		})
		require.Equal(t, []int{1, 2}, ids(out), "frame %d", i)
	}
}

func TestNoDetectionsYieldsEmpty(t *testing.T) {
	tr := New(DefaultConfig())
	assert.Empty(t, tr.Update(nil))
	assert.Equal(t, 1, tr.Frame())
}

func TestLowConfidenceExtendsButDoesNotCreate(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, LowThreshold: 0.1, NewTrackThreshold: 0.6, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})

	assert.Empty(t, tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.3)}))
	assert.Equal(t, 0, tr.ActiveCount())

	require.Len(t, tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)}), 1)
	out := tr.Update([]detector.Detection{det(2, 0, 50, 50, 0.3)})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ID)

	// Between new-track and high thresholds: neither matched nor spawned.
	tr2 := New(Config{HighThreshold: 0.5, LowThreshold: 0.1, NewTrackThreshold: 0.6, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})
	assert.Empty(t, tr2.Update([]detector.Detection{det(0, 0, 50, 50, 0.55)}))
}

func TestTracksAgeOutAndIdsAreNotReused(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, NewTrackThreshold: 0.5, MatchIoU: 0.3, MinHits: 1, MaxAge: 2})

	require.Equal(t, []int{1}, ids(tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})))
	tr.Update(nil)
	tr.Update(nil)
	assert.Equal(t, 1, tr.ActiveCount())
	tr.Update(nil)
	assert.Equal(t, 0, tr.ActiveCount())

	assert.Equal(t, []int{2}, ids(tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})))
}

func TestReacquireWithinMaxAge(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, NewTrackThreshold: 0.5, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})
	tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})
	tr.Update(nil)
	out := tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})
	assert.Equal(t, []int{1}, ids(out))
}

func TestClassesDoNotMix(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, NewTrackThreshold: 0.5, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})
	a := det(0, 0, 50, 50, 0.9)
	b := det(0, 0, 50, 50, 0.9)
	b.Class = 1

	out := tr.Update([]detector.Detection{a, b})
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].Class, out[1].Class)

	out = tr.Update([]detector.Detection{b})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Class)
	assert.Equal(t, 2, out[0].ID)
}

func TestReset(t *testing.T) {
	tr := New(Config{HighThreshold: 0.5, NewTrackThreshold: 0.5, MatchIoU: 0.3, MinHits: 1, MaxAge: 5})
	tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})
	tr.Reset()
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Equal(t, []int{2}, ids(tr.Update([]detector.Detection{det(0, 0, 50, 50, 0.9)})))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.LowThreshold = 0.9
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.MinHits = 0
	require.Error(t, c.Validate())

	c = DefaultConfig()
	c.MatchIoU = 2
	require.Error(t, c.Validate())
}
