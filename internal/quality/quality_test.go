package quality

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkerboard(w, h, cell int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			c := color.NRGBA{A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestScore_FlatImageIsNotSharp(t *testing.T) {
	flat := imaging.New(64, 48, color.NRGBA{R: 90, G: 120, B: 60, A: 255})
	score, err := Score(flat)
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-9)
	assert.False(t, IsSharp(score, 1))
	assert.False(t, NewGate(DefaultThreshold).Evaluate(flat).Sharp)
}

func TestScore_TextureBeatsBlur(t *testing.T) {
	sharp := checkerboard(64, 64, 4)
	blurred := imaging.Blur(sharp, 3)

	sharpScore, err := Score(sharp)
	require.NoError(t, err)
	blurScore, err := Score(blurred)
	require.NoError(t, err)

	assert.Greater(t, sharpScore, blurScore)
	assert.True(t, IsSharp(sharpScore, DefaultThreshold))
}

func TestScore_Deterministic(t *testing.T) {
	img := checkerboard(33, 17, 3)
	a, err := Score(img)
	require.NoError(t, err)
	b, err := Score(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScore_Empty(t *testing.T) {
	score, err := Score(nil)
	assert.ErrorIs(t, err, ErrNotEvaluable)
	assert.Equal(t, NotEvaluable, score)

	score, err = Score(image.NewNRGBA(image.Rect(0, 0, 0, 10)))
	assert.ErrorIs(t, err, ErrNotEvaluable)
	assert.Equal(t, NotEvaluable, score)

	v := NewGate(10).Evaluate(nil)
	assert.False(t, v.Evaluable)
	assert.False(t, v.Sharp)
}

func TestScore_SinglePixel(t *testing.T) {
	score, err := Score(imaging.New(1, 1, color.White))
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-9)
}

func TestIsSharpBoundary(t *testing.T) {
	assert.True(t, IsSharp(100, 100))
	assert.False(t, IsSharp(99.999, 100))
}

func TestNewGateDefault(t *testing.T) {
	assert.InDelta(t, DefaultThreshold, NewGate(0).Threshold, 1e-9)
	assert.InDelta(t, 42, NewGate(42).Threshold, 1e-9)
}

func TestReflect101(t *testing.T) {
	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 2, reflect101(2, 5))
	assert.Equal(t, 0, reflect101(-1, 1))
	assert.Equal(t, 0, reflect101(2, 2))
}

func TestBrightnessAndNight(t *testing.T) {
	dark := imaging.New(10, 10, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	bright := imaging.New(10, 10, color.NRGBA{R: 200, G: 200, B: 200, A: 255})

	assert.InDelta(t, 20, Brightness(dark), 1e-6)
	assert.True(t, IsNight(dark, 60))
	assert.False(t, IsNight(bright, 60))
	assert.False(t, IsNight(nil, 60))
	assert.InDelta(t, 0, Brightness(nil), 1e-9)
}
