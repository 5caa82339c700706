// Package quality scores image crops for sharpness so the pipeline can decide
// whether a crop needs restoration before recognition.
package quality

import (
	"errors"
	"image"

	"github.com/MeKo-Tech/rakescan/internal/utils"
	"gonum.org/v1/gonum/stat"
)

// DefaultThreshold is the Laplacian variance below which a crop counts as blurred.
const DefaultThreshold = 100.0

// NotEvaluable is the score reported alongside ErrNotEvaluable.
const NotEvaluable = -1.0

// ErrNotEvaluable is returned for nil or zero-area crops.
var ErrNotEvaluable = errors.New("quality: image is empty")

// Score returns the variance of the Laplacian of the crop's luma. Higher is
// sharper. Borders use reflect-101 extension.
func Score(img image.Image) (float64, error) {
	if utils.IsEmpty(img) {
		return NotEvaluable, ErrNotEvaluable
	}

	gray, w, h := utils.Luma(img)
	lap := make([]float64, len(gray))
	for y := range h {
		up := reflect101(y-1, h)
		down := reflect101(y+1, h)
		for x := range w {
			left := reflect101(x-1, w)
			right := reflect101(x+1, w)
			lap[y*w+x] = gray[up*w+x] + gray[down*w+x] + gray[y*w+left] + gray[y*w+right] - 4*gray[y*w+x]
		}
	}

	// Population variance (divides by N).
	_, variance := stat.PopMeanVariance(lap, nil)
	return variance, nil
}

// IsSharp reports whether score meets threshold.
func IsSharp(score, threshold float64) bool {
	return score >= threshold
}

// reflect101 maps an out-of-range index back into [0, n) without repeating
// the edge pixel (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// Verdict is the result of evaluating one crop.
type Verdict struct {
	Score     float64 `json:"score"`
	Sharp     bool    `json:"sharp"`
	Evaluable bool    `json:"evaluable"`
}

// Gate pairs a scoring function with a threshold.
type Gate struct {
	Threshold float64
}

// NewGate returns a gate with the given threshold, or DefaultThreshold when
// threshold is not positive.
func NewGate(threshold float64) Gate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Gate{Threshold: threshold}
}

// Evaluate scores img. Crops that cannot be scored are reported as not sharp
// and not evaluable.
func (g Gate) Evaluate(img image.Image) Verdict {
	score, err := Score(img)
	if err != nil {
		return Verdict{Score: score}
	}
	return Verdict{Score: score, Sharp: IsSharp(score, g.Threshold), Evaluable: true}
}

// Brightness returns the mean luma of img in [0,255], or 0 for empty input.
func Brightness(img image.Image) float64 {
	if utils.IsEmpty(img) {
		return 0
	}
	gray, _, _ := utils.Luma(img)
	return stat.Mean(gray, nil)
}

// IsNight reports whether a crop is dark enough to have been captured at
// night.
func IsNight(img image.Image, lumaThreshold float64) bool {
	return !utils.IsEmpty(img) && Brightness(img) < lumaThreshold
}
