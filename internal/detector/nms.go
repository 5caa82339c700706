package detector

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/rakescan/internal/utils"
)

const (
	NMSMethodHard     = "hard"
	NMSMethodGaussian = "gaussian"
	NMSMethodLinear   = "linear"
)

// NonMaxSuppression performs per-class greedy NMS. The result is sorted by
// confidence, highest first.
func NonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) <= 1 {
		return dets
	}

	indices := sortByConfidence(dets)
	suppressed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))

	for _, a := range indices {
		if suppressed[a] {
			continue
		}
		kept = append(kept, dets[a])

		for _, b := range indices {
			if suppressed[b] || a == b || dets[a].Class != dets[b].Class {
				continue
			}
			if utils.IoU(dets[a].Box, dets[b].Box) > iouThreshold {
				suppressed[b] = true
			}
		}
	}

	return kept
}

// SoftNonMaxSuppression decays the confidence of overlapping same-class
// detections instead of discarding them, then drops those under scoreThresh.
func SoftNonMaxSuppression(dets []Detection, method string,
	iouThreshold, sigma, scoreThresh float64,
) []Detection {
	regs := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= scoreThresh {
			regs = append(regs, d)
		}
	}
	if len(regs) <= 1 {
		return regs
	}

	n := len(regs)
	for i := range n {
		maxIdx := i
		for j := i + 1; j < n; j++ {
			if regs[j].Confidence > regs[maxIdx].Confidence {
				maxIdx = j
			}
		}
		regs[i], regs[maxIdx] = regs[maxIdx], regs[i]

		for j := i + 1; j < n; j++ {
			if regs[j].Class != regs[i].Class {
				continue
			}
			iou := utils.IoU(regs[i].Box, regs[j].Box)
			regs[j].Confidence *= softNMSWeight(iou, iouThreshold, sigma, method)
		}
	}

	filtered := regs[:0]
	for _, r := range regs {
		if r.Confidence >= scoreThresh {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})
	return filtered
}

func softNMSWeight(iou, iouThreshold, sigma float64, method string) float64 {
	switch method {
	case NMSMethodLinear:
		if iou >= iouThreshold {
			return 1.0 - iou
		}
		return 1.0
	case NMSMethodGaussian:
		if sigma <= 0 {
			sigma = 0.5
		}
		return math.Exp(-(iou * iou) / sigma)
	default:
		if iou >= iouThreshold {
			return 0.0
		}
		return 1.0
	}
}

func sortByConfidence(dets []Detection) []int {
	indices := make([]int, len(dets))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return dets[indices[i]].Confidence > dets[indices[j]].Confidence
	})
	return indices
}
