package recognizer

import (
	"math"
)

// DecodedSequence holds CTC-decoded indices and per-step probabilities.
type DecodedSequence struct {
	Indices       []int
	Probs         []float64
	Collapsed     []int
	CollapsedProb []float64
}

// argmax returns index of max value and the value.
func argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	maxVal := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > maxVal {
			maxVal = v[i]
			idx = i
		}
	}
	return idx, maxVal
}

// softmaxProbOfIndex computes the softmax probability of v[idx] among v.
// Values that already form a distribution are returned as-is.
func softmaxProbOfIndex(v []float32, idx int) float64 {
	if len(v) == 0 || idx < 0 || idx >= len(v) {
		return 0
	}
	var sum float64
	minV, maxV := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		minV = min(minV, x)
		maxV = max(maxV, x)
	}
	if sum > 0.99 && sum < 1.01 && minV >= 0 && maxV <= 1 {
		return float64(v[idx])
	}

	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - maxV))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(v[idx]-maxV)) / denom
}

// CTCCollapse removes blanks and merges repeated indices.
func CTCCollapse(indices []int, probs []float64, blank int) ([]int, []float64) {
	outIdx := make([]int, 0, len(indices))
	outProb := make([]float64, 0, len(probs))
	prev := -1
	for i, idx := range indices {
		if idx == blank {
			prev = idx
			continue
		}
		if idx == prev {
			continue
		}
		outIdx = append(outIdx, idx)
		if i < len(probs) {
			outProb = append(outProb, probs[i])
		} else {
			outProb = append(outProb, 0)
		}
		prev = idx
	}
	return outIdx, outProb
}

// ClassesFirst guesses whether a [N, X, Y] output is laid out [N, C, T] by
// comparing both axes with the expected class count.
func ClassesFirst(shape []int64, classes int) bool {
	if len(shape) != 3 {
		return false
	}
	if int(shape[2]) == classes {
		return false
	}
	return int(shape[1]) == classes
}

// DecodeCTCGreedy decodes the first sequence of a [N, T, C] (or [N, C, T]
// when classesFirst) logits tensor by taking the best class at every step.
func DecodeCTCGreedy(logits []float32, shape []int64, blank int, classesFirst bool) (DecodedSequence, bool) {
	if len(shape) != 3 || shape[0] <= 0 {
		return DecodedSequence{}, false
	}
	tDim, cDim := int(shape[1]), int(shape[2])
	if classesFirst {
		tDim, cDim = cDim, tDim
	}
	if tDim <= 0 || cDim <= 0 || len(logits) < tDim*cDim {
		return DecodedSequence{}, false
	}

	indices := make([]int, tDim)
	probs := make([]float64, tDim)
	step := make([]float32, cDim)
	for t := range tDim {
		if classesFirst {
			for k := range cDim {
				step[k] = logits[k*tDim+t]
			}
		} else {
			copy(step, logits[t*cDim:(t+1)*cDim])
		}
		idx, _ := argmax(step)
		indices[t] = idx
		probs[t] = softmaxProbOfIndex(step, idx)
	}

	collapsed, collapsedProb := CTCCollapse(indices, probs, blank)
	return DecodedSequence{
		Indices:       indices,
		Probs:         probs,
		Collapsed:     collapsed,
		CollapsedProb: collapsedProb,
	}, true
}

// SequenceConfidence returns the mean of per-character probabilities; 0 if empty.
func SequenceConfidence(charProbs []float64) float64 {
	if len(charProbs) == 0 {
		return 0
	}
	var s float64
	for _, p := range charProbs {
		s += p
	}
	return s / float64(len(charProbs))
}
