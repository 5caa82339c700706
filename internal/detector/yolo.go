package detector

import (
	"fmt"

	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// DecodeYOLO converts a YOLOv8-style output tensor into detections in model
// input coordinates. The tensor is [1, 4+nc, N] with rows cx, cy, w, h
// followed by one score per class; the transposed [1, N, 4+nc] layout is
// accepted as well. Candidates whose best class score is below confThreshold
// are dropped.
func DecodeYOLO(out onnx.Tensor, confThreshold float64) ([]Detection, error) {
	if len(out.Shape) != 3 || out.Shape[0] != 1 {
		return nil, fmt.Errorf("unexpected detector output shape %v", out.Shape)
	}
	if len(out.Data) != onnx.Elements(out.Shape) {
		return nil, fmt.Errorf("detector output has %d values, shape %v implies %d",
			len(out.Data), out.Shape, onnx.Elements(out.Shape))
	}

	// Anchors far outnumber attributes, which tells the two layouts apart.
	attrs, anchors := int(out.Shape[1]), int(out.Shape[2])
	transposed := false
	if attrs > anchors {
		attrs, anchors = anchors, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("detector output needs at least 5 attributes, got %d", attrs)
	}

	at := func(attr, anchor int) float64 {
		if transposed {
			return float64(out.Data[anchor*attrs+attr])
		}
		return float64(out.Data[attr*anchors+anchor])
	}

	var dets []Detection
	for i := range anchors {
		bestClass, bestScore := -1, 0.0
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > bestScore {
				bestClass, bestScore = c-4, s
			}
		}
		if bestClass < 0 || bestScore < confThreshold {
			continue
		}
		box := utils.BoxFromCenter(at(0, i), at(1, i), at(2, i), at(3, i))
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{Box: box, Class: bestClass, Confidence: bestScore})
	}
	return dets, nil
}
