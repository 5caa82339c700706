package recognizer

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
	"github.com/disintegration/imaging"
)

// ResizeForRecognition scales an image to a fixed target height while preserving
// aspect ratio. If padToMultiple > 0, the width is padded with black pixels to the
// next multiple. If maxWidth > 0, the width is clamped to maxWidth.
func ResizeForRecognition(img image.Image, targetHeight, maxWidth, padToMultiple int) (image.Image, error) {
	if utils.IsEmpty(img) {
		return nil, errors.New("input image is empty")
	}
	if targetHeight <= 0 {
		return nil, fmt.Errorf("invalid targetHeight: %d", targetHeight)
	}
	b := img.Bounds()
	newW := max(1, int(float64(b.Dx())*float64(targetHeight)/float64(b.Dy())))
	if maxWidth > 0 && newW > maxWidth {
		newW = maxWidth
	}

	resized := imaging.Resize(img, newW, targetHeight, imaging.Lanczos)

	outW := newW
	if padToMultiple > 0 && newW%padToMultiple != 0 {
		outW = newW + padToMultiple - newW%padToMultiple
	}
	if outW == newW {
		return resized, nil
	}

	canvas := imaging.New(outW, targetHeight, color.Black)
	return imaging.Paste(canvas, resized, image.Pt(0, 0)), nil
}

// NormalizeForRecognition converts an image to a float32 NCHW tensor in [0,1].
func NormalizeForRecognition(img image.Image) (onnx.Tensor, error) {
	data, w, h, err := utils.NormalizeImage(img)
	if err != nil {
		return onnx.Tensor{}, err
	}
	return onnx.NewImageTensor(data, 3, h, w)
}
