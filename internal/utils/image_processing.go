package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/MeKo-Tech/rakescan/internal/mempool"
	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// Crop returns the part of img inside box, clamped to the image bounds. The
// result is re-based to (0,0). An empty image is returned for boxes that fall
// outside the frame.
func Crop(img image.Image, box Box) *image.NRGBA {
	rect := box.ToRect(img.Bounds())
	if rect.Empty() {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	return imaging.Crop(img, rect)
}

// IsEmpty reports whether the image is nil or has zero area.
func IsEmpty(img image.Image) bool {
	return img == nil || img.Bounds().Empty()
}

// Letterbox describes how an image was fitted into a square model input.
type Letterbox struct {
	Scale float64
	PadX  int
	PadY  int
	Size  int
}

// Unmap converts a box from model input coordinates back to source image
// coordinates.
func (l Letterbox) Unmap(b Box) Box {
	if l.Scale == 0 {
		return b
	}
	return b.Offset(-float64(l.PadX), -float64(l.PadY)).Scale(1 / l.Scale)
}

// LetterboxImage resizes img to fit a size x size canvas preserving the aspect
// ratio, centering it on a gray (114) background as YOLO models expect.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox, error) {
	if IsEmpty(img) {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is empty")}
	}
	if size <= 0 {
		return nil, Letterbox{}, &ImageProcessingError{Operation: "letterbox", Err: fmt.Errorf("invalid size %d", size)}
	}

	b := img.Bounds()
	scale := float64(size) / float64(max(b.Dx(), b.Dy()))
	newW := max(1, int(float64(b.Dx())*scale+0.5))
	newH := max(1, int(float64(b.Dy())*scale+0.5))

	resized := imaging.Resize(img, newW, newH, imaging.Linear)
	padX := (size - newW) / 2
	padY := (size - newH) / 2

	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Letterbox{Scale: scale, PadX: padX, PadY: padY, Size: size}, nil
}

// NormalizeImage converts an image to an NCHW float32 RGB buffer in [0,1].
// The buffer comes from mempool; callers may return it with
// mempool.PutFloat32 once inference has consumed it.
func NormalizeImage(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "normalize", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	width := nrgba.Rect.Dx()
	height := nrgba.Rect.Dy()
	plane := width * height
	tensor := mempool.GetFloat32(3 * plane)

	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			i := x * 4
			tensor[y*width+x] = float32(row[i]) / 255.0
			tensor[plane+y*width+x] = float32(row[i+1]) / 255.0
			tensor[2*plane+y*width+x] = float32(row[i+2]) / 255.0
		}
	}

	return tensor, width, height, nil
}

// DenormalizeImage converts an NCHW float32 RGB buffer in [0,1] back into an
// image, clamping out-of-range values.
func DenormalizeImage(data []float32, width, height int) (*image.NRGBA, error) {
	plane := width * height
	if width <= 0 || height <= 0 || len(data) < 3*plane {
		return nil, &ImageProcessingError{
			Operation: "denormalize",
			Err:       fmt.Errorf("buffer of %d values cannot hold %dx%d RGB", len(data), width, height),
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			o := y*out.Stride + x*4
			out.Pix[o] = toByte(data[y*width+x])
			out.Pix[o+1] = toByte(data[plane+y*width+x])
			out.Pix[o+2] = toByte(data[2*plane+y*width+x])
			out.Pix[o+3] = 255
		}
	}
	return out, nil
}

func toByte(v float32) uint8 {
	v = v*255 + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Luma returns the BT.601 luma of every pixel in row-major order, the same
// weights OpenCV uses for BGR to gray conversion.
func Luma(img image.Image) ([]float64, int, int) {
	nrgba := imaging.Clone(img)
	width := nrgba.Rect.Dx()
	height := nrgba.Rect.Dy()
	out := make([]float64, width*height)
	for y := range height {
		row := nrgba.Pix[y*nrgba.Stride:]
		for x := range width {
			i := x * 4
			out[y*width+x] = 0.299*float64(row[i]) + 0.587*float64(row[i+1]) + 0.114*float64(row[i+2])
		}
	}
	return out, width, height
}
