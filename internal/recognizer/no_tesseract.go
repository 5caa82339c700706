//go:build !tesseract

package recognizer

import "image"

// Tesseract is unavailable in this build.
type Tesseract struct{}

// NewTesseract always fails without the tesseract build tag.
func NewTesseract(TesseractConfig) (*Tesseract, error) {
	return nil, ErrNoTesseract
}

// ReadText always fails without the tesseract build tag.
func (*Tesseract) ReadText(image.Image) ([]Fragment, error) { return nil, ErrNoTesseract }

// Close is a no-op.
func (*Tesseract) Close() error { return nil }
