//go:build !gocv

package video

import (
	"errors"
	"image"
)

// ErrNoGocv is returned when the binary was built without OpenCV support.
var ErrNoGocv = errors.New("video: gocv backend not linked; build with -tags=gocv")

// GocvSource is unavailable in this build.
type GocvSource struct{}

// OpenGocv always fails without the gocv build tag.
func OpenGocv(string) (*GocvSource, error) { return nil, ErrNoGocv }

// Read always fails without the gocv build tag.
func (*GocvSource) Read() (image.Image, error) { return nil, ErrNoGocv }

// Close is a no-op.
func (*GocvSource) Close() error { return nil }
