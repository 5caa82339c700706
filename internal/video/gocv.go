//go:build gocv

package video

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

// GocvSource reads frames through OpenCV's VideoCapture.
type GocvSource struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	info    Info
	closed  bool
}

// OpenGocv opens path with OpenCV.
func OpenGocv(path string) (*GocvSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("open video %s: capture not opened", path)
	}
	info := Info{
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    capture.Get(gocv.VideoCaptureFPS),
		Frames: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}
	slog.Debug("Opened video", "path", path, "backend", BackendGocv, "width", info.Width,
		"height", info.Height, "fps", info.FPS, "frames", info.Frames)
	return &GocvSource{capture: capture, mat: gocv.NewMat(), info: info}, nil
}

// Info returns the capture properties.
func (s *GocvSource) Info() Info { return s.info }

// FrameCount returns the container's frame count, or 0 when unknown.
func (s *GocvSource) FrameCount() int { return s.info.Frames }

// Read returns the next frame.
func (s *GocvSource) Read() (image.Image, error) {
	if s.closed || !s.capture.Read(&s.mat) || s.mat.Empty() {
		return nil, ErrEndOfStream
	}
	return matToImage(s.mat)
}

// matToImage converts a BGR frame to an RGB image.
func matToImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the capture.
func (s *GocvSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.mat.Close()
	return s.capture.Close()
}
