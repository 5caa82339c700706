// Package video provides frame sources for an inspection: an ffmpeg decoder
// pipe (default), an OpenCV capture when built with the gocv tag, and a
// directory of still frames.
package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
)

// Backends selectable by configuration.
const (
	BackendFFmpeg = "ffmpeg"
	BackendGocv   = "gocv"
)

// ErrEndOfStream is returned by Read when no frames are left.
var ErrEndOfStream = io.EOF

// Source yields decoded frames in order.
type Source interface {
	// Read returns the next frame, or ErrEndOfStream.
	Read() (image.Image, error)
	Close() error
}

// Info describes an opened video.
type Info struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
	Frames int     `json:"frames"` // 0 when the container does not say
}

// Config selects and configures a backend.
type Config struct {
	Backend     string // ffmpeg (default) or gocv
	FFmpegPath  string // ffmpeg binary (default: "ffmpeg" on PATH)
	FFprobePath string // ffprobe binary (default: "ffprobe" on PATH)
}

// DefaultConfig returns the ffmpeg backend with binaries from PATH.
func DefaultConfig() Config {
	return Config{Backend: BackendFFmpeg, FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Open opens path as a frame source. A directory is read as an image
// sequence; anything else is decoded with the configured backend. Failing to
// open the input is an error the caller cannot recover from.
func Open(path string, cfg Config) (Source, error) {
	if path == "" {
		return nil, errors.New("video path is empty")
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	if st.IsDir() {
		return OpenImageSequence(path)
	}

	switch cfg.Backend {
	case "", BackendFFmpeg:
		src, err := OpenFFmpeg(path, cfg)
		if err != nil {
			return nil, err
		}
		return src, nil
	case BackendGocv:
		src, err := OpenGocv(path)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown video backend %q", cfg.Backend)
	}
}
