package video

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// ImageSequenceSource replays a directory of still frames in lexical order.
type ImageSequenceSource struct {
	paths []string
	next  int
}

// OpenImageSequence lists the supported images in dir.
func OpenImageSequence(dir string) (*ImageSequenceSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	if len(paths) == 0 {
		return nil, errors.New("no frames found in " + dir)
	}
	sort.Strings(paths)
	return &ImageSequenceSource{paths: paths}, nil
}

// FrameCount returns the number of frames in the sequence.
func (s *ImageSequenceSource) FrameCount() int { return len(s.paths) }

// Read decodes the next frame.
func (s *ImageSequenceSource) Read() (image.Image, error) {
	if s.next >= len(s.paths) {
		return nil, ErrEndOfStream
	}
	path := s.paths[s.next]
	s.next++
	img, err := utils.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Close is a no-op.
func (s *ImageSequenceSource) Close() error { return nil }
