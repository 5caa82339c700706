// Package evidence saves the crops behind each recognized wagon so an
// inspector can check the reading later.
package evidence

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Supported output formats.
const (
	FormatJPEG = "jpg"
	FormatPNG  = "png"
)

// Config holds evidence settings.
type Config struct {
	Dir         string // Root directory; each run gets a subdirectory
	Format      string // jpg (default) or png
	JPEGQuality int    // 1-100 (default: 90)
}

// DefaultConfig saves JPEG evidence under ./output.
func DefaultConfig() Config {
	return Config{Dir: "output", Format: FormatJPEG, JPEGQuality: 90}
}

// Store writes evidence images for one run into <Dir>/<runID>/.
type Store struct {
	dir     string
	runID   string
	format  string
	quality int
	mu      sync.Mutex
	written int
}

// New creates the run directory. An empty runID gets a fresh UUID.
func New(cfg Config, runID string) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("evidence directory is empty")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	format := strings.ToLower(strings.TrimPrefix(cfg.Format, "."))
	switch format {
	case "", "jpeg", FormatJPEG:
		format = FormatJPEG
	case FormatPNG:
	default:
		return nil, fmt.Errorf("unsupported evidence format %q", cfg.Format)
	}
	quality := cfg.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = 90
	}

	dir := filepath.Join(cfg.Dir, runID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence directory: %w", err)
	}
	return &Store{dir: dir, runID: runID, format: format, quality: quality}, nil
}

// Dir returns the run directory.
func (s *Store) Dir() string { return s.dir }

// Discard removes the run directory of a run that never started. It refuses
// once evidence has been written.
func (s *Store) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written > 0 {
		return fmt.Errorf("evidence directory %s holds %d images", s.dir, s.written)
	}
	return os.RemoveAll(s.dir)
}

// RunID returns the run the store writes for.
func (s *Store) RunID() string { return s.runID }

// Written returns how many images were saved.
func (s *Store) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// PathFor returns where the image of kind for trackID is stored.
func (s *Store) PathFor(trackID int, kind string) string {
	return filepath.Join(s.dir, fmt.Sprintf("track_%d_%s.%s", trackID, kind, s.format))
}

// Save writes img and returns its path.
func (s *Store) Save(trackID int, kind string, img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("evidence image is empty")
	}
	if kind == "" || strings.ContainsAny(kind, `/\`) {
		return "", fmt.Errorf("invalid evidence kind %q", kind)
	}
	path := s.PathFor(trackID, kind)
	var opts []imaging.EncodeOption
	if s.format == FormatJPEG {
		opts = append(opts, imaging.JPEGQuality(s.quality))
	}
	if err := imaging.Save(img, path, opts...); err != nil {
		return "", fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return path, nil
}
