// Package recognizer reads the painted number on a wagon crop. The default
// backend is a CTC text-line model run through ONNX Runtime; a Tesseract
// backend is available with the tesseract build tag.
package recognizer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/MeKo-Tech/rakescan/internal/mempool"
	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// Fragment is one piece of text read from an image with its confidence in [0,1].
type Fragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Config holds configuration for the CTC recognizer.
type Config struct {
	ModelPath        string         // Path to ONNX recognition model
	DictPath         string         // Path to character dictionary; empty selects digits only
	ImageHeight      int            // Input height (0 adopts the model's fixed height, else 48)
	MaxWidth         int            // Optional max width clamp (0 = no clamp)
	PadWidthMultiple int            // If >0, right-pad width to this multiple
	NumThreads       int            // Number of CPU threads (0 for default)
	GPU              onnx.GPUConfig // GPU acceleration configuration
}

// DefaultConfig returns a default recognizer configuration.
func DefaultConfig() Config {
	return Config{
		ImageHeight:      48,
		MaxWidth:         640,
		PadWidthMultiple: 8,
		GPU:              onnx.DefaultGPUConfig(),
	}
}

type model interface {
	Run(input onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// Recognizer performs CTC text recognition. It is safe for concurrent use.
type Recognizer struct {
	config  Config
	model   model
	charset *Charset
	mu      sync.RWMutex
}

// NewRecognizer loads the model and its dictionary.
func NewRecognizer(config Config) (*Recognizer, error) {
	if config.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}

	charset := DigitCharset()
	if config.DictPath != "" {
		cs, err := LoadCharset(config.DictPath)
		if err != nil {
			return nil, err
		}
		charset = cs
	}
	slog.Debug("Dictionary loaded", "path", config.DictPath, "charset_size", charset.Size())

	session, err := onnx.NewSession(onnx.SessionConfig{
		ModelPath:  config.ModelPath,
		NumThreads: config.NumThreads,
		GPU:        config.GPU,
	})
	if err != nil {
		return nil, fmt.Errorf("load recognizer %s: %w", config.ModelPath, err)
	}

	if h := onnx.FixedDim(session.InputShape(), 2, 0); h > 0 {
		config.ImageHeight = h
	}
	if config.ImageHeight <= 0 {
		config.ImageHeight = DefaultConfig().ImageHeight
	}

	return &Recognizer{config: config, model: session, charset: charset}, nil
}

// NewWithModel wraps an already loaded model. A nil charset selects digits.
func NewWithModel(config Config, m model, charset *Charset) *Recognizer {
	if charset == nil {
		charset = DigitCharset()
	}
	if config.ImageHeight <= 0 {
		config.ImageHeight = DefaultConfig().ImageHeight
	}
	return &Recognizer{config: config, model: m, charset: charset}
}

// ReadText recognizes one text line in img. Whitespace in the decoded line
// splits it into fragments; each fragment's confidence is the mean
// probability of its characters. Unreadable input yields no fragments.
func (r *Recognizer) ReadText(img image.Image) ([]Fragment, error) {
	if utils.IsEmpty(img) {
		return nil, errors.New("recognizer: empty image")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.model == nil {
		return nil, errors.New("recognizer: closed")
	}

	resized, err := ResizeForRecognition(img, r.config.ImageHeight, r.config.MaxWidth, r.config.PadWidthMultiple)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	tensor, err := NormalizeForRecognition(resized)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	defer mempool.PutFloat32(tensor.Data)

	out, err := r.model.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("recognizer inference: %w", err)
	}

	seq, ok := DecodeCTCGreedy(out.Data, out.Shape, 0, ClassesFirst(out.Shape, r.charset.Classes()))
	if !ok {
		return nil, fmt.Errorf("unexpected recognizer output shape %v", out.Shape)
	}
	return r.fragments(seq), nil
}

func (r *Recognizer) fragments(seq DecodedSequence) []Fragment {
	var (
		frags []Fragment
		text  strings.Builder
		probs []float64
	)
	flush := func() {
		if s := CleanText(text.String()); s != "" {
			frags = append(frags, Fragment{Text: s, Confidence: SequenceConfidence(probs)})
		}
		text.Reset()
		probs = probs[:0]
	}

	for i, class := range seq.Collapsed {
		tok := r.charset.LookupClass(class)
		if strings.TrimSpace(tok) == "" {
			flush()
			continue
		}
		text.WriteString(tok)
		probs = append(probs, seq.CollapsedProb[i])
	}
	flush()
	return frags
}

// Charset returns the loaded character set.
func (r *Recognizer) Charset() *Charset { return r.charset }

// GetConfig returns a copy of the recognizer's configuration.
func (r *Recognizer) GetConfig() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Close releases resources used by the recognizer.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}
