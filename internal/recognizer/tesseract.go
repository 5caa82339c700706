//go:build tesseract

package recognizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/rakescan/internal/utils"
)

// Tesseract reads text with libtesseract. The client is not reentrant, so
// calls are serialized.
type Tesseract struct {
	client *gosseract.Client
	mu     sync.Mutex
}

// NewTesseract creates a Tesseract-backed reader.
func NewTesseract(config TesseractConfig) (*Tesseract, error) {
	if config.Language == "" {
		config.Language = DefaultTesseractConfig().Language
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(config.Language); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	// Wagon numbers are not dictionary words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	if config.Whitelist != "" {
		if err := client.SetWhitelist(config.Whitelist); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}

	return &Tesseract{client: client}, nil
}

// ReadText returns one fragment per recognized word.
func (t *Tesseract) ReadText(img image.Image) ([]Fragment, error) {
	if utils.IsEmpty(img) {
		return nil, errors.New("recognizer: empty image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Grayscale(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, errors.New("recognizer: closed")
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	frags := make([]Fragment, 0, len(boxes))
	for _, box := range boxes {
		text := CleanText(strings.TrimSpace(box.Word))
		if text == "" {
			continue
		}
		frags = append(frags, Fragment{Text: text, Confidence: box.Confidence / 100})
	}
	return frags, nil
}

// Close releases the Tesseract client.
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
