package recognizer

import (
	"errors"
	"fmt"
	"image"
)

// Recognition backends selectable by configuration.
const (
	BackendONNX      = "onnx"
	BackendTesseract = "tesseract"
)

// ErrNoTesseract is returned when the binary was built without Tesseract support.
var ErrNoTesseract = errors.New("recognizer: tesseract backend not linked; build with -tags=tesseract")

// TextReader reads text fragments from an image.
type TextReader interface {
	ReadText(img image.Image) ([]Fragment, error)
	Close() error
}

// TesseractConfig configures the Tesseract backend.
type TesseractConfig struct {
	Language  string // Traineddata language (default: "eng")
	Whitelist string // Characters Tesseract may emit (default: digits)
}

// DefaultTesseractConfig restricts Tesseract to digits in English traineddata.
func DefaultTesseractConfig() TesseractConfig {
	return TesseractConfig{Language: "eng", Whitelist: DigitTokens}
}

// Open creates the TextReader for backend.
func Open(backend string, onnxCfg Config, tessCfg TesseractConfig) (TextReader, error) {
	switch backend {
	case "", BackendONNX:
		r, err := NewRecognizer(onnxCfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendTesseract:
		t, err := NewTesseract(tessCfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown recognizer backend %q", backend)
	}
}
