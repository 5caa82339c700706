package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Model file names expected under the models directory.
const (
	// Primary wagon detector (YOLO, tracked every frame).
	WagonDetector = "wagon_detector.onnx"

	// Secondary number-plate localizer (YOLO, run on wagon crops).
	NumberLocalizer = "number_localizer.onnx"

	// NAFNet deblurring weights, one per width variant.
	RestorerWidth32 = "nafnet_width32.onnx"
	RestorerWidth64 = "nafnet_width64.onnx"

	// Zero-DCE low-light enhancement weights.
	Enhancer = "zero_dce.onnx"

	// CTC text recognizer and its character dictionary.
	Recognizer          = "number_recognizer.onnx"
	RecognizerCharset   = "number_charset.txt"
	RecognizerTessModel = "eng"
)

// Model type categories for organized directory structure.
const (
	TypeDetection    = "detection"
	TypeRestoration  = "restoration"
	TypeEnhancement  = "enhancement"
	TypeRecognition  = "recognition"
	TypeDictionaries = "dictionaries"
)

// DefaultModelsDir is used when no directory is configured.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "RAKESCAN_MODELS_DIR"

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
	Required    bool
}

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory path from various sources.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath resolves a model filename to its full path. The organized
// layout (<dir>/<type>/<file>) wins when present, otherwise the flat layout
// (<dir>/<file>) is returned.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetDetectorModelPath returns the path of the primary wagon detector.
func GetDetectorModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, WagonDetector)
}

// GetLocalizerModelPath returns the path of the number-region localizer.
func GetLocalizerModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDetection, NumberLocalizer)
}

// GetRestorerModelPath returns the path of the NAFNet model for a variant
// ("width32" or "width64").
func GetRestorerModelPath(modelsDir, variant string) string {
	filename := RestorerWidth32
	if variant == "width64" {
		filename = RestorerWidth64
	}
	return ResolveModelPath(modelsDir, TypeRestoration, filename)
}

// GetEnhancerModelPath returns the path of the Zero-DCE model.
func GetEnhancerModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeEnhancement, Enhancer)
}

// GetRecognizerModelPath returns the path of the CTC recognizer.
func GetRecognizerModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeRecognition, Recognizer)
}

// GetCharsetPath returns the path of the recognizer's character dictionary.
func GetCharsetPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDictionaries, RecognizerCharset)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if modelPath == "" {
		return errors.New("model path is empty")
	}
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the models the pipeline uses.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "wagon-detector",
			Type:        TypeDetection,
			Description: "Primary wagon detector, tracked across frames",
			Filename:    WagonDetector,
			Required:    true,
		},
		{
			Name:        "number-localizer",
			Type:        TypeDetection,
			Description: "Number-region localizer run on wagon crops",
			Filename:    NumberLocalizer,
		},
		{
			Name:        "nafnet-width32",
			Type:        TypeRestoration,
			Description: "NAFNet deblurring, width 32",
			Filename:    RestorerWidth32,
		},
		{
			Name:        "nafnet-width64",
			Type:        TypeRestoration,
			Description: "NAFNet deblurring, width 64",
			Filename:    RestorerWidth64,
		},
		{
			Name:        "zero-dce",
			Type:        TypeEnhancement,
			Description: "Zero-DCE low-light enhancement",
			Filename:    Enhancer,
		},
		{
			Name:        "number-recognizer",
			Type:        TypeRecognition,
			Description: "CTC text recognizer for wagon numbers",
			Filename:    Recognizer,
		},
		{
			Name:        "number-charset",
			Type:        TypeDictionaries,
			Description: "Character dictionary for the recognizer",
			Filename:    RecognizerCharset,
		},
	}
}
