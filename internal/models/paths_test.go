package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/custom", GetModelsDir("/custom"))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/from/env", GetModelsDir(""))
	})

	t.Run("project root default", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		dir := GetModelsDir("")
		assert.Equal(t, DefaultModelsDir, filepath.Base(dir))
	})
}

func TestResolveModelPath(t *testing.T) {
	base := t.TempDir()

	flat := ResolveModelPath(base, TypeDetection, WagonDetector)
	assert.Equal(t, filepath.Join(base, WagonDetector), flat)

	organizedDir := filepath.Join(base, TypeDetection)
	require.NoError(t, os.MkdirAll(organizedDir, 0o755))
	organized := filepath.Join(organizedDir, WagonDetector)
	require.NoError(t, os.WriteFile(organized, []byte("x"), 0o600))

	assert.Equal(t, organized, ResolveModelPath(base, TypeDetection, WagonDetector))
	assert.Equal(t, organized, GetDetectorModelPath(base))
}

func TestGetRestorerModelPath(t *testing.T) {
	base := t.TempDir()
	assert.Equal(t, filepath.Join(base, RestorerWidth32), GetRestorerModelPath(base, "width32"))
	assert.Equal(t, filepath.Join(base, RestorerWidth64), GetRestorerModelPath(base, "width64"))
	assert.Equal(t, filepath.Join(base, RestorerWidth32), GetRestorerModelPath(base, ""))
}

func TestOtherModelPaths(t *testing.T) {
	base := t.TempDir()
	assert.Equal(t, filepath.Join(base, NumberLocalizer), GetLocalizerModelPath(base))
	assert.Equal(t, filepath.Join(base, Recognizer), GetRecognizerModelPath(base))
	assert.Equal(t, filepath.Join(base, RecognizerCharset), GetCharsetPath(base))
	assert.Equal(t, filepath.Join(base, Enhancer), GetEnhancerModelPath(base))
}

func TestValidateModelExists(t *testing.T) {
	require.Error(t, ValidateModelExists(""))
	require.Error(t, ValidateModelExists(filepath.Join(t.TempDir(), "nope.onnx")))

	path := filepath.Join(t.TempDir(), "m.onnx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	require.NoError(t, ValidateModelExists(path))
}

func TestListAvailableModels(t *testing.T) {
	list := ListAvailableModels()
	require.Len(t, list, 7)

	required := 0
	for _, m := range list {
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Filename)
		if m.Required {
			required++
		}
	}
	assert.Equal(t, 1, required)
}
