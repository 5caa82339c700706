// Package testutil holds helpers shared by the package tests and the
// integration suite: project paths, synthetic frames and fixtures.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	// Walk up the directory tree to find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// GetTestDataDir returns the path to the testdata directory.
func GetTestDataDir(t *testing.T) string {
	t.Helper()

	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")

	return filepath.Join(root, "testdata")
}

// GetFixturesDir returns the path to the test fixtures directory.
func GetFixturesDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(GetTestDataDir(t), "fixtures")
}

// GetModelsDir returns the models directory used by tests: RAKESCAN_MODELS_DIR
// when set, else <root>/models.
func GetModelsDir(t *testing.T) string {
	t.Helper()
	if dir := os.Getenv("RAKESCAN_MODELS_DIR"); dir != "" {
		return dir
	}
	root, err := GetProjectRoot()
	require.NoError(t, err, "Failed to find project root")
	return filepath.Join(root, "models")
}

// SkipWithoutModel skips the test when the named weight file is missing.
func SkipWithoutModel(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(GetModelsDir(t), name)
	if !FileExists(path) {
		t.Skipf("model %s not available", path)
	}
	return path
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return !os.IsNotExist(err) && info.IsDir()
}
