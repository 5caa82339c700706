package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"
)

// EnvLibraryPath overrides the ONNX Runtime shared library search.
const EnvLibraryPath = "RAKESCAN_ONNXRUNTIME_LIB"

var envMu sync.Mutex

// getSystemLibraryPaths returns system library paths to try, prioritizing GPU or CPU based on useGPU.
func getSystemLibraryPaths(useGPU bool) []string {
	if useGPU {
		return []string{
			"/opt/onnxruntime/gpu/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		}
	}
	return []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// getLibraryName returns the appropriate library filename for the current OS.
func getLibraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// LibraryCandidates lists the shared library locations searched, in order.
func LibraryCandidates(useGPU bool) []string {
	var out []string
	if p := os.Getenv(EnvLibraryPath); p != "" {
		out = append(out, p)
	}
	out = append(out, getSystemLibraryPaths(useGPU)...)

	root, err := findProjectRoot()
	if err != nil {
		return out
	}
	name, err := getLibraryName()
	if err != nil {
		return out
	}
	if useGPU {
		out = append(out, filepath.Join(root, "onnxruntime", "gpu", "lib", name))
	}
	return append(out, filepath.Join(root, "onnxruntime", "lib", name))
}

// SetONNXLibraryPath points onnxruntime_go at the first shared library found.
func SetONNXLibraryPath(useGPU bool) error {
	candidates := LibraryCandidates(useGPU)
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			onnxruntime_go.SetSharedLibraryPath(path)
			return nil
		}
	}
	return fmt.Errorf("ONNX Runtime library not found (searched %d locations, set %s to override)",
		len(candidates), EnvLibraryPath)
}

// InitializeEnvironment locates the shared library and initializes the ONNX
// Runtime environment once per process.
func InitializeEnvironment(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	if err := SetONNXLibraryPath(useGPU); err != nil {
		return fmt.Errorf("failed to set ONNX Runtime library path: %w", err)
	}
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	slog.Debug("ONNX Runtime initialized", "version", onnxruntime_go.GetVersion())
	return nil
}

// DestroyEnvironment tears down the ONNX Runtime environment. Call once at
// process exit after every session is closed.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !onnxruntime_go.IsInitialized() {
		return nil
	}
	return onnxruntime_go.DestroyEnvironment()
}
