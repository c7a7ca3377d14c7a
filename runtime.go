package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const libraryEnv = "ORT_LIB_PATH"

var librarySearchDirs = []string{"lib", "/usr/local/lib", "/usr/lib", "/opt/onnxruntime/lib"}

// libraryName is the ONNX Runtime shared library for the current OS.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	}
	return "libonnxruntime.so"
}

// resolveLibraryPath picks the shared library: the configured path, then the
// environment override, then the first match in the search dirs. An empty
// result leaves the choice to the dynamic loader.
func resolveLibraryPath(configured string) (string, error) {
	for _, p := range []string{configured, os.Getenv(libraryEnv)} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("onnxruntime library %s: %w", p, err)
		}
		return p, nil
	}
	name := libraryName()
	for _, dir := range librarySearchDirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// initRuntime loads ONNX Runtime and returns its teardown.
func initRuntime(configured string, logger *zap.SugaredLogger) (func() error, error) {
	libPath, err := resolveLibraryPath(configured)
	if err != nil {
		return nil, err
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	logger.Infow("ONNX Runtime initialized", "library", libPath)
	return ort.DestroyEnvironment, nil
}
