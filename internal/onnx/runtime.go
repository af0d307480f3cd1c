// Package onnx holds the process-wide ONNX Runtime environment shared by
// the speech model and the neural voice activity detector.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
	libPath  string
	mu       sync.Mutex
)

// SetLibraryPath overrides the onnxruntime shared library location. Must be
// called before the first [EnsureRuntime]; later calls are ignored.
func SetLibraryPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	libPath = path
}

// EnsureRuntime initialises the ONNX Runtime environment once per process.
// Safe to call from multiple goroutines; every caller gets the result of
// the single initialisation.
func EnsureRuntime() error {
	initOnce.Do(func() {
		mu.Lock()
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		mu.Unlock()
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnx: initialize environment: %w", err)
		}
	})
	return initErr
}
