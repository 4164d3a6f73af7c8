package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/example/go-audioml/internal/config"
)

// RuntimeInfo describes the ONNX Runtime shared library in use.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	APIVersion  uint32
	Initialized bool
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

var (
	bootstrapOnce sync.Once
	bootstrapMu   sync.RWMutex
	bootstrapInfo RuntimeInfo
	bootstrapErr  error
	shutdownFlag  atomic.Bool

	shutdownHooksMu sync.Mutex
	shutdownHooks   []func() error
)

// Bootstrap locates the ONNX Runtime library once per process. Later calls
// return the first result regardless of cfg.
func Bootstrap(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	bootstrapOnce.Do(func() {
		info, err := DetectRuntime(cfg)
		if err != nil {
			bootstrapErr = err
			return
		}

		if err := os.Setenv("AUDIOML_ORT_LIB", info.LibraryPath); err != nil {
			bootstrapErr = fmt.Errorf("set AUDIOML_ORT_LIB: %w", err)
			return
		}

		info.Initialized = true

		bootstrapMu.Lock()
		bootstrapInfo = info
		bootstrapMu.Unlock()
	})

	if bootstrapErr != nil {
		return RuntimeInfo{}, bootstrapErr
	}

	return currentRuntime(), nil
}

// NeedsRuntime reports whether delegate loads the ONNX Runtime library.
func NeedsRuntime(delegate string) bool {
	return delegate == config.DelegateORT || delegate == config.DelegateORTCgo
}

// Shutdown runs registered delegate teardown hooks once.
func Shutdown() error {
	if shutdownFlag.Swap(true) {
		return nil
	}

	shutdownHooksMu.Lock()
	hooks := shutdownHooks
	shutdownHooks = nil
	shutdownHooksMu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}

	bootstrapMu.Lock()
	bootstrapInfo.Initialized = false
	bootstrapMu.Unlock()

	return errors.Join(errs...)
}

func onShutdown(f func() error) {
	shutdownHooksMu.Lock()
	defer shutdownHooksMu.Unlock()

	shutdownHooks = append(shutdownHooks, f)
}

// resolveRuntime returns the bootstrapped runtime, or detects one from the
// environment when Bootstrap was never called.
func resolveRuntime() (RuntimeInfo, error) {
	if info := currentRuntime(); info.Initialized {
		return info, nil
	}

	return DetectRuntime(config.RuntimeConfig{})
}

func currentRuntime() RuntimeInfo {
	bootstrapMu.RLock()
	defer bootstrapMu.RUnlock()

	return bootstrapInfo
}

// DetectRuntime finds the ONNX Runtime library: explicit config, then
// AUDIOML_ORT_LIB, then ORT_LIBRARY_PATH, then common install locations.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	apiVersion := cfg.ORTAPIVersion
	if apiVersion == 0 {
		apiVersion = 23
	}

	path := cfg.ORTLibraryPath
	if path == "" {
		path = os.Getenv("AUDIOML_ORT_LIB")
	}

	if path == "" {
		path = os.Getenv("ORT_LIBRARY_PATH")
	}

	if path == "" {
		candidates := []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"C:/onnxruntime/lib/onnxruntime.dll",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path == "" {
		return RuntimeInfo{LibraryPath: "not found", Version: "unknown", APIVersion: apiVersion},
			errors.New("unable to detect ONNX Runtime library path")
	}

	if _, err := os.Stat(path); err != nil {
		return RuntimeInfo{LibraryPath: path, Version: "unknown", APIVersion: apiVersion},
			fmt.Errorf("onnx runtime library path check failed: %w", err)
	}

	version := cfg.ORTVersion
	if version == "" {
		version = os.Getenv("ORT_VERSION")
	}

	if version == "" {
		version = inferVersionFromPath(path)
	}

	if version == "" {
		version = "unknown"
	}

	return RuntimeInfo{LibraryPath: path, Version: version, APIVersion: apiVersion}, nil
}

func inferVersionFromPath(path string) string {
	name := filepath.Base(path)
	if m := versionPattern.FindStringSubmatch(name); len(m) == 2 {
		return m[1]
	}

	return ""
}
