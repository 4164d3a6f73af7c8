// Package testutil provides shared skip helpers and fixtures for tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when the
// named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestMyIntegration(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    path := testutil.WriteFile(t, "sum.onnx", testutil.SumModel(512))
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// AUDIOML_ORT_LIB env var, then common system library paths. It returns the
// library path that was found.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "AUDIOML_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or AUDIOML_ORT_LIB")

	return ""
}

// RequireModel skips the test unless AUDIOML_TEST_MODEL names an existing
// model file, and returns that path.
func RequireModel(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("AUDIOML_TEST_MODEL")
	if p == "" {
		tb.Skip("AUDIOML_TEST_MODEL not set; point it at a classifier .onnx file")
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("test model not available at AUDIOML_TEST_MODEL=%q: %v", p, err)
		return ""
	}

	return p
}

// WriteFile writes data to name inside a fresh temp dir and returns the path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()

	p := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", p, err)
	}

	return p
}
