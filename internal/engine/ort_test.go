//go:build !windows && !(js && wasm)

package engine

import (
	"path/filepath"
	"testing"
)

func TestSessionOptionsCarryThreads(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"default", DefaultConfig(), 2},
		{"single", Config{Threads: 1, InterOpThreads: 1}, 1},
		{"wide", Config{Threads: 8, InterOpThreads: 2}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := sessionOptions(tt.cfg)
			if opts == nil {
				t.Fatal("sessionOptions returned nil; ORT would fall back to its default pools")
			}
			if opts.IntraOpNumThreads != tt.want {
				t.Fatalf("IntraOpNumThreads = %d; want %d", opts.IntraOpNumThreads, tt.want)
			}
		})
	}
}

func TestSharedRuntimeDoesNotCacheFailures(t *testing.T) {
	info := RuntimeInfo{
		LibraryPath: filepath.Join(t.TempDir(), "libonnxruntime.so"),
		APIVersion:  23,
	}

	for range 2 {
		if _, err := sharedRuntime(info); err == nil {
			t.Fatal("sharedRuntime should fail for a missing library")
		}
	}

	ortRuntimeMu.Lock()
	defer ortRuntimeMu.Unlock()

	if _, ok := ortRuntimes[ortRuntimeKey{path: info.LibraryPath, api: 23}]; ok {
		t.Fatal("failed runtime load was cached")
	}
}
