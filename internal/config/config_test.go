package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newParsedBinder registers all config flags and parses args into them.
func newParsedBinder(t *testing.T, defaults Config, args ...string) *fakeBinder {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	return &fakeBinder{fs: fs}
}

// isolate moves the test into an empty directory so a stray audioml.yaml in
// the package directory cannot leak into Load.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ModelPath != "models/classifier.onnx" {
		t.Errorf("ModelPath = %q; want %q", cfg.Paths.ModelPath, "models/classifier.onnx")
	}

	if cfg.Runtime.Threads != 2 {
		t.Errorf("Runtime.Threads = %d; want 2", cfg.Runtime.Threads)
	}

	if cfg.Runtime.InterOpThreads != 1 {
		t.Errorf("Runtime.InterOpThreads = %d; want 1", cfg.Runtime.InterOpThreads)
	}

	if cfg.Runtime.Delegate != DelegateORT {
		t.Errorf("Runtime.Delegate = %q; want %q", cfg.Runtime.Delegate, DelegateORT)
	}

	if cfg.Runtime.ORTAPIVersion != 23 {
		t.Errorf("Runtime.ORTAPIVersion = %d; want 23", cfg.Runtime.ORTAPIVersion)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d; want 16000", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Hop != 512 {
		t.Errorf("Audio.Hop = %d; want 512", cfg.Audio.Hop)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.Server.Workers != 2 {
		t.Errorf("Server.Workers = %d; want 2", cfg.Server.Workers)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v; want nil", err)
	}
}

// --- NormalizeDelegate ---

func TestNormalizeDelegate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"canonical ort", "ort", "ort", false},
		{"canonical ort-cgo", "ort-cgo", "ort-cgo", false},
		{"purego alias", "purego", "ort", false},
		{"cpu alias", "CPU", "ort", false},
		{"cgo alias", "cgo", "ort-cgo", false},
		{"mixed case with spaces", "  ORT-CGO ", "ort-cgo", false},
		{"empty defaults to ort", "", "ort", false},
		{"whitespace defaults to ort", "   ", "ort", false},
		{"invalid value", "gpu", "", true},
		{"tflite is not bundled", "tflite", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDelegate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeDelegate(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeDelegate(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeDelegate(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"paths-model-path", "models/classifier.onnx"},
		{"model", "models/classifier.onnx"},
		{"runtime-threads", "2"},
		{"delegate", "ort"},
		{"server-listen-addr", ":8080"},
		{"audio-hop", "512"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestRegisterFlags_EveryFlagHasKey(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	fs.VisitAll(func(f *pflag.Flag) {
		if _, ok := flagKeys[f.Name]; !ok {
			t.Errorf("flag %q has no config key mapping", f.Name)
		}
	})
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newParsedBinder(t, defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.ModelPath != defaults.Paths.ModelPath {
		t.Errorf("ModelPath = %q; want %q", cfg.Paths.ModelPath, defaults.Paths.ModelPath)
	}

	if cfg.Runtime.Threads != defaults.Runtime.Threads {
		t.Errorf("Runtime.Threads = %d; want %d", cfg.Runtime.Threads, defaults.Runtime.Threads)
	}

	if cfg.Server.MaxSamples != defaults.Server.MaxSamples {
		t.Errorf("Server.MaxSamples = %d; want %d", cfg.Server.MaxSamples, defaults.Server.MaxSamples)
	}

	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, defaults.LogLevel)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	isolate(t)

	defaults := DefaultConfig()
	binder := newParsedBinder(t, defaults,
		"--threads=4",
		"--delegate=cgo",
		"--workers=8",
		"--log-level=debug",
		"--model=/tmp/m.onnx",
	)

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.Threads != 4 {
		t.Errorf("Runtime.Threads = %d; want 4", cfg.Runtime.Threads)
	}

	if cfg.Runtime.Delegate != DelegateORTCgo {
		t.Errorf("Runtime.Delegate = %q; want %q", cfg.Runtime.Delegate, DelegateORTCgo)
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.Paths.ModelPath != "/tmp/m.onnx" {
		t.Errorf("ModelPath = %q; want %q", cfg.Paths.ModelPath, "/tmp/m.onnx")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("AUDIOML_LOG_LEVEL", "warn")
	t.Setenv("AUDIOML_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("AUDIOML_RUNTIME_THREADS", "3")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Runtime.Threads != 3 {
		t.Errorf("Runtime.Threads = %d; want 3", cfg.Runtime.Threads)
	}
}

func TestLoad_ORTLibraryEnvAliases(t *testing.T) {
	isolate(t)
	t.Setenv("ORT_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q; want %q", cfg.Runtime.ORTLibraryPath, "/opt/ort/libonnxruntime.so")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "audioml.yaml")

	content := `
log_level: error
paths:
  model_path: /models/birds.onnx
runtime:
  threads: 6
  delegate: purego
server:
  workers: 16
  listen_addr: ":7777"
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newParsedBinder(t, defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Paths.ModelPath != "/models/birds.onnx" {
		t.Errorf("ModelPath = %q; want %q", cfg.Paths.ModelPath, "/models/birds.onnx")
	}

	if cfg.Runtime.Threads != 6 {
		t.Errorf("Runtime.Threads = %d; want 6", cfg.Runtime.Threads)
	}

	if cfg.Runtime.Delegate != DelegateORT {
		t.Errorf("Runtime.Delegate = %q; want %q", cfg.Runtime.Delegate, DelegateORT)
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}
}

func TestLoad_FlagBeatsConfigFile(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "audioml.yaml")

	if err := os.WriteFile(cfgFile, []byte("runtime:\n  threads: 6\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newParsedBinder(t, defaults, "--runtime-threads=1"),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.Threads != 1 {
		t.Errorf("Runtime.Threads = %d; want 1", cfg.Runtime.Threads)
	}
}

func TestLoad_InvalidDelegate(t *testing.T) {
	isolate(t)

	defaults := DefaultConfig()

	_, err := Load(LoadOptions{
		Cmd:      newParsedBinder(t, defaults, "--delegate=gpu"),
		Defaults: defaults,
	})
	if err == nil {
		t.Error("Load() = nil; want error for unknown delegate")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	isolate(t)

	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/audioml.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threads", func(c *Config) { c.Runtime.Threads = 0 }},
		{"negative inter-op threads", func(c *Config) { c.Runtime.InterOpThreads = -1 }},
		{"zero hop", func(c *Config) { c.Audio.Hop = 0 }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"zero workers", func(c *Config) { c.Server.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil; want error")
			}
		})
	}
}
