package doctor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-audioml/internal/doctor"
)

var errLibraryNotFound = errors.New("library not found")

func okRuntime() (string, string, error) {
	return "/usr/lib/libonnxruntime.so.1.23.0", "1.23.0", nil
}

func okModel(string) (string, error) {
	return "classifier.onnx in=[input:float32[1,512]] out=[output:float32[1,3]]", nil
}

func writeModelFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "classifier.onnx")
	if err := os.WriteFile(path, []byte("placeholder"), 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func hasFailureContaining(failures []string, sub string) bool {
	for _, f := range failures {
		if strings.Contains(f, sub) {
			return true
		}
	}

	return false
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		Runtime:    okRuntime,
		ModelPath:  writeModelFile(t),
		ParseModel: okModel,
		Threads:    2,
		CPU:        doctor.CPUInfo{PhysicalCores: 4, LogicalCores: 8},
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}
	if len(result.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings())
	}

	body := out.String()
	for _, want := range []string{"onnx runtime", "1.23.0", "model:", "2 of 8 logical cores"} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
}

// ---------------------------------------------------------------------------
// onnx runtime
// ---------------------------------------------------------------------------

func TestRun_RuntimeMissingFails(t *testing.T) {
	cfg := doctor.Config{
		Runtime: func() (string, string, error) { return "", "", errLibraryNotFound },
		Threads: 1,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure when the runtime is not found")
	}
	if !hasFailureContaining(result.Failures(), "onnx runtime") {
		t.Errorf("expected failure mentioning onnx runtime, got: %v", result.Failures())
	}
}

func TestRun_RuntimeMinimumVersion(t *testing.T) {
	tests := []struct {
		ver     string
		wantErr bool
	}{
		{"1.23.0", false},
		{"1.17.1", false},
		{"2.0.0", false},
		{"1.16.3", true},
		{"0.9.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.ver, func(t *testing.T) {
			cfg := doctor.Config{
				Runtime:       func() (string, string, error) { return "/lib/libonnxruntime.so", tt.ver, nil },
				MinORTVersion: "1.17",
				Threads:       1,
			}

			var out strings.Builder
			result := doctor.Run(cfg, &out)
			if result.Failed() != tt.wantErr {
				t.Fatalf("version %s: failed=%v; want %v (%v)", tt.ver, result.Failed(), tt.wantErr, result.Failures())
			}
		})
	}
}

func TestRun_RuntimeUnknownVersionPasses(t *testing.T) {
	cfg := doctor.Config{
		Runtime:       func() (string, string, error) { return "/lib/libonnxruntime.so", "", nil },
		MinORTVersion: "1.17",
		Threads:       1,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Fatalf("unknown version should not fail: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "unknown version") {
		t.Errorf("output should mention unknown version:\n%s", out.String())
	}
}

// ---------------------------------------------------------------------------
// model
// ---------------------------------------------------------------------------

func TestRun_MissingModelFails(t *testing.T) {
	cfg := doctor.Config{
		ModelPath:  "/nonexistent/classifier.onnx",
		ParseModel: okModel,
		Threads:    1,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !result.Failed() {
		t.Fatal("expected failure for missing model")
	}
	if !hasFailureContaining(result.Failures(), "model") {
		t.Errorf("expected failure mentioning model, got: %v", result.Failures())
	}
}

func TestRun_UnparseableModelFails(t *testing.T) {
	cfg := doctor.Config{
		ModelPath:  writeModelFile(t),
		ParseModel: func(string) (string, error) { return "", errors.New("malformed ONNX model") },
		Threads:    1,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "malformed") {
		t.Fatalf("expected parse failure, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// threads
// ---------------------------------------------------------------------------

func TestRun_ThreadChecks(t *testing.T) {
	tests := []struct {
		name     string
		threads  int
		cpu      doctor.CPUInfo
		wantFail bool
		wantWarn string
	}{
		{"within physical", 4, doctor.CPUInfo{PhysicalCores: 4, LogicalCores: 8}, false, ""},
		{"hyperthreads", 6, doctor.CPUInfo{PhysicalCores: 4, LogicalCores: 8}, false, "physical cores"},
		{"oversubscribed", 16, doctor.CPUInfo{PhysicalCores: 4, LogicalCores: 8}, false, "logical cores"},
		{"unknown topology", 64, doctor.CPUInfo{}, false, ""},
		{"zero threads", 0, doctor.CPUInfo{PhysicalCores: 4, LogicalCores: 8}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			result := doctor.Run(doctor.Config{Threads: tt.threads, CPU: tt.cpu}, &out)

			if result.Failed() != tt.wantFail {
				t.Fatalf("failed=%v; want %v (%v)", result.Failed(), tt.wantFail, result.Failures())
			}

			warnings := result.Warnings()
			if tt.wantWarn == "" {
				if len(warnings) != 0 {
					t.Fatalf("unexpected warnings: %v", warnings)
				}
				return
			}
			if len(warnings) != 1 || !strings.Contains(warnings[0], tt.wantWarn) {
				t.Fatalf("warnings = %v; want one containing %q", warnings, tt.wantWarn)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// output markers
// ---------------------------------------------------------------------------

func TestRun_OutputContainsPassAndFailMarkers(t *testing.T) {
	cfg := doctor.Config{
		Runtime: func() (string, string, error) { return "", "", errLibraryNotFound },
		Threads: 2,
	}

	var out strings.Builder
	doctor.Run(cfg, &out)

	body := out.String()
	if !strings.Contains(body, doctor.PassMark) {
		t.Errorf("output missing pass marker %q:\n%s", doctor.PassMark, body)
	}
	if !strings.Contains(body, doctor.FailMark) {
		t.Errorf("output missing fail marker %q:\n%s", doctor.FailMark, body)
	}
}

func TestRun_SkippedChecks(t *testing.T) {
	var out strings.Builder

	result := doctor.Run(doctor.Config{Threads: 1}, &out)
	if result.Failed() {
		t.Fatalf("expected no failures when checks are skipped, got: %v", result.Failures())
	}

	body := out.String()
	if !strings.Contains(body, "onnx runtime: skipped") {
		t.Fatalf("expected runtime skipped output, got:\n%s", body)
	}
	if !strings.Contains(body, "model: skipped") {
		t.Fatalf("expected model skipped output, got:\n%s", body)
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	r.AddFailure("model verify: boom")

	if !r.Failed() || len(r.Failures()) != 1 {
		t.Fatalf("Failures = %v", r.Failures())
	}

	got := r.Failures()
	got[0] = "mutated"
	if r.Failures()[0] != "model verify: boom" {
		t.Fatal("Failures must return a copy")
	}
}

func TestHostCPU(t *testing.T) {
	cpu := doctor.HostCPU()
	if cpu.LogicalCores < 0 || cpu.PhysicalCores < 0 {
		t.Fatalf("HostCPU = %+v", cpu)
	}
}
