// Package doctor provides environment preflight checks for audioml.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// RuntimeFunc locates the ONNX Runtime library and returns its path and version.
type RuntimeFunc func() (path, version string, err error)

// ModelFunc parses the model at path and returns a one-line description.
type ModelFunc func(path string) (string, error)

// CPUInfo is the subset of host CPU facts the thread check needs.
type CPUInfo struct {
	Brand         string
	PhysicalCores int
	LogicalCores  int
}

// HostCPU reads the host CPU description from cpuid.
func HostCPU() CPUInfo {
	return CPUInfo{
		Brand:         strings.TrimSpace(cpuid.CPU.BrandName),
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Runtime probes the ONNX Runtime shared library.
	Runtime RuntimeFunc
	// MinORTVersion rejects older runtimes when set (e.g. "1.17").
	MinORTVersion string

	// ModelPath is the classifier model to parse. Empty skips the check.
	ModelPath string
	// ParseModel loads ModelPath.
	ParseModel ModelFunc

	// Threads is the configured intra-op thread count.
	Threads int
	// CPU describes the host. Zero values skip the thread check.
	CPU CPUInfo
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
	warnings []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// Warnings returns advisory messages that do not fail the run.
func (r *Result) Warnings() []string { return append([]string(nil), r.warnings...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) warn(msg string) { r.warnings = append(r.warnings, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- onnx runtime -----------------------------------------------------
	if cfg.Runtime == nil {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	} else {
		path, ver, err := cfg.Runtime()
		switch {
		case err != nil:
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		case ver != "" && cfg.MinORTVersion != "":
			if verErr := checkMinVersion(ver, cfg.MinORTVersion); verErr != nil {
				res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
				fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
			} else {
				fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, path, ver)
			}
		default:
			if ver == "" {
				ver = "unknown version"
			}
			fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, path, ver)
		}
	}

	// ---- model ------------------------------------------------------------
	if cfg.ModelPath == "" || cfg.ParseModel == nil {
		fmt.Fprintf(w, "%s model: skipped\n", PassMark)
	} else if _, err := os.Stat(cfg.ModelPath); err != nil {
		res.fail(fmt.Sprintf("model %q: %v", cfg.ModelPath, err))
		fmt.Fprintf(w, "%s model %s: not found\n", FailMark, cfg.ModelPath)
	} else if desc, err := cfg.ParseModel(cfg.ModelPath); err != nil {
		res.fail(fmt.Sprintf("model %q: %v", cfg.ModelPath, err))
		fmt.Fprintf(w, "%s model %s: %v\n", FailMark, cfg.ModelPath, err)
	} else {
		fmt.Fprintf(w, "%s model: %s\n", PassMark, desc)
	}

	// ---- threads ----------------------------------------------------------
	switch {
	case cfg.Threads < 1:
		res.fail(fmt.Sprintf("threads: must be >= 1, got %d", cfg.Threads))
		fmt.Fprintf(w, "%s threads: %d is not a valid thread count\n", FailMark, cfg.Threads)
	case cfg.CPU.LogicalCores < 1:
		fmt.Fprintf(w, "%s threads: %d (cpu topology unknown)\n", PassMark, cfg.Threads)
	default:
		if msg := checkThreads(cfg.Threads, cfg.CPU); msg != "" {
			res.warn(msg)
			fmt.Fprintf(w, "%s threads: %s\n", PassMark, msg)
		} else {
			fmt.Fprintf(w, "%s threads: %d of %d logical cores\n", PassMark, cfg.Threads, cfg.CPU.LogicalCores)
		}
	}

	return res
}

// checkThreads returns advice when threads oversubscribes the host.
func checkThreads(threads int, cpu CPUInfo) string {
	if threads > cpu.LogicalCores {
		return fmt.Sprintf("%d threads exceeds %d logical cores; expect contention", threads, cpu.LogicalCores)
	}
	if cpu.PhysicalCores > 0 && threads > cpu.PhysicalCores {
		return fmt.Sprintf("%d threads exceeds %d physical cores; hyperthreads rarely help inference", threads, cpu.PhysicalCores)
	}

	return ""
}

// checkMinVersion returns an error if ver is older than minimum. Both are
// "major.minor[.patch]" strings.
func checkMinVersion(ver, minimum string) error {
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	wantMajor, wantMinor, err := parseMajorMinor(minimum)
	if err != nil {
		return fmt.Errorf("cannot parse minimum %q: %w", minimum, err)
	}
	if major < wantMajor || (major == wantMajor && minor < wantMinor) {
		return fmt.Errorf("requires ONNX Runtime >=%d.%d, got %d.%d", wantMajor, wantMinor, major, minor)
	}

	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
