package main

import (
	"strings"
	"testing"

	"github.com/example/go-audioml/internal/engine/enginetest"
	json "github.com/goccy/go-json"
)

func TestBenchCmd_JSON(t *testing.T) {
	cfg, d := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	out, err := runCmd(t, newBenchCmd(), "--runs", "3", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var report struct {
		Runs []struct {
			Index   int     `json:"index"`
			Cold    bool    `json:"cold"`
			AudioMS float64 `json:"audio_ms"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}

	if len(report.Runs) != 3 || !report.Runs[0].Cold {
		t.Fatalf("runs = %+v", report.Runs)
	}
	// 512 samples at 16 kHz.
	if report.Runs[0].AudioMS != 32 {
		t.Errorf("audio_ms = %v; want 32", report.Runs[0].AudioMS)
	}
	if n := d.Last().Invocations(); n != 3 {
		t.Errorf("invocations = %d; want 3", n)
	}
}

func TestBenchCmd_Table(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	out, err := runCmd(t, newBenchCmd(), "--runs", "2")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if !strings.Contains(out, "(mean)") {
		t.Errorf("table output missing summary:\n%s", out)
	}
}

func TestBenchCmd_Errors(t *testing.T) {
	tests := []struct {
		name     string
		behavior enginetest.Behavior
		args     []string
		want     string
	}{
		{"zero runs", enginetest.Sum(), []string{"--runs", "0"}, "--runs"},
		{"bad format", enginetest.Sum(), []string{"--format", "xml"}, "--format"},
		{"construction fails", enginetest.FailNew(), []string{"--runs", "1"}, "initialize classifier"},
		{"invoke fails", enginetest.FailInvoke(), []string{"--runs", "1"}, "run 1 failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := stubConfig(t, tt.behavior, "")
			withConfig(t, cfg)

			_, err := runCmd(t, newBenchCmd(), tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v; want it to contain %q", err, tt.want)
			}
		})
	}
}
