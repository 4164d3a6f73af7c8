package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-audioml/internal/engine/enginetest"
	"github.com/example/go-audioml/internal/server"
	json "github.com/goccy/go-json"
)

func TestModelInspect_Text(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), `["speech","music"]`)
	withConfig(t, cfg)

	out, err := runCmd(t, newModelInspectCmd())
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	for _, want := range []string{"classifier.onnx", "opset:    13", "input:float32[1,512]", "output:float32[1,1]", "1: music"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestModelInspect_JSONWithExplicitPath(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	path := cfg.Paths.ModelPath
	activeCfg.Paths.ModelPath = "models/unused.onnx"

	out, err := runCmd(t, newModelInspectCmd(), path, "--json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var info server.ModelInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if info.Name != "classifier.onnx" || info.IRVersion != 8 || len(info.SHA256) != 64 {
		t.Errorf("info = %+v", info)
	}
	if len(info.Inputs) != 1 || info.Inputs[0].Type != "float32" {
		t.Errorf("inputs = %+v", info.Inputs)
	}
}

func TestModelInspect_MissingModel(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	if _, err := runCmd(t, newModelInspectCmd(), "/nonexistent/model.onnx"); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestModelVerify_PassesWithStubEngine(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	out, err := runCmd(t, newModelVerifyCmd())
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}

	for _, want := range []string{"parsed classifier.onnx", "output output [1 1]", "model verification passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("verify output missing %q:\n%s", want, out)
		}
	}
}

func TestModelVerify_InvalidEngineFlag(t *testing.T) {
	cfg, _ := stubConfig(t, enginetest.Sum(), "")
	withConfig(t, cfg)

	_, err := runCmd(t, newModelVerifyCmd(), "--engine", "bogus")
	if err == nil || !strings.Contains(err.Error(), "invalid delegate") {
		t.Fatalf("expected invalid delegate error, got: %v", err)
	}
}

func TestVerifyModel_Failures(t *testing.T) {
	t.Run("missing model", func(t *testing.T) {
		cfg, _ := stubConfig(t, enginetest.Sum(), "")
		cfg.Paths.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

		err := verifyModel(context.Background(), cfg, &strings.Builder{})
		if err == nil || !strings.Contains(err.Error(), "model verify failed") {
			t.Fatalf("expected wrapped verify error, got: %v", err)
		}
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		cfg, _ := stubConfig(t, enginetest.Sum(), "")
		manifest := `{"model":"classifier.onnx","sha256":"` + strings.Repeat("b", 64) + `"}`
		mfPath := filepath.Join(filepath.Dir(cfg.Paths.ModelPath), "classifier.json")
		if err := os.WriteFile(mfPath, []byte(manifest), 0o600); err != nil {
			t.Fatal(err)
		}

		err := verifyModel(context.Background(), cfg, &strings.Builder{})
		if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
			t.Fatalf("expected checksum mismatch, got: %v", err)
		}
	})

	t.Run("invoke fails", func(t *testing.T) {
		cfg, _ := stubConfig(t, enginetest.FailInvoke(), "")

		err := verifyModel(context.Background(), cfg, &strings.Builder{})
		if err == nil || !strings.Contains(err.Error(), "invoke") {
			t.Fatalf("expected invoke failure, got: %v", err)
		}
	})
}
