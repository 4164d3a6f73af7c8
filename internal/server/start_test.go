package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/go-audioml/internal/audio"
	"github.com/example/go-audioml/internal/classifier"
	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/engine/enginetest"
	"github.com/example/go-audioml/internal/testutil"
	json "github.com/goccy/go-json"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	return addr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStart_LifecycleHealthClassifyAndShutdown(t *testing.T) {
	d := enginetest.Install(t, enginetest.Classes(3))

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "classifier.onnx")
	if err := os.WriteFile(modelPath, testutil.SumModel(audio.InputLen), 0o600); err != nil {
		t.Fatal(err)
	}
	manifest := `{"model":"classifier.onnx","labels":["speech","music","noise"]}`
	if err := os.WriteFile(filepath.Join(dir, "classifier.json"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}

	addr := freeAddr(t)

	cfg := config.DefaultConfig()
	cfg.Paths.ModelPath = modelPath
	cfg.Runtime.Delegate = d.Name()
	cfg.Server.ListenAddr = addr
	cfg.Server.Workers = 2

	s := New(cfg, quietLogger()).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	var err error
	for range 100 {
		if err = ProbeHTTP(addr); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never became ready: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/model", addr))
	if err != nil {
		t.Fatalf("GET /model: %v", err)
	}
	var info ModelInfo
	err = json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode /model: %v", err)
	}
	if info.Workers != 2 || info.Delegate != d.Name() || info.Threads != 2 || len(info.Labels) != 3 {
		t.Errorf("model info = %+v", info)
	}
	if len(info.Inputs) != 1 || info.Inputs[0].Name != "input" {
		t.Errorf("inputs = %+v", info.Inputs)
	}

	body := `{"samples":[100,-200,300,-400]}`
	resp, err = client.Post(fmt.Sprintf("http://%s/classify", addr), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /classify: %v", err)
	}
	var cr ClassifyResponse
	err = json.NewDecoder(resp.Body).Decode(&cr)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode /classify: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(cr.Windows) != 1 || cr.Windows[0].Top[0].Label != "noise" || cr.Windows[0].Peak != 400 {
		t.Errorf("classify response = %+v", cr)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	for i, e := range d.Engines() {
		if e.CloseCount() != 1 {
			t.Errorf("engine %d closed %d times; want 1", i, e.CloseCount())
		}
	}
}

func TestStart_FailsForMissingModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.ModelPath = "/nonexistent/classifier.onnx"
	cfg.Server.ListenAddr = freeAddr(t)

	if err := New(cfg, quietLogger()).Start(context.Background()); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestStart_FailsOnChecksumMismatch(t *testing.T) {
	d := enginetest.Install(t, enginetest.Sum())

	dir := t.TempDir()
	modelPath := filepath.Join(dir, "classifier.onnx")
	if err := os.WriteFile(modelPath, testutil.SumModel(audio.InputLen), 0o600); err != nil {
		t.Fatal(err)
	}
	manifest := `{"model":"classifier.onnx","sha256":"` + strings.Repeat("a", 64) + `"}`
	if err := os.WriteFile(filepath.Join(dir, "classifier.json"), []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Paths.ModelPath = modelPath
	cfg.Runtime.Delegate = d.Name()
	cfg.Server.ListenAddr = freeAddr(t)

	err := New(cfg, quietLogger()).Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v; want checksum mismatch", err)
	}
}

func TestPoolClassifier_DescribeEmptyPool(t *testing.T) {
	p := &classifier.Pool{}
	if info := (PoolClassifier{Pool: p}).Describe(); info.Name != "" {
		t.Fatalf("Describe on empty pool = %+v", info)
	}
}
