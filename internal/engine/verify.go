package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/go-audioml/internal/model"
)

// OutputSummary reports the runtime shape and value range of one output.
type OutputSummary struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
}

// VerifyReport is the result of a smoke inference.
type VerifyReport struct {
	Model    string          `json:"model"`
	Delegate string          `json:"delegate"`
	Inputs   []string        `json:"inputs"`
	Outputs  []OutputSummary `json:"outputs"`
	Duration time.Duration   `json:"duration_ns"`
}

// Verify builds an engine for m, runs one inference on all-zero inputs, and
// checks that every output is present and finite.
func Verify(ctx context.Context, m *model.Model, cfg Config) (VerifyReport, error) {
	report := VerifyReport{Model: m.Name(), Delegate: cfg.Delegate}

	e, err := New(m, cfg)
	if err != nil {
		return report, err
	}
	defer func() { _ = e.Close() }()

	if err := e.AllocateTensors(); err != nil {
		return report, fmt.Errorf("allocate tensors: %w", err)
	}

	for i := 0; ; i++ {
		t := e.InputTensor(i)
		if t == nil {
			break
		}
		t.Fill(0)
		report.Inputs = append(report.Inputs, t.String())
	}

	start := time.Now()
	if err := e.Invoke(ctx); err != nil {
		return report, fmt.Errorf("invoke: %w", err)
	}
	report.Duration = time.Since(start)

	for i := 0; ; i++ {
		t := e.OutputTensor(i)
		if t == nil {
			break
		}

		sum, err := summarize(t)
		if err != nil {
			return report, err
		}
		report.Outputs = append(report.Outputs, sum)
	}

	if len(report.Outputs) == 0 {
		return report, errors.New("model produced no outputs")
	}

	return report, nil
}

func summarize(t *Tensor) (OutputSummary, error) {
	s := OutputSummary{Name: t.Name(), Shape: t.Shape()}

	data := t.Data()
	if len(data) == 0 {
		return s, fmt.Errorf("output %q is empty", t.Name())
	}

	s.Min, s.Max = data[0], data[0]
	for i, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s, fmt.Errorf("output %q has non-finite value at %d", t.Name(), i)
		}
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
	}

	return s, nil
}
