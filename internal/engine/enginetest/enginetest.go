// Package enginetest provides deterministic in-process engines for tests
// that must not depend on an ONNX Runtime installation.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
)

// Behavior controls what a stub engine does.
type Behavior struct {
	// Compute fills outputs from inputs. Nil leaves outputs untouched.
	Compute func(inputs, outputs []*engine.Tensor) error
	// OutputShape, when set, replaces the model's first output shape.
	OutputShape []int64
	// NoOutputs allocates no output tensors.
	NoOutputs bool
	NewErr    error
	AllocErr  error
	InvokeErr error
	Panic     bool
}

// Sum writes the sum of input 0 into element 0 of output 0.
func Sum() Behavior {
	return Behavior{
		OutputShape: []int64{1, 1},
		Compute: func(in, out []*engine.Tensor) error {
			var s float32
			for _, v := range in[0].Data() {
				s += v
			}
			out[0].Data()[0] = s
			return nil
		},
	}
}

// Classes produces a fixed probability vector of n classes, ascending and
// summing to 1, independent of the input.
func Classes(n int) Behavior {
	return Behavior{
		OutputShape: []int64{1, int64(n)},
		Compute: func(_, out []*engine.Tensor) error {
			total := float32(n * (n + 1) / 2)
			for i := range out[0].Data() {
				out[0].Data()[i] = float32(i+1) / total
			}
			return nil
		},
	}
}

// Echo copies input 0 into output 0, which takes input 0's shape.
func Echo() Behavior {
	return Behavior{
		Compute: func(in, out []*engine.Tensor) error {
			return out[0].CopyFromBuffer(in[0].Data())
		},
	}
}

var ErrInjected = errors.New("injected failure")

// FailInvoke makes every Invoke return ErrInjected.
func FailInvoke() Behavior { return Behavior{InvokeErr: ErrInjected} }

// FailAlloc makes AllocateTensors return ErrInjected.
func FailAlloc() Behavior { return Behavior{AllocErr: ErrInjected} }

// FailNew makes engine construction return ErrInjected.
func FailNew() Behavior { return Behavior{NewErr: ErrInjected} }

// PanicOnInvoke makes Invoke panic inside the engine.
func PanicOnInvoke() Behavior { return Behavior{Panic: true} }

var seq atomic.Int64

// Delegate is a registered stub delegate and the engines it has built.
type Delegate struct {
	name     string
	behavior Behavior

	mu      sync.Mutex
	engines []*Stub
}

// Install registers a stub delegate under a unique name for the duration of
// the test.
func Install(tb testing.TB, b Behavior) *Delegate {
	tb.Helper()

	d := &Delegate{
		name:     fmt.Sprintf("stub-%d", seq.Add(1)),
		behavior: b,
	}
	engine.Register(d.name, d.factory)
	tb.Cleanup(func() { engine.Unregister(d.name) })

	return d
}

func (d *Delegate) Name() string { return d.name }

// Config returns an engine config selecting this delegate.
func (d *Delegate) Config() engine.Config {
	return engine.Config{Threads: 1, InterOpThreads: 1, Delegate: d.name}
}

// Engines returns every engine built so far, in construction order.
func (d *Delegate) Engines() []*Stub {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*Stub(nil), d.engines...)
}

// Last returns the most recently built engine, or nil.
func (d *Delegate) Last() *Stub {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.engines) == 0 {
		return nil
	}

	return d.engines[len(d.engines)-1]
}

func (d *Delegate) factory(m *model.Model, cfg engine.Config) (engine.Engine, error) {
	if d.behavior.NewErr != nil {
		return nil, d.behavior.NewErr
	}

	s := &Stub{m: m, cfg: cfg, b: d.behavior}

	d.mu.Lock()
	d.engines = append(d.engines, s)
	d.mu.Unlock()

	return s, nil
}

// Stub is an in-process engine.Engine.
type Stub struct {
	m   *model.Model
	cfg engine.Config
	b   Behavior

	mu          sync.Mutex
	inputs      []*engine.Tensor
	outputs     []*engine.Tensor
	allocated   bool
	closed      int
	modelOpen   bool
	invocations int
	lastInput   []float32
}

func (s *Stub) AllocateTensors() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed > 0 {
		return engine.ErrClosed
	}
	if s.b.AllocErr != nil {
		return s.b.AllocErr
	}

	in, out, err := engine.Allocate(s.m)
	if err != nil {
		return err
	}

	switch {
	case s.b.NoOutputs:
		out = nil
	case s.b.OutputShape != nil:
		name := "output"
		if len(out) > 0 {
			name = out[0].Name()
		}
		out = []*engine.Tensor{engine.NewTensor(name, s.b.OutputShape)}
	case len(in) > 0 && len(out) > 0 && s.b.Compute != nil:
		out[0] = engine.NewTensor(out[0].Name(), in[0].Shape())
	}

	s.inputs, s.outputs, s.allocated = in, out, true

	return nil
}

func (s *Stub) Invoke(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed > 0 {
		return engine.ErrClosed
	}
	if !s.allocated {
		return engine.ErrNotAllocated
	}

	s.invocations++
	if len(s.inputs) > 0 {
		s.lastInput = s.inputs[0].Float32s()
	}

	if s.b.Panic {
		panic("stub engine panic")
	}
	if s.b.InvokeErr != nil {
		return s.b.InvokeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.b.Compute != nil {
		return s.b.Compute(s.inputs, s.outputs)
	}

	return nil
}

func (s *Stub) InputTensor(i int) *engine.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allocated || s.closed > 0 || i < 0 || i >= len(s.inputs) {
		return nil
	}

	return s.inputs[i]
}

func (s *Stub) OutputTensor(i int) *engine.Tensor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.allocated || s.closed > 0 || i < 0 || i >= len(s.outputs) {
		return nil
	}

	return s.outputs[i]
}

func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed == 0 {
		s.modelOpen = !s.m.Closed()
	}
	s.closed++

	return nil
}

// Config returns the configuration the engine was built with.
func (s *Stub) Config() engine.Config { return s.cfg }

// Invocations counts Invoke calls that passed the allocation check.
func (s *Stub) Invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.invocations
}

// LastInput is a copy of input 0 as seen by the most recent Invoke.
func (s *Stub) LastInput() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float32(nil), s.lastInput...)
}

// CloseCount reports how many times Close was called.
func (s *Stub) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// ModelOpenAtClose reports whether the model still held its bytes when Close
// was first called.
func (s *Stub) ModelOpenAtClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.modelOpen
}
