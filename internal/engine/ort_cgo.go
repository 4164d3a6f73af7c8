//go:build cgo && !(js && wasm)

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/model"
	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	Register(config.DelegateORTCgo, newCgoEngine)
}

var (
	cgoInitMu sync.Mutex
	cgoInitOK bool
)

// initCgoEnvironment initializes the process-wide yalue environment on first
// use and registers its teardown with Shutdown.
func initCgoEnvironment(libPath string) error {
	cgoInitMu.Lock()
	defer cgoInitMu.Unlock()

	if cgoInitOK && ort.IsInitialized() {
		return nil
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize ONNX Runtime environment (lib=%q): %w", libPath, err)
	}

	cgoInitOK = true
	onShutdown(func() error {
		cgoInitMu.Lock()
		defer cgoInitMu.Unlock()

		cgoInitOK = false

		return ort.DestroyEnvironment()
	})

	return nil
}

// cgoEngine runs a model through yalue/onnxruntime_go. Input and output
// tensors are bound to the session once and reused by every Invoke.
type cgoEngine struct {
	m   *model.Model
	cfg Config
	rt  RuntimeInfo

	session    *ort.AdvancedSession
	ortInputs  []*ort.Tensor[float32]
	ortOutputs []*ort.Tensor[float32]

	inputs    []*Tensor
	outputs   []*Tensor
	allocated bool
	closed    bool
}

func newCgoEngine(m *model.Model, cfg Config) (Engine, error) {
	rt, err := resolveRuntime()
	if err != nil {
		return nil, fmt.Errorf("ort-cgo delegate: %w", err)
	}

	return &cgoEngine{m: m, cfg: cfg, rt: rt}, nil
}

func (e *cgoEngine) AllocateTensors() error {
	if e.closed {
		return ErrClosed
	}
	if e.allocated {
		return nil
	}

	if err := initCgoEnvironment(e.rt.LibraryPath); err != nil {
		return err
	}

	data, err := e.m.Data()
	if err != nil {
		return err
	}

	specIn, specOut, err := Allocate(e.m)
	if err != nil {
		return err
	}

	var ok bool
	defer func() {
		if !ok {
			e.destroyTensors()
		}
	}()

	inNames := make([]string, 0, len(specIn))
	inValues := make([]ort.Value, 0, len(specIn))
	for _, s := range specIn {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Shape()...))
		if err != nil {
			return fmt.Errorf("input %q: %w", s.Name(), err)
		}
		e.ortInputs = append(e.ortInputs, t)

		wrapped, err := WrapTensor(s.Name(), s.Shape(), t.GetData())
		if err != nil {
			return err
		}
		e.inputs = append(e.inputs, wrapped)
		inNames = append(inNames, s.Name())
		inValues = append(inValues, t)
	}

	outNames := make([]string, 0, len(specOut))
	outValues := make([]ort.Value, 0, len(specOut))
	for _, s := range specOut {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Shape()...))
		if err != nil {
			return fmt.Errorf("output %q: %w", s.Name(), err)
		}
		e.ortOutputs = append(e.ortOutputs, t)

		wrapped, err := WrapTensor(s.Name(), s.Shape(), t.GetData())
		if err != nil {
			return err
		}
		e.outputs = append(e.outputs, wrapped)
		outNames = append(outNames, s.Name())
		outValues = append(outValues, t)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()

	if err := opts.SetIntraOpNumThreads(e.cfg.Threads); err != nil {
		return fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(e.cfg.InterOpThreads); err != nil {
		return fmt.Errorf("set inter-op threads: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(data, inNames, outNames, inValues, outValues, opts)
	if err != nil {
		return fmt.Errorf("ort session for %q: %w", e.m.Name(), err)
	}

	e.session = session
	e.allocated = true
	ok = true

	return nil
}

// Invoke runs the bound session. The context is not observed by this
// delegate; yalue sessions cannot be interrupted mid-run.
func (e *cgoEngine) Invoke(_ context.Context) (err error) {
	if e.closed {
		return ErrClosed
	}
	if !e.allocated {
		return ErrNotAllocated
	}

	defer recoverInvoke(&err)

	if err := e.session.Run(); err != nil {
		return fmt.Errorf("run %q: %w", e.m.Name(), err)
	}

	return nil
}

func (e *cgoEngine) InputTensor(i int) *Tensor {
	if !e.allocated || e.closed {
		return nil
	}

	return tensorAt(e.inputs, i)
}

func (e *cgoEngine) OutputTensor(i int) *Tensor {
	if !e.allocated || e.closed {
		return nil
	}

	return tensorAt(e.outputs, i)
}

// Close destroys the session, then its tensors. Safe to call multiple times.
func (e *cgoEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.session != nil {
		errs = append(errs, e.session.Destroy())
		e.session = nil
	}

	errs = append(errs, e.destroyTensors())

	return errors.Join(errs...)
}

func (e *cgoEngine) destroyTensors() error {
	var errs []error
	for _, t := range e.ortInputs {
		errs = append(errs, t.Destroy())
	}
	for _, t := range e.ortOutputs {
		errs = append(errs, t.Destroy())
	}

	e.ortInputs, e.ortOutputs = nil, nil
	e.inputs, e.outputs = nil, nil

	return errors.Join(errs...)
}
