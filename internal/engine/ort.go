//go:build !windows && !(js && wasm)

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/model"
	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

func init() {
	Register(config.DelegateORT, newORTEngine)
}

// ortEngine runs a model through ONNX Runtime loaded with purego.
type ortEngine struct {
	m   *model.Model
	cfg Config
	rt  RuntimeInfo

	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session

	inputs    []*Tensor
	outputs   []*Tensor
	allocated bool
	closed    bool
}

func newORTEngine(m *model.Model, cfg Config) (Engine, error) {
	rt, err := resolveRuntime()
	if err != nil {
		return nil, fmt.Errorf("ort delegate: %w", err)
	}

	return &ortEngine{m: m, cfg: cfg, rt: rt}, nil
}

func (e *ortEngine) AllocateTensors() error {
	if e.closed {
		return ErrClosed
	}
	if e.allocated {
		return nil
	}

	inputs, outputs, err := Allocate(e.m)
	if err != nil {
		return err
	}

	data, err := e.m.Data()
	if err != nil {
		return err
	}

	runtime, err := sharedRuntime(e.rt)
	if err != nil {
		return err
	}

	env, err := runtime.NewEnv("audioml-"+e.m.Name(), ort.LoggingLevelWarning)
	if err != nil {
		return fmt.Errorf("create ONNX Runtime env: %w", err)
	}

	session, err := runtime.NewSessionFromReader(env, bytes.NewReader(data), sessionOptions(e.cfg))
	if err != nil {
		env.Close()
		return fmt.Errorf("ort session for %q: %w", e.m.Name(), err)
	}

	e.runtime = runtime
	e.env = env
	e.session = session
	e.inputs = inputs
	e.outputs = outputs
	e.allocated = true

	return nil
}

func (e *ortEngine) Invoke(ctx context.Context) (err error) {
	if e.closed {
		return ErrClosed
	}
	if !e.allocated {
		return ErrNotAllocated
	}

	defer recoverInvoke(&err)

	in := make(map[string]*ort.Value, len(e.inputs))
	defer closeORTValues(in)

	for _, t := range e.inputs {
		v, err := ort.NewTensorValue(e.runtime, t.Data(), t.Shape())
		if err != nil {
			return fmt.Errorf("input %q: %w", t.Name(), err)
		}
		in[t.Name()] = v
	}

	out, err := e.session.Run(ctx, in)
	if err != nil {
		return fmt.Errorf("run %q: %w", e.m.Name(), err)
	}
	defer closeORTValues(out)

	for _, t := range e.outputs {
		v, ok := out[t.Name()]
		if !ok || v == nil {
			return fmt.Errorf("output %q missing from session results", t.Name())
		}

		elem, err := v.GetTensorElementType()
		if err != nil {
			return fmt.Errorf("output %q element type: %w", t.Name(), err)
		}
		if elem != ort.ONNXTensorElementDataTypeFloat {
			return fmt.Errorf("output %q: unsupported element type %d", t.Name(), elem)
		}

		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return fmt.Errorf("output %q data: %w", t.Name(), err)
		}

		if err := t.reset(shape, data); err != nil {
			return fmt.Errorf("output %q: %w", t.Name(), err)
		}
	}

	return nil
}

func (e *ortEngine) InputTensor(i int) *Tensor {
	if !e.allocated || e.closed {
		return nil
	}

	return tensorAt(e.inputs, i)
}

func (e *ortEngine) OutputTensor(i int) *Tensor {
	if !e.allocated || e.closed {
		return nil
	}

	return tensorAt(e.outputs, i)
}

// Close releases the session and env. The shared runtime stays loaded until
// Shutdown. Safe to call multiple times.
func (e *ortEngine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if e.session != nil {
		e.session.Close()
		e.session = nil
	}

	if e.env != nil {
		e.env.Close()
		e.env = nil
	}

	e.runtime = nil
	e.inputs, e.outputs = nil, nil

	return nil
}

type ortRuntimeKey struct {
	path string
	api  uint32
}

var (
	ortRuntimeMu sync.Mutex
	ortRuntimes  = map[ortRuntimeKey]*ort.Runtime{}
)

// sharedRuntime returns the process-wide purego runtime for info, loading
// the library on first use. Shutdown closes every runtime it handed out.
func sharedRuntime(info RuntimeInfo) (*ort.Runtime, error) {
	ortRuntimeMu.Lock()
	defer ortRuntimeMu.Unlock()

	key := ortRuntimeKey{path: info.LibraryPath, api: info.APIVersion}
	if rt, ok := ortRuntimes[key]; ok {
		return rt, nil
	}

	rt, err := ort.NewRuntime(info.LibraryPath, info.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("initialize ONNX Runtime (lib=%q api=%d): %w", info.LibraryPath, info.APIVersion, err)
	}

	if len(ortRuntimes) == 0 {
		onShutdown(closeSharedRuntimes)
	}
	ortRuntimes[key] = rt

	return rt, nil
}

func closeSharedRuntimes() error {
	ortRuntimeMu.Lock()
	defer ortRuntimeMu.Unlock()

	var errs []error
	for key, rt := range ortRuntimes {
		if err := rt.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(ortRuntimes, key)
	}

	return errors.Join(errs...)
}

// sessionOptions maps cfg onto purego session options. InterOpThreads has
// no purego setting and is honoured by the ort-cgo delegate only.
func sessionOptions(cfg Config) *ort.SessionOptions {
	return &ort.SessionOptions{IntraOpNumThreads: cfg.Threads}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
