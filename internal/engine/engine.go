// Package engine runs a loaded model through an inference backend.
//
// An Engine is bound to exactly one model.Model and one Config. Callers must
// call AllocateTensors once before the first Invoke; an engine whose
// allocation failed rejects every Invoke with ErrNotAllocated. Engines are
// not safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/model"
)

var (
	ErrNotAllocated    = errors.New("engine tensors not allocated")
	ErrUnknownDelegate = errors.New("unknown engine delegate")
	ErrClosed          = errors.New("engine is closed")
	ErrUnsupported     = errors.New("delegate unavailable in this build")
)

// Engine is the execution context for one model.
type Engine interface {
	// AllocateTensors sizes input and output tensors from the model.
	AllocateTensors() error
	// Invoke runs the model on the current input tensor contents and leaves
	// results in the output tensors.
	Invoke(ctx context.Context) error
	// InputTensor returns input i, or nil if absent or not allocated.
	InputTensor(i int) *Tensor
	// OutputTensor returns output i, or nil if absent or not allocated.
	OutputTensor(i int) *Tensor
	Close() error
}

// Config is the immutable engine configuration.
type Config struct {
	Threads        int
	InterOpThreads int
	Delegate       string
}

// DefaultConfig matches the classifier's shipped defaults: two intra-op
// threads on the purego ONNX Runtime delegate.
func DefaultConfig() Config {
	return Config{
		Threads:        2,
		InterOpThreads: 1,
		Delegate:       config.DelegateORT,
	}
}

// ConfigFrom builds a Config from the runtime section of the app config.
func ConfigFrom(rc config.RuntimeConfig) (Config, error) {
	return NewConfig(rc.Threads, rc.InterOpThreads, rc.Delegate)
}

// NewConfig validates and returns a Config. Zero thread counts take the
// defaults; an empty delegate selects the default delegate.
func NewConfig(threads, interOpThreads int, delegate string) (Config, error) {
	cfg := DefaultConfig()
	if threads != 0 {
		cfg.Threads = threads
	}
	if interOpThreads != 0 {
		cfg.InterOpThreads = interOpThreads
	}
	if delegate != "" {
		cfg.Delegate = delegate
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", c.Threads)
	}
	if c.InterOpThreads < 1 {
		return fmt.Errorf("inter-op threads must be >= 1, got %d", c.InterOpThreads)
	}
	if c.Delegate == "" {
		return errors.New("delegate is required")
	}

	return nil
}

// Factory builds an engine for a delegate. The returned engine has not yet
// allocated its tensors.
type Factory func(m *model.Model, cfg Config) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a delegate available to New. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = f
}

// Unregister removes a delegate.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	delete(registry, name)
}

// Delegates lists registered delegate names in sorted order.
func Delegates() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// New builds an engine for m using the delegate named in cfg.
func New(m *model.Model, cfg Config) (Engine, error) {
	if m == nil {
		return nil, errors.New("model is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registryMu.RLock()
	f, ok := registry[cfg.Delegate]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownDelegate, cfg.Delegate, Delegates())
	}

	return f(m, cfg)
}

// Allocate builds input and output tensors from the model's tensor
// descriptions, binding symbolic dimensions to 1. Only float32 tensors are
// supported.
func Allocate(m *model.Model) (inputs, outputs []*Tensor, err error) {
	build := func(kind string, infos []model.TensorInfo) ([]*Tensor, error) {
		out := make([]*Tensor, 0, len(infos))
		for _, info := range infos {
			if info.ElemType != model.ElemFloat && info.ElemType != model.ElemUndefined {
				return nil, fmt.Errorf("%s %q: unsupported element type %s", kind, info.Name, info.ElemType)
			}
			out = append(out, NewTensor(info.Name, info.ResolvedShape()))
		}
		return out, nil
	}

	inputs, err = build("input", m.Inputs())
	if err != nil {
		return nil, nil, err
	}

	outputs, err = build("output", m.Outputs())
	if err != nil {
		return nil, nil, err
	}

	return inputs, outputs, nil
}

// recoverInvoke converts a backend panic into an error on *err.
func recoverInvoke(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("invoke panicked: %v", r)
	}
}

func tensorAt(ts []*Tensor, i int) *Tensor {
	if i < 0 || i >= len(ts) {
		return nil
	}

	return ts[i]
}
