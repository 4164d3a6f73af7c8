// Package model loads serialized ONNX classifier models and exposes their
// input/output tensor descriptions to inference engines.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	// ErrEmptyModel is returned for a zero-length model source.
	ErrEmptyModel = errors.New("model source is empty")
	// ErrMalformed is returned when the bytes are not a usable ONNX model.
	ErrMalformed = errors.New("malformed ONNX model")
	// ErrClosed is returned by accessors on a released model.
	ErrClosed = errors.New("model is closed")
)

// Model is a parsed, immutable model description. Engines read its bytes or
// path to build sessions; the Model must outlive every engine built from it.
type Model struct {
	name   string
	path   string
	sha256 string

	irVersion int64
	producer  string
	opset     int64
	graph     string
	inputs    []TensorInfo
	outputs   []TensorInfo

	mu   sync.RWMutex
	data []byte
}

// Load reads and parses the model file at path.
func Load(path string) (*Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	m, err := LoadBytes(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	m.path = path

	return m, nil
}

// LoadBytes parses an in-memory model. The Model takes ownership of data.
func LoadBytes(name string, data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, ErrEmptyModel
	}

	h, err := parseModel(data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)

	return &Model{
		name:      name,
		sha256:    hex.EncodeToString(sum[:]),
		irVersion: h.irVersion,
		producer:  h.producer,
		opset:     h.opset,
		graph:     h.graph,
		inputs:    h.inputs,
		outputs:   h.outputs,
		data:      data,
	}, nil
}

// Name returns the file name (or caller-supplied name) of the model.
func (m *Model) Name() string { return m.name }

// Path returns the file the model was loaded from, or "" for in-memory models.
func (m *Model) Path() string { return m.path }

// SHA256 returns the hex checksum of the serialized model.
func (m *Model) SHA256() string { return m.sha256 }

// IRVersion is the ONNX IR version recorded in the model.
func (m *Model) IRVersion() int64 { return m.irVersion }

// Producer names the tool that exported the model.
func (m *Model) Producer() string { return m.producer }

// Opset returns the default-domain operator set version, or 0 if absent.
func (m *Model) Opset() int64 { return m.opset }

// GraphName is the name of the main graph.
func (m *Model) GraphName() string { return m.graph }

// Inputs returns the graph inputs that are not backed by initializers.
func (m *Model) Inputs() []TensorInfo { return cloneInfos(m.inputs) }

// Outputs returns the graph outputs.
func (m *Model) Outputs() []TensorInfo { return cloneInfos(m.outputs) }

// Data returns the serialized model bytes. The slice must not be modified.
func (m *Model) Data() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrClosed
	}

	return m.data, nil
}

// Close drops the model bytes. Safe to call more than once.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
}

// Closed reports whether Close has been called.
func (m *Model) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.data == nil
}

func (m *Model) String() string {
	return fmt.Sprintf("%s (ir=%d opset=%d producer=%q inputs=%s outputs=%s)",
		m.name, m.irVersion, m.opset, m.producer, joinInfos(m.inputs), joinInfos(m.outputs))
}

func cloneInfos(in []TensorInfo) []TensorInfo {
	out := make([]TensorInfo, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Shape = append([]int64(nil), t.Shape...)
	}

	return out
}

func joinInfos(in []TensorInfo) string {
	parts := make([]string, 0, len(in))
	for _, t := range in {
		parts = append(parts, t.String())
	}

	return "[" + strings.Join(parts, ", ") + "]"
}
