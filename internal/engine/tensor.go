package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSizeMismatch is returned when a buffer does not match a tensor's size.
var ErrSizeMismatch = errors.New("tensor size mismatch")

// Tensor is a named float32 tensor owned by an Engine. The shape of an output
// tensor may change after Invoke when the model has symbolic dimensions.
type Tensor struct {
	name  string
	shape []int64
	data  []float32
}

// NewTensor returns a zeroed tensor of the given shape.
func NewTensor(name string, shape []int64) *Tensor {
	return &Tensor{
		name:  name,
		shape: append([]int64(nil), shape...),
		data:  make([]float32, shapeCount(shape)),
	}
}

// WrapTensor returns a tensor that shares data. len(data) must equal the
// element count of shape.
func WrapTensor(name string, shape []int64, data []float32) (*Tensor, error) {
	if n := shapeCount(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrSizeMismatch, shape, n, len(data))
	}

	return &Tensor{name: name, shape: append([]int64(nil), shape...), data: data}, nil
}

func (t *Tensor) Name() string { return t.name }

// Shape returns a copy of the runtime dimensions.
func (t *Tensor) Shape() []int64 { return append([]int64(nil), t.shape...) }

// ElementCount is the product of the runtime dimensions.
func (t *Tensor) ElementCount() int { return len(t.data) }

// Data exposes the backing slice for delegates.
func (t *Tensor) Data() []float32 { return t.data }

// CopyFromBuffer fills the tensor from src. src must hold exactly
// ElementCount values.
func (t *Tensor) CopyFromBuffer(src []float32) error {
	if len(src) != len(t.data) {
		return fmt.Errorf("%w: %s holds %d elements, buffer has %d", ErrSizeMismatch, t.name, len(t.data), len(src))
	}

	copy(t.data, src)

	return nil
}

// CopyToBuffer copies the tensor into dst. dst must hold exactly
// ElementCount values.
func (t *Tensor) CopyToBuffer(dst []float32) error {
	if len(dst) != len(t.data) {
		return fmt.Errorf("%w: %s holds %d elements, buffer has %d", ErrSizeMismatch, t.name, len(t.data), len(dst))
	}

	copy(dst, t.data)

	return nil
}

// Float32s returns a fresh copy of the tensor contents.
func (t *Tensor) Float32s() []float32 {
	return append(make([]float32, 0, len(t.data)), t.data...)
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// reset replaces shape and contents with results read back from a backend.
func (t *Tensor) reset(shape []int64, data []float32) error {
	if n := shapeCount(shape); n != len(data) {
		return fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrSizeMismatch, shape, n, len(data))
	}

	t.shape = append(t.shape[:0], shape...)
	if cap(t.data) >= len(data) {
		t.data = t.data[:len(data)]
	} else {
		t.data = make([]float32, len(data))
	}
	copy(t.data, data)

	return nil
}

func (t *Tensor) String() string {
	dims := make([]string, len(t.shape))
	for i, d := range t.shape {
		dims[i] = strconv.FormatInt(d, 10)
	}

	return fmt.Sprintf("%s[%s]", t.name, strings.Join(dims, ","))
}

func shapeCount(shape []int64) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0
		}
		n *= int(d)
	}

	return n
}
