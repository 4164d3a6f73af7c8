package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ElemType is an ONNX TensorProto.DataType value.
type ElemType int32

const (
	ElemUndefined ElemType = 0
	ElemFloat     ElemType = 1
	ElemUint8     ElemType = 2
	ElemInt8      ElemType = 3
	ElemInt16     ElemType = 5
	ElemInt32     ElemType = 6
	ElemInt64     ElemType = 7
	ElemBool      ElemType = 9
	ElemFloat16   ElemType = 10
	ElemDouble    ElemType = 11
)

func (e ElemType) String() string {
	switch e {
	case ElemFloat:
		return "float32"
	case ElemUint8:
		return "uint8"
	case ElemInt8:
		return "int8"
	case ElemInt16:
		return "int16"
	case ElemInt32:
		return "int32"
	case ElemInt64:
		return "int64"
	case ElemBool:
		return "bool"
	case ElemFloat16:
		return "float16"
	case ElemDouble:
		return "float64"
	case ElemUndefined:
		return "undefined"
	default:
		return "elem(" + strconv.Itoa(int(e)) + ")"
	}
}

// DynamicDim marks a symbolic or unknown dimension.
const DynamicDim int64 = -1

// TensorInfo describes one graph input or output.
type TensorInfo struct {
	Name     string
	ElemType ElemType
	Shape    []int64 // DynamicDim for symbolic dimensions
}

// Dynamic reports whether any dimension is symbolic.
func (t TensorInfo) Dynamic() bool {
	for _, d := range t.Shape {
		if d < 0 {
			return true
		}
	}

	return false
}

// ResolvedShape returns Shape with symbolic dimensions bound to 1, which is
// how batch and similar dims are fixed for single-window inference.
func (t TensorInfo) ResolvedShape() []int64 {
	out := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		if d < 1 {
			d = 1
		}
		out[i] = d
	}

	return out
}

// ElementCount returns the number of elements in ResolvedShape.
func (t TensorInfo) ElementCount() int64 {
	n := int64(1)
	for _, d := range t.ResolvedShape() {
		n *= d
	}

	return n
}

func (t TensorInfo) String() string {
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		if d < 0 {
			dims[i] = "?"
			continue
		}
		dims[i] = strconv.FormatInt(d, 10)
	}

	return fmt.Sprintf("%s:%s[%s]", t.Name, t.ElemType, strings.Join(dims, ","))
}
