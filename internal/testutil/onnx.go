package testutil

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX element types used by fixtures.
const (
	ElemFloat int32 = 1
	ElemInt64 int32 = 7
)

// Value is a graph input or output. Negative dims are written as symbolic
// dim_param "N".
type Value struct {
	Name     string
	ElemType int32
	Dims     []int64
}

// Node is a single operator in a fixture graph.
type Node struct {
	Name   string
	OpType string
	Inputs []string
	Output []string
}

// Graph describes a minimal ONNX model to serialize.
type Graph struct {
	IRVersion    int64
	Producer     string
	Opset        int64
	Name         string
	Nodes        []Node
	Initializers []string
	Inputs       []Value
	Outputs      []Value
}

// BuildONNX serializes g as an ONNX ModelProto.
func BuildONNX(g Graph) []byte {
	var graph []byte
	for _, n := range g.Nodes {
		graph = appendMessage(graph, 1, encodeNode(n))
	}
	if g.Name != "" {
		graph = appendString(graph, 2, g.Name)
	}
	for _, name := range g.Initializers {
		var t []byte
		t = appendVarint(t, 1, 1) // dims
		t = appendVarint(t, 2, uint64(ElemFloat))
		t = appendString(t, 8, name)
		graph = appendMessage(graph, 5, t)
	}
	for _, v := range g.Inputs {
		graph = appendMessage(graph, 11, encodeValue(v))
	}
	for _, v := range g.Outputs {
		graph = appendMessage(graph, 12, encodeValue(v))
	}

	var m []byte
	if g.IRVersion != 0 {
		m = appendVarint(m, 1, uint64(g.IRVersion))
	}
	if g.Producer != "" {
		m = appendString(m, 2, g.Producer)
	}
	m = appendMessage(m, 7, graph)
	if g.Opset != 0 {
		var op []byte
		op = appendString(op, 1, "")
		op = appendVarint(op, 2, uint64(g.Opset))
		m = appendMessage(m, 8, op)
	}

	return m
}

// SumModel is a runnable model that reduces a [1,n] float input named
// "input" to a [1,1] output named "output" holding the sum of its elements.
func SumModel(n int64) []byte {
	return BuildONNX(Graph{
		IRVersion: 8,
		Producer:  "audioml-test",
		Opset:     13,
		Name:      "sum",
		Nodes: []Node{{
			Name:   "reduce",
			OpType: "ReduceSum",
			Inputs: []string{"input"},
			Output: []string{"output"},
		}},
		Inputs:  []Value{{Name: "input", ElemType: ElemFloat, Dims: []int64{1, n}}},
		Outputs: []Value{{Name: "output", ElemType: ElemFloat, Dims: []int64{1, 1}}},
	})
}

// IdentityModel is a runnable model that copies a [1,n] float input to its
// output unchanged.
func IdentityModel(n int64) []byte {
	return BuildONNX(Graph{
		IRVersion: 8,
		Producer:  "audioml-test",
		Opset:     13,
		Name:      "identity",
		Nodes: []Node{{
			Name:   "copy",
			OpType: "Identity",
			Inputs: []string{"input"},
			Output: []string{"output"},
		}},
		Inputs:  []Value{{Name: "input", ElemType: ElemFloat, Dims: []int64{1, n}}},
		Outputs: []Value{{Name: "output", ElemType: ElemFloat, Dims: []int64{1, n}}},
	})
}

func encodeNode(n Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendString(b, 1, in)
	}
	for _, out := range n.Output {
		b = appendString(b, 2, out)
	}
	if n.Name != "" {
		b = appendString(b, 3, n.Name)
	}
	b = appendString(b, 4, n.OpType)

	return b
}

func encodeValue(v Value) []byte {
	var shape []byte
	for _, d := range v.Dims {
		var dim []byte
		if d < 0 {
			dim = appendString(dim, 2, "N")
		} else {
			dim = appendVarint(dim, 1, uint64(d))
		}
		shape = appendMessage(shape, 1, dim)
	}

	var tensor []byte
	tensor = appendVarint(tensor, 1, uint64(v.ElemType))
	tensor = appendMessage(tensor, 2, shape)

	var typ []byte
	typ = appendMessage(typ, 1, tensor)

	var b []byte
	b = appendString(b, 1, v.Name)
	b = appendMessage(b, 2, typ)

	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
