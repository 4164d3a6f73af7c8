package model

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto. Only the fields needed to describe graph
// I/O are decoded; everything else is skipped on the wire.
const (
	fieldModelIRVersion   protowire.Number = 1
	fieldModelProducer    protowire.Number = 2
	fieldModelGraph       protowire.Number = 7
	fieldModelOpsetImport protowire.Number = 8

	fieldOpsetDomain  protowire.Number = 1
	fieldOpsetVersion protowire.Number = 2

	fieldGraphName        protowire.Number = 2
	fieldGraphInitializer protowire.Number = 5
	fieldGraphInput       protowire.Number = 11
	fieldGraphOutput      protowire.Number = 12

	fieldTensorProtoName protowire.Number = 8

	fieldValueInfoName protowire.Number = 1
	fieldValueInfoType protowire.Number = 2

	fieldTypeTensor protowire.Number = 1

	fieldTensorTypeElem  protowire.Number = 1
	fieldTensorTypeShape protowire.Number = 2

	fieldShapeDim protowire.Number = 1

	fieldDimValue protowire.Number = 1
	fieldDimParam protowire.Number = 2
)

type modelHeader struct {
	irVersion int64
	producer  string
	opset     int64
	graph     string
	inputs    []TensorInfo
	outputs   []TensorInfo
}

// wireField is one decoded field. Bytes is set for length-delimited fields,
// Varint for varint fields; other wire types are skipped before visiting.
type wireField struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

func walk(msg string, data []byte, visit func(f wireField) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %s tag: %v", ErrMalformed, msg, protowire.ParseError(n))
		}
		data = data[n:]

		f := wireField{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return fmt.Errorf("%w: %s field %d: %v", ErrMalformed, msg, num, protowire.ParseError(m))
			}
			f.Varint = v
			n = m
		case protowire.BytesType:
			b, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return fmt.Errorf("%w: %s field %d: %v", ErrMalformed, msg, num, protowire.ParseError(m))
			}
			f.Bytes = b
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %s field %d: %v", ErrMalformed, msg, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		data = data[n:]

		if err := visit(f); err != nil {
			return err
		}
	}

	return nil
}

func parseModel(data []byte) (modelHeader, error) {
	var h modelHeader
	var graph []byte
	sawGraph := false

	err := walk("ModelProto", data, func(f wireField) error {
		switch {
		case f.Num == fieldModelIRVersion && f.Type == protowire.VarintType:
			h.irVersion = int64(f.Varint)
		case f.Num == fieldModelProducer && f.Type == protowire.BytesType:
			h.producer = string(f.Bytes)
		case f.Num == fieldModelGraph && f.Type == protowire.BytesType:
			graph = f.Bytes
			sawGraph = true
		case f.Num == fieldModelOpsetImport && f.Type == protowire.BytesType:
			domain, version, err := parseOpset(f.Bytes)
			if err != nil {
				return err
			}
			if domain == "" || domain == "ai.onnx" {
				h.opset = version
			}
		}
		return nil
	})
	if err != nil {
		return modelHeader{}, err
	}

	if h.irVersion <= 0 {
		return modelHeader{}, fmt.Errorf("%w: missing ir_version", ErrMalformed)
	}
	if !sawGraph {
		return modelHeader{}, fmt.Errorf("%w: missing graph", ErrMalformed)
	}

	if err := parseGraph(graph, &h); err != nil {
		return modelHeader{}, err
	}

	if len(h.inputs) == 0 {
		return modelHeader{}, fmt.Errorf("%w: graph has no inputs", ErrMalformed)
	}
	if len(h.outputs) == 0 {
		return modelHeader{}, fmt.Errorf("%w: graph has no outputs", ErrMalformed)
	}

	return h, nil
}

func parseOpset(data []byte) (string, int64, error) {
	var domain string
	var version int64

	err := walk("OperatorSetIdProto", data, func(f wireField) error {
		switch {
		case f.Num == fieldOpsetDomain && f.Type == protowire.BytesType:
			domain = string(f.Bytes)
		case f.Num == fieldOpsetVersion && f.Type == protowire.VarintType:
			version = int64(f.Varint)
		}
		return nil
	})

	return domain, version, err
}

func parseGraph(data []byte, h *modelHeader) error {
	initializers := make(map[string]struct{})
	var inputs []TensorInfo

	err := walk("GraphProto", data, func(f wireField) error {
		if f.Type != protowire.BytesType {
			return nil
		}
		switch f.Num {
		case fieldGraphName:
			h.graph = string(f.Bytes)
		case fieldGraphInitializer:
			name, err := parseTensorProtoName(f.Bytes)
			if err != nil {
				return err
			}
			initializers[name] = struct{}{}
		case fieldGraphInput:
			info, err := parseValueInfo(f.Bytes)
			if err != nil {
				return err
			}
			inputs = append(inputs, info)
		case fieldGraphOutput:
			info, err := parseValueInfo(f.Bytes)
			if err != nil {
				return err
			}
			h.outputs = append(h.outputs, info)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Before IR v4 initializers were also listed as graph inputs.
	for _, in := range inputs {
		if _, ok := initializers[in.Name]; ok {
			continue
		}
		h.inputs = append(h.inputs, in)
	}

	return nil
}

func parseTensorProtoName(data []byte) (string, error) {
	var name string
	err := walk("TensorProto", data, func(f wireField) error {
		if f.Num == fieldTensorProtoName && f.Type == protowire.BytesType {
			name = string(f.Bytes)
		}
		return nil
	})

	return name, err
}

func parseValueInfo(data []byte) (TensorInfo, error) {
	var info TensorInfo

	err := walk("ValueInfoProto", data, func(f wireField) error {
		if f.Type != protowire.BytesType {
			return nil
		}
		switch f.Num {
		case fieldValueInfoName:
			info.Name = string(f.Bytes)
		case fieldValueInfoType:
			return walk("TypeProto", f.Bytes, func(tf wireField) error {
				if tf.Num == fieldTypeTensor && tf.Type == protowire.BytesType {
					return parseTensorType(tf.Bytes, &info)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return TensorInfo{}, err
	}

	if info.Name == "" {
		return TensorInfo{}, fmt.Errorf("%w: value info without name", ErrMalformed)
	}

	return info, nil
}

func parseTensorType(data []byte, info *TensorInfo) error {
	return walk("TypeProto.Tensor", data, func(f wireField) error {
		switch {
		case f.Num == fieldTensorTypeElem && f.Type == protowire.VarintType:
			info.ElemType = ElemType(int32(f.Varint))
		case f.Num == fieldTensorTypeShape && f.Type == protowire.BytesType:
			info.Shape = []int64{}
			return walk("TensorShapeProto", f.Bytes, func(sf wireField) error {
				if sf.Num != fieldShapeDim || sf.Type != protowire.BytesType {
					return nil
				}
				dim, err := parseDim(sf.Bytes)
				if err != nil {
					return err
				}
				info.Shape = append(info.Shape, dim)
				return nil
			})
		}
		return nil
	})
}

func parseDim(data []byte) (int64, error) {
	dim := DynamicDim
	err := walk("Dimension", data, func(f wireField) error {
		switch {
		case f.Num == fieldDimValue && f.Type == protowire.VarintType:
			if v := int64(f.Varint); v > 0 {
				dim = v
			}
		case f.Num == fieldDimParam && f.Type == protowire.BytesType:
			dim = DynamicDim
		}
		return nil
	})

	return dim, err
}
