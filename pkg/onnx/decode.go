package onnx

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto. They are part of the on-disk format and must never change.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelDomain          protowire.Number = 4
	modelModelVersion    protowire.Number = 5
	modelDocString       protowire.Number = 6
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphDocString   protowire.Number = 10
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12
	graphValueInfo   protowire.Number = 13

	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5
	nodeDocString protowire.Number = 6
	nodeDomain    protowire.Number = 7

	valueName      protowire.Number = 1
	valueType      protowire.Number = 2
	valueDocString protowire.Number = 3

	typeTensor     protowire.Number = 1
	typeDenotation protowire.Number = 6

	tensorTypeElem  protowire.Number = 1
	tensorTypeShape protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue      protowire.Number = 1
	dimParam      protowire.Number = 2
	dimDenotation protowire.Number = 3

	tensorDims         protowire.Number = 1
	tensorDataType     protowire.Number = 2
	tensorName         protowire.Number = 8
	tensorRawData      protowire.Number = 9
	tensorExternalData protowire.Number = 13
	tensorDataLocation protowire.Number = 14
)

// field is one decoded tag/value pair. raw covers tag and value and is what gets
// preserved for unknown fields.
type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
	val []byte
}

func wireError(n int) error {
	return fmt.Errorf("%w: %v", ErrCorruptModel, protowire.ParseError(n))
}

func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return wireError(m)
		}
		if err := fn(field{num: num, typ: typ, raw: b[:n+m], val: b[n : n+m]}); err != nil {
			return err
		}
		b = b[n+m:]
	}
	return nil
}

func (f field) wrongType(want protowire.Type) error {
	return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrCorruptModel, f.num, f.typ, want)
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wrongType(protowire.VarintType)
	}
	v, n := protowire.ConsumeVarint(f.val)
	if n < 0 {
		return 0, wireError(n)
	}
	return v, nil
}

func (f field) int64() (int64, error) {
	v, err := f.varint()
	return int64(v), err
}

func (f field) int32() (int32, error) {
	v, err := f.varint()
	return int32(v), err
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wrongType(protowire.BytesType)
	}
	v, n := protowire.ConsumeBytes(f.val)
	if n < 0 {
		return nil, wireError(n)
	}
	return v, nil
}

func (f field) string() (string, error) {
	v, err := f.bytes()
	return string(v), err
}

// Unmarshal decodes an encoded ModelProto. The result never aliases b.
func Unmarshal(b []byte) (*Model, error) {
	m := &Model{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case modelIRVersion:
			m.IRVersion, err = f.int64()
		case modelProducerName:
			m.ProducerName, err = f.string()
		case modelProducerVersion:
			m.ProducerVersion, err = f.string()
		case modelDomain:
			m.Domain, err = f.string()
		case modelModelVersion:
			m.ModelVersion, err = f.int64()
		case modelDocString:
			m.DocString, err = f.string()
		case modelGraph:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				m.Graph, err = decodeGraph(payload)
			}
		case modelOpsetImport:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				var op OpsetID
				op, err = decodeOpset(payload)
				m.OpsetImport = append(m.OpsetImport, op)
			}
		case modelMetadataProps:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				var e StringEntry
				e, err = decodeEntry(payload)
				m.MetadataProps = append(m.MetadataProps, e)
			}
		default:
			m.Unknown = append(m.Unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeOpset(b []byte) (OpsetID, error) {
	var op OpsetID
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case opsetDomain:
			op.Domain, err = f.string()
		case opsetVersion:
			op.Version, err = f.int64()
		}
		return err
	})
	return op, err
}

func decodeEntry(b []byte) (StringEntry, error) {
	var e StringEntry
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case entryKey:
			e.Key, err = f.string()
		case entryValue:
			e.Value, err = f.string()
		}
		return err
	})
	return e, err
}

func decodeGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	err := walk(b, func(f field) error {
		if f.num == graphName || f.num == graphDocString {
			s, err := f.string()
			if f.num == graphName {
				g.Name = s
			} else {
				g.DocString = s
			}
			return err
		}

		var payload []byte
		switch f.num {
		case graphNode, graphInitializer, graphInput, graphOutput, graphValueInfo:
			var err error
			if payload, err = f.bytes(); err != nil {
				return err
			}
		default:
			g.Unknown = append(g.Unknown, f.raw...)
			return nil
		}

		switch f.num {
		case graphNode:
			n, err := decodeNode(payload)
			if err != nil {
				return err
			}
			g.Nodes = append(g.Nodes, n)
		case graphInitializer:
			t, err := decodeTensor(payload)
			if err != nil {
				return err
			}
			g.Initializers = append(g.Initializers, t)
		default:
			vi, err := decodeValueInfo(payload)
			if err != nil {
				return err
			}
			switch f.num {
			case graphInput:
				g.Inputs = append(g.Inputs, vi)
			case graphOutput:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func decodeNode(b []byte) (*Node, error) {
	n := &Node{}
	err := walk(b, func(f field) error {
		var (
			s   string
			err error
		)
		switch f.num {
		case nodeInput:
			s, err = f.string()
			n.Inputs = append(n.Inputs, s)
		case nodeOutput:
			s, err = f.string()
			n.Outputs = append(n.Outputs, s)
		case nodeName:
			n.Name, err = f.string()
		case nodeOpType:
			n.OpType, err = f.string()
		case nodeAttribute:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				n.Attributes = append(n.Attributes, bytes.Clone(payload))
			}
		case nodeDocString:
			n.DocString, err = f.string()
		case nodeDomain:
			n.Domain, err = f.string()
		default:
			n.Unknown = append(n.Unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeValueInfo(b []byte) (*ValueInfo, error) {
	vi := &ValueInfo{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case valueName:
			vi.Name, err = f.string()
		case valueType:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				vi.Type, err = decodeTypeInfo(payload)
			}
		case valueDocString:
			vi.DocString, err = f.string()
		default:
			vi.Unknown = append(vi.Unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return vi, nil
}

func decodeTypeInfo(b []byte) (*TypeInfo, error) {
	ti := &TypeInfo{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case typeTensor:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				ti.Tensor, err = decodeTensorType(payload)
			}
		case typeDenotation:
			ti.Denotation, err = f.string()
		default:
			ti.Unknown = append(ti.Unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ti, nil
}

func decodeTensorType(b []byte) (*TensorType, error) {
	tt := &TensorType{}
	err := walk(b, func(f field) error {
		switch f.num {
		case tensorTypeElem:
			v, err := f.int32()
			tt.ElemType = DataType(v)
			return err
		case tensorTypeShape:
			payload, err := f.bytes()
			if err != nil {
				return err
			}
			tt.Shape, err = decodeShape(payload)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tt, nil
}

func decodeShape(b []byte) (*Shape, error) {
	s := &Shape{Dims: []Dim{}}
	err := walk(b, func(f field) error {
		if f.num != shapeDim {
			return nil
		}
		payload, err := f.bytes()
		if err != nil {
			return err
		}
		d, err := decodeDim(payload)
		if err != nil {
			return err
		}
		s.Dims = append(s.Dims, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decodeDim(b []byte) (Dim, error) {
	var d Dim
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case dimValue:
			d.Value, err = f.int64()
			d.HasValue = true
			d.Param = ""
		case dimParam:
			d.Param, err = f.string()
			d.Value, d.HasValue = 0, false
		case dimDenotation:
			d.Denotation, err = f.string()
		}
		return err
	})
	return d, err
}

func decodeTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case tensorDims:
			t.Dims, err = appendInt64s(t.Dims, f)
		case tensorDataType:
			var v int32
			v, err = f.int32()
			t.DataType = DataType(v)
		case tensorName:
			t.Name, err = f.string()
		case tensorRawData:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				t.RawData = bytes.Clone(payload)
			}
		case tensorExternalData:
			var payload []byte
			if payload, err = f.bytes(); err == nil {
				var e StringEntry
				e, err = decodeEntry(payload)
				t.ExternalData = append(t.ExternalData, e)
			}
		case tensorDataLocation:
			var v int32
			v, err = f.int32()
			t.DataLocation = DataLocation(v)
		default:
			t.Unknown = append(t.Unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// appendInt64s accepts both packed and unpacked encodings of a repeated int64.
func appendInt64s(dst []int64, f field) ([]int64, error) {
	if f.typ == protowire.VarintType {
		v, err := f.int64()
		return append(dst, v), err
	}
	packed, err := f.bytes()
	if err != nil {
		return dst, err
	}
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return dst, wireError(n)
		}
		dst = append(dst, int64(v))
		packed = packed[n:]
	}
	return dst, nil
}
