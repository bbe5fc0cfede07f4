package onnx

import "google.golang.org/protobuf/encoding/protowire"

// Marshal encodes m as a ModelProto. Known fields are written in field-number
// order followed by the preserved unknown fields.
func Marshal(m *Model) ([]byte, error) {
	if m == nil {
		return nil, ErrNoGraph
	}
	b := make([]byte, 0, 1024)
	b = appendInt(b, modelIRVersion, m.IRVersion)
	b = appendString(b, modelProducerName, m.ProducerName)
	b = appendString(b, modelProducerVersion, m.ProducerVersion)
	b = appendString(b, modelDomain, m.Domain)
	b = appendInt(b, modelModelVersion, m.ModelVersion)
	b = appendString(b, modelDocString, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, modelGraph, encodeGraph(m.Graph))
	}
	for _, op := range m.OpsetImport {
		b = appendMessage(b, modelOpsetImport, encodeOpset(op))
	}
	for _, e := range m.MetadataProps {
		b = appendMessage(b, modelMetadataProps, encodeEntry(e))
	}
	b = append(b, m.Unknown...)
	return b, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendStringAlways(b, num, s)
}

// appendStringAlways is used for repeated strings where "" is meaningful
// (an omitted optional node input).
func appendStringAlways(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	return appendIntAlways(b, num, v)
}

func appendIntAlways(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeOpset(op OpsetID) []byte {
	var b []byte
	b = appendString(b, opsetDomain, op.Domain)
	return appendIntAlways(b, opsetVersion, op.Version)
}

func encodeEntry(e StringEntry) []byte {
	var b []byte
	b = appendString(b, entryKey, e.Key)
	return appendString(b, entryValue, e.Value)
}

func encodeGraph(g *Graph) []byte {
	var b []byte
	for _, n := range g.Nodes {
		b = appendMessage(b, graphNode, encodeNode(n))
	}
	b = appendString(b, graphName, g.Name)
	for _, t := range g.Initializers {
		b = appendMessage(b, graphInitializer, encodeTensor(t))
	}
	b = appendString(b, graphDocString, g.DocString)
	for _, vi := range g.Inputs {
		b = appendMessage(b, graphInput, encodeValueInfo(vi))
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, graphOutput, encodeValueInfo(vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, graphValueInfo, encodeValueInfo(vi))
	}
	return append(b, g.Unknown...)
}

func encodeNode(n *Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendStringAlways(b, nodeInput, in)
	}
	for _, out := range n.Outputs {
		b = appendStringAlways(b, nodeOutput, out)
	}
	b = appendString(b, nodeName, n.Name)
	b = appendString(b, nodeOpType, n.OpType)
	for _, attr := range n.Attributes {
		b = appendMessage(b, nodeAttribute, attr)
	}
	b = appendString(b, nodeDocString, n.DocString)
	b = appendString(b, nodeDomain, n.Domain)
	return append(b, n.Unknown...)
}

func encodeValueInfo(vi *ValueInfo) []byte {
	var b []byte
	b = appendString(b, valueName, vi.Name)
	if vi.Type != nil {
		b = appendMessage(b, valueType, encodeTypeInfo(vi.Type))
	}
	b = appendString(b, valueDocString, vi.DocString)
	return append(b, vi.Unknown...)
}

func encodeTypeInfo(ti *TypeInfo) []byte {
	var b []byte
	if ti.Tensor != nil {
		b = appendMessage(b, typeTensor, encodeTensorType(ti.Tensor))
	}
	b = appendString(b, typeDenotation, ti.Denotation)
	return append(b, ti.Unknown...)
}

func encodeTensorType(tt *TensorType) []byte {
	var b []byte
	b = appendInt(b, tensorTypeElem, int64(tt.ElemType))
	if tt.Shape != nil {
		var sb []byte
		for _, d := range tt.Shape.Dims {
			sb = appendMessage(sb, shapeDim, encodeDim(d))
		}
		b = appendMessage(b, tensorTypeShape, sb)
	}
	return b
}

func encodeDim(d Dim) []byte {
	var b []byte
	switch {
	case d.HasValue:
		b = appendIntAlways(b, dimValue, d.Value)
	case d.Param != "":
		b = appendStringAlways(b, dimParam, d.Param)
	}
	return appendString(b, dimDenotation, d.Denotation)
}

func encodeTensor(t *Tensor) []byte {
	var b []byte
	if len(t.Dims) > 0 {
		var packed []byte
		for _, d := range t.Dims {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = appendMessage(b, tensorDims, packed)
	}
	b = appendInt(b, tensorDataType, int64(t.DataType))
	b = appendString(b, tensorName, t.Name)
	if t.RawData != nil {
		b = appendMessage(b, tensorRawData, t.RawData)
	}
	for _, e := range t.ExternalData {
		b = appendMessage(b, tensorExternalData, encodeEntry(e))
	}
	if t.DataLocation != LocationDefault {
		b = appendIntAlways(b, tensorDataLocation, int64(t.DataLocation))
	}
	return append(b, t.Unknown...)
}
