// Package onnx implements the subset of the ONNX ModelProto wire format needed to
// load, rewrite and save model graphs.
//
// Only the messages a graph-rewriting tool touches are decoded into Go structs
// (model header, opset manifest, graph, nodes, value infos, tensor types and
// initializers). Every field that is not modelled is kept as raw wire bytes and
// re-emitted verbatim on Marshal, so attributes, functions, training info and
// future additions survive a load/save cycle.
package onnx

import (
	"strconv"
	"strings"
)

// DefaultDomain is the root operator domain ("ai.onnx").
const DefaultDomain = ""

// RawFields holds encoded protobuf fields that are not decoded into named fields.
type RawFields []byte

// Model mirrors onnx.ModelProto.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *Graph
	OpsetImport     []OpsetID
	MetadataProps   []StringEntry
	Unknown         RawFields
}

// OpsetID mirrors onnx.OperatorSetIdProto: one entry of the operator-set manifest.
type OpsetID struct {
	Domain  string
	Version int64
}

// StringEntry mirrors onnx.StringStringEntryProto.
type StringEntry struct {
	Key   string
	Value string
}

// Graph mirrors onnx.GraphProto.
type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	DocString    string
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo
	Unknown      RawFields
}

// Node mirrors onnx.NodeProto. Attributes are kept as encoded AttributeProto payloads.
type Node struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Attributes [][]byte
	DocString  string
	Domain     string
	Unknown    RawFields
}

// ValueInfo mirrors onnx.ValueInfoProto.
type ValueInfo struct {
	Name      string
	Type      *TypeInfo
	DocString string
	Unknown   RawFields
}

// TypeInfo mirrors onnx.TypeProto. Non-tensor types (sequence, map, optional,
// sparse) stay in Unknown and Tensor is nil.
type TypeInfo struct {
	Tensor     *TensorType
	Denotation string
	Unknown    RawFields
}

// TensorType mirrors onnx.TypeProto.Tensor. A nil Shape means the rank is unknown.
type TensorType struct {
	ElemType DataType
	Shape    *Shape
}

// Shape mirrors onnx.TensorShapeProto.
type Shape struct {
	Dims []Dim
}

// Dim mirrors onnx.TensorShapeProto.Dimension.
//
// A dimension is concrete (HasValue with a non-negative Value), symbolic (Param
// set) or unknown (neither). Unknown is distinct from any integer value.
type Dim struct {
	Value      int64
	HasValue   bool
	Param      string
	Denotation string
}

// DimValue returns a concrete dimension.
func DimValue(v int64) Dim { return Dim{Value: v, HasValue: true} }

// DimParam returns a named symbolic dimension.
func DimParam(name string) Dim { return Dim{Param: name} }

// UnknownDim returns a dimension with neither a value nor a name.
func UnknownDim() Dim { return Dim{} }

// IsConcrete reports whether d carries a usable fixed size.
func (d Dim) IsConcrete() bool { return d.HasValue && d.Value >= 0 }

// IsUnknown reports whether d has neither a usable value nor a symbolic name.
func (d Dim) IsUnknown() bool { return !d.IsConcrete() && d.Param == "" }

func (d Dim) String() string {
	switch {
	case d.IsConcrete():
		return strconv.FormatInt(d.Value, 10)
	case d.Param != "":
		return d.Param
	default:
		return "?"
	}
}

// FormatDims renders dims as "[a, b, c]".
func FormatDims(dims []Dim) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// DataLocation mirrors onnx.TensorProto.DataLocation.
type DataLocation int32

const (
	LocationDefault  DataLocation = 0
	LocationExternal DataLocation = 1
)

// Tensor mirrors onnx.TensorProto. Typed data fields (float_data, int64_data, ...)
// are not decoded and travel in Unknown.
type Tensor struct {
	Dims         []int64
	DataType     DataType
	Name         string
	RawData      []byte
	ExternalData []StringEntry
	DataLocation DataLocation
	Unknown      RawFields
}

// External reports whether the tensor payload lives outside the model file.
func (t *Tensor) External() bool {
	return t != nil && t.DataLocation == LocationExternal
}

// ExternalValue returns the value for key in the tensor's external_data entries.
func (t *Tensor) ExternalValue(key string) (string, bool) {
	for _, e := range t.ExternalData {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// HasOpset reports whether the manifest declares domain.
func (m *Model) HasOpset(domain string) bool {
	for _, o := range m.OpsetImport {
		if o.Domain == domain {
			return true
		}
	}
	return false
}

// InitializerNames returns the set of initializer names of the main graph.
func (g *Graph) InitializerNames() map[string]struct{} {
	out := make(map[string]struct{}, len(g.Initializers))
	for _, t := range g.Initializers {
		out[t.Name] = struct{}{}
	}
	return out
}

// TensorShape returns the dims of a tensor-typed value, or nil and false when the
// value carries no tensor type or no shape.
func (vi *ValueInfo) TensorShape() ([]Dim, bool) {
	if vi == nil || vi.Type == nil || vi.Type.Tensor == nil || vi.Type.Tensor.Shape == nil {
		return nil, false
	}
	return vi.Type.Tensor.Shape.Dims, true
}
