package graph

import (
	"slices"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// Export writes the graph back into a new model. The header, metadata, unknown
// fields and node attributes are carried over from the imported model; the
// model passed to Import is not modified.
func (g *Graph) Export() *onnx.Model {
	m := &onnx.Model{}
	var src onnx.Graph
	if g.model != nil {
		*m = *g.model
		m.MetadataProps = slices.Clone(g.model.MetadataProps)
		if g.model.Graph != nil {
			src = *g.model.Graph
		}
	}
	m.OpsetImport = slices.Clone(g.Opsets)

	out := src
	out.Name = g.Name
	out.Nodes = make([]*onnx.Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out.Nodes = append(out.Nodes, n.export())
	}

	out.Initializers = nil
	emitted := make(map[*onnx.Tensor]struct{})
	for _, init := range src.Initializers {
		t, ok := g.tensors[init.Name]
		if !ok || t.Constant == nil {
			continue
		}
		out.Initializers = append(out.Initializers, t.Constant)
		emitted[t.Constant] = struct{}{}
	}
	for _, t := range g.Tensors() {
		if t.Constant == nil {
			continue
		}
		if _, ok := emitted[t.Constant]; !ok {
			out.Initializers = append(out.Initializers, t.Constant)
		}
	}

	boundary := make(map[*Tensor]struct{}, len(g.Inputs)+len(g.Outputs))
	out.Inputs = make([]*onnx.ValueInfo, 0, len(g.Inputs))
	for _, t := range g.Inputs {
		out.Inputs = append(out.Inputs, t.valueInfo())
		boundary[t] = struct{}{}
	}
	out.Outputs = make([]*onnx.ValueInfo, 0, len(g.Outputs))
	for _, t := range g.Outputs {
		out.Outputs = append(out.Outputs, t.valueInfo())
		boundary[t] = struct{}{}
	}

	out.ValueInfo = nil
	listed := make(map[*Tensor]struct{})
	add := func(t *Tensor) {
		if t == nil || t.Constant != nil {
			return
		}
		if _, ok := boundary[t]; ok {
			return
		}
		if _, ok := listed[t]; ok {
			return
		}
		if live, ok := g.tensors[t.Name]; !ok || live != t {
			return
		}
		if t.DType == onnx.Undefined && t.Shape == nil && !t.opaque() {
			return
		}
		listed[t] = struct{}{}
		out.ValueInfo = append(out.ValueInfo, t.valueInfo())
	}
	for _, vi := range src.ValueInfo {
		if t, ok := g.tensors[vi.Name]; ok {
			add(t)
		}
	}
	for _, n := range g.Nodes {
		for _, t := range n.Outputs {
			add(t)
		}
		for _, t := range n.Inputs {
			add(t)
		}
	}

	m.Graph = &out
	return m
}

func (n *Node) export() *onnx.Node {
	pn := &onnx.Node{}
	if n.proto != nil {
		*pn = *n.proto
	}
	pn.Name = n.Name
	pn.OpType = n.OpType
	pn.Domain = n.Domain
	pn.Inputs = tensorNames(n.Inputs)
	pn.Outputs = tensorNames(n.Outputs)
	return pn
}

func tensorNames(ts []*Tensor) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		if t != nil {
			out[i] = t.Name
		}
	}
	return out
}

// opaque reports whether the tensor was declared with a non-tensor type
// (sequence, map, optional) that is carried through unchanged.
func (t *Tensor) opaque() bool {
	return t.info != nil && t.info.Type != nil && t.info.Type.Tensor == nil
}

func (t *Tensor) valueInfo() *onnx.ValueInfo {
	vi := &onnx.ValueInfo{Name: t.Name}
	if t.info != nil {
		*vi = *t.info
		vi.Name = t.Name
	}
	if t.opaque() {
		return vi
	}
	if t.DType == onnx.Undefined && t.Shape == nil && vi.Type == nil {
		return vi
	}
	ti := &onnx.TypeInfo{}
	if vi.Type != nil {
		*ti = *vi.Type
	}
	tt := &onnx.TensorType{ElemType: t.DType}
	if t.Shape != nil {
		tt.Shape = &onnx.Shape{Dims: slices.Clone(t.Shape)}
	}
	ti.Tensor = tt
	vi.Type = ti
	return vi
}
