package graph

import (
	"fmt"
	"slices"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// Import builds a Graph from the main graph of m. m is not modified and is used
// as the header template by Export.
func Import(m *onnx.Model) (*Graph, error) {
	if m == nil || m.Graph == nil {
		return nil, onnx.ErrNoGraph
	}
	src := m.Graph
	g := &Graph{
		Name:    src.Name,
		Opsets:  slices.Clone(m.OpsetImport),
		tensors: make(map[string]*Tensor),
		model:   m,
	}

	for _, init := range src.Initializers {
		t := g.tensor(init.Name)
		t.Constant = init
		t.DType = init.DataType
		t.Shape = make([]onnx.Dim, len(init.Dims))
		for i, d := range init.Dims {
			t.Shape[i] = onnx.DimValue(d)
		}
	}
	for _, vi := range src.Inputs {
		g.Inputs = append(g.Inputs, g.applyValueInfo(vi))
	}
	for _, vi := range src.Outputs {
		g.Outputs = append(g.Outputs, g.applyValueInfo(vi))
	}
	for _, vi := range src.ValueInfo {
		g.applyValueInfo(vi)
	}

	producers := make(map[string]string)
	names := make(map[string]struct{})
	for _, pn := range src.Nodes {
		if pn.Name != "" {
			if _, dup := names[pn.Name]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, pn.Name)
			}
			names[pn.Name] = struct{}{}
		}
		n := &Node{
			Name:   pn.Name,
			OpType: pn.OpType,
			Domain: pn.Domain,
			proto:  pn,
		}
		for _, in := range pn.Inputs {
			if in == "" {
				n.Inputs = append(n.Inputs, nil)
				continue
			}
			n.Inputs = append(n.Inputs, g.tensor(in))
		}
		for _, out := range pn.Outputs {
			if out == "" {
				n.Outputs = append(n.Outputs, nil)
				continue
			}
			if prev, ok := producers[out]; ok {
				return nil, fmt.Errorf("%w: %q (nodes %q and %q)", ErrDuplicateProducer, out, prev, pn.Name)
			}
			producers[out] = pn.Name
			n.Outputs = append(n.Outputs, g.tensor(out))
		}
		g.Nodes = append(g.Nodes, n)
	}

	// Subgraph references are resolved once every outer tensor exists.
	for _, n := range g.Nodes {
		refs, err := n.proto.SubgraphInputs()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		seen := make(map[*Tensor]struct{})
		for _, name := range refs {
			t, ok := g.tensors[name]
			if !ok {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			n.implicit = append(n.implicit, t)
		}
	}
	return g, nil
}

func (g *Graph) tensor(name string) *Tensor {
	if t, ok := g.tensors[name]; ok {
		return t
	}
	t := &Tensor{Name: name}
	g.tensors[name] = t
	return t
}

func (g *Graph) applyValueInfo(vi *onnx.ValueInfo) *Tensor {
	t := g.tensor(vi.Name)
	if t.info == nil {
		t.info = vi
	}
	if vi.Type == nil || vi.Type.Tensor == nil {
		return t
	}
	if et := vi.Type.Tensor.ElemType; et != onnx.Undefined && t.DType == onnx.Undefined {
		t.DType = et
	}
	if s := vi.Type.Tensor.Shape; s != nil && t.Shape == nil {
		t.Shape = slices.Clone(s.Dims)
		if t.Shape == nil {
			t.Shape = []onnx.Dim{}
		}
	}
	return t
}
