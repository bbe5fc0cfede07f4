// Package graph is a mutable, name-indexed view of an ONNX model graph.
//
// Nodes hold direct references to their input and output tensors. Mutations that
// change structure are followed by Cleanup and Toposort, which recompute
// reachability and order from scratch rather than patching them incrementally.
package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

var (
	ErrDuplicateProducer = errors.New("graph: tensor has more than one producer")
	ErrDuplicateNode     = errors.New("graph: duplicate node name")
	ErrCycle             = errors.New("graph: cycle detected")
	ErrDangling          = errors.New("graph: node references a tensor outside the graph")
)

// Tensor is a named value in the graph. A nil Shape means the shape is unknown;
// DType is onnx.Undefined until resolved.
type Tensor struct {
	Name     string
	Shape    []onnx.Dim
	DType    onnx.DataType
	Constant *onnx.Tensor

	info *onnx.ValueInfo
}

// IsConstant reports whether the tensor is backed by an initializer.
func (t *Tensor) IsConstant() bool { return t.Constant != nil }

// Node is an operator instance.
type Node struct {
	Name    string
	OpType  string
	Domain  string
	Inputs  []*Tensor // nil entries are omitted optional inputs
	Outputs []*Tensor

	// implicit holds outer-scope tensors consumed by subgraph attributes.
	implicit []*Tensor
	proto    *onnx.Node
}

// Graph owns nodes and tensors. Nodes are kept in topological order after Toposort.
type Graph struct {
	Name    string
	Nodes   []*Node
	Inputs  []*Tensor
	Outputs []*Tensor
	// Opsets is the operator-set manifest written to the exported model.
	Opsets []onnx.OpsetID

	tensors map[string]*Tensor
	model   *onnx.Model
}

// Tensor returns the tensor named name.
func (g *Graph) Tensor(name string) (*Tensor, bool) {
	t, ok := g.tensors[name]
	return t, ok
}

// Tensors returns all indexed tensors sorted by name.
func (g *Graph) Tensors() []*Tensor {
	out := make([]*Tensor, 0, len(g.tensors))
	for _, t := range g.tensors {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *Tensor) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Node returns the first node named name.
func (g *Graph) Node(name string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// HasOpset reports whether the manifest already declares domain.
func (g *Graph) HasOpset(domain string) bool {
	return slices.ContainsFunc(g.Opsets, func(o onnx.OpsetID) bool { return o.Domain == domain })
}

// AddOpset appends (domain, version) to the manifest unless domain is already
// declared. It reports whether an entry was added.
func (g *Graph) AddOpset(domain string, version int64) bool {
	if g.HasOpset(domain) {
		return false
	}
	g.Opsets = append(g.Opsets, onnx.OpsetID{Domain: domain, Version: version})
	return true
}

// Validate checks referential integrity and topological order.
func (g *Graph) Validate() error {
	produced := make(map[*Tensor]int)
	for i, n := range g.Nodes {
		for _, out := range n.Outputs {
			if out == nil {
				continue
			}
			if idx, ok := g.tensors[out.Name]; !ok || idx != out {
				return fmt.Errorf("%w: output %q of node %q", ErrDangling, out.Name, n.Name)
			}
			produced[out] = i
		}
	}
	for i, n := range g.Nodes {
		for _, in := range n.deps() {
			if idx, ok := g.tensors[in.Name]; !ok || idx != in {
				return fmt.Errorf("%w: input %q of node %q", ErrDangling, in.Name, n.Name)
			}
			if p, ok := produced[in]; ok && p >= i {
				return fmt.Errorf("graph: node %q consumes %q before it is produced by %q",
					n.Name, in.Name, g.Nodes[p].Name)
			}
		}
	}
	return nil
}

// deps lists the tensors a node needs before it can run.
func (n *Node) deps() []*Tensor {
	out := make([]*Tensor, 0, len(n.Inputs)+len(n.implicit))
	for _, in := range n.Inputs {
		if in != nil {
			out = append(out, in)
		}
	}
	return append(out, n.implicit...)
}
