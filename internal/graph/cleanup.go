package graph

import (
	"container/heap"
	"fmt"
	"slices"
)

// Cleanup removes nodes whose outputs cannot reach a graph output and drops
// tensors that are no longer referenced. Graph inputs are always kept.
func (g *Graph) Cleanup() {
	producer := make(map[*Tensor]*Node)
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			if out != nil {
				producer[out] = n
			}
		}
	}

	keep := make(map[*Node]struct{})
	seen := make(map[*Tensor]struct{})
	stack := slices.Clone(g.Outputs)
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		n, ok := producer[t]
		if !ok {
			continue
		}
		if _, ok := keep[n]; ok {
			continue
		}
		keep[n] = struct{}{}
		stack = append(stack, n.deps()...)
	}

	g.Nodes = slices.DeleteFunc(g.Nodes, func(n *Node) bool {
		_, ok := keep[n]
		return !ok
	})

	live := make(map[string]*Tensor, len(g.tensors))
	mark := func(t *Tensor) {
		if t != nil {
			live[t.Name] = t
		}
	}
	for _, t := range g.Inputs {
		mark(t)
	}
	for _, t := range g.Outputs {
		mark(t)
	}
	for _, n := range g.Nodes {
		for _, t := range n.Inputs {
			mark(t)
		}
		for _, t := range n.Outputs {
			mark(t)
		}
		for _, t := range n.implicit {
			mark(t)
		}
	}
	g.tensors = live
}

// Toposort orders nodes so every producer precedes its consumers. Among nodes
// that are ready at the same time the original order is kept, so sorting an
// already ordered graph is a no-op.
func (g *Graph) Toposort() error {
	index := make(map[*Node]int, len(g.Nodes))
	producer := make(map[*Tensor]*Node)
	for i, n := range g.Nodes {
		index[n] = i
		for _, out := range n.Outputs {
			if out != nil {
				producer[out] = n
			}
		}
	}

	indegree := make([]int, len(g.Nodes))
	consumers := make(map[*Node][]*Node)
	for i, n := range g.Nodes {
		for _, in := range n.deps() {
			p, ok := producer[in]
			if !ok {
				continue
			}
			indegree[i]++
			consumers[p] = append(consumers[p], n)
		}
	}

	ready := &nodeHeap{index: index}
	for i, n := range g.Nodes {
		if indegree[i] == 0 {
			ready.nodes = append(ready.nodes, n)
		}
	}
	heap.Init(ready)

	sorted := make([]*Node, 0, len(g.Nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*Node)
		sorted = append(sorted, n)
		for _, c := range consumers[n] {
			ci := index[c]
			indegree[ci]--
			if indegree[ci] == 0 {
				heap.Push(ready, c)
			}
		}
	}
	if len(sorted) != len(g.Nodes) {
		for i, n := range g.Nodes {
			if indegree[i] > 0 {
				return fmt.Errorf("%w: node %q", ErrCycle, n.Name)
			}
		}
		return ErrCycle
	}
	g.Nodes = sorted
	return nil
}

// nodeHeap is a min-heap of nodes keyed by their position before sorting.
type nodeHeap struct {
	nodes []*Node
	index map[*Node]int
}

func (h *nodeHeap) Len() int           { return len(h.nodes) }
func (h *nodeHeap) Less(i, j int) bool { return h.index[h.nodes[i]] < h.index[h.nodes[j]] }
func (h *nodeHeap) Swap(i, j int)      { h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i] }
func (h *nodeHeap) Push(x any)         { h.nodes = append(h.nodes, x.(*Node)) }
func (h *nodeHeap) Pop() any {
	old := h.nodes
	n := old[len(old)-1]
	h.nodes = old[:len(old)-1]
	return n
}
