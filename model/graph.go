// Package model defines the fixed-topology graph description consumed by
// the runtime.
//
// A Graph is a flat list of tensor descriptors and an ordered list of nodes.
// Nodes reference tensors by index, the order of Nodes is the execution
// order, and every arena-backed tensor carries the byte offset assigned to it
// by the offline planner. Nothing in a Graph changes once a session has been
// built from it.
//
// Key pieces:
//   - TensorSpec, NodeSpec, Graph: the serialized model
//   - OpKind and the Params family: closed operator set and configuration
//   - Plan: liveness-based offset assignment for arena-backed tensors
//   - Serialize/Deserialize: framed binary encoding with a gob fallback
package model

import (
	"fmt"
	"sort"

	"github.com/sbl8/staticgraph/core"
)

// NoTensor marks an absent optional node input, e.g. a convolution without bias.
const NoTensor = -1

// TensorSpec describes one tensor of the model.
type TensorSpec struct {
	Name  string
	Type  core.ElementType
	Shape core.Shape
	Bytes int
	Kind  core.AllocationKind

	// Offset is the arena offset of an arena-backed tensor. A negative
	// offset means the planner has not placed it yet.
	Offset int
	// Data holds the constant contents of a static tensor.
	Data  []byte
	Quant *core.Quantization
}

// End returns the first arena byte past the tensor.
func (t *TensorSpec) End() int {
	return t.Offset + t.Bytes
}

// NodeSpec is one operator invocation.
type NodeSpec struct {
	Op      OpKind
	Inputs  []int
	Outputs []int
	Params  Params
}

// Graph is a complete model: tensor table, ordered nodes, graph input and
// output slots, and the arena size the layout was planned for.
type Graph struct {
	Name      string
	Tensors   []TensorSpec
	Nodes     []NodeSpec
	Inputs    []int
	Outputs   []int
	ArenaSize int
	Alignment int
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// TensorIndex looks a tensor up by name.
func (g *Graph) TensorIndex(name string) (int, bool) {
	for i := range g.Tensors {
		if g.Tensors[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// Boundary returns the end of the highest arena-backed tensor, the low
// watermark that persistent allocations must not cross.
func (g *Graph) Boundary() int {
	end := 0
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if t.Kind == core.ArenaBacked && t.Offset >= 0 && t.End() > end {
			end = t.End()
		}
	}
	return end
}

func (g *Graph) validIndex(i int) bool {
	return i >= 0 && i < len(g.Tensors)
}

// Validate checks graph consistency: tensor descriptors, node references,
// parameter kinds, slot references and that every placed arena tensor fits
// inside ArenaSize.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if g.ArenaSize < 0 {
		return fmt.Errorf("negative arena size %d", g.ArenaSize)
	}
	if g.Alignment != 0 && !core.IsPowerOfTwo(g.Alignment) {
		return fmt.Errorf("alignment %d is not a power of two", g.Alignment)
	}

	for i := range g.Tensors {
		t := &g.Tensors[i]
		desc := core.Tensor{Name: t.Name, Type: t.Type, Shape: t.Shape, Bytes: t.Bytes, Quant: t.Quant}
		if err := desc.Validate(); err != nil {
			return fmt.Errorf("tensor %d: %w", i, err)
		}
		switch t.Kind {
		case core.StaticReadOnly:
			if len(t.Data) < t.Bytes {
				return fmt.Errorf("static tensor %d (%s) has %d bytes of data, needs %d", i, t.Name, len(t.Data), t.Bytes)
			}
		case core.ArenaBacked:
			if t.Data != nil {
				return fmt.Errorf("arena tensor %d (%s) carries constant data", i, t.Name)
			}
			if t.Offset >= 0 && t.End() > g.ArenaSize {
				return fmt.Errorf("arena tensor %d (%s) spans [%d,%d) beyond arena size %d", i, t.Name, t.Offset, t.End(), g.ArenaSize)
			}
		default:
			return fmt.Errorf("tensor %d (%s) has unknown allocation kind %v", i, t.Name, t.Kind)
		}
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !n.Op.Valid() {
			return fmt.Errorf("node %d: unknown operator %d", i, n.Op)
		}
		if n.Params == nil {
			return fmt.Errorf("node %d (%v): missing parameters", i, n.Op)
		}
		if n.Params.Kind() != n.Op {
			return fmt.Errorf("node %d (%v): parameters are for %v", i, n.Op, n.Params.Kind())
		}
		for _, in := range n.Inputs {
			if in != NoTensor && !g.validIndex(in) {
				return fmt.Errorf("node %d (%v) references non-existent input tensor %d", i, n.Op, in)
			}
		}
		if len(n.Outputs) == 0 {
			return fmt.Errorf("node %d (%v) has no outputs", i, n.Op)
		}
		for _, out := range n.Outputs {
			if !g.validIndex(out) {
				return fmt.Errorf("node %d (%v) references non-existent output tensor %d", i, n.Op, out)
			}
			if g.Tensors[out].Kind != core.ArenaBacked {
				return fmt.Errorf("node %d (%v) writes static tensor %d (%s)", i, n.Op, out, g.Tensors[out].Name)
			}
		}
	}

	for _, slot := range [][]int{g.Inputs, g.Outputs} {
		for _, idx := range slot {
			if !g.validIndex(idx) {
				return fmt.Errorf("graph slot references non-existent tensor %d", idx)
			}
		}
	}
	for _, idx := range g.Inputs {
		if g.Tensors[idx].Kind != core.ArenaBacked {
			return fmt.Errorf("graph input %d (%s) must be arena-backed", idx, g.Tensors[idx].Name)
		}
	}
	return nil
}

// CheckOrder verifies that every node input is a static constant, a graph
// input, or the output of an earlier node.
func (g *Graph) CheckOrder() error {
	ready := make([]bool, len(g.Tensors))
	for i := range g.Tensors {
		if g.Tensors[i].Kind == core.StaticReadOnly {
			ready[i] = true
		}
	}
	for _, idx := range g.Inputs {
		if g.validIndex(idx) {
			ready[idx] = true
		}
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, in := range n.Inputs {
			if in == NoTensor {
				continue
			}
			if !g.validIndex(in) || !ready[in] {
				return fmt.Errorf("node %d (%v) reads tensor %d before it is produced", i, n.Op, in)
			}
		}
		for _, out := range n.Outputs {
			if g.validIndex(out) {
				ready[out] = true
			}
		}
	}
	return nil
}

// Optimize reorders nodes into a dependency-respecting order. The sort is
// stable: among ready nodes the one declared first runs first, so an
// already valid order is left untouched. Offsets planned for the old order
// are cleared and must be planned again.
func (g *Graph) Optimize() error {
	order, err := g.topologicalOrder()
	if err != nil {
		return err
	}
	changed := false
	reordered := make([]NodeSpec, len(order))
	for i, idx := range order {
		reordered[i] = g.Nodes[idx]
		if idx != i {
			changed = true
		}
	}
	g.Nodes = reordered
	if changed {
		for i := range g.Tensors {
			if g.Tensors[i].Kind == core.ArenaBacked {
				g.Tensors[i].Offset = -1
			}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm over producer/consumer edges.
func (g *Graph) topologicalOrder() ([]int, error) {
	producer := make(map[int]int)
	for i := range g.Nodes {
		for _, out := range g.Nodes[i].Outputs {
			if prev, dup := producer[out]; dup {
				return nil, fmt.Errorf("tensor %d is produced by nodes %d and %d", out, prev, i)
			}
			producer[out] = i
		}
	}

	adj := make([][]int, len(g.Nodes))
	inDegree := make([]int, len(g.Nodes))
	for i := range g.Nodes {
		seen := make(map[int]bool)
		for _, in := range g.Nodes[i].Inputs {
			p, ok := producer[in]
			if !ok || p == i || seen[p] {
				continue
			}
			seen[p] = true
			adj[p] = append(adj[p], i)
			inDegree[i]++
		}
	}

	var ready []int
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)
		for _, next := range adj[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph contains a cycle through %d nodes", len(g.Nodes)-len(order))
	}
	return order, nil
}
