package source

import (
	"fmt"
	"sort"

	"github.com/roach88/lowerkit/internal/ir"
)

// Graph is a source graph in declaration order.
//
// INVARIANTS:
//   - Nodes order is the declaration order and never changes after Validate
//   - Node names are unique and non-empty after Validate
//   - Every node shares the graph's Tensors table
type Graph struct {
	Name string

	// Opset is the target version requested by the description file, 0 if unset.
	Opset int

	Nodes   []*Node
	Tensors map[string]TensorInfo
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:    name,
		Tensors: map[string]TensorInfo{},
	}
}

// AddTensor records dtype and shape of a tensor.
func (g *Graph) AddTensor(name string, dtype ir.DType, shape ...int64) {
	g.Tensors[name] = TensorInfo{DType: dtype, Shape: shape}
}

// AddNode appends n in declaration order and attaches the graph's tensor table.
func (g *Graph) AddNode(n *Node) {
	n.Tensors = g.Tensors
	g.Nodes = append(g.Nodes, n)
}

// Validate assigns names to unnamed nodes ("<op_type>_<index>") and checks
// that node names are unique and no tensor has two producers.
func (g *Graph) Validate() error {
	seen := make(map[string]int, len(g.Nodes))
	producer := make(map[string]string)
	for i, n := range g.Nodes {
		if n.OpType == "" {
			return fmt.Errorf("node %d: op type is required", i)
		}
		if n.Name == "" {
			n.Name = fmt.Sprintf("%s_%d", n.OpType, i)
		}
		if prev, ok := seen[n.Name]; ok {
			return fmt.Errorf("node %d: duplicate node name %q (first declared at %d)", i, n.Name, prev)
		}
		seen[n.Name] = i
		for _, s := range n.Outputs {
			for _, ref := range s.Refs {
				if prev, ok := producer[ref]; ok {
					return fmt.Errorf("node %q: tensor %q is already produced by %q", n.Name, ref, prev)
				}
				producer[ref] = n.Name
			}
		}
	}
	return nil
}

// Produced returns the set of tensor names written by some node.
func (g *Graph) Produced() map[string]bool {
	out := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, s := range n.Outputs {
			for _, ref := range s.Refs {
				out[ref] = true
			}
		}
	}
	return out
}

// External returns, sorted, the tensors the graph reads but never writes:
// graph inputs and initializers.
func (g *Graph) External() []string {
	produced := g.Produced()
	set := make(map[string]bool)
	for name := range g.Tensors {
		if !produced[name] {
			set[name] = true
		}
	}
	for _, n := range g.Nodes {
		for _, s := range n.Inputs {
			for _, ref := range s.Refs {
				if !produced[ref] {
					set[ref] = true
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Hash returns a content id of the graph's nodes and tensor table.
func (g *Graph) Hash() (string, error) {
	nodes := make([]any, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = map[string]any{
			"name":    n.Name,
			"op_type": n.OpType,
			"inputs":  slotsToAny(n.Inputs),
			"outputs": slotsToAny(n.Outputs),
			"attrs":   n.Attrs,
		}
	}
	tensors := make(map[string]any, len(g.Tensors))
	for name, info := range g.Tensors {
		tensors[name] = map[string]any{
			"dtype": info.DType.String(),
			"shape": ir.NewInts(info.Shape...),
		}
	}
	return ir.Hash(ir.DomainSourceGraph, map[string]any{
		"name":    g.Name,
		"nodes":   nodes,
		"tensors": tensors,
	})
}

func slotsToAny(slots []Slot) []any {
	out := make([]any, len(slots))
	for i, s := range slots {
		refs := s.Refs
		if refs == nil {
			refs = []string{}
		}
		out[i] = map[string]any{"name": s.Name, "refs": refs}
	}
	return out
}
