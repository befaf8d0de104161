package testutil

import (
	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/source"
)

// NodeBuilder assembles a source node and the tensor table it reads from.
//
// Example:
//
//	n := testutil.NewNode("topk0", "top_k").
//		Input("X", "x").Tensor("x", ir.DTFloat32, 4, 8).
//		Output("Out", "out").Output("Indices", "idx").
//		Attr("k", ir.Int(5)).
//		Build()
type NodeBuilder struct {
	g *source.Graph
	n *source.Node
}

// NewNode starts a node owned by a fresh single-node source graph.
func NewNode(name, opType string) *NodeBuilder {
	g := source.NewGraph("test")
	n := source.NewNode(name, opType)
	g.AddNode(n)
	return &NodeBuilder{g: g, n: n}
}

// Input appends an input slot. No refs makes a present-but-empty slot.
func (b *NodeBuilder) Input(slot string, refs ...string) *NodeBuilder {
	if refs == nil {
		refs = []string{}
	}
	b.n.Inputs = append(b.n.Inputs, source.Slot{Name: slot, Refs: refs})
	return b
}

// Output appends an output slot.
func (b *NodeBuilder) Output(slot string, refs ...string) *NodeBuilder {
	if refs == nil {
		refs = []string{}
	}
	b.n.Outputs = append(b.n.Outputs, source.Slot{Name: slot, Refs: refs})
	return b
}

// Attr sets an attribute.
func (b *NodeBuilder) Attr(name string, v ir.Value) *NodeBuilder {
	b.n.Attrs[name] = v
	return b
}

// Tensor records dtype and shape of a tensor the node touches.
func (b *NodeBuilder) Tensor(name string, dtype ir.DType, shape ...int64) *NodeBuilder {
	b.g.AddTensor(name, dtype, shape...)
	return b
}

// Build returns the node.
func (b *NodeBuilder) Build() *source.Node {
	return b.n
}

// Graph returns the single-node source graph that owns the node.
func (b *NodeBuilder) Graph() *source.Graph {
	return b.g
}
