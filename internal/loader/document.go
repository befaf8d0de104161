package loader

import (
	"fmt"
	"sort"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/source"
)

// Document is the decoded form of a graph description file.
//
// Example (YAML):
//
//	name: demo
//	opset: 11
//	tensors:
//	  x: {dtype: float32, shape: [4, 8]}
//	nodes:
//	  - name: topk0
//	    op: top_k
//	    inputs: {X: [x]}
//	    outputs: {Out: [values], Indices: [indices]}
//	    attrs: {k: 3}
type Document struct {
	Name    string                 `yaml:"name"`
	Opset   int                    `yaml:"opset"`
	Tensors map[string]TensorEntry `yaml:"tensors"`
	Nodes   []NodeEntry            `yaml:"nodes"`
}

// TensorEntry declares dtype and static shape of a tensor. A -1 dimension is unknown.
type TensorEntry struct {
	DType string  `yaml:"dtype"`
	Shape []int64 `yaml:"shape"`
}

// NodeEntry declares one source operator.
//
// Slots map a slot name to its tensor references. An empty list declares a
// present-but-empty slot. Slots are ordered by name.
type NodeEntry struct {
	Name    string              `yaml:"name"`
	Op      string              `yaml:"op"`
	Inputs  map[string][]string `yaml:"inputs"`
	Outputs map[string][]string `yaml:"outputs"`
	Attrs   map[string]any      `yaml:"attrs"`
}

// Build converts the document into a validated source graph.
func (d *Document) Build() (*source.Graph, error) {
	g := source.NewGraph(d.Name)
	g.Opset = d.Opset
	if d.Opset != 0 && (d.Opset < ir.MinOpset || d.Opset > ir.MaxOpset) {
		return nil, &LoadError{
			Code:    ErrCodeInvalidGraph,
			Message: fmt.Sprintf("opset %d outside [%d, %d]", d.Opset, ir.MinOpset, ir.MaxOpset),
		}
	}

	for _, name := range sortedKeys(d.Tensors) {
		t := d.Tensors[name]
		dt, err := ir.ParseDType(t.DType)
		if err != nil {
			return nil, &LoadError{
				Code:    ErrCodeInvalidGraph,
				Message: fmt.Sprintf("tensor %q: %v", name, err),
			}
		}
		g.AddTensor(name, dt, t.Shape...)
	}

	for i, entry := range d.Nodes {
		n := source.NewNode(entry.Name, entry.Op)
		n.Inputs = toSlots(entry.Inputs)
		n.Outputs = toSlots(entry.Outputs)
		for _, key := range sortedKeys(entry.Attrs) {
			v, err := ir.FromGo(entry.Attrs[key])
			if err != nil {
				return nil, &LoadError{
					Code:    ErrCodeInvalidAttr,
					Message: fmt.Sprintf("node %d (%s) attribute %q: %v", i, entry.Name, key, err),
				}
			}
			n.Attrs[key] = v
		}
		g.AddNode(n)
	}

	if err := g.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalidGraph, Message: err.Error()}
	}
	return g, nil
}

func toSlots(m map[string][]string) []source.Slot {
	slots := make([]source.Slot, 0, len(m))
	for _, name := range sortedKeys(m) {
		refs := m[name]
		if refs == nil {
			refs = []string{}
		}
		slots = append(slots, source.Slot{Name: name, Refs: refs})
	}
	return slots
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
