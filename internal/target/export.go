package target

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/lowerkit/internal/ir"
)

func nodeToAny(n NodeSpec) map[string]any {
	attrs := n.Attrs
	if attrs == nil {
		attrs = ir.Attrs{}
	}
	return map[string]any{
		"name":    n.Name,
		"op_type": n.OpType,
		"inputs":  nonNil(n.Inputs),
		"outputs": nonNil(n.Outputs),
		"attrs":   attrs,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (g *Graph) toAny() map[string]any {
	nodes := g.Nodes()
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = nodeToAny(n)
	}
	return map[string]any{
		"opset": g.opset,
		"nodes": items,
	}
}

// Canonical returns the canonical JSON encoding of the committed graph.
func (g *Graph) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(g.toAny())
}

// MarshalIndent returns the canonical encoding indented for humans and golden files.
func (g *Graph) MarshalIndent() ([]byte, error) {
	data, err := g.Canonical()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent graph: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Hash returns the content id of the committed graph.
// Equal graphs (same opset, nodes and attributes in the same order) hash equal.
func (g *Graph) Hash() (string, error) {
	return ir.Hash(ir.DomainTargetGraph, g.toAny())
}

// CanonicalNode returns the canonical JSON encoding of a single node.
func CanonicalNode(n NodeSpec) ([]byte, error) {
	return ir.MarshalCanonical(nodeToAny(n))
}

// NodeHash returns the content id of a single node.
func NodeHash(n NodeSpec) (string, error) {
	return ir.Hash(ir.DomainTargetNode, nodeToAny(n))
}

// FormatNode renders a node as one line:
//
//	TopK_0: TopK(x, K.0) -> (TopK.0, TopK.1) {axis=-1, largest=1}
func FormatNode(n NodeSpec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s(%s) -> (%s)", n.Name, n.OpType,
		strings.Join(n.Inputs, ", "), strings.Join(n.Outputs, ", "))
	if len(n.Attrs) > 0 {
		parts := make([]string, 0, len(n.Attrs))
		for _, k := range n.Attrs.SortedKeys() {
			parts = append(parts, k+"="+ir.FormatValue(n.Attrs[k]))
		}
		fmt.Fprintf(&sb, " {%s}", strings.Join(parts, ", "))
	}
	return sb.String()
}

// WriteText writes one FormatNode line per committed node.
func (g *Graph) WriteText(w io.Writer) error {
	for _, n := range g.Nodes() {
		if _, err := fmt.Fprintln(w, FormatNode(n)); err != nil {
			return err
		}
	}
	return nil
}
