package source

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/lowerkit/internal/ir"
)

// Slot is one named input or output of a source operator.
// A slot may carry zero, one, or many tensor references (optional and
// variadic arguments). Present-but-empty is distinct from absent.
type Slot struct {
	Name string   `json:"name" yaml:"name"`
	Refs []string `json:"refs" yaml:"refs"`
}

// TensorInfo describes a tensor of the source graph.
// A negative dimension is unknown until runtime.
type TensorInfo struct {
	DType ir.DType
	Shape []int64
}

// Node is a read-only view over one source operator instance.
//
// Construct with NewNode or the loader; a Node is not modified during lowering.
type Node struct {
	Name    string
	OpType  string
	Inputs  []Slot
	Outputs []Slot
	Attrs   ir.Attrs

	// Tensors resolves dtype and shape of the tensors this node touches.
	// Shared with the owning Graph.
	Tensors map[string]TensorInfo
}

// NewNode creates a node with the given identity and no slots.
func NewNode(name, opType string) *Node {
	return &Node{
		Name:    name,
		OpType:  opType,
		Attrs:   ir.Attrs{},
		Tensors: map[string]TensorInfo{},
	}
}

func findSlot(slots []Slot, name string) (Slot, bool) {
	for _, s := range slots {
		if s.Name == name {
			return s, true
		}
	}
	return Slot{}, false
}

func (n *Node) missingSlot(kind, name string) error {
	return &ir.LoweringError{
		Code:    ir.ErrCodeMissingSlot,
		Message: fmt.Sprintf("%s slot %q not found", kind, name),
		OpType:  n.OpType,
		Node:    n.Name,
	}
}

// Input returns the tensor references of input slot name.
// Fails with MISSING_SLOT if the slot is absent; an empty slot is not an error.
func (n *Node) Input(name string) ([]string, error) {
	s, ok := findSlot(n.Inputs, name)
	if !ok {
		return nil, n.missingSlot("input", name)
	}
	return slices.Clone(s.Refs), nil
}

// InputAt returns the i-th tensor reference of input slot name.
func (n *Node) InputAt(name string, i int) (string, error) {
	refs, err := n.Input(name)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(refs) {
		return "", &ir.LoweringError{
			Code:    ir.ErrCodeMissingSlot,
			Message: fmt.Sprintf("input slot %q has %d reference(s), index %d requested", name, len(refs), i),
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return refs[i], nil
}

// HasInput reports whether input slot name is present and non-empty.
func (n *Node) HasInput(name string) bool {
	s, ok := findSlot(n.Inputs, name)
	return ok && len(s.Refs) > 0
}

// InputDType returns the element type of the i-th tensor of input slot name.
func (n *Node) InputDType(name string, i int) (ir.DType, error) {
	info, err := n.inputInfo(name, i)
	if err != nil {
		return ir.DTUndefined, err
	}
	return info.DType, nil
}

// InputShape returns the static shape of the i-th tensor of input slot name.
// Unknown dimensions are negative.
func (n *Node) InputShape(name string, i int) ([]int64, error) {
	info, err := n.inputInfo(name, i)
	if err != nil {
		return nil, err
	}
	if info.Shape == nil {
		return nil, &ir.LoweringError{
			Code:    ir.ErrCodeMissingSlot,
			Message: fmt.Sprintf("input %q has no recorded shape", name),
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return slices.Clone(info.Shape), nil
}

func (n *Node) inputInfo(name string, i int) (TensorInfo, error) {
	ref, err := n.InputAt(name, i)
	if err != nil {
		return TensorInfo{}, err
	}
	info, ok := n.Tensors[ref]
	if !ok || info.DType == ir.DTUndefined {
		return TensorInfo{}, &ir.LoweringError{
			Code:    ir.ErrCodeMissingSlot,
			Message: fmt.Sprintf("tensor %q of input %q has no recorded dtype", ref, name),
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return info, nil
}

// Output returns the tensor references of output slot name.
func (n *Node) Output(name string) ([]string, error) {
	s, ok := findSlot(n.Outputs, name)
	if !ok {
		return nil, n.missingSlot("output", name)
	}
	return slices.Clone(s.Refs), nil
}

// OutputAt returns the i-th tensor reference of output slot name.
func (n *Node) OutputAt(name string, i int) (string, error) {
	refs, err := n.Output(name)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(refs) {
		return "", &ir.LoweringError{
			Code:    ir.ErrCodeMissingSlot,
			Message: fmt.Sprintf("output slot %q has %d reference(s), index %d requested", name, len(refs), i),
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return refs[i], nil
}

// Attr returns the attribute called name.
func (n *Node) Attr(name string) (ir.Value, error) {
	v, ok := n.Attrs[name]
	if !ok {
		return nil, &ir.LoweringError{
			Code:    ir.ErrCodeMissingAttribute,
			Message: fmt.Sprintf("attribute %q not found", name),
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return v, nil
}

// HasAttr reports whether attribute name is set.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

func (n *Node) attrKindError(name string, err error) error {
	msg := err.Error()
	var le *ir.LoweringError
	if errors.As(err, &le) {
		msg = le.Message
	}
	return &ir.LoweringError{
		Code:    ir.ErrCodeWrongValueKind,
		Message: fmt.Sprintf("attribute %q: %s", name, msg),
		OpType:  n.OpType,
		Node:    n.Name,
	}
}

// AttrInt returns an integer attribute.
func (n *Node) AttrInt(name string) (int64, error) {
	v, err := n.Attr(name)
	if err != nil {
		return 0, err
	}
	i, err := ir.AsInt(v)
	if err != nil {
		return 0, n.attrKindError(name, err)
	}
	return i, nil
}

// AttrIntOr returns an integer attribute or defaultVal when it is absent.
// A present attribute of the wrong kind is still an error.
func (n *Node) AttrIntOr(name string, defaultVal int64) (int64, error) {
	if !n.HasAttr(name) {
		return defaultVal, nil
	}
	return n.AttrInt(name)
}

// AttrBool returns a boolean attribute.
func (n *Node) AttrBool(name string) (bool, error) {
	v, err := n.Attr(name)
	if err != nil {
		return false, err
	}
	b, err := ir.AsBool(v)
	if err != nil {
		return false, n.attrKindError(name, err)
	}
	return b, nil
}

// AttrBoolOr returns a boolean attribute or defaultVal when it is absent.
func (n *Node) AttrBoolOr(name string, defaultVal bool) (bool, error) {
	if !n.HasAttr(name) {
		return defaultVal, nil
	}
	return n.AttrBool(name)
}

// AttrFloat returns a float attribute.
func (n *Node) AttrFloat(name string) (float64, error) {
	v, err := n.Attr(name)
	if err != nil {
		return 0, err
	}
	f, err := ir.AsFloat(v)
	if err != nil {
		return 0, n.attrKindError(name, err)
	}
	return f, nil
}

// AttrString returns a string attribute.
func (n *Node) AttrString(name string) (string, error) {
	v, err := n.Attr(name)
	if err != nil {
		return "", err
	}
	s, err := ir.AsString(v)
	if err != nil {
		return "", n.attrKindError(name, err)
	}
	return s, nil
}

// AttrInts returns an integer list attribute.
func (n *Node) AttrInts(name string) ([]int64, error) {
	v, err := n.Attr(name)
	if err != nil {
		return nil, err
	}
	l, err := ir.AsInts(v)
	if err != nil {
		return nil, n.attrKindError(name, err)
	}
	return l, nil
}
