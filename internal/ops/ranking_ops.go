package ops

import (
	"fmt"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

func rankingMappers() []*mapper.Mapper {
	return []*mapper.Mapper{
		mapper.MustNew("top_k_v2", mapper.VersionRange{Min: 11, Max: mapper.Unbounded},
			mapper.Entry{Since: 11, Rule: topKV2Opset11},
		),
		mapper.MustNew("top_k", mapper.VersionRange{Min: 11, Max: mapper.Unbounded},
			mapper.Entry{Since: 11, Rule: topKOpset11},
		),
		mapper.MustNew("argsort", mapper.VersionRange{Min: 1, Max: 12},
			mapper.Entry{Since: 1, Rule: argsortOpset1},
			mapper.Entry{Since: 10, Rule: argsortOpset10},
			mapper.Entry{Since: 11, Rule: argsortOpset11},
		),
	}
}

// countInput returns the tensor that feeds TopK's k input.
//
// A present, non-empty K slot is used as is, with a Cast to int64 when its
// dtype differs. Otherwise the static attribute k is materialized as a
// one-element int64 Constant. Either way TopK sees an int64 tensor of shape [1].
func countInput(b target.Builder, n *source.Node) (string, error) {
	if n.HasInput("K") {
		k, err := n.InputAt("K", 0)
		if err != nil {
			return "", err
		}
		dt, err := n.InputDType("K", 0)
		if err != nil {
			return "", err
		}
		return coerceTo(b, k, dt, ir.DTInt64)
	}

	k, err := n.AttrInt("k")
	if err != nil {
		return "", err
	}
	return b.EmitConstant(ir.DTInt64, ir.NewInts(k))
}

// rankOutputs returns the values and indices tensor names of a ranking node.
func rankOutputs(n *source.Node) ([]string, error) {
	out, err := n.OutputAt("Out", 0)
	if err != nil {
		return nil, err
	}
	indices, err := n.OutputAt("Indices", 0)
	if err != nil {
		return nil, err
	}
	return []string{out, indices}, nil
}

func topKV2Opset11(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	outs, err := rankOutputs(n)
	if err != nil {
		return err
	}
	largest, err := n.AttrBoolOr("largest", true)
	if err != nil {
		return err
	}
	sorted, err := n.AttrBoolOr("sorted", true)
	if err != nil {
		return err
	}
	axis, err := n.AttrIntOr("axis", -1)
	if err != nil {
		return err
	}

	k, err := countInput(b, n)
	if err != nil {
		return err
	}
	_, err = b.Emit("TopK", []string{x, k}, outs, ir.Attrs{
		"axis":    ir.Int(axis),
		"largest": boolFlag(largest),
		"sorted":  boolFlag(sorted),
	})
	return err
}

// topKOpset11 ranks along the last axis, largest first.
func topKOpset11(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	outs, err := rankOutputs(n)
	if err != nil {
		return err
	}

	k, err := countInput(b, n)
	if err != nil {
		return err
	}
	_, err = b.Emit("TopK", []string{x, k}, outs, nil)
	return err
}

type argsortAttrs struct {
	axis       int64
	descending bool
}

func readArgsortAttrs(n *source.Node) (argsortAttrs, error) {
	axis, err := n.AttrIntOr("axis", -1)
	if err != nil {
		return argsortAttrs{}, err
	}
	descending, err := n.AttrBoolOr("descending", false)
	if err != nil {
		return argsortAttrs{}, err
	}
	return argsortAttrs{axis: axis, descending: descending}, nil
}

func ascendingUnsupported(n *source.Node, since int) error {
	return &ir.LoweringError{
		Code:    ir.ErrCodeUnsupportedFeatureForVersion,
		Message: fmt.Sprintf("descending=false needs TopK largest (target version >= 11), handler %d has none", since),
		OpType:  n.OpType,
		Node:    n.Name,
	}
}

// axisLength emits Shape(x)[axis] as a one-element int64 tensor.
func axisLength(b target.Builder, x string, axis int64) (string, error) {
	shape, err := b.Emit("Shape", []string{x}, nil, nil)
	if err != nil {
		return "", err
	}
	idx, err := b.EmitConstant(ir.DTInt64, ir.NewInts(axis))
	if err != nil {
		return "", err
	}
	size, err := b.Emit("Gather", []string{shape[0], idx}, nil, nil)
	if err != nil {
		return "", err
	}
	return size[0], nil
}

// argsortOpset11 sorts the full axis with TopK, choosing direction with largest.
func argsortOpset11(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	outs, err := rankOutputs(n)
	if err != nil {
		return err
	}
	attrs, err := readArgsortAttrs(n)
	if err != nil {
		return err
	}

	size, err := axisLength(b, x, attrs.axis)
	if err != nil {
		return err
	}
	_, err = b.Emit("TopK", []string{x, size}, outs, ir.Attrs{
		"axis":    ir.Int(attrs.axis),
		"largest": boolFlag(attrs.descending),
	})
	return err
}

// argsortOpset10 takes the count as an input but TopK-10 always ranks largest first.
func argsortOpset10(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	outs, err := rankOutputs(n)
	if err != nil {
		return err
	}
	attrs, err := readArgsortAttrs(n)
	if err != nil {
		return err
	}
	if !attrs.descending {
		return ascendingUnsupported(n, 10)
	}
	index, err := gatherIndex10(n, attrs.axis)
	if err != nil {
		return err
	}

	size, err := axisLength(b, x, index)
	if err != nil {
		return err
	}
	_, err = b.Emit("TopK", []string{x, size}, outs, ir.Attrs{"axis": ir.Int(attrs.axis)})
	return err
}

// gatherIndex10 turns a negative axis into the non-negative Gather index
// version 10 requires. Only the rank of X is needed.
func gatherIndex10(n *source.Node, axis int64) (int64, error) {
	if axis >= 0 {
		return axis, nil
	}
	shape, err := n.InputShape("X", 0)
	if err != nil {
		return 0, &ir.LoweringError{
			Code:    ir.ErrCodeUnsupportedFeatureForVersion,
			Message: fmt.Sprintf("negative axis %d needs the input rank before target version 11", axis),
			OpType:  n.OpType,
			Node:    n.Name,
			Err:     err,
		}
	}
	index := axis + int64(len(shape))
	if index < 0 {
		return 0, &ir.LoweringError{
			Code:    ir.ErrCodeInvalidAttribute,
			Message: "axis out of range for input rank",
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	return index, nil
}

// argsortOpset1 carries k as an attribute, so the axis length must be known statically.
func argsortOpset1(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	outs, err := rankOutputs(n)
	if err != nil {
		return err
	}
	attrs, err := readArgsortAttrs(n)
	if err != nil {
		return err
	}
	if !attrs.descending {
		return ascendingUnsupported(n, 1)
	}

	shape, err := n.InputShape("X", 0)
	if err != nil {
		return err
	}
	axis := attrs.axis
	if axis < 0 {
		axis += int64(len(shape))
	}
	if axis < 0 || axis >= int64(len(shape)) {
		return &ir.LoweringError{
			Code:    ir.ErrCodeInvalidAttribute,
			Message: "axis out of range for input rank",
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}
	k := shape[axis]
	if k < 0 {
		return &ir.LoweringError{
			Code:    ir.ErrCodeUnsupportedFeatureForVersion,
			Message: "dynamic axis length requires target version >= 10",
			OpType:  n.OpType,
			Node:    n.Name,
		}
	}

	_, err = b.Emit("TopK", []string{x}, outs, ir.Attrs{
		"axis": ir.Int(attrs.axis),
		"k":    ir.Int(k),
	})
	return err
}
