package ops

import (
	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

func selectionMappers() []*mapper.Mapper {
	return []*mapper.Mapper{
		mapper.MustNew("where_index", mapper.VersionRange{Min: 9, Max: 13},
			mapper.Entry{Since: 9, Rule: whereIndexOpset9},
		),
		mapper.MustNew("index_select", mapper.VersionRange{Min: 1, Max: 12},
			mapper.Entry{Since: 1, Rule: indexSelectOpset1},
		),
	}
}

// whereIndexOpset9 lists the coordinates of non-zero elements, one row per element.
// NonZero yields [rank, count]; the source op yields [count, rank].
func whereIndexOpset9(b target.Builder, n *source.Node) error {
	cond, err := n.InputAt("Condition", 0)
	if err != nil {
		return err
	}
	out, err := n.OutputAt("Out", 0)
	if err != nil {
		return err
	}

	nz, err := b.Emit("NonZero", []string{cond}, nil, nil)
	if err != nil {
		return err
	}
	_, err = b.Emit("Transpose", nz, []string{out}, ir.Attrs{"perm": ir.NewInts(1, 0)})
	return err
}

// indexSelectOpset1 gathers slices of X along dim.
func indexSelectOpset1(b target.Builder, n *source.Node) error {
	x, err := n.InputAt("X", 0)
	if err != nil {
		return err
	}
	index, err := n.InputAt("Index", 0)
	if err != nil {
		return err
	}
	out, err := n.OutputAt("Out", 0)
	if err != nil {
		return err
	}
	dim, err := n.AttrIntOr("dim", 0)
	if err != nil {
		return err
	}

	_, err = b.Emit("Gather", []string{x, index}, []string{out}, ir.Attrs{"axis": ir.Int(dim)})
	return err
}
