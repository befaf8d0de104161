package ops

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
	"github.com/roach88/lowerkit/internal/testutil"
)

var registry = NewRegistry()

// lowerInto runs the rule selected for version on n, staging into g.
func lowerInto(g *target.Graph, n *source.Node, version int) error {
	m, err := registry.Lookup(n.OpType)
	if err != nil {
		return err
	}
	e, err := mapper.SelectRule(m, version)
	if err != nil {
		return err
	}
	tx := g.Begin("")
	if err := e.Rule(tx, n); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

func lowerAt(t *testing.T, n *source.Node, version int) (*target.Graph, error) {
	t.Helper()
	g := target.NewGraph(version)
	err := lowerInto(g, n, version)
	return g, err
}

func opTypes(nodes []target.NodeSpec) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.OpType
	}
	return out
}

func assertGolden(t *testing.T, name string, g *target.Graph) {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, g.WriteText(&sb))
	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, name, []byte(sb.String()))
}

func whereIndexNode() *source.Node {
	return testutil.NewNode("where0", "where_index").
		Input("Condition", "cond").Tensor("cond", ir.DTBool, 3, 4).
		Output("Out", "out").
		Build()
}

func topKNode(opType string) *testutil.NodeBuilder {
	return testutil.NewNode("topk0", opType).
		Input("X", "x").Tensor("x", ir.DTFloat32, 4, 8).
		Output("Out", "out").
		Output("Indices", "idx")
}

func argsortNode(descending bool, shape ...int64) *source.Node {
	return testutil.NewNode("sort0", "argsort").
		Input("X", "x").Tensor("x", ir.DTFloat32, shape...).
		Output("Out", "out").
		Output("Indices", "idx").
		Attr("axis", ir.Int(-1)).
		Attr("descending", ir.Bool(descending)).
		Build()
}

func TestRegistryContents(t *testing.T) {
	assert.True(t, registry.Sealed())
	assert.Equal(t, []string{"argsort", "index_select", "top_k", "top_k_v2", "where_index"}, registry.OpTypes())

	m, err := registry.Lookup("argsort")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 10, 11}, m.Versions())
	assert.Equal(t, mapper.VersionRange{Min: 1, Max: 12}, m.Range())
}

func TestRegisterTwiceFails(t *testing.T) {
	r := mapper.NewRegistry()
	require.NoError(t, Register(r))
	err := Register(r)
	assert.True(t, ir.IsCode(err, ir.ErrCodeDuplicateRegistration))
}

func TestWhereIndex(t *testing.T) {
	g, err := lowerAt(t, whereIndexNode(), 11)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, []string{"NonZero", "Transpose"}, opTypes(nodes))
	assert.Equal(t, []string{"cond"}, nodes[0].Inputs)
	assert.Equal(t, nodes[0].Outputs, nodes[1].Inputs)
	assert.Equal(t, []string{"out"}, nodes[1].Outputs)
	assert.Equal(t, ir.Ints{1, 0}, nodes[1].Attrs["perm"])

	assertGolden(t, "where_index", g)
}

func TestWhereIndexVersionRange(t *testing.T) {
	_, err := lowerAt(t, whereIndexNode(), 8)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))

	_, err = lowerAt(t, whereIndexNode(), 14)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))

	_, err = lowerAt(t, whereIndexNode(), 13)
	assert.NoError(t, err)
}

func TestTopKStaticCount(t *testing.T) {
	g, err := lowerAt(t, topKNode("top_k").Attr("k", ir.Int(5)).Build(), 11)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, []string{"Constant", "TopK"}, opTypes(nodes))
	assert.Equal(t, ir.Ints{5}, nodes[0].Attrs["value"])
	assert.Equal(t, ir.Int(7), nodes[0].Attrs["dtype"], "int64 target code")
	assert.Equal(t, []string{"x", nodes[0].Outputs[0]}, nodes[1].Inputs)
	assert.Equal(t, []string{"out", "idx"}, nodes[1].Outputs)

	assertGolden(t, "top_k_static", g)
}

func TestTopKDynamicInt64CountEmitsNoCoercion(t *testing.T) {
	n := topKNode("top_k").
		Input("K", "k").Tensor("k", ir.DTInt64, 1).
		Attr("k", ir.Int(5)).
		Build()

	g, err := lowerAt(t, n, 11)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "TopK", nodes[0].OpType)
	assert.Equal(t, []string{"x", "k"}, nodes[0].Inputs)
}

func TestTopKDynamicInt32CountIsCast(t *testing.T) {
	n := topKNode("top_k").
		Input("K", "k").Tensor("k", ir.DTInt32, 1).
		Build()

	g, err := lowerAt(t, n, 11)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, []string{"Cast", "TopK"}, opTypes(nodes))
	assert.Equal(t, ir.Int(7), nodes[0].Attrs["to"])
	assert.Equal(t, []string{"k"}, nodes[0].Inputs)
	assert.Equal(t, []string{"x", nodes[0].Outputs[0]}, nodes[1].Inputs)
}

func TestTopKEmptyCountSlotFallsBackToAttribute(t *testing.T) {
	n := topKNode("top_k").
		Input("K").
		Attr("k", ir.Int(3)).
		Build()

	g, err := lowerAt(t, n, 11)
	require.NoError(t, err)
	assert.Equal(t, []string{"Constant", "TopK"}, opTypes(g.Nodes()))
}

func TestTopKStringCountIsDtypeMismatch(t *testing.T) {
	n := topKNode("top_k").
		Input("K", "k").Tensor("k", ir.DTString, 1).
		Build()

	g, err := lowerAt(t, n, 11)
	assert.True(t, ir.IsCode(err, ir.ErrCodeDtypeMismatch))
	assert.Equal(t, 0, g.Len())
}

func TestTopKMissingCount(t *testing.T) {
	g, err := lowerAt(t, topKNode("top_k").Build(), 11)
	assert.True(t, ir.IsCode(err, ir.ErrCodeMissingAttribute))
	assert.Equal(t, 0, g.Len())
}

func TestTopKWrongKindCount(t *testing.T) {
	_, err := lowerAt(t, topKNode("top_k").Attr("k", ir.Float(5)).Build(), 11)
	assert.True(t, ir.IsCode(err, ir.ErrCodeWrongValueKind))
}

func TestTopKBelowRange(t *testing.T) {
	_, err := lowerAt(t, topKNode("top_k").Attr("k", ir.Int(5)).Build(), 10)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))
}

func TestTopKV2CarriesFlags(t *testing.T) {
	n := topKNode("top_k_v2").
		Attr("k", ir.Int(2)).
		Attr("axis", ir.Int(0)).
		Attr("largest", ir.Bool(false)).
		Attr("sorted", ir.Bool(true)).
		Build()

	g, err := lowerAt(t, n, 17)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 2)
	topk := nodes[1]
	assert.Equal(t, ir.Int(0), topk.Attrs["axis"])
	assert.Equal(t, ir.Int(0), topk.Attrs["largest"])
	assert.Equal(t, ir.Int(1), topk.Attrs["sorted"])
}

func TestTopKV2Defaults(t *testing.T) {
	g, err := lowerAt(t, topKNode("top_k_v2").Attr("k", ir.Int(2)).Build(), 11)
	require.NoError(t, err)

	topk := g.Nodes()[1]
	assert.Equal(t, ir.Int(-1), topk.Attrs["axis"])
	assert.Equal(t, ir.Int(1), topk.Attrs["largest"])
	assert.Equal(t, ir.Int(1), topk.Attrs["sorted"])
}

func TestTopKDualPathEquivalence(t *testing.T) {
	static := topKNode("top_k_v2").Attr("k", ir.Int(4)).Attr("largest", ir.Bool(false)).Build()
	dynamic := topKNode("top_k_v2").
		Input("K", "k").Tensor("k", ir.DTInt64, 1).
		Attr("largest", ir.Bool(false)).
		Build()

	gs, err := lowerAt(t, static, 11)
	require.NoError(t, err)
	gd, err := lowerAt(t, dynamic, 11)
	require.NoError(t, err)

	ns, nd := gs.Nodes(), gd.Nodes()
	last := func(nodes []target.NodeSpec) target.NodeSpec { return nodes[len(nodes)-1] }
	assert.Equal(t, last(ns).OpType, last(nd).OpType)
	assert.Equal(t, last(ns).Outputs, last(nd).Outputs)
	assert.Equal(t, last(ns).Attrs, last(nd).Attrs)
	assert.Len(t, last(ns).Inputs, 2)
	assert.Len(t, last(nd).Inputs, 2)
}

func TestArgsortAscendingAtOpset11(t *testing.T) {
	g, err := lowerAt(t, argsortNode(false, 2, 6), 11)
	require.NoError(t, err)

	nodes := g.Nodes()
	assert.Equal(t, []string{"Shape", "Constant", "Gather", "TopK"}, opTypes(nodes))
	topk := nodes[3]
	assert.Equal(t, ir.Int(0), topk.Attrs["largest"])
	assert.Equal(t, ir.Int(-1), topk.Attrs["axis"])
	assert.Equal(t, []string{"x", nodes[2].Outputs[0]}, topk.Inputs)
	assert.Equal(t, ir.Ints{-1}, nodes[1].Attrs["value"])

	assertGolden(t, "argsort_ascending_opset11", g)
}

func TestArgsortDescendingAtOpset12(t *testing.T) {
	g, err := lowerAt(t, argsortNode(true, 2, 6), 12)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, ir.Int(1), nodes[3].Attrs["largest"])
}

func TestArgsortAscendingFailsBeforeOpset11(t *testing.T) {
	for _, version := range []int{1, 5, 9, 10} {
		g, err := lowerAt(t, argsortNode(false, 2, 6), version)
		require.Error(t, err, "version %d", version)
		assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedFeatureForVersion), "version %d", version)
		assert.Equal(t, 0, g.Len(), "nothing is committed on failure")
	}
}

func TestArgsortDescendingAtOpset10(t *testing.T) {
	g, err := lowerAt(t, argsortNode(true, 2, 6), 10)
	require.NoError(t, err)

	nodes := g.Nodes()
	assert.Equal(t, []string{"Shape", "Constant", "Gather", "TopK"}, opTypes(nodes))
	_, hasLargest := nodes[3].Attrs["largest"]
	assert.False(t, hasLargest)
	assert.Equal(t, ir.Ints{1}, nodes[1].Attrs["value"], "Gather-10 indices are non-negative")
	assert.Equal(t, ir.Int(-1), nodes[3].Attrs["axis"])
}

func TestArgsortOpset10NormalizesGatherIndex(t *testing.T) {
	n := testutil.NewNode("sort0", "argsort").
		Input("X", "x").Tensor("x", ir.DTFloat32, 2, -1, 5).
		Output("Out", "out").
		Output("Indices", "idx").
		Attr("descending", ir.Bool(true)).
		Build()
	g, err := lowerAt(t, n, 10)
	require.NoError(t, err)
	nodes := g.Nodes()
	require.Len(t, nodes, 4)
	assert.Equal(t, ir.Ints{2}, nodes[1].Attrs["value"], "default axis -1 on a rank-3 input")

	n.Attrs["axis"] = ir.Int(1)
	g, err = lowerAt(t, n, 10)
	require.NoError(t, err)
	assert.Equal(t, ir.Ints{1}, g.Nodes()[1].Attrs["value"])

	n.Attrs["axis"] = ir.Int(-4)
	_, err = lowerAt(t, n, 10)
	assert.True(t, ir.IsCode(err, ir.ErrCodeInvalidAttribute))

	g, err = lowerAt(t, argsortNode(true), 10)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedFeatureForVersion), "unknown rank")
	assert.Equal(t, 0, g.Len())
}

func TestArgsortDescendingStaticCount(t *testing.T) {
	g, err := lowerAt(t, argsortNode(true, 2, 6), 5)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "TopK", nodes[0].OpType)
	assert.Equal(t, []string{"x"}, nodes[0].Inputs)
	assert.Equal(t, ir.Int(6), nodes[0].Attrs["k"])
	assert.Equal(t, ir.Int(-1), nodes[0].Attrs["axis"])

	assertGolden(t, "argsort_descending_opset5", g)
}

func TestArgsortStaticCountNeedsKnownDim(t *testing.T) {
	_, err := lowerAt(t, argsortNode(true, 2, -1), 5)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedFeatureForVersion))

	_, err = lowerAt(t, argsortNode(true), 5)
	assert.True(t, ir.IsCode(err, ir.ErrCodeMissingSlot), "no recorded shape")

	n := argsortNode(true, 2, 6)
	n.Attrs["axis"] = ir.Int(2)
	_, err = lowerAt(t, n, 5)
	assert.True(t, ir.IsCode(err, ir.ErrCodeInvalidAttribute))
}

func TestArgsortAboveRange(t *testing.T) {
	_, err := lowerAt(t, argsortNode(true, 2, 6), 13)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))
}

func TestIndexSelect(t *testing.T) {
	n := testutil.NewNode("sel0", "index_select").
		Input("X", "x").Tensor("x", ir.DTFloat32, 2, 3, 4).
		Input("Index", "index").Tensor("index", ir.DTInt64, 2).
		Output("Out", "out").
		Attr("dim", ir.Int(2)).
		Build()

	g, err := lowerAt(t, n, 7)
	require.NoError(t, err)

	nodes := g.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "Gather", nodes[0].OpType)
	assert.Equal(t, ir.Int(2), nodes[0].Attrs["axis"])
	assert.Equal(t, []string{"x", "index"}, nodes[0].Inputs)
	assert.Equal(t, []string{"out"}, nodes[0].Outputs)
}

func TestIndexSelectMissingIndex(t *testing.T) {
	n := testutil.NewNode("sel0", "index_select").
		Input("X", "x").
		Output("Out", "out").
		Build()

	_, err := lowerAt(t, n, 11)
	assert.True(t, ir.IsCode(err, ir.ErrCodeMissingSlot))
}

func TestRepeatedLoweringNamesAreUnique(t *testing.T) {
	g := target.NewGraph(11)
	for i := 0; i < 5; i++ {
		out := []string{"out", "idx"}
		n := testutil.NewNode("sort", "argsort").
			Input("X", "x").Tensor("x", ir.DTFloat32, 8).
			Output("Out", out[0]+string(rune('a'+i))).
			Output("Indices", out[1]+string(rune('a'+i))).
			Build()
		require.NoError(t, lowerInto(g, n, 11))
	}

	written := map[string]bool{}
	for _, n := range g.Nodes() {
		for _, out := range n.Outputs {
			assert.False(t, written[out], "output %s written twice", out)
			written[out] = true
		}
	}
	assert.Equal(t, 20, g.Len())
}

func TestCoerceTo(t *testing.T) {
	tests := []struct {
		name      string
		from      ir.DType
		wantNodes int
		wantCode  ir.ErrorCode
	}{
		{"same dtype", ir.DTInt64, 0, ""},
		{"int32", ir.DTInt32, 1, ""},
		{"float", ir.DTFloat32, 1, ""},
		{"bool", ir.DTBool, 1, ""},
		{"string", ir.DTString, 0, ir.ErrCodeDtypeMismatch},
		{"complex", ir.DTComplex64, 0, ir.ErrCodeDtypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := target.NewGraph(11)
			tx := g.Begin("")
			ref, err := coerceTo(tx, "k", tt.from, ir.DTInt64)
			if tt.wantCode != "" {
				assert.True(t, ir.IsCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			require.NoError(t, tx.Commit())
			assert.Equal(t, tt.wantNodes, g.Len())
			if tt.wantNodes == 0 {
				assert.Equal(t, "k", ref)
			} else {
				assert.True(t, g.Produced(ref))
			}
		})
	}
}
