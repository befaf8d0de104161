package lower

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/ops"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
	"github.com/roach88/lowerkit/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatcher() *Dispatcher {
	return New(ops.NewRegistry(), WithLogger(quietLogger()))
}

func TestLowerCommitsAtomically(t *testing.T) {
	d := newDispatcher()
	g := target.NewGraph(11)

	n := testutil.NewNode("sort0", "argsort").
		Input("X", "x").Tensor("x", ir.DTFloat32, 4).
		Output("Out", "out").Output("Indices", "idx").
		Build()
	require.NoError(t, d.Lower(n, 11, g))
	assert.Equal(t, 4, g.Len())
}

func TestLowerFailureLeavesGraphUntouched(t *testing.T) {
	d := newDispatcher()
	g := target.NewGraph(5)

	n := testutil.NewNode("sort0", "argsort").
		Input("X", "x").Tensor("x", ir.DTFloat32, 4).
		Output("Out", "out").Output("Indices", "idx").
		Attr("descending", ir.Bool(false)).
		Build()
	err := d.Lower(n, 5, g)
	require.Error(t, err)
	assert.Equal(t, 0, g.Len())

	var le *ir.LoweringError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ir.ErrCodeUnsupportedFeatureForVersion, le.Code)
	assert.Equal(t, "argsort", le.OpType)
	assert.Equal(t, "sort0", le.Node)
	assert.Equal(t, 5, le.Version)
}

func TestLowerUnsupportedOperator(t *testing.T) {
	err := newDispatcher().Lower(source.NewNode("c", "conv2d"), 11, target.NewGraph(11))
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedOperator))
	assert.Contains(t, err.Error(), "node=c")
}

func TestLowerOpsetMismatch(t *testing.T) {
	n := testutil.NewNode("w", "where_index").Input("Condition", "c").Output("Out", "o").Build()
	err := newDispatcher().Lower(n, 11, target.NewGraph(12))
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))
}

func TestLowerRecoversFromPanickingRule(t *testing.T) {
	r := mapper.NewRegistry()
	require.NoError(t, r.Register(mapper.MustNew("boom", mapper.VersionRange{Min: 1},
		mapper.Entry{Since: 1, Rule: func(b target.Builder, n *source.Node) error {
			if _, err := b.Emit("Identity", []string{"x"}, nil, nil); err != nil {
				return err
			}
			panic("bad rule")
		}},
	)))
	r.Seal()
	d := New(r, WithLogger(quietLogger()))
	g := target.NewGraph(11)

	err := d.Lower(source.NewNode("b", "boom"), 11, g)
	assert.True(t, ir.IsCode(err, ir.ErrCodeInternal))
	assert.Equal(t, 0, g.Len())
}

func TestDescribe(t *testing.T) {
	d := newDispatcher()
	s, err := d.Describe("argsort", 10)
	require.NoError(t, err)
	assert.Equal(t, "argsort@10 -> handler 10 (range [1, 12])", s)

	_, err = d.Describe("argsort", 13)
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion))
}

// chainGraph builds where_index -> index_select -> argsort plus count independent top_k nodes.
func chainGraph(count int) *source.Graph {
	g := source.NewGraph("chain")
	g.AddTensor("cond", ir.DTBool, 3, 4)
	g.AddTensor("table", ir.DTFloat32, 4, 8)
	g.AddTensor("k", ir.DTInt32, 1)

	w := source.NewNode("where", "where_index")
	w.Inputs = []source.Slot{{Name: "Condition", Refs: []string{"cond"}}}
	w.Outputs = []source.Slot{{Name: "Out", Refs: []string{"coords"}}}
	g.AddNode(w)

	sel := source.NewNode("select", "index_select")
	sel.Inputs = []source.Slot{{Name: "X", Refs: []string{"table"}}, {Name: "Index", Refs: []string{"coords"}}}
	sel.Outputs = []source.Slot{{Name: "Out", Refs: []string{"rows"}}}
	sel.Attrs["dim"] = ir.Int(0)
	g.AddNode(sel)

	sort := source.NewNode("sort", "argsort")
	sort.Inputs = []source.Slot{{Name: "X", Refs: []string{"rows"}}}
	sort.Outputs = []source.Slot{{Name: "Out", Refs: []string{"sorted"}}, {Name: "Indices", Refs: []string{"order"}}}
	sort.Attrs["descending"] = ir.Bool(true)
	g.AddNode(sort)

	for i := 0; i < count; i++ {
		n := source.NewNode(fmt.Sprintf("topk%d", i), "top_k")
		n.Inputs = []source.Slot{{Name: "X", Refs: []string{"table"}}, {Name: "K", Refs: []string{"k"}}}
		n.Outputs = []source.Slot{
			{Name: "Out", Refs: []string{fmt.Sprintf("v%d", i)}},
			{Name: "Indices", Refs: []string{fmt.Sprintf("i%d", i)}},
		}
		g.AddNode(n)
	}
	return g
}

func TestPassLowersInDeclarationOrder(t *testing.T) {
	p := NewPass(newDispatcher())
	report, err := p.Run(context.Background(), chainGraph(2), 11)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Lowered)
	assert.Empty(t, report.Failures)
	assert.Len(t, report.Hash, 64)

	nodes := report.Graph.Nodes()
	var opTypes []string
	for _, n := range nodes {
		opTypes = append(opTypes, n.OpType)
	}
	assert.Equal(t, []string{
		"NonZero", "Transpose",
		"Gather",
		"Shape", "Constant", "Gather", "TopK",
		"Cast", "TopK",
		"Cast", "TopK",
	}, opTypes)
	assert.Equal(t, []string{"where/NonZero.0"}, nodes[0].Outputs)
}

func TestPassIsIndependentOfWorkerCount(t *testing.T) {
	sequential, err := NewPass(newDispatcher()).Run(context.Background(), chainGraph(20), 11)
	require.NoError(t, err)

	for _, workers := range []int{2, 4, 16} {
		parallel, err := NewPass(newDispatcher(), WithWorkers(workers)).Run(context.Background(), chainGraph(20), 11)
		require.NoError(t, err)
		assert.Equal(t, sequential.Hash, parallel.Hash, "workers=%d", workers)
		assert.Equal(t, sequential.Lowered, parallel.Lowered)
	}
}

func TestPassAbortKeepsEarlierNodes(t *testing.T) {
	src := chainGraph(1)
	src.Nodes[2].Attrs["descending"] = ir.Bool(false)

	for _, workers := range []int{1, 4} {
		report, err := NewPass(newDispatcher(), WithWorkers(workers)).Run(context.Background(), src, 10)
		require.Error(t, err)
		assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedFeatureForVersion))
		assert.Equal(t, 2, report.Lowered, "workers=%d", workers)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, "sort", report.Failures[0].Node)
		assert.Equal(t, 3, report.Graph.Len(), "NonZero, Transpose, Gather")
	}
}

func TestPassSkipAndReport(t *testing.T) {
	src := chainGraph(1)
	// Break the producer of "rows"; its consumer must then fail too.
	src.Nodes[1].OpType = "gather_nd"

	for _, workers := range []int{1, 3} {
		report, err := NewPass(newDispatcher(),
			WithWorkers(workers),
			WithErrorPolicy(SkipAndReport),
		).Run(context.Background(), src, 11)
		require.NoError(t, err)

		require.Len(t, report.Failures, 2, "workers=%d", workers)
		assert.Equal(t, "select", report.Failures[0].Node)
		assert.Equal(t, ir.ErrCodeUnsupportedOperator, report.Failures[0].Code)
		assert.Equal(t, "sort", report.Failures[1].Node)
		assert.Equal(t, ir.ErrCodeUndefinedInput, report.Failures[1].Code)
		assert.Equal(t, 2, report.Lowered)
	}
}

func TestPassCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		report, err := NewPass(newDispatcher(), WithWorkers(workers)).Run(ctx, chainGraph(3), 11)
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, report)
		assert.Equal(t, 0, report.Graph.Len())
	}
}

func TestPassRejectsInvalidSource(t *testing.T) {
	src := chainGraph(0)
	src.Nodes[1].Name = "where"
	_, err := NewPass(newDispatcher()).Run(context.Background(), src, 11)
	assert.ErrorContains(t, err, "duplicate node name")
}

func TestErrorPolicyString(t *testing.T) {
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, "skip", SkipAndReport.String())
}
