package mapper

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

// tagRule emits an Identity whose output name records which entry ran.
func tagRule(tag string) Rule {
	return func(b target.Builder, n *source.Node) error {
		_, err := b.Emit("Identity", []string{"x"}, []string{tag}, nil)
		return err
	}
}

func ranTag(t *testing.T, e Entry) string {
	t.Helper()
	g := target.NewGraph(0)
	tx := g.Begin("")
	require.NoError(t, e.Rule(tx, source.NewNode("n", "op")))
	require.NoError(t, tx.Commit())
	return g.Nodes()[0].Outputs[0]
}

func TestSelectRule(t *testing.T) {
	m := MustNew("argsort", VersionRange{Min: 1, Max: 12},
		Entry{Since: 11, Rule: tagRule("v11")},
		Entry{Since: 1, Rule: tagRule("v1")},
		Entry{Since: 10, Rule: tagRule("v10")},
	)

	tests := []struct {
		version int
		want    string
	}{
		{1, "v1"},
		{5, "v1"},
		{9, "v1"},
		{10, "v10"},
		{11, "v11"},
		{12, "v11"},
	}
	for _, tt := range tests {
		e, err := SelectRule(m, tt.version)
		require.NoError(t, err, "version %d", tt.version)
		assert.Equal(t, tt.want, ranTag(t, e), "version %d", tt.version)
	}
}

func TestSelectRuleMonotonic(t *testing.T) {
	m := MustNew("top_k", VersionRange{Min: 1, Max: Unbounded},
		Entry{Since: 1, Rule: tagRule("a")},
		Entry{Since: 7, Rule: tagRule("b")},
		Entry{Since: 13, Rule: tagRule("c")},
	)

	prev := 0
	for v := 1; v <= 21; v++ {
		e, err := SelectRule(m, v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, e.Since, prev, "selected version never decreases")
		assert.LessOrEqual(t, e.Since, v)
		prev = e.Since
	}
}

func TestSelectRuleOutsideRange(t *testing.T) {
	m := MustNew("where_index", VersionRange{Min: 9, Max: 13}, Entry{Since: 9, Rule: tagRule("v9")})

	for _, v := range []int{8, 14, 21} {
		_, err := SelectRule(m, v)
		require.Error(t, err)
		assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedTargetVersion), "version %d", v)

		var le *ir.LoweringError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "where_index", le.OpType)
		assert.Equal(t, v, le.Version)
	}
}

func TestSelectRuleNoApplicable(t *testing.T) {
	m := MustNew("late", VersionRange{Min: 1, Max: 13}, Entry{Since: 9, Rule: tagRule("v9")})

	_, err := SelectRule(m, 5)
	assert.True(t, ir.IsCode(err, ir.ErrCodeNoApplicableRule))

	_, err = SelectRule(m, 9)
	assert.NoError(t, err)
}

func TestNewValidation(t *testing.T) {
	rule := tagRule("x")

	_, err := New("", VersionRange{Min: 1}, Entry{Since: 1, Rule: rule})
	assert.Error(t, err)

	_, err = New("op", VersionRange{Min: 5, Max: 3}, Entry{Since: 5, Rule: rule})
	assert.Error(t, err, "empty range")

	_, err = New("op", VersionRange{Min: 1})
	assert.Error(t, err, "no entries")

	_, err = New("op", VersionRange{Min: 1}, Entry{Since: 1, Rule: rule}, Entry{Since: 1, Rule: rule})
	assert.ErrorContains(t, err, "duplicate rule for version 1")

	_, err = New("op", VersionRange{Min: 1}, Entry{Since: 1})
	assert.ErrorContains(t, err, "nil rule")

	_, err = New("op", VersionRange{Min: 1, Max: 8}, Entry{Since: 9, Rule: rule})
	assert.ErrorContains(t, err, "no rule reachable")
}

func TestMapperAccessors(t *testing.T) {
	m := MustNew("argsort", VersionRange{Min: 1, Max: 12},
		Entry{Since: 11, Rule: tagRule("b")},
		Entry{Since: 1, Rule: tagRule("a")},
	)
	assert.Equal(t, "argsort", m.OpType())
	assert.Equal(t, VersionRange{Min: 1, Max: 12}, m.Range())
	assert.Equal(t, []int{1, 11}, m.Versions())
	assert.Equal(t, "[1, 12]", m.Range().String())
	assert.Equal(t, "[11, +inf)", VersionRange{Min: 11}.String())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := MustNew("index_select", VersionRange{Min: 1, Max: 12}, Entry{Since: 1, Rule: tagRule("x")})

	require.NoError(t, r.Register(m))
	err := r.Register(m)
	assert.True(t, ir.IsCode(err, ir.ErrCodeDuplicateRegistration))

	got, err := r.Lookup("index_select")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = r.Lookup("conv2d")
	assert.True(t, ir.IsCode(err, ir.ErrCodeUnsupportedOperator))

	r.Seal()
	assert.True(t, r.Sealed())
	other := MustNew("top_k", VersionRange{Min: 11}, Entry{Since: 11, Rule: tagRule("x")})
	assert.True(t, ir.IsCode(r.Register(other), ir.ErrCodeRegistrySealed))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []string{"index_select"}, r.OpTypes())
}

func TestRegistryConcurrentLookup(t *testing.T) {
	r := NewRegistry()
	for _, op := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(MustNew(op, VersionRange{Min: 1}, Entry{Since: 1, Rule: tagRule(op)})))
	}
	r.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, op := range r.OpTypes() {
				_, err := r.Lookup(op)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
