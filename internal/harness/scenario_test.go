package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

)

func TestLoadScenario_ResolvesGraphPath(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "where-index.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "graphs", "where.yaml"), s.Graph)
	assert.True(t, s.Golden)
	assert.Equal(t, []string{"NonZero", "Transpose"}, s.Expect.Ops)
}

func TestLoadScenario_Inline(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "skip-and-report.yaml"))
	require.NoError(t, err)
	require.NotNil(t, s.Source)
	assert.Len(t, s.Source.Nodes, 2)
	assert.True(t, s.SkipErrors)
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"missing name", "graph: g.yaml\n", "name is required"},
		{"no graph", "name: a\n", "one of graph or source is required"},
		{"both", "name: a\ngraph: g.yaml\nsource: {nodes: []}\n", "mutually exclusive"},
		{"missing graph file", "name: a\ngraph: absent.yaml\n", "graph file not found"},
		{"opset", "name: a\nsource: {}\nopset: 40\n", "opset 40 outside"},
		{"negative workers", "name: a\nsource: {}\nworkers: -1\n", "workers must be non-negative"},
		{"error with skip", "name: a\nsource: {}\nskip_errors: true\nexpect: {error: X}\n", "expect.error needs the abort policy"},
		{"failures without skip", "name: a\nsource: {}\nexpect: {failures: [X]}\n", "expect.failures needs skip_errors"},
		{"empty expr", "name: a\nsource: {}\nassertions: [{message: m}]\n", "expr is required"},
		{"typo", "name: a\nsource: {}\nassertion: []\n", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
