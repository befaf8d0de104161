package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const whereGraph = `name: where
opset: 11
tensors:
  cond: {dtype: bool, shape: [3, 4]}
nodes:
  - name: where0
    op: where_index
    inputs: {Condition: [cond]}
    outputs: {Out: [coords]}
`

// argsortGraph lowers at opset 11 and fails at opset 10 (ascending needs 11).
const argsortGraph = `name: argsort
tensors:
  x: {dtype: float32, shape: [2, 6]}
nodes:
  - name: sort0
    op: argsort
    inputs: {X: [x]}
    outputs: {Out: [sorted], Indices: [order]}
    attrs: {axis: -1, descending: false}
`

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs cmd with args, returning stdout, stderr and the error.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
