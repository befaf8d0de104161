package harness

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/lower"
)

// Env is what an assertion expression sees.
//
//	len(nodes) == 4
//	nodes[3].op_type == "TopK" && nodes[3].attrs.largest == 0
//	all(nodes, .op_type != "Unsqueeze")
//	"TopK" in ops()
//	error == "" && lowered == 1
type Env struct {
	Nodes    []NodeView    `expr:"nodes"`
	Opset    int           `expr:"opset"`
	Lowered  int           `expr:"lowered"`
	Failures []FailureView `expr:"failures"`
	Error    string        `expr:"error"`
}

// NodeView is a target node with attributes converted to plain Go values.
type NodeView struct {
	Name    string         `expr:"name"`
	OpType  string         `expr:"op_type"`
	Inputs  []string       `expr:"inputs"`
	Outputs []string       `expr:"outputs"`
	Attrs   map[string]any `expr:"attrs"`
}

// FailureView is one source node that did not lower.
type FailureView struct {
	Node   string `expr:"node"`
	OpType string `expr:"op_type"`
	Code   string `expr:"code"`
}

// NewEnv builds the assertion environment for a pass report.
func NewEnv(report *lower.Report, errCode string) Env {
	env := Env{
		Opset:    report.Version,
		Lowered:  report.Lowered,
		Error:    errCode,
		Nodes:    []NodeView{},
		Failures: []FailureView{},
	}
	for _, n := range report.Graph.Nodes() {
		attrs := make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			attrs[k] = plainValue(v)
		}
		env.Nodes = append(env.Nodes, NodeView{
			Name:    n.Name,
			OpType:  n.OpType,
			Inputs:  n.Inputs,
			Outputs: n.Outputs,
			Attrs:   attrs,
		})
	}
	for _, f := range report.Failures {
		env.Failures = append(env.Failures, FailureView{
			Node:   f.Node,
			OpType: f.OpType,
			Code:   string(f.Code),
		})
	}
	return env
}

func plainValue(v ir.Value) any {
	switch val := v.(type) {
	case ir.Int:
		return int(val)
	case ir.Float:
		return float64(val)
	case ir.Bool:
		return bool(val)
	case ir.String:
		return string(val)
	case ir.TensorRef:
		return string(val)
	case ir.Ints:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = int(n)
		}
		return out
	case ir.Floats:
		out := make([]any, len(val))
		for i, f := range val {
			out[i] = f
		}
		return out
	default:
		return nil
	}
}

func exprOpts(env Env) []expr.Option {
	return []expr.Option{
		expr.Env(Env{}),
		expr.AsBool(),
		expr.Function("ops", func(params ...any) (any, error) {
			ops := make([]string, len(env.Nodes))
			for i, n := range env.Nodes {
				ops[i] = n.OpType
			}
			return ops, nil
		},
			new(func() []string)),
		expr.Function("node", func(params ...any) (any, error) {
			name := params[0].(string)
			for _, n := range env.Nodes {
				if n.Name == name {
					return n, nil
				}
			}
			return nil, fmt.Errorf("no target node %q", name)
		},
			new(func(string) NodeView)),
	}
}

// EvaluateAssertions runs every assertion against env and returns one
// message per assertion that failed or could not be evaluated.
func EvaluateAssertions(assertions []Assertion, env Env) []string {
	var failures []string
	for i, a := range assertions {
		ok, err := evalAssertion(a.Expr, env)
		switch {
		case err != nil:
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s: %v", i, a.Expr, err))
		case !ok:
			msg := a.Message
			if msg == "" {
				msg = "expression is false"
			}
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s: %s", i, a.Expr, msg))
		}
	}
	return failures
}

func evalAssertion(input string, env Env) (bool, error) {
	program, err := expr.Compile(input, exprOpts(env)...)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
