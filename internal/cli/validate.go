package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/lower"
	"github.com/roach88/lowerkit/internal/ops"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Opset int
}

// NodeCheck is the rule selection outcome for one source node.
type NodeCheck struct {
	Node    string `json:"node"`
	OpType  string `json:"op_type"`
	Handler string `json:"handler,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Graph string      `json:"graph"`
	Opset int         `json:"opset"`
	Valid bool        `json:"valid"`
	Nodes []NodeCheck `json:"nodes"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <graph>",
		Short: "Check a graph description without lowering it",
		Long: `Load a source graph description, check its structure and report which
handler each node would be lowered with at the requested opset.

Rules are selected but not run, so attribute and dtype errors are only
reported by lower.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Opset, "opset", 0, "target opset (default: the description's, then 11)")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	src, err := loadGraph(path)
	if err != nil {
		return failLoad(formatter, err)
	}
	opset, err := resolveOpset(opts.Opset, src)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidFlag, err.Error(), nil)
	}

	d := lower.New(ops.NewRegistry(), lower.WithLogger(opts.logger(cmd.ErrOrStderr())))
	result := ValidationResult{Graph: src.Name, Opset: opset, Valid: true, Nodes: []NodeCheck{}}
	for _, n := range src.Nodes {
		check := NodeCheck{Node: n.Name, OpType: n.OpType}
		handler, err := d.Describe(n.OpType, opset)
		if err != nil {
			result.Valid = false
			check.Code = string(ir.CodeOf(err))
			check.Message = err.Error()
		} else {
			check.Handler = handler
		}
		result.Nodes = append(result.Nodes, check)
	}

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeLoweringFailed, Message: "one or more nodes cannot be lowered"}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, c := range result.Nodes {
			if c.Code == "" {
				fmt.Fprintf(w, "%s %s: %s\n", Mark(true), c.Node, c.Handler)
			} else {
				fmt.Fprintf(w, "%s %s: %s\n", Mark(false), c.Node, c.Message)
			}
		}
		fmt.Fprintf(w, "\n%s %s: %d node(s) at opset %d\n", Mark(result.Valid), result.Graph, len(result.Nodes), opset)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, ErrCodeLoweringFailed+": one or more nodes cannot be lowered")
	}
	return nil
}
