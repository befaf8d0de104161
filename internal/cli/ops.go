package cli

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/loader"
	"github.com/roach88/lowerkit/internal/ops"
)

// OpInfo describes one registered source operator.
type OpInfo struct {
	OpType   string `json:"op_type"`
	Range    string `json:"range"`
	Handlers []int  `json:"handlers"`
}

// NewOpsCommand creates the ops command.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List registered source operators",
		Long: `List every source operator the registry can lower, with the target
version range it supports and the versions at which its handlers start.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOps(rootOpts, cmd)
		},
	}
}

func runOps(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	r := ops.NewRegistry()
	infos := make([]OpInfo, 0, r.Len())
	for _, op := range r.OpTypes() {
		m, err := r.Lookup(op)
		if err != nil {
			return formatter.fail(ExitCommandError, loader.ErrCodeGeneric, err.Error(), nil)
		}
		infos = append(infos, OpInfo{
			OpType:   op,
			Range:    m.Range().String(),
			Handlers: m.Versions(),
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(infos)
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tRANGE\tHANDLERS")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.OpType, info.Range, joinInts(info.Handlers))
	}
	return tw.Flush()
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
