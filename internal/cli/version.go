package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/ir"
)

// VersionInfo is the payload of the version command.
type VersionInfo struct {
	Engine       string `json:"engine"`
	IR           string `json:"ir"`
	MinOpset     int    `json:"min_opset"`
	MaxOpset     int    `json:"max_opset"`
	DefaultOpset int    `json:"default_opset"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print engine and IR versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Engine:       ir.EngineVersion,
				IR:           ir.IRVersion,
				MinOpset:     ir.MinOpset,
				MaxOpset:     ir.MaxOpset,
				DefaultOpset: ir.DefaultOpset,
			}
			formatter := rootOpts.formatter(cmd)
			if formatter.Format == "json" {
				return formatter.Success(info)
			}
			fmt.Fprintf(formatter.Writer, "lowerkit %s (ir %s, opsets %d-%d, default %d)\n",
				info.Engine, info.IR, info.MinOpset, info.MaxOpset, info.DefaultOpset)
			return nil
		},
	}
}
