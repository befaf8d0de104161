package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/loader"
	"github.com/roach88/lowerkit/internal/lower"
	"github.com/roach88/lowerkit/internal/ops"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/store"
)

// LowerOptions holds flags for the lower command.
type LowerOptions struct {
	*RootOptions
	Opset      int    // target opset; 0 means the description's, then ir.DefaultOpset
	Workers    int    // parallel rule workers
	SkipErrors bool   // skip-and-report instead of abort
	Output     string // output file path
	Journal    string // SQLite journal path (optional)

	// IDGenerator overrides the journal run id generator (for testing).
	IDGenerator store.IDGenerator
}

// LowerResult is the JSON payload of the lower command.
type LowerResult struct {
	Graph    string          `json:"graph"`
	Opset    int             `json:"opset"`
	Hash     string          `json:"hash"`
	Lowered  int             `json:"lowered"`
	Failures []FailureResult `json:"failures"`
	Target   json.RawMessage `json:"target"`
	RunID    string          `json:"run_id,omitempty"`
	Output   string          `json:"output,omitempty"`
}

// FailureResult is one node that did not lower.
type FailureResult struct {
	Node    string `json:"node"`
	OpType  string `json:"op_type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LowerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lower <graph>",
		Short: "Lower a source graph to the target operator set",
		Long: `Lower every node of a source graph description (.cue, .yaml, .json or
a CUE package directory) into a target graph at the requested opset.

Exit codes:
  0 - Every node lowered
  1 - One or more nodes failed to lower
  2 - Command error (unreadable description, invalid flag, journal error)

Examples:
  lowerkit lower model.cue --opset 11
  lowerkit lower model.yaml --workers 4 --skip-errors -o target.json
  lowerkit lower model.cue --journal ./lowerkit.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Opset, "opset", 0, "target opset (default: the description's, then 11)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "number of parallel rule workers")
	cmd.Flags().BoolVar(&opts.SkipErrors, "skip-errors", false, "report failed nodes and keep lowering")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the target graph as JSON to this file")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record the run in this SQLite journal")

	return cmd
}

func runLower(ctx context.Context, opts *LowerOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	src, err := loadGraph(path)
	if err != nil {
		return failLoad(formatter, err)
	}

	opset, err := resolveOpset(opts.Opset, src)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidFlag, err.Error(), nil)
	}
	if opts.Workers < 1 {
		return formatter.fail(ExitCommandError, ErrCodeInvalidFlag, "--workers must be at least 1", nil)
	}
	policy := lower.Abort
	if opts.SkipErrors {
		policy = lower.SkipAndReport
	}

	formatter.VerboseLog("Lowering %s (%d node(s)) at opset %d", src.Name, len(src.Nodes), opset)

	report, runErr := runPass(ctx, opts.RootOptions, cmd, src, opset, opts.Workers, policy)
	if report == nil {
		return formatter.fail(ExitCommandError, loader.ErrCodeInvalidGraph, runErr.Error(), nil)
	}

	target, err := report.Graph.MarshalIndent()
	if err != nil {
		return formatter.fail(ExitCommandError, loader.ErrCodeGeneric, err.Error(), nil)
	}
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, target, 0o644); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	result := LowerResult{
		Graph:    src.Name,
		Opset:    opset,
		Hash:     report.Hash,
		Lowered:  report.Lowered,
		Failures: failureResults(report.Failures),
		Target:   json.RawMessage(target),
		Output:   opts.Output,
	}

	if opts.Journal != "" {
		runID, err := journalRun(ctx, opts, formatter, src, report, policy)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
		}
		result.RunID = runID
	}

	if err := outputLowerResult(formatter, report, result); err != nil {
		return err
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, ErrCodeLoweringFailed+": lowering aborted", runErr)
	}
	if len(report.Failures) > 0 {
		return NewExitError(ExitFailure,
			fmt.Sprintf("%s: %d node(s) failed to lower", ErrCodeLoweringFailed, len(report.Failures)))
	}
	return nil
}

// loadGraph reads and validates a description file.
func loadGraph(path string) (*source.Graph, error) {
	src, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, &loader.LoadError{Code: loader.ErrCodeInvalidGraph, Message: err.Error()}
	}
	return src, nil
}

// failLoad reports a description loading error as a command error.
func failLoad(formatter *OutputFormatter, err error) error {
	var le *loader.LoadError
	if errors.As(err, &le) {
		if formatter.Format != "json" && le.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", le.Pos.Filename(), le.Pos.Line(), le.Pos.Column())
		}
		return formatter.fail(ExitCommandError, le.Code, le.Message, nil)
	}
	return formatter.fail(ExitCommandError, loader.ErrCodeGeneric, err.Error(), nil)
}

// resolveOpset picks the flag, then the description's opset, then the default.
func resolveOpset(flag int, src *source.Graph) (int, error) {
	opset := flag
	if opset == 0 {
		opset = src.Opset
	}
	if opset == 0 {
		opset = ir.DefaultOpset
	}
	if opset < ir.MinOpset || opset > ir.MaxOpset {
		return 0, fmt.Errorf("opset %d outside [%d, %d]", opset, ir.MinOpset, ir.MaxOpset)
	}
	return opset, nil
}

// runPass lowers src with a fresh registry.
func runPass(ctx context.Context, opts *RootOptions, cmd *cobra.Command, src *source.Graph, opset, workers int, policy lower.ErrorPolicy) (*lower.Report, error) {
	logger := opts.logger(cmd.ErrOrStderr())
	pass := lower.NewPass(
		lower.New(ops.NewRegistry(), lower.WithLogger(logger)),
		lower.WithWorkers(workers),
		lower.WithErrorPolicy(policy),
	)
	return pass.Run(ctx, src, opset)
}

// journalRun records the run and warns when the same source, opset and
// policy previously lowered to a different target graph.
func journalRun(ctx context.Context, opts *LowerOptions, formatter *OutputFormatter, src *source.Graph, report *lower.Report, policy lower.ErrorPolicy) (string, error) {
	var storeOpts []store.Option
	if opts.IDGenerator != nil {
		storeOpts = append(storeOpts, store.WithIDGenerator(opts.IDGenerator))
	}
	st, err := store.Open(opts.Journal, storeOpts...)
	if err != nil {
		return "", fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()

	run, err := newRun(src, report, opts.Workers, policy)
	if err != nil {
		return "", err
	}

	prev, found, err := st.PreviousTargetHash(ctx, run.SourceHash, run.Opset, run.Policy)
	if err != nil {
		return "", err
	}
	if found && prev != run.TargetHash {
		formatter.Warn("target hash changed since the last journaled run of this graph at opset %d: %s -> %s",
			run.Opset, prev, run.TargetHash)
	}

	return st.RecordRun(ctx, run)
}

// newRun converts a pass report into a journal run.
func newRun(src *source.Graph, report *lower.Report, workers int, policy lower.ErrorPolicy) (*store.Run, error) {
	sourceHash, err := src.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash source graph: %w", err)
	}
	nodes, err := store.NodeRecords(report.Graph.Nodes())
	if err != nil {
		return nil, err
	}
	failures := make([]store.FailureRecord, len(report.Failures))
	for i, f := range report.Failures {
		failures[i] = store.FailureRecord{
			Position: i,
			Node:     f.Node,
			OpType:   f.OpType,
			Code:     string(f.Code),
			Message:  f.Err.Error(),
		}
	}
	return &store.Run{
		GraphName:     src.Name,
		SourceHash:    sourceHash,
		TargetHash:    report.Hash,
		Opset:         report.Version,
		Workers:       workers,
		Policy:        policy.String(),
		Lowered:       report.Lowered,
		Failed:        len(report.Failures),
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
		Nodes:         nodes,
		Failures:      failures,
	}, nil
}

func failureResults(failures []lower.Failure) []FailureResult {
	out := make([]FailureResult, len(failures))
	for i, f := range failures {
		out[i] = FailureResult{
			Node:    f.Node,
			OpType:  f.OpType,
			Code:    string(f.Code),
			Message: f.Err.Error(),
		}
	}
	return out
}

func outputLowerResult(formatter *OutputFormatter, report *lower.Report, result LowerResult) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if len(result.Failures) > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeLoweringFailed,
				Message: fmt.Sprintf("%d node(s) failed to lower", len(result.Failures)),
			}
		}
		return formatter.encode(resp)
	}

	w := formatter.Writer
	if err := report.Graph.WriteText(w); err != nil {
		return err
	}
	if report.Graph.Len() > 0 {
		fmt.Fprintln(w)
	}

	for _, f := range result.Failures {
		fmt.Fprintf(w, "%s %s (%s): %s\n", Mark(false), f.Node, f.OpType, f.Message)
	}
	fmt.Fprintf(w, "%s Lowered %d node(s) into %d target node(s) at opset %d\n",
		Mark(len(result.Failures) == 0), result.Lowered, report.Graph.Len(), result.Opset)
	fmt.Fprintf(w, "  %s %s\n", dim("hash"), result.Hash)
	if result.Output != "" {
		fmt.Fprintf(w, "Wrote target graph to %s\n", result.Output)
	}
	if result.RunID != "" {
		fmt.Fprintf(w, "Journaled as run %s\n", result.RunID)
	}
	return nil
}
