package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal string
	Limit   int
	RunID   string // show one run in detail
}

// RunSummary is one journaled run in history output.
type RunSummary struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Graph      string    `json:"graph"`
	Opset      int       `json:"opset"`
	Workers    int       `json:"workers"`
	Policy     string    `json:"policy"`
	Lowered    int       `json:"lowered"`
	Failed     int       `json:"failed"`
	TargetHash string    `json:"target_hash"`
	StartedAt  time.Time `json:"started_at"`
}

// RunDetail is one journaled run with its nodes and failures.
type RunDetail struct {
	RunSummary
	Nodes    []store.NodeRecord    `json:"nodes"`
	Failures []store.FailureRecord `json:"failures"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled lowering runs",
		Long: `List lowering runs recorded with lower --journal, newest first.

With --run, show a single run with its target nodes and failures.

Examples:
  lowerkit history --journal ./lowerkit.db
  lowerkit history --journal ./lowerkit.db --limit 5 --format json
  lowerkit history --journal ./lowerkit.db --run 0190c3a2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum number of runs (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show one run in detail")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	// Opening creates the file, so a missing journal is checked first.
	if _, err := os.Stat(opts.Journal); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, fmt.Sprintf("journal not found: %s", opts.Journal), nil)
	}
	st, err := store.Open(opts.Journal)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
	}
	defer st.Close()

	if opts.RunID != "" {
		run, err := st.ReadRun(ctx, opts.RunID)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
		}
		return outputRunDetail(formatter, RunDetail{
			RunSummary: summarize(*run),
			Nodes:      run.Nodes,
			Failures:   run.Failures,
		})
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
	}
	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = summarize(r)
	}

	if formatter.Format == "json" {
		return formatter.encode(CLIResponse{Status: "ok", Data: summaries})
	}
	if len(summaries) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tGRAPH\tOPSET\tLOWERED\tFAILED\tHASH")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.Seq, s.ID, s.Graph, s.Opset, s.Lowered, s.Failed, shortHash(s.TargetHash))
	}
	return tw.Flush()
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Seq:        r.Seq,
		Graph:      r.GraphName,
		Opset:      r.Opset,
		Workers:    r.Workers,
		Policy:     r.Policy,
		Lowered:    r.Lowered,
		Failed:     r.Failed,
		TargetHash: r.TargetHash,
		StartedAt:  r.StartedAt,
	}
}

func outputRunDetail(formatter *OutputFormatter, d RunDetail) error {
	if formatter.Format == "json" {
		return formatter.encode(CLIResponse{Status: "ok", Data: d})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (seq %d)\n", d.ID, d.Seq)
	fmt.Fprintf(w, "  graph:   %s\n", d.Graph)
	fmt.Fprintf(w, "  opset:   %d, %d worker(s), policy %s\n", d.Opset, d.Workers, d.Policy)
	fmt.Fprintf(w, "  started: %s\n", d.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  hash:    %s\n\n", d.TargetHash)
	for _, n := range d.Nodes {
		fmt.Fprintf(w, "  %s %s\n", dim(fmt.Sprintf("%3d", n.Position)), n.Spec)
	}
	for _, f := range d.Failures {
		fmt.Fprintf(w, "%s %s (%s): %s\n", Mark(false), f.Node, f.OpType, f.Message)
	}
	return nil
}

// shortHash trims a "sha256:<hex>" content id for table output.
func shortHash(h string) string {
	const keep = len("sha256:") + 12
	if len(h) <= keep {
		return h
	}
	return h[:keep]
}
