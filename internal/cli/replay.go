package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lowerkit/internal/lower"
	"github.com/roach88/lowerkit/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
	RunID   string // optional - defaults to the latest run of the graph
	Workers int    // 0 means the journaled run's worker count
}

// NodeDiff is one position where the replay differs from the journal.
type NodeDiff struct {
	Position  int    `json:"position"`
	Journaled string `json:"journaled,omitempty"`
	Replayed  string `json:"replayed,omitempty"`
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	RunID         string     `json:"run_id"`
	Opset         int        `json:"opset"`
	Workers       int        `json:"workers"`
	JournaledHash string     `json:"journaled_hash"`
	ReplayedHash  string     `json:"replayed_hash"`
	Deterministic bool       `json:"deterministic"`
	Diffs         []NodeDiff `json:"diffs"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <graph>",
		Short: "Re-lower a graph and verify it matches the journal",
		Long: `Lower a graph description again with the opset and policy of a journaled
run and compare the result node by node.

Without --run the latest journaled run of the same source graph is used.
--workers can differ from the journaled run; the target graph must not.

Exit codes:
  0 - The replay matches the journal
  1 - Determinism verification failed (differences detected)
  2 - Command error (journal not found, no matching run, etc.)

Examples:
  lowerkit replay model.cue --journal ./lowerkit.db
  lowerkit replay model.cue --journal ./lowerkit.db --workers 8`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "journaled run id to compare against")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "number of parallel rule workers (default: the run's)")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	src, err := loadGraph(path)
	if err != nil {
		return failLoad(formatter, err)
	}
	sourceHash, err := src.Hash()
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
	}

	run, err := readReplayRun(ctx, opts, sourceHash)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
	}
	if run.SourceHash != sourceHash {
		return formatter.fail(ExitCommandError, ErrCodeJournal,
			fmt.Sprintf("run %s lowered a different source graph", run.ID), nil)
	}

	policy := lower.Abort
	if run.Policy == lower.SkipAndReport.String() {
		policy = lower.SkipAndReport
	}
	workers := opts.Workers
	if workers == 0 {
		workers = max(run.Workers, 1)
	}

	// A failed node is part of the journaled outcome, so the pass error is not fatal here.
	report, _ := runPass(ctx, opts.RootOptions, cmd, src, run.Opset, workers, policy)
	if report == nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, "source graph no longer validates", nil)
	}
	replayed, err := store.NodeRecords(report.Graph.Nodes())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeJournal, err.Error(), nil)
	}

	result := ReplayResult{
		RunID:         run.ID,
		Opset:         run.Opset,
		Workers:       workers,
		JournaledHash: run.TargetHash,
		ReplayedHash:  report.Hash,
		Diffs:         diffNodes(run.Nodes, replayed),
	}
	result.Deterministic = len(result.Diffs) == 0 && result.JournaledHash == result.ReplayedHash

	if formatter.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

func readReplayRun(ctx context.Context, opts *ReplayOptions, sourceHash string) (*store.Run, error) {
	if _, err := os.Stat(opts.Journal); err != nil {
		return nil, fmt.Errorf("journal not found: %s", opts.Journal)
	}
	st, err := store.Open(opts.Journal)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer st.Close()

	if opts.RunID != "" {
		return st.ReadRun(ctx, opts.RunID)
	}
	run, err := st.LatestRunFor(ctx, sourceHash)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, fmt.Errorf("no journaled run of this graph in %s", opts.Journal)
	}
	return run, err
}

// diffNodes compares journaled and replayed nodes position by position.
func diffNodes(journaled, replayed []store.NodeRecord) []NodeDiff {
	diffs := []NodeDiff{}
	for i := 0; i < max(len(journaled), len(replayed)); i++ {
		var a, b store.NodeRecord
		if i < len(journaled) {
			a = journaled[i]
		}
		if i < len(replayed) {
			b = replayed[i]
		}
		if a.NodeHash != b.NodeHash {
			diffs = append(diffs, NodeDiff{Position: i, Journaled: a.Spec, Replayed: b.Spec})
		}
	}
	return diffs
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeNondeterministic,
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(formatter.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay of run %s at opset %d with %d worker(s)\n\n", result.RunID, result.Opset, result.Workers)
	for _, d := range result.Diffs {
		fmt.Fprintf(w, "%s node %d\n", Mark(false), d.Position)
		fmt.Fprintf(w, "  journaled: %s\n", orNone(d.Journaled))
		fmt.Fprintf(w, "  replayed:  %s\n", orNone(d.Replayed))
	}
	if formatter.Verbose {
		fmt.Fprintf(w, "  journaled hash: %s\n", result.JournaledHash)
		fmt.Fprintf(w, "  replayed hash:  %s\n", result.ReplayedHash)
	}

	if result.Deterministic {
		fmt.Fprintf(w, "%s Target graph verified deterministic\n", Mark(true))
		return nil
	}

	fmt.Fprintf(w, "%s Determinism verification failed\n", Mark(false))
	// Determinism failure = exit code 1
	return NewExitError(ExitFailure, "determinism verification failed")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
