package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/loader"
	"github.com/roach88/lowerkit/internal/lower"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/source"
)

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Errors lists the expectations that did not hold.
	Errors []string `json:"errors,omitempty"`

	// ErrCode is the code of the error that aborted the pass, if any.
	ErrCode string `json:"error_code,omitempty"`

	// Report is the pass report. Its Graph is what golden files compare.
	Report *lower.Report `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Harness runs scenarios against one operator registry.
type Harness struct {
	registry *mapper.Registry
	logger   *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the lowering pass.
// Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New creates a harness over r.
func New(r *mapper.Registry, opts ...Option) *Harness {
	h := &Harness{
		registry: r,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run lowers the scenario's graph and checks it against the scenario.
//
// A returned error means the scenario could not be executed at all (the
// graph failed to load or validate). Lowering failures are outcomes and are
// judged against Expect.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	src, err := h.sourceGraph(s)
	if err != nil {
		return nil, err
	}

	opset := s.Opset
	if opset == 0 {
		opset = src.Opset
	}
	if opset == 0 {
		opset = ir.DefaultOpset
	}

	policy := lower.Abort
	if s.SkipErrors {
		policy = lower.SkipAndReport
	}
	workers := max(s.Workers, 1)

	pass := lower.NewPass(
		lower.New(h.registry, lower.WithLogger(h.logger)),
		lower.WithWorkers(workers),
		lower.WithErrorPolicy(policy),
	)
	report, runErr := pass.Run(ctx, src, opset)
	if report == nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, runErr)
	}

	result := NewResult()
	result.Report = report
	if runErr != nil {
		result.ErrCode = string(ir.CodeOf(runErr))
	}

	checkError(result, s.Expect.Error, runErr)
	checkFailures(result, s.Expect.Failures, report)
	checkOps(result, s.Expect.Ops, report)

	for _, msg := range EvaluateAssertions(s.Assertions, NewEnv(report, result.ErrCode)) {
		result.AddError("%s", msg)
	}

	return result, nil
}

func (h *Harness) sourceGraph(s *Scenario) (*source.Graph, error) {
	if s.Source != nil {
		doc := *s.Source
		if doc.Name == "" {
			doc.Name = s.Name
		}
		return doc.Build()
	}
	return loader.Load(s.Graph)
}

func checkError(r *Result, want string, err error) {
	switch {
	case want == "" && err != nil:
		r.AddError("unexpected error: %v", err)
	case want != "" && err == nil:
		r.AddError("expected error %s, lowering succeeded", want)
	case want != "" && r.ErrCode != want:
		r.AddError("expected error %s, got %s: %v", want, r.ErrCode, err)
	}
}

func checkFailures(r *Result, want []string, report *lower.Report) {
	got := make([]string, len(report.Failures))
	for i, f := range report.Failures {
		got[i] = string(f.Code)
	}
	if want == nil {
		want = []string{}
	}
	// Under abort the failure is already judged by checkError.
	if r.ErrCode != "" {
		return
	}
	if !slices.Equal(got, want) {
		r.AddError("expected failures %v, got %v", want, got)
	}
}

func checkOps(r *Result, want []string, report *lower.Report) {
	if want == nil {
		return
	}
	got := opTypes(report)
	if !slices.Equal(got, want) {
		r.AddError("expected ops %v, got %v", want, got)
	}
}

func opTypes(report *lower.Report) []string {
	nodes := report.Graph.Nodes()
	ops := make([]string, len(nodes))
	for i, n := range nodes {
		ops[i] = n.OpType
	}
	return ops
}
