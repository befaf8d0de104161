package lower

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

// ErrorPolicy decides what a Pass does when a node fails to lower.
type ErrorPolicy int

const (
	// Abort stops at the first failure in declaration order. Nodes committed
	// before it stay in the target graph.
	Abort ErrorPolicy = iota

	// SkipAndReport records the failure and continues with the next node.
	// Consumers of a skipped node's outputs fail with UNDEFINED_INPUT.
	SkipAndReport
)

func (p ErrorPolicy) String() string {
	switch p {
	case Abort:
		return "abort"
	case SkipAndReport:
		return "skip"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// Failure is one node that did not lower.
type Failure struct {
	Node   string
	OpType string
	Code   ir.ErrorCode
	Err    error
}

// Report summarizes a pass.
type Report struct {
	Graph    *target.Graph
	Version  int
	Lowered  int
	Failures []Failure

	// Hash is the content id of Graph after the pass.
	Hash string
}

// Pass lowers a whole source graph.
//
// Nodes are lowered in declaration order and committed in declaration order.
// With more than one worker, rules run concurrently, each into a Tx scoped by
// its node name, so the target graph is identical for any worker count.
//
// The source graph must list producers before consumers.
type Pass struct {
	d       *Dispatcher
	workers int
	policy  ErrorPolicy
	logger  *slog.Logger
}

// PassOption configures a Pass.
type PassOption func(*Pass)

// WithWorkers sets how many rules may run at once. Values below 1 mean 1.
func WithWorkers(n int) PassOption {
	return func(p *Pass) {
		p.workers = max(n, 1)
	}
}

// WithErrorPolicy sets the failure policy. Default: Abort.
func WithErrorPolicy(policy ErrorPolicy) PassOption {
	return func(p *Pass) {
		p.policy = policy
	}
}

// WithPassLogger sets the pass logger. Default: the dispatcher's logger.
func WithPassLogger(l *slog.Logger) PassOption {
	return func(p *Pass) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPass creates a pass that lowers through d.
func NewPass(d *Dispatcher, opts ...PassOption) *Pass {
	p := &Pass{
		d:       d,
		workers: 1,
		policy:  Abort,
		logger:  d.logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// staged is the outcome of running one rule, waiting for its turn to commit.
type staged struct {
	tx  *target.Tx
	err error
}

// Run lowers every node of src into a new target graph at version.
//
// Under Abort the first failure is returned together with the partial report.
// Under SkipAndReport failures are collected in the report and Run returns a
// nil error unless ctx is cancelled.
func (p *Pass) Run(ctx context.Context, src *source.Graph, version int) (*Report, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("validate source graph: %w", err)
	}

	g := target.NewGraph(version)
	if err := g.DeclareExternal(src.External()...); err != nil {
		return nil, fmt.Errorf("declare graph inputs: %w", err)
	}
	for name := range src.Produced() {
		g.Declare(name)
	}

	report := &Report{Graph: g, Version: version}
	p.logger.Info("lowering pass starting",
		"graph", src.Name,
		"version", version,
		"nodes", len(src.Nodes),
		"workers", p.workers,
		"policy", p.policy.String(),
	)

	var err error
	if p.workers <= 1 {
		err = p.runSequential(ctx, src, version, g, report)
	} else {
		err = p.runParallel(ctx, src, version, g, report)
	}

	hash, hashErr := g.Hash()
	if hashErr != nil && err == nil {
		err = fmt.Errorf("hash target graph: %w", hashErr)
	}
	report.Hash = hash

	p.logger.Info("lowering pass finished",
		"graph", src.Name,
		"lowered", report.Lowered,
		"failed", len(report.Failures),
		"target_nodes", g.Len(),
	)
	return report, err
}

func (p *Pass) runSequential(ctx context.Context, src *source.Graph, version int, g *target.Graph, report *Report) error {
	for _, n := range src.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx, err := p.d.stage(n, version, g, n.Name)
		if err := p.settle(n, version, tx, err, report); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pass) runParallel(ctx context.Context, src *source.Graph, version int, g *target.Graph, report *Report) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]staged, len(src.Nodes))
	ready := make([]chan struct{}, len(src.Nodes))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	go func() {
		for i, n := range src.Nodes {
			eg.Go(func() error {
				defer close(ready[i])
				if err := egCtx.Err(); err != nil {
					results[i] = staged{err: err}
					return nil
				}
				tx, err := p.d.stage(n, version, g, n.Name)
				results[i] = staged{tx: tx, err: err}
				return nil
			})
		}
	}()

	var runErr error
	for i, n := range src.Nodes {
		<-ready[i]
		res := results[i]
		if runErr != nil {
			if res.tx != nil {
				res.tx.Discard()
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			if res.tx != nil {
				res.tx.Discard()
			}
			runErr = err
			cancel()
			continue
		}
		if err := p.settle(n, version, res.tx, res.err, report); err != nil {
			runErr = err
			cancel()
		}
	}
	_ = eg.Wait()
	return runErr
}

// settle commits a staged node or records its failure according to policy.
// It returns an error only when the pass must stop.
func (p *Pass) settle(n *source.Node, version int, tx *target.Tx, err error, report *Report) error {
	if err == nil {
		err = p.d.commit(tx, n, version)
	}
	if err == nil {
		report.Lowered++
		return nil
	}

	report.Failures = append(report.Failures, Failure{
		Node:   n.Name,
		OpType: n.OpType,
		Code:   ir.CodeOf(err),
		Err:    err,
	})
	if p.policy == Abort {
		return err
	}
	return nil
}
