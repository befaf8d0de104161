package lower

import (
	"fmt"
	"log/slog"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/mapper"
	"github.com/roach88/lowerkit/internal/source"
	"github.com/roach88/lowerkit/internal/target"
)

// Dispatcher lowers single source nodes through a sealed registry.
//
// Thread-safety model:
//   - A Dispatcher holds no mutable state; Lower may be called from any
//     goroutine, provided each target graph is only shared through its Tx API
type Dispatcher struct {
	registry *mapper.Registry
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for selection and failure events.
// Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher over r. r should be sealed; an unsealed registry
// works but pays a lock per lookup.
func New(r *mapper.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Lower lowers n into g at target version.
//
// On success every node the rule emitted is committed to g; on failure none
// is. The error is a *ir.LoweringError carrying the op type, node name and
// requested version.
func (d *Dispatcher) Lower(n *source.Node, version int, g *target.Graph) error {
	return d.LowerScoped(n, version, g, "")
}

// LowerScoped is Lower with fresh names allocated under scope.
func (d *Dispatcher) LowerScoped(n *source.Node, version int, g *target.Graph, scope string) error {
	tx, err := d.stage(n, version, g, scope)
	if err != nil {
		return err
	}
	return d.commit(tx, n, version)
}

// stage runs the selected rule into a new transaction. On success the caller
// owns the returned Tx and must Commit or Discard it.
func (d *Dispatcher) stage(n *source.Node, version int, g *target.Graph, scope string) (*target.Tx, error) {
	if opset := g.Opset(); opset != 0 && opset != version {
		return nil, ir.WithContext(
			ir.Errorf(ir.ErrCodeUnsupportedTargetVersion, "target graph is opset %d", opset),
			n.OpType, n.Name, version)
	}

	m, err := d.registry.Lookup(n.OpType)
	if err != nil {
		d.logger.Warn("lowering failed", "op_type", n.OpType, "node", n.Name, "version", version, "error", err)
		return nil, ir.WithContext(err, n.OpType, n.Name, version)
	}
	entry, err := mapper.SelectRule(m, version)
	if err != nil {
		d.logger.Warn("lowering failed", "op_type", n.OpType, "node", n.Name, "version", version, "error", err)
		return nil, ir.WithContext(err, n.OpType, n.Name, version)
	}
	d.logger.Debug("rule selected",
		"op_type", n.OpType,
		"node", n.Name,
		"version", version,
		"handler", entry.Since,
	)

	tx := g.Begin(scope)
	if err := runRule(entry.Rule, tx, n); err != nil {
		tx.Discard()
		d.logger.Warn("lowering failed",
			"op_type", n.OpType,
			"node", n.Name,
			"version", version,
			"handler", entry.Since,
			"error", err,
		)
		return nil, ir.WithContext(err, n.OpType, n.Name, version)
	}
	return tx, nil
}

func (d *Dispatcher) commit(tx *target.Tx, n *source.Node, version int) error {
	staged := tx.Len()
	if err := tx.Commit(); err != nil {
		d.logger.Warn("commit failed", "op_type", n.OpType, "node", n.Name, "version", version, "error", err)
		return ir.WithContext(err, n.OpType, n.Name, version)
	}
	d.logger.Debug("node lowered", "op_type", n.OpType, "node", n.Name, "version", version, "emitted", staged)
	return nil
}

// runRule reports a panicking rule as an INTERNAL error.
func runRule(rule mapper.Rule, b target.Builder, n *source.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ir.Errorf(ir.ErrCodeInternal, "rule panicked: %v", r)
		}
	}()
	return rule(b, n)
}

// Describe returns a one-line summary of the rule selected for opType at version.
func (d *Dispatcher) Describe(opType string, version int) (string, error) {
	m, err := d.registry.Lookup(opType)
	if err != nil {
		return "", err
	}
	entry, err := mapper.SelectRule(m, version)
	if err != nil {
		return "", ir.WithContext(err, opType, "", version)
	}
	return fmt.Sprintf("%s@%d -> handler %d (range %s)", opType, version, entry.Since, m.Range()), nil
}
