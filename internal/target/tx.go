package target

import (
	"slices"

	"github.com/roach88/lowerkit/internal/ir"
)

// Builder is the sink lowering rules write to.
// Implemented by *Tx.
type Builder interface {
	// Emit stages a node. When outputs is nil the builder allocates one fresh
	// name per declared output of opType. Returns the output names.
	Emit(opType string, inputs []string, outputs []string, attrs ir.Attrs) ([]string, error)

	// FreshName returns a name unique for the whole graph lifetime.
	FreshName(hint string) string

	// EmitConstant stages a Constant node holding value with element type dtype.
	EmitConstant(dtype ir.DType, value ir.Value) (string, error)

	// Opset returns the target version of the graph being built, 0 if unchecked.
	Opset() int
}

// Tx stages the nodes of one lowering so they become visible atomically.
//
// A Tx is single-use: after Commit or Discard every method fails with TX_CLOSED.
type Tx struct {
	g        *Graph
	scope    string
	counters map[string]int
	nodes    []NodeSpec
	staged   map[string]bool // outputs of staged nodes
	closed   bool
}

var _ Builder = (*Tx)(nil)

// Opset returns the target version of the underlying graph.
func (tx *Tx) Opset() int {
	return tx.g.opset
}

// Scope returns the naming scope of the transaction.
func (tx *Tx) Scope() string {
	return tx.scope
}

// Len returns the number of staged nodes.
func (tx *Tx) Len() int {
	return len(tx.nodes)
}

// FreshName allocates a unique tensor name derived from hint.
func (tx *Tx) FreshName(hint string) string {
	tx.g.mu.Lock()
	defer tx.g.mu.Unlock()
	return tx.g.freshLocked(tx, hint)
}

// Emit stages a node after checking it against the target schema.
func (tx *Tx) Emit(opType string, inputs []string, outputs []string, attrs ir.Attrs) ([]string, error) {
	if tx.closed {
		return nil, ir.Errorf(ir.ErrCodeTxClosed, "emit %s on a closed transaction", opType)
	}

	schema, ok := Schema(opType)
	if !ok {
		return nil, ir.Errorf(ir.ErrCodeUnknownTargetOp, "target op %q is not in the schema", opType)
	}
	opset := tx.g.opset
	if opset > 0 {
		if schema.Since > opset {
			return nil, ir.Errorf(ir.ErrCodeUnsupportedFeatureForVersion,
				"%s requires opset >= %d", opType, schema.Since)
		}
		if arity, ok := schema.inputArity(opset); ok && (len(inputs) < arity.Min || len(inputs) > arity.Max) {
			return nil, ir.Errorf(ir.ErrCodeArityMismatch,
				"%s at opset %d takes %d..%d input(s), got %d", opType, opset, arity.Min, arity.Max, len(inputs))
		}
	}
	if outputs != nil && len(outputs) != schema.Outputs {
		return nil, ir.Errorf(ir.ErrCodeArityMismatch,
			"%s declares %d output(s), got %d", opType, schema.Outputs, len(outputs))
	}

	tx.g.mu.Lock()
	defer tx.g.mu.Unlock()

	for _, in := range inputs {
		if in == "" {
			return nil, ir.Errorf(ir.ErrCodeUndefinedInput, "%s has an empty input name", opType)
		}
		if e, ok := tx.g.names[in]; ok && e.state == stateClaimed && e.owner == tx && !tx.staged[in] {
			return nil, ir.Errorf(ir.ErrCodeUndefinedInput, "%s consumes %q before it is produced", opType, in)
		}
	}

	if outputs == nil {
		outputs = make([]string, schema.Outputs)
		for i := range outputs {
			outputs[i] = tx.g.freshLocked(tx, opType)
		}
	} else {
		outputs = slices.Clone(outputs)
		seen := make(map[string]bool, len(outputs))
		for _, out := range outputs {
			if out == "" {
				return nil, ir.Errorf(ir.ErrCodeDuplicateName, "%s has an empty output name", opType)
			}
			if seen[out] || tx.staged[out] {
				return nil, ir.Errorf(ir.ErrCodeDuplicateName, "tensor %q is written twice", out)
			}
			seen[out] = true
			if e, ok := tx.g.names[out]; ok {
				switch {
				case e.state == stateDeclared:
				case e.state == stateClaimed && e.owner == tx:
				default:
					return nil, ir.Errorf(ir.ErrCodeDuplicateName, "tensor %q is already in use", out)
				}
			}
		}
		for _, out := range outputs {
			tx.g.names[out] = &nameEntry{state: stateClaimed, owner: tx}
		}
	}

	for _, out := range outputs {
		tx.staged[out] = true
	}
	tx.nodes = append(tx.nodes, NodeSpec{
		OpType:  opType,
		Inputs:  slices.Clone(inputs),
		Outputs: outputs,
		Attrs:   attrs.Clone(),
	})
	return slices.Clone(outputs), nil
}

// EmitConstant stages a Constant node and returns its output name.
func (tx *Tx) EmitConstant(dtype ir.DType, value ir.Value) (string, error) {
	code, err := ir.TargetCode(dtype)
	if err != nil {
		return "", err
	}
	outs, err := tx.Emit("Constant", nil, nil, ir.Attrs{
		"dtype": ir.Int(code),
		"value": value,
	})
	if err != nil {
		return "", err
	}
	return outs[0], nil
}

// Commit appends the staged nodes to the graph in emission order.
// Either all staged nodes become visible or none do.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ir.Errorf(ir.ErrCodeTxClosed, "commit on a closed transaction")
	}
	tx.closed = true

	tx.g.mu.Lock()
	defer tx.g.mu.Unlock()
	return tx.g.commitLocked(tx, tx.nodes)
}

// Discard drops the staged nodes. Names handed out stay reserved.
// Safe to call after Commit; it is then a no-op.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.nodes = nil
}
