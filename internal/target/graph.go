package target

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/lowerkit/internal/ir"
)

// NodeSpec is one emitted target operator.
type NodeSpec struct {
	Name    string   `json:"name"`
	OpType  string   `json:"op_type"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
	Attrs   ir.Attrs `json:"-"`
}

// nameState tracks the lifecycle of one tensor name.
type nameState int

const (
	// stateExternal is a graph input or initializer: consumable, never produced here.
	stateExternal nameState = iota
	// stateDeclared is a known source tensor that some node is expected to produce.
	stateDeclared
	// stateClaimed is reserved by a transaction (fresh name or staged output).
	stateClaimed
	// stateProduced is written by a committed node.
	stateProduced
)

type nameEntry struct {
	state nameState
	owner *Tx
}

// Graph is the append-only target graph.
//
// Thread-safety model:
//   - Begin, FreshName, Emit and Commit may be called from any goroutine;
//     every access to the namespace and the node list holds mu
//   - A single Tx must be used by one goroutine at a time
//
// INVARIANTS:
//   - Every tensor name is written by exactly one committed node
//   - A name handed out once is never handed out again, even if its
//     transaction is discarded
//   - Nodes appear in commit order
type Graph struct {
	mu       sync.Mutex
	opset    int
	nodes    []NodeSpec
	names    map[string]*nameEntry
	counters map[string]int // per-hint counters for unscoped fresh names
	nodeSeq  map[string]int // per-op counters for node names
}

// NewGraph creates an empty graph targeting opset.
// An opset of 0 disables the since-version check on emitted ops.
func NewGraph(opset int) *Graph {
	return &Graph{
		opset:    opset,
		names:    make(map[string]*nameEntry),
		counters: make(map[string]int),
		nodeSeq:  make(map[string]int),
	}
}

// Opset returns the target version the graph was created for.
func (g *Graph) Opset() int {
	return g.opset
}

// DeclareExternal records graph inputs and initializers. They may be consumed
// by any node and can never be produced or handed out as fresh names.
func (g *Graph) DeclareExternal(names ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range names {
		if e, ok := g.names[name]; ok && e.state != stateExternal {
			return ir.Errorf(ir.ErrCodeDuplicateName, "external tensor %q is already in use", name)
		}
		g.names[name] = &nameEntry{state: stateExternal}
	}
	return nil
}

// Declare records tensor names that source nodes will produce, so fresh
// names never collide with them and consumers fail if their producer did not commit.
func (g *Graph) Declare(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range names {
		if _, ok := g.names[name]; !ok {
			g.names[name] = &nameEntry{state: stateDeclared}
		}
	}
}

// Begin opens a staging transaction.
//
// With an empty scope fresh names come from graph-wide counters ("TopK.0",
// "TopK.1", ...), which is deterministic when transactions run one at a time.
// A non-empty scope yields "scope/TopK.0" from a transaction-local counter,
// which stays deterministic when transactions run in parallel.
func (g *Graph) Begin(scope string) *Tx {
	return &Tx{
		g:        g,
		scope:    scope,
		counters: make(map[string]int),
		staged:   make(map[string]bool),
	}
}

// Nodes returns a copy of the committed nodes in commit order.
func (g *Graph) Nodes() []NodeSpec {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]NodeSpec, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = NodeSpec{
			Name:    n.Name,
			OpType:  n.OpType,
			Inputs:  slices.Clone(n.Inputs),
			Outputs: slices.Clone(n.Outputs),
			Attrs:   n.Attrs.Clone(),
		}
	}
	return out
}

// Len returns the number of committed nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Produced reports whether a committed node writes name.
func (g *Graph) Produced(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.names[name]
	return ok && e.state == stateProduced
}

// freshLocked allocates a unique name for tx. Caller holds g.mu.
func (g *Graph) freshLocked(tx *Tx, hint string) string {
	if hint == "" {
		hint = "tmp"
	}
	for {
		var name string
		if tx.scope == "" {
			name = fmt.Sprintf("%s.%d", hint, g.counters[hint])
			g.counters[hint]++
		} else {
			name = fmt.Sprintf("%s/%s.%d", tx.scope, hint, tx.counters[hint])
			tx.counters[hint]++
		}
		if _, taken := g.names[name]; !taken {
			g.names[name] = &nameEntry{state: stateClaimed, owner: tx}
			return name
		}
	}
}

// commitLocked appends staged nodes after checking SSA. Caller holds g.mu.
func (g *Graph) commitLocked(tx *Tx, nodes []NodeSpec) error {
	written := make(map[string]bool)
	for _, n := range nodes {
		for _, in := range n.Inputs {
			if in == "" || written[in] {
				continue
			}
			e, ok := g.names[in]
			if !ok {
				// Unknown names are graph inputs the caller did not declare.
				continue
			}
			switch {
			case e.state == stateExternal || e.state == stateProduced:
			case e.state == stateClaimed && e.owner == tx:
				return ir.Errorf(ir.ErrCodeUndefinedInput,
					"%s consumes %q before it is produced", n.OpType, in)
			default:
				return ir.Errorf(ir.ErrCodeUndefinedInput,
					"%s consumes %q which no committed node produces", n.OpType, in)
			}
		}
		for _, out := range n.Outputs {
			if e, ok := g.names[out]; ok && (e.state == stateProduced || e.state == stateExternal) {
				return ir.Errorf(ir.ErrCodeDuplicateName, "tensor %q is already produced", out)
			}
			written[out] = true
		}
	}

	for _, n := range nodes {
		n.Name = fmt.Sprintf("%s_%d", n.OpType, g.nodeSeq[n.OpType])
		g.nodeSeq[n.OpType]++
		for _, out := range n.Outputs {
			g.names[out] = &nameEntry{state: stateProduced}
		}
		g.nodes = append(g.nodes, n)
	}
	return nil
}
