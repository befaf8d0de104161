package store

import (
	"fmt"
	"time"

	"github.com/roach88/lowerkit/internal/target"
)

// Run is one journaled lowering pass.
type Run struct {
	ID            string
	Seq           int64
	GraphName     string
	SourceHash    string
	TargetHash    string
	Opset         int
	Workers       int
	Policy        string
	Lowered       int
	Failed        int
	EngineVersion string
	IRVersion     string
	StartedAt     time.Time

	// Nodes and Failures are filled by ReadRun, not by ListRuns.
	Nodes    []NodeRecord
	Failures []FailureRecord
}

// NodeRecord is one committed target node, stored as canonical JSON.
type NodeRecord struct {
	Position int
	Name     string
	OpType   string
	NodeHash string
	Spec     string
}

// FailureRecord is one source node that did not lower.
type FailureRecord struct {
	Position int
	Node     string
	OpType   string
	Code     string
	Message  string
}

// NodeRecords converts committed target nodes into journal rows, in order.
func NodeRecords(nodes []target.NodeSpec) ([]NodeRecord, error) {
	records := make([]NodeRecord, 0, len(nodes))
	for i, n := range nodes {
		spec, err := target.CanonicalNode(n)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		hash, err := target.NodeHash(n)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		records = append(records, NodeRecord{
			Position: i,
			Name:     n.Name,
			OpType:   n.OpType,
			NodeHash: hash,
			Spec:     string(spec),
		})
	}
	return records, nil
}
