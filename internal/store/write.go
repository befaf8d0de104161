package store

import (
	"context"
	"fmt"
	"time"
)

// RecordRun appends a run with its nodes and failures in one transaction.
//
// The run id comes from the store's IDGenerator when run.ID is empty.
// seq is assigned here (MAX(seq)+1) and StartedAt defaults to the store clock.
// On success run.ID, run.Seq and run.StartedAt are set and the id is returned.
func (s *Store) RecordRun(ctx context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = s.ids.Generate()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("record run: begin: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return "", fmt.Errorf("record run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, graph_name, source_hash, target_hash, opset, workers, policy,
		 lowered, failed, engine_version, ir_version, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.GraphName,
		run.SourceHash,
		run.TargetHash,
		run.Opset,
		run.Workers,
		run.Policy,
		run.Lowered,
		run.Failed,
		run.EngineVersion,
		run.IRVersion,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}

	for _, n := range run.Nodes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO target_nodes (run_id, position, name, op_type, node_hash, spec)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, n.Position, n.Name, n.OpType, n.NodeHash, n.Spec)
		if err != nil {
			return "", fmt.Errorf("record run: node %s: %w", n.Name, err)
		}
	}

	for _, f := range run.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failures (run_id, position, node, op_type, code, message)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, f.Position, f.Node, f.OpType, f.Code, f.Message)
		if err != nil {
			return "", fmt.Errorf("record run: failure %s: %w", f.Node, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("record run: commit: %w", err)
	}
	return run.ID, nil
}
