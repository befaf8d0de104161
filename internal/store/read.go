package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by ReadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, seq, graph_name, source_hash, target_hash, opset, workers, policy,
	lowered, failed, engine_version, ir_version, started_at`

// ListRuns returns run summaries, newest first (ORDER BY seq DESC).
// limit <= 0 returns every run. Nodes and Failures are left empty.
//
// Returns an empty slice (not nil) when the journal is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run with its target nodes and failures ordered by position.
func (s *Store) ReadRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if run.Nodes, err = s.readNodes(ctx, id); err != nil {
		return nil, err
	}
	if run.Failures, err = s.readFailures(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRunFor returns the most recent run of the source graph with the
// given hash, with its nodes and failures.
func (s *Store) LatestRunFor(ctx context.Context, sourceHash string) (*Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id
		FROM runs
		WHERE source_hash = ?
		ORDER BY seq DESC
		LIMIT 1
	`, sourceHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no run for source %s", ErrRunNotFound, sourceHash)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}
	return s.ReadRun(ctx, id)
}

// PreviousTargetHash returns the target hash of the most recent run that
// lowered the same source at the same opset under the same policy.
// found is false when no such run exists.
func (s *Store) PreviousTargetHash(ctx context.Context, sourceHash string, opset int, policy string) (hash string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT target_hash
		FROM runs
		WHERE source_hash = ? AND opset = ? AND policy = ?
		ORDER BY seq DESC
		LIMIT 1
	`, sourceHash, opset, policy).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query previous target hash: %w", err)
	}
	return hash, true, nil
}

func (s *Store) readNodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, name, op_type, node_hash, spec
		FROM target_nodes
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query target nodes: %w", err)
	}
	defer rows.Close()

	nodes := []NodeRecord{}
	for rows.Next() {
		var n NodeRecord
		if err := rows.Scan(&n.Position, &n.Name, &n.OpType, &n.NodeHash, &n.Spec); err != nil {
			return nil, fmt.Errorf("scan target node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target nodes: %w", err)
	}
	return nodes, nil
}

func (s *Store) readFailures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, node, op_type, code, message
		FROM failures
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	failures := []FailureRecord{}
	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.Position, &f.Node, &f.OpType, &f.Code, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return failures, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedAt string
	err := row.Scan(
		&run.ID,
		&run.Seq,
		&run.GraphName,
		&run.SourceHash,
		&run.TargetHash,
		&run.Opset,
		&run.Workers,
		&run.Policy,
		&run.Lowered,
		&run.Failed,
		&run.EngineVersion,
		&run.IRVersion,
		&startedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return run, err
	}
	if err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return run, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	return run, nil
}
