package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/testutil"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store with sequential ids and a step clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithIDGenerator(testutil.NewSequentialIDGenerator("run")),
		WithClock(testutil.NewStepClock(testStart, time.Minute).Now),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run summary with minimal required fields.
func createTestRun(graph, sourceHash, targetHash string) *Run {
	return &Run{
		GraphName:     graph,
		SourceHash:    sourceHash,
		TargetHash:    targetHash,
		Opset:         11,
		Workers:       1,
		Policy:        "abort",
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}
