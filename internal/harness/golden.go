package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// GoldenData returns the golden form of a result: the lowered target graph
// as indented canonical JSON.
func GoldenData(r *Result) ([]byte, error) {
	if r.Report == nil {
		return nil, fmt.Errorf("result has no report")
	}
	return r.Report.Graph.MarshalIndent()
}

// GoldenPath returns golden/<name>.golden next to the scenario directory.
func GoldenPath(scenarioDir, name string) string {
	return filepath.Join(scenarioDir, "golden", name+".golden")
}

// CompareGolden reports whether the result matches the golden file at path.
// A missing golden file is an error.
func CompareGolden(path string, r *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := GoldenData(r)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}

// GoldenDiff returns the changed lines between the golden file at path and
// the result, "- " for golden lines and "+ " for result lines.
func GoldenDiff(path string, r *Result) (string, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := GoldenData(r)
	if err != nil {
		return "", err
	}

	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(string(want), string(got))
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffpatch.DiffDelete:
			prefix = "- "
		case diffpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(strings.TrimSuffix(line, "\n"))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// UpdateGolden writes the result as the golden file at path.
func UpdateGolden(path string, r *Result) error {
	data, err := GoldenData(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// AssertGolden compares the result's target graph against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, r *Result) {
	t.Helper()

	data, err := GoldenData(r)
	if err != nil {
		t.Fatalf("golden data: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
