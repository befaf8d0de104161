package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/loader"
)

// Scenario is one conformance case: a source graph, a target opset and the
// expected outcome of lowering it.
//
// Example:
//
//	name: argsort-ascending-opset10
//	description: ascending argsort has no TopK form before opset 11
//	graph: graphs/argsort.yaml
//	opset: 10
//	expect:
//	  error: UNSUPPORTED_FEATURE_FOR_VERSION
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph is a description file (.cue, .yaml, .json or a CUE package
	// directory), relative to the scenario file.
	Graph string `yaml:"graph,omitempty"`

	// Source is an inline graph description. Exactly one of Graph and Source is set.
	Source *loader.Document `yaml:"source,omitempty"`

	// Opset overrides the graph's opset. Zero means the graph's, then ir.DefaultOpset.
	Opset int `yaml:"opset,omitempty"`

	// Workers is the pass parallelism. Zero means 1.
	Workers int `yaml:"workers,omitempty"`

	// SkipErrors selects the skip-and-report policy instead of abort.
	SkipErrors bool `yaml:"skip_errors,omitempty"`

	// Expect holds the structural expectations.
	Expect ExpectClause `yaml:"expect"`

	// Assertions are expr-lang expressions evaluated over the lowered graph.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// Golden compares the lowered graph with golden/<name>.golden.
	Golden bool `yaml:"golden,omitempty"`
}

// ExpectClause specifies the expected lowering outcome.
type ExpectClause struct {
	// Ops is the exact op_type sequence of the target graph. Nil skips the check.
	Ops []string `yaml:"ops,omitempty"`

	// Error is the expected error code of an aborted pass. Empty expects success.
	Error string `yaml:"error,omitempty"`

	// Failures are the expected failure codes of a skip-and-report pass, in order.
	Failures []string `yaml:"failures,omitempty"`
}

// Assertion is a boolean expression over the lowered graph.
// See Env for the names an expression can use.
type Assertion struct {
	Expr    string `yaml:"expr"`
	Message string `yaml:"message,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// Graph paths are resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Graph != "" && !filepath.IsAbs(scenario.Graph) {
		scenario.Graph = filepath.Join(filepath.Dir(path), scenario.Graph)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch {
	case s.Graph == "" && s.Source == nil:
		return fmt.Errorf("one of graph or source is required")
	case s.Graph != "" && s.Source != nil:
		return fmt.Errorf("graph and source are mutually exclusive")
	}

	if s.Graph != "" {
		if _, err := os.Stat(s.Graph); os.IsNotExist(err) {
			return fmt.Errorf("graph file not found: %s", s.Graph)
		}
	}

	if s.Opset != 0 && (s.Opset < ir.MinOpset || s.Opset > ir.MaxOpset) {
		return fmt.Errorf("opset %d outside [%d, %d]", s.Opset, ir.MinOpset, ir.MaxOpset)
	}

	if s.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	if s.Expect.Error != "" && s.SkipErrors {
		return fmt.Errorf("expect.error needs the abort policy; use expect.failures with skip_errors")
	}
	if len(s.Expect.Failures) > 0 && !s.SkipErrors {
		return fmt.Errorf("expect.failures needs skip_errors")
	}

	for i, a := range s.Assertions {
		if a.Expr == "" {
			return fmt.Errorf("assertions[%d]: expr is required", i)
		}
	}

	return nil
}
