// Package harness runs conformance scenarios against the operator registry.
//
// A scenario names a source graph (a description file or an inline
// document), the target opset and pass settings, and what lowering should
// produce: the op_type sequence, an error code, skip-and-report failure
// codes, expr-lang assertions over the target graph and, optionally, a
// golden file holding the graph as indented canonical JSON.
//
// Scenarios are deterministic: naming in the target graph does not depend
// on the worker count, so golden files are stable across runs.
package harness
