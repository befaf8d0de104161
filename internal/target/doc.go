// Package target builds the append-only output graph of a lowering.
//
// Rules never write to a Graph directly. They stage nodes on a Tx obtained
// from Graph.Begin; Commit publishes the staged nodes atomically, Discard
// drops them. Every emission is checked against the schema table for
// operator availability and input/output arity at the graph's opset.
//
// Tensor names are single-assignment. FreshName hands out names that never
// repeat for the lifetime of a Graph, including names whose transaction was
// discarded.
package target
