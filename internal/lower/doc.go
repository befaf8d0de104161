// Package lower drives lowering: the Dispatcher turns one source node into
// committed target nodes, and a Pass does so for every node of a source graph.
//
// The Dispatcher is the single place where an op type is resolved to a rule:
// registry lookup, version selection, rule execution into a transaction, then
// commit or discard. Failures never leave partial output in the target graph.
package lower
