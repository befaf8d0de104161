// Package loader reads source graph descriptions from CUE or YAML files.
//
// Both formats decode into the same Document shape: a tensor table with
// dtype and static shape, and an ordered node list with named slots and
// attributes. Build turns a Document into a validated source.Graph.
package loader
