// Package mapper selects the lowering rule for a source operator at a
// requested target version.
//
// A Mapper declares the closed version range its operator supports and a
// list of rules keyed by the version each was authored against. For a
// requested version V inside the range, the rule with the greatest Since <= V
// applies: a rule keeps serving later versions until a newer rule replaces it.
//
// The Registry is populated once at startup (see ops.Register) and sealed;
// lookups after sealing are safe from any goroutine.
package mapper
