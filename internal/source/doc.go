// Package source provides the read-only view over source IR operators.
//
// A Node exposes named input and output slots (each holding zero or more
// tensor references), an attribute bag, and dtype/shape lookups for the
// tensors it touches. Lowering rules consume nodes exclusively through the
// accessors, which fail with MISSING_SLOT, MISSING_ATTRIBUTE or
// WRONG_VALUE_KIND instead of returning zero values.
//
// Present-but-empty slots are the optional-input case:
//
//	if n.HasInput("K") {
//	    k, _ := n.InputAt("K", 0) // dynamic count
//	} else {
//	    k, _ := n.AttrInt("k") // static count
//	}
package source
