package target

import (
	"slices"
	"sort"
)

// InputArity bounds the number of inputs an op accepts from Since onwards.
type InputArity struct {
	Since int
	Min   int
	Max   int
}

// OpSchema describes a target operator as far as the builder checks it.
type OpSchema struct {
	// Outputs is the declared output arity.
	Outputs int

	// Since is the first target version that defines the operator.
	Since int

	// Inputs lists input arity by version, ascending by Since.
	Inputs []InputArity
}

// inputArity returns the arity rule in effect at version, if any.
func (s OpSchema) inputArity(version int) (InputArity, bool) {
	var found InputArity
	ok := false
	for _, a := range s.Inputs {
		if a.Since <= version {
			found = a
			ok = true
		}
	}
	return found, ok
}

// schemas is the target operator table. Only ops emitted by registered
// rules are listed; emitting anything else is UNKNOWN_TARGET_OP.
var schemas = map[string]OpSchema{
	"Cast":      {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}}},
	"Constant":  {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 0, 0}}},
	"Gather":    {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 2, 2}}},
	"Identity":  {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}}},
	"NonZero":   {Outputs: 1, Since: 9, Inputs: []InputArity{{9, 1, 1}}},
	"Shape":     {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}}},
	"Slice":     {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}, {10, 3, 5}}},
	"TopK":      {Outputs: 2, Since: 1, Inputs: []InputArity{{1, 1, 1}, {10, 2, 2}}},
	"Transpose": {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}}},
	"Unsqueeze": {Outputs: 1, Since: 1, Inputs: []InputArity{{1, 1, 1}, {13, 2, 2}}},
}

// Schema returns the schema of a target op.
func Schema(opType string) (OpSchema, bool) {
	s, ok := schemas[opType]
	return s, ok
}

// KnownOps returns the target op types in sorted order.
func KnownOps() []string {
	ops := make([]string, 0, len(schemas))
	for op := range schemas {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return slices.Clip(ops)
}
