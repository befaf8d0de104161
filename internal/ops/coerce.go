package ops

import (
	"github.com/roach88/lowerkit/internal/ir"
	"github.com/roach88/lowerkit/internal/target"
)

// coerceTo returns a tensor holding ref converted to dtype want.
//
// When from already equals want no node is emitted and ref is returned as is.
// Numeric and bool tensors are converted with a Cast; anything else fails
// with DTYPE_MISMATCH.
func coerceTo(b target.Builder, ref string, from, want ir.DType) (string, error) {
	if from == want {
		return ref, nil
	}
	if !castable(from) || !castable(want) {
		return "", ir.Errorf(ir.ErrCodeDtypeMismatch, "cannot convert %s tensor %q to %s", from, ref, want)
	}
	to, err := ir.TargetCode(want)
	if err != nil {
		return "", err
	}
	outs, err := b.Emit("Cast", []string{ref}, nil, ir.Attrs{"to": ir.Int(to)})
	if err != nil {
		return "", err
	}
	return outs[0], nil
}

func castable(d ir.DType) bool {
	return d == ir.DTBool || d.IsInteger() || d.IsFloat()
}

// boolFlag translates a boolean attribute to the 0/1 integer flag target ops use.
func boolFlag(v bool) ir.Int {
	if v {
		return 1
	}
	return 0
}
