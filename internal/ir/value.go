package ir

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the attribute values shared by both IRs.
// Only Int, Float, Bool, String, Ints, Floats and TensorRef implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Int is a scalar integer attribute.
type Int int64

func (Int) irValue() {}

// Float is a scalar floating point attribute.
type Float float64

func (Float) irValue() {}

// Bool is a boolean attribute.
type Bool bool

func (Bool) irValue() {}

// String is a string attribute.
type String string

func (String) irValue() {}

// Ints is a list-of-integer attribute.
// Construct with NewInts so the backing array is not shared with the caller.
type Ints []int64

func (Ints) irValue() {}

// Floats is a list-of-float attribute.
type Floats []float64

func (Floats) irValue() {}

// TensorRef names a tensor in either graph.
type TensorRef string

func (TensorRef) irValue() {}

// NewInts copies vals into an Ints value.
func NewInts(vals ...int64) Ints {
	return Ints(slices.Clone(vals))
}

// NewFloats copies vals into a Floats value.
func NewFloats(vals ...float64) Floats {
	return Floats(slices.Clone(vals))
}

// ValueKind names the variant held by a Value.
type ValueKind string

const (
	KindInt       ValueKind = "int"
	KindFloat     ValueKind = "float"
	KindBool      ValueKind = "bool"
	KindString    ValueKind = "string"
	KindInts      ValueKind = "ints"
	KindFloats    ValueKind = "floats"
	KindTensorRef ValueKind = "tensor_ref"
	KindInvalid   ValueKind = "invalid"
)

// Kind returns the variant name of v.
func Kind(v Value) ValueKind {
	switch v.(type) {
	case Int:
		return KindInt
	case Float:
		return KindFloat
	case Bool:
		return KindBool
	case String:
		return KindString
	case Ints:
		return KindInts
	case Floats:
		return KindFloats
	case TensorRef:
		return KindTensorRef
	default:
		return KindInvalid
	}
}

// AsInt returns the integer held by v.
// No coercion is performed: a Float or Bool is a WrongValueKind error.
func AsInt(v Value) (int64, error) {
	if i, ok := v.(Int); ok {
		return int64(i), nil
	}
	return 0, wrongKind(v, KindInt)
}

// AsFloat returns the float held by v.
func AsFloat(v Value) (float64, error) {
	if f, ok := v.(Float); ok {
		return float64(f), nil
	}
	return 0, wrongKind(v, KindFloat)
}

// AsBool returns the boolean held by v.
func AsBool(v Value) (bool, error) {
	if b, ok := v.(Bool); ok {
		return bool(b), nil
	}
	return false, wrongKind(v, KindBool)
}

// AsString returns the string held by v.
func AsString(v Value) (string, error) {
	if s, ok := v.(String); ok {
		return string(s), nil
	}
	return "", wrongKind(v, KindString)
}

// AsInts returns a copy of the integer list held by v.
func AsInts(v Value) ([]int64, error) {
	if l, ok := v.(Ints); ok {
		return slices.Clone([]int64(l)), nil
	}
	return nil, wrongKind(v, KindInts)
}

// AsFloats returns a copy of the float list held by v.
func AsFloats(v Value) ([]float64, error) {
	if l, ok := v.(Floats); ok {
		return slices.Clone([]float64(l)), nil
	}
	return nil, wrongKind(v, KindFloats)
}

// AsTensorRef returns the tensor name held by v.
func AsTensorRef(v Value) (string, error) {
	if r, ok := v.(TensorRef); ok {
		return string(r), nil
	}
	return "", wrongKind(v, KindTensorRef)
}

func wrongKind(v Value, want ValueKind) error {
	return &LoweringError{
		Code:    ErrCodeWrongValueKind,
		Message: fmt.Sprintf("expected %s value, got %s", want, Kind(v)),
	}
}

// Equal reports whether a and b hold the same variant and contents.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Ints:
		bv, ok := b.(Ints)
		return ok && slices.Equal(av, bv)
	case Floats:
		bv, ok := b.(Floats)
		return ok && slices.Equal(av, bv)
	case nil:
		return b == nil
	default:
		return a == b
	}
}

// FormatValue renders v for diagnostics and text output.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Float:
		return fmt.Sprintf("%g", float64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case String:
		return fmt.Sprintf("%q", string(val))
	case Ints:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = fmt.Sprintf("%d", n)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case Floats:
		parts := make([]string, len(val))
		for i, f := range val {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case TensorRef:
		return "%" + string(val)
	default:
		return "<invalid>"
	}
}

// Attrs is an attribute bag keyed by name.
// Use SortedKeys for deterministic iteration.
type Attrs map[string]Value

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (a Attrs) SortedKeys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a shallow copy of a. Values are immutable so sharing them is safe.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
// Go's default string comparison uses UTF-8 which produces a different order.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// FromGo converts a decoded Go value (from CUE, YAML or JSON) into a Value.
// Integral numbers become Int, other numbers Float; homogeneous lists become
// Ints or Floats (a list mixing both is promoted to Floats).
// A map of the form {"ref": "name"} becomes a TensorRef.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null attribute values are not allowed")
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer attribute %d overflows int64", val)
		}
		return Int(int64(val)), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case []int64:
		return NewInts(val...), nil
	case []float64:
		return NewFloats(val...), nil
	case []any:
		return listFromGo(val)
	case map[string]any:
		if ref, ok := val["ref"].(string); ok && len(val) == 1 {
			return TensorRef(ref), nil
		}
		return nil, fmt.Errorf("object attribute values are not allowed (only {ref: name})")
	default:
		return nil, fmt.Errorf("unsupported attribute value type: %T", v)
	}
}

func listFromGo(items []any) (Value, error) {
	ints := make([]int64, 0, len(items))
	floats := make([]float64, 0, len(items))
	allInts := true
	for i, item := range items {
		elem, err := FromGo(item)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		switch e := elem.(type) {
		case Int:
			ints = append(ints, int64(e))
			floats = append(floats, float64(e))
		case Float:
			allInts = false
			floats = append(floats, float64(e))
		default:
			return nil, fmt.Errorf("list[%d]: only numeric lists are allowed, got %s", i, Kind(elem))
		}
	}
	if allInts {
		return Ints(ints), nil
	}
	return Floats(floats), nil
}
