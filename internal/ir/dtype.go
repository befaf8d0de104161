package ir

import (
	"fmt"
	"strings"
)

// DType is the tensor element type vocabulary shared by the source and target IRs.
type DType int

// Supported element types.
const (
	DTUndefined DType = iota
	DTBool
	DTInt8
	DTInt16
	DTInt32
	DTInt64
	DTUint8
	DTFloat16
	DTBFloat16
	DTFloat32
	DTFloat64
	DTString
	DTComplex64
	DTComplex128
)

var dtypeNames = map[DType]string{
	DTUndefined:  "undefined",
	DTBool:       "bool",
	DTInt8:       "int8",
	DTInt16:      "int16",
	DTInt32:      "int32",
	DTInt64:      "int64",
	DTUint8:      "uint8",
	DTFloat16:    "float16",
	DTBFloat16:   "bfloat16",
	DTFloat32:    "float32",
	DTFloat64:    "float64",
	DTString:     "string",
	DTComplex64:  "complex64",
	DTComplex128: "complex128",
}

// String returns the canonical lower-case name of the data type.
func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// IsInteger reports whether d is a signed or unsigned integer type.
func (d DType) IsInteger() bool {
	switch d {
	case DTInt8, DTInt16, DTInt32, DTInt64, DTUint8:
		return true
	}
	return false
}

// IsFloat reports whether d is a real floating point type.
func (d DType) IsFloat() bool {
	switch d {
	case DTFloat16, DTBFloat16, DTFloat32, DTFloat64:
		return true
	}
	return false
}

// ParseDType resolves a canonical name ("int64", "float32", ...).
// The aliases "fp32", "fp16", "fp64" and "bf16" are accepted as well.
func ParseDType(name string) (DType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "fp16":
		return DTFloat16, nil
	case "fp32":
		return DTFloat32, nil
	case "fp64":
		return DTFloat64, nil
	case "bf16":
		return DTBFloat16, nil
	}
	for d, dn := range dtypeNames {
		if dn == n && d != DTUndefined {
			return d, nil
		}
	}
	return DTUndefined, Errorf(ErrCodeDtypeMismatch, "unknown dtype %q", name)
}

// Source IR element type codes (framework VarType.Type).
var sourceCodes = map[DType]int32{
	DTBool:       0,
	DTInt16:      1,
	DTInt32:      2,
	DTInt64:      3,
	DTFloat16:    4,
	DTFloat32:    5,
	DTFloat64:    6,
	DTUint8:      20,
	DTInt8:       21,
	DTBFloat16:   22,
	DTComplex64:  23,
	DTComplex128: 24,
	DTString:     25,
}

// Target IR element type codes (TensorProto.DataType).
var targetCodes = map[DType]int32{
	DTFloat32:    1,
	DTUint8:      2,
	DTInt8:       3,
	DTInt16:      5,
	DTInt32:      6,
	DTInt64:      7,
	DTString:     8,
	DTBool:       9,
	DTFloat16:    10,
	DTFloat64:    11,
	DTComplex64:  14,
	DTComplex128: 15,
	DTBFloat16:   16,
}

// SourceCode returns the source IR code for d.
func SourceCode(d DType) (int32, error) {
	if c, ok := sourceCodes[d]; ok {
		return c, nil
	}
	return 0, Errorf(ErrCodeDtypeMismatch, "%s has no source IR code", d)
}

// TargetCode returns the target IR code for d.
func TargetCode(d DType) (int32, error) {
	if c, ok := targetCodes[d]; ok {
		return c, nil
	}
	return 0, Errorf(ErrCodeDtypeMismatch, "%s has no target IR code", d)
}

// FromSourceCode resolves a source IR code.
func FromSourceCode(code int32) (DType, error) {
	for d, c := range sourceCodes {
		if c == code {
			return d, nil
		}
	}
	return DTUndefined, Errorf(ErrCodeDtypeMismatch, "unknown source dtype code %d", code)
}

// FromTargetCode resolves a target IR code.
func FromTargetCode(code int32) (DType, error) {
	for d, c := range targetCodes {
		if c == code {
			return d, nil
		}
	}
	return DTUndefined, Errorf(ErrCodeDtypeMismatch, "unknown target dtype code %d", code)
}

// TranslateSourceCode maps a source IR dtype code straight to the target IR code.
func TranslateSourceCode(code int32) (int32, error) {
	d, err := FromSourceCode(code)
	if err != nil {
		return 0, err
	}
	return TargetCode(d)
}
