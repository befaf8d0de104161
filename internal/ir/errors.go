package ir

import (
	"errors"
	"fmt"
)

// LoweringError represents a failure detected while lowering a source node.
//
// Every failure of the engine surfaces as a LoweringError so callers can
// branch on Code instead of matching message text. Errors are recoverable:
// the node that failed leaves nothing behind in the target graph.
type LoweringError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OpType is the source operator type being lowered, if known.
	OpType string

	// Node is the source node name, if known.
	Node string

	// Version is the requested target version, 0 if not applicable.
	Version int

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes lowering errors.
type ErrorCode string

const (
	// ErrCodeUnsupportedOperator indicates no mapper is registered for an op type.
	ErrCodeUnsupportedOperator ErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeUnsupportedTargetVersion indicates the requested version is outside a mapper's range.
	ErrCodeUnsupportedTargetVersion ErrorCode = "UNSUPPORTED_TARGET_VERSION"

	// ErrCodeNoApplicableRule indicates a mapper whose range promises a rule it does not have.
	ErrCodeNoApplicableRule ErrorCode = "NO_APPLICABLE_RULE"

	// ErrCodeMissingSlot indicates a required input or output slot is absent.
	ErrCodeMissingSlot ErrorCode = "MISSING_SLOT"

	// ErrCodeMissingAttribute indicates a required attribute is absent.
	ErrCodeMissingAttribute ErrorCode = "MISSING_ATTRIBUTE"

	// ErrCodeWrongValueKind indicates an attribute holds a different variant than requested.
	ErrCodeWrongValueKind ErrorCode = "WRONG_VALUE_KIND"

	// ErrCodeInvalidAttribute indicates an attribute of the right kind holding an unusable value.
	ErrCodeInvalidAttribute ErrorCode = "INVALID_ATTRIBUTE"

	// ErrCodeUnsupportedFeatureForVersion indicates a semantic combination the selected
	// handler version cannot express.
	ErrCodeUnsupportedFeatureForVersion ErrorCode = "UNSUPPORTED_FEATURE_FOR_VERSION"

	// ErrCodeDtypeMismatch indicates a dtype that no coercion node can convert.
	ErrCodeDtypeMismatch ErrorCode = "DTYPE_MISMATCH"

	// ErrCodeDuplicateRegistration indicates a second mapper for the same op type.
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"

	// ErrCodeRegistrySealed indicates a registration attempt after initialization completed.
	ErrCodeRegistrySealed ErrorCode = "REGISTRY_SEALED"

	// ErrCodeDuplicateName indicates a target name that is already produced or reserved.
	ErrCodeDuplicateName ErrorCode = "DUPLICATE_NAME"

	// ErrCodeUndefinedInput indicates a target input consumed before it is produced.
	ErrCodeUndefinedInput ErrorCode = "UNDEFINED_INPUT"

	// ErrCodeArityMismatch indicates an output count that differs from the target op's arity.
	ErrCodeArityMismatch ErrorCode = "ARITY_MISMATCH"

	// ErrCodeUnknownTargetOp indicates an op type missing from the target schema.
	ErrCodeUnknownTargetOp ErrorCode = "UNKNOWN_TARGET_OP"

	// ErrCodeTxClosed indicates use of a transaction after Commit or Discard.
	ErrCodeTxClosed ErrorCode = "TX_CLOSED"

	// ErrCodeInternal wraps an untyped error returned by a rule.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *LoweringError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Node != "" && e.OpType != "":
		msg = fmt.Sprintf("%s (op=%s, node=%s)", msg, e.OpType, e.Node)
	case e.OpType != "":
		msg = fmt.Sprintf("%s (op=%s)", msg, e.OpType)
	}
	if e.Version > 0 {
		msg = fmt.Sprintf("%s [opset %d]", msg, e.Version)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *LoweringError) Unwrap() error {
	return e.Err
}

// Errorf creates a LoweringError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *LoweringError {
	return &LoweringError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first LoweringError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var le *LoweringError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsCode reports whether err carries a LoweringError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// WithContext fills in the node context of err if it is a LoweringError
// that does not carry one yet. Other errors are wrapped as-is.
func WithContext(err error, opType, node string, version int) error {
	if err == nil {
		return nil
	}
	var le *LoweringError
	if !errors.As(err, &le) {
		return &LoweringError{
			Code:    ErrCodeInternal,
			Message: "lowering failed",
			OpType:  opType,
			Node:    node,
			Version: version,
			Err:     err,
		}
	}
	out := *le
	if out.OpType == "" {
		out.OpType = opType
	}
	if out.Node == "" {
		out.Node = node
	}
	if out.Version == 0 {
		out.Version = version
	}
	return &out
}
