package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeTranslation(t *testing.T) {
	tests := []struct {
		dtype      DType
		sourceCode int32
		targetCode int32
	}{
		{DTBool, 0, 9},
		{DTInt32, 2, 6},
		{DTInt64, 3, 7},
		{DTFloat32, 5, 1},
		{DTFloat64, 6, 11},
		{DTUint8, 20, 2},
		{DTInt8, 21, 3},
	}
	for _, tt := range tests {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			sc, err := SourceCode(tt.dtype)
			require.NoError(t, err)
			assert.Equal(t, tt.sourceCode, sc)

			tc, err := TargetCode(tt.dtype)
			require.NoError(t, err)
			assert.Equal(t, tt.targetCode, tc)

			translated, err := TranslateSourceCode(tt.sourceCode)
			require.NoError(t, err)
			assert.Equal(t, tt.targetCode, translated)

			back, err := FromTargetCode(tt.targetCode)
			require.NoError(t, err)
			assert.Equal(t, tt.dtype, back)
		})
	}
}

func TestDTypeUnknownCodes(t *testing.T) {
	_, err := FromSourceCode(99)
	assert.True(t, IsCode(err, ErrCodeDtypeMismatch))

	_, err = FromTargetCode(99)
	assert.True(t, IsCode(err, ErrCodeDtypeMismatch))

	_, err = TargetCode(DTUndefined)
	assert.True(t, IsCode(err, ErrCodeDtypeMismatch))
}

func TestParseDType(t *testing.T) {
	d, err := ParseDType("int64")
	require.NoError(t, err)
	assert.Equal(t, DTInt64, d)

	d, err = ParseDType(" FP32 ")
	require.NoError(t, err)
	assert.Equal(t, DTFloat32, d)

	_, err = ParseDType("undefined")
	assert.Error(t, err)

	_, err = ParseDType("quaternion")
	assert.True(t, IsCode(err, ErrCodeDtypeMismatch))
}

func TestDTypeClasses(t *testing.T) {
	assert.True(t, DTInt32.IsInteger())
	assert.False(t, DTFloat32.IsInteger())
	assert.True(t, DTBFloat16.IsFloat())
	assert.False(t, DTBool.IsFloat())
	assert.Equal(t, "dtype(99)", DType(99).String())
}

func TestLoweringErrorFormatting(t *testing.T) {
	err := &LoweringError{
		Code:    ErrCodeUnsupportedTargetVersion,
		Message: "opset 14 outside [9, 13]",
		OpType:  "where_index",
		Node:    "where0",
		Version: 14,
	}
	assert.Equal(t,
		"UNSUPPORTED_TARGET_VERSION: opset 14 outside [9, 13] (op=where_index, node=where0) [opset 14]",
		err.Error())
}

func TestCodeOfWrapped(t *testing.T) {
	base := Errorf(ErrCodeMissingSlot, "input slot %q not found", "X")
	wrapped := fmt.Errorf("lowering: %w", base)

	assert.Equal(t, ErrCodeMissingSlot, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeMissingSlot))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}

func TestWithContext(t *testing.T) {
	assert.NoError(t, WithContext(nil, "top_k", "n", 11))

	err := WithContext(Errorf(ErrCodeMissingAttribute, "attribute %q not found", "k"), "top_k", "n0", 11)
	var le *LoweringError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "top_k", le.OpType)
	assert.Equal(t, "n0", le.Node)
	assert.Equal(t, 11, le.Version)

	plain := errors.New("boom")
	err = WithContext(plain, "top_k", "n0", 11)
	assert.True(t, IsCode(err, ErrCodeInternal))
	assert.ErrorIs(t, err, plain)
}
