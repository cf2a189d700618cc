package api

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueTypeName(t *testing.T) {
	tests := []struct {
		name     string
		input    ValueType
		expected string
	}{
		{"i32", ValueTypeI32, "i32"},
		{"i64", ValueTypeI64, "i64"},
		{"f32", ValueTypeF32, "f32"},
		{"f64", ValueTypeF64, "f64"},
		{"v128", ValueTypeV128, "v128"},
		{"funcref", ValueTypeFuncref, "funcref"},
		{"externref", ValueTypeExternref, "externref"},
		{"unknown", 100, "unknown"},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ValueTypeName(tc.input))
		})
	}
}

func TestExternTypeName(t *testing.T) {
	tests := []struct {
		input    ExternType
		expected string
	}{
		{ExternTypeFunc, "func"},
		{ExternTypeTable, "table"},
		{ExternTypeMemory, "memory"},
		{ExternTypeGlobal, "global"},
		{0x10, "0x10"},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, ExternTypeName(tc.input))
		})
	}
}

func TestFunctionType_String(t *testing.T) {
	tests := []struct {
		functype *FunctionType
		expected string
	}{
		{functype: &FunctionType{}, expected: "v_v"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI32}}, expected: "i32_v"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeF64}}, expected: "i32f64_v"},
		{functype: &FunctionType{Results: []ValueType{ValueTypeI64}}, expected: "v_i64"},
		{functype: &FunctionType{Params: []ValueType{ValueTypeExternref}, Results: []ValueType{ValueTypeI32, ValueTypeFuncref}}, expected: "externref_i32funcref"},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.expected, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.functype.String())
		})
	}
}

func TestFunctionType_EqualsSignature(t *testing.T) {
	ft := &FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}, Results: []ValueType{ValueTypeF32}}
	require.True(t, ft.EqualsSignature([]ValueType{ValueTypeI32, ValueTypeI64}, []ValueType{ValueTypeF32}))
	require.False(t, ft.EqualsSignature([]ValueType{ValueTypeI64, ValueTypeI32}, []ValueType{ValueTypeF32}))
	require.False(t, ft.EqualsSignature([]ValueType{ValueTypeI32, ValueTypeI64}, nil))
}

func TestEncodeDecodeI32(t *testing.T) {
	for _, v := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
		encoded := EncodeI32(v)
		require.Zero(t, encoded>>32, "upper bits must be clear")
		require.Equal(t, v, DecodeI32(encoded))
	}
}

func TestEncodeDecodeF32(t *testing.T) {
	for _, v := range []float32{
		0, 100, -100, 1, -1,
		100.01234124, -100.01234124, 200.12315,
		math.MaxFloat32,
		math.SmallestNonzeroFloat32,
		float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN()),
	} {
		t.Run(fmt.Sprintf("%f", v), func(t *testing.T) {
			encoded := EncodeF32(v)
			binary := DecodeF32(encoded)
			if math.IsNaN(float64(binary)) { // NaN cannot be compared with themselves, so we have to use IsNaN
				require.True(t, math.IsNaN(float64(binary)))
			} else {
				require.Equal(t, v, binary)
			}
		})
	}
}

func TestEncodeDecodeF64(t *testing.T) {
	for _, v := range []float64{
		0, 100, -100, 1, -1,
		100.01234124, -100.01234124, 200.12315,
		math.MaxFloat32,
		math.SmallestNonzeroFloat32,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		6.8719476736e+10,  /* = 1 << 36 */
		1.37438953472e+11, /* = 1 << 37 */
		math.Inf(1), math.Inf(-1), math.NaN(),
	} {
		t.Run(fmt.Sprintf("%f", v), func(t *testing.T) {
			encoded := EncodeF64(v)
			binary := DecodeF64(encoded)
			if math.IsNaN(binary) { // cannot use require.Equal as NaN by definition doesn't equal itself
				require.True(t, math.IsNaN(binary))
			} else {
				require.Equal(t, v, binary)
			}
		})
	}
}
