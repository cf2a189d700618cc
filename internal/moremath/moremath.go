// Package moremath holds the float operations whose Go counterparts do not follow WebAssembly semantics.
package moremath

import "math"

const (
	// F32CanonicalNaNBits is the positive quiet NaN every f32 arithmetic operation returns instead of a NaN.
	F32CanonicalNaNBits uint32 = 0x7fc0_0000
	// F64CanonicalNaNBits is the positive quiet NaN every f64 arithmetic operation returns instead of a NaN.
	F64CanonicalNaNBits uint64 = 0x7ff8_0000_0000_0000
)

// F32Bits returns the bits of v, or the canonical NaN if v is a NaN.
func F32Bits(v float32) uint64 {
	if v != v {
		return uint64(F32CanonicalNaNBits)
	}
	return uint64(math.Float32bits(v))
}

// F64Bits returns the bits of v, or the canonical NaN if v is a NaN.
func F64Bits(v float64) uint64 {
	if v != v {
		return F64CanonicalNaNBits
	}
	return math.Float64bits(v)
}

// math.Min doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is -Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// math.Max doen't comply with the Wasm spec, so we borrow from the original
// with a change that either one of NaN results in NaN even if another is Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)

	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatNearestF32 rounds to the nearest integer, ties to even, keeping the sign of zero.
func WasmCompatNearestF32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}

// WasmCompatNearestF64 rounds to the nearest integer, ties to even, keeping the sign of zero.
func WasmCompatNearestF64(f float64) float64 {
	return math.RoundToEven(f)
}

// Bounds of the integer ranges, exact in float64.
const (
	minInt32  = -2147483648.0
	maxInt32  = 2147483647.0
	maxUint32 = 4294967295.0
	minInt64  = -9223372036854775808.0
	// twoTo63 and twoTo64 are the first values out of range of int64 and uint64.
	twoTo63 = 9223372036854775808.0
	twoTo64 = 18446744073709551616.0
)

// TruncI32 truncates v toward zero, or returns false if v is NaN or the result is out of range.
// An f32 operand converts to float64 exactly, so it goes through the same function.
func TruncI32(v float64) (int32, bool) {
	t := math.Trunc(v)
	if !(t >= minInt32 && t <= maxInt32) {
		return 0, false
	}
	return int32(t), true
}

// TruncU32 truncates v toward zero, or returns false if v is NaN or the result is out of range.
func TruncU32(v float64) (uint32, bool) {
	t := math.Trunc(v)
	if !(t >= 0 && t <= maxUint32) {
		return 0, false
	}
	return uint32(t), true
}

// TruncI64 truncates v toward zero, or returns false if v is NaN or the result is out of range.
func TruncI64(v float64) (int64, bool) {
	t := math.Trunc(v)
	if !(t >= minInt64 && t < twoTo63) {
		return 0, false
	}
	return int64(t), true
}

// TruncU64 truncates v toward zero, or returns false if v is NaN or the result is out of range.
func TruncU64(v float64) (uint64, bool) {
	t := math.Trunc(v)
	if !(t >= 0 && t < twoTo64) {
		return 0, false
	}
	return uint64(t), true
}

// TruncSatI32 is TruncI32 saturating at the bounds. NaN converts to zero.
func TruncSatI32(v float64) int32 {
	switch {
	case v != v:
		return 0
	case v <= minInt32:
		return math.MinInt32
	case v >= maxInt32:
		return math.MaxInt32
	}
	return int32(v)
}

// TruncSatU32 is TruncU32 saturating at the bounds. NaN converts to zero.
func TruncSatU32(v float64) uint32 {
	switch {
	case v != v || v <= 0:
		return 0
	case v >= maxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

// TruncSatI64 is TruncI64 saturating at the bounds. NaN converts to zero.
func TruncSatI64(v float64) int64 {
	switch {
	case v != v:
		return 0
	case v <= minInt64:
		return math.MinInt64
	case v >= twoTo63:
		return math.MaxInt64
	}
	return int64(v)
}

// TruncSatU64 is TruncU64 saturating at the bounds. NaN converts to zero.
func TruncSatU64(v float64) uint64 {
	switch {
	case v != v || v <= 0:
		return 0
	case v >= twoTo64:
		return math.MaxUint64
	}
	return uint64(v)
}
