// Package api includes constants and interfaces used by both end-users and internal implementations.
package api

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/types.html#external-types
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// The below are exported to consolidate parsing behavior for external types.
const (
	// ExternTypeFuncName is the name of the WebAssembly Text Format field for ExternTypeFunc.
	ExternTypeFuncName = "func"
	// ExternTypeTableName is the name of the WebAssembly Text Format field for ExternTypeTable.
	ExternTypeTableName = "table"
	// ExternTypeMemoryName is the name of the WebAssembly Text Format field for ExternTypeMemory.
	ExternTypeMemoryName = "memory"
	// ExternTypeGlobalName is the name of the WebAssembly Text Format field for ExternTypeGlobal.
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the WebAssembly Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a type of value a function parameter, result, local or global can hold.
//
// The following describes how to convert between Wasm and Golang types:
//   - ValueTypeI32 - uint64(uint32,int32), see EncodeI32
//   - ValueTypeI64 - uint64(int64), see EncodeI64
//   - ValueTypeF32 - EncodeF32 and DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 and DecodeF64 from float64
//   - ValueTypeFuncref, ValueTypeExternref - opaque references, zero is the null reference.
//
// Ex. Given a Text Format type use (param f64) (result f64), conversion is necessary.
//
//	results, _ := fn.Call(ctx, api.EncodeF64(input))
//	result := api.DecodeF64(results[0])
//
// Note: This is a type alias as it is easier to encode and decode in the binary format.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/types.html#value-types
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
	// ValueTypeV128 is a 128-bit vector value. Functions using it are rejected at compilation.
	ValueTypeV128 ValueType = 0x7b
	// ValueTypeFuncref is a reference to a function in the same Store, or null.
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is an opaque reference to a host value registered in the Store, or null.
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/types.html#function-types
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	Results []ValueType
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return string(t.Params) == string(params) && string(t.Results) == string(results)
}

// String implements fmt.Stringer. Identical signatures render identically, so this is also used as a key.
//
// Ex. (param i32 f64) (result i64) is "i32f64_i64" and a signature without params or results is "v_v".
func (t *FunctionType) String() string {
	var b strings.Builder
	for _, p := range t.Params {
		b.WriteString(ValueTypeName(p))
	}
	if len(t.Params) == 0 {
		b.WriteByte('v')
	}
	b.WriteByte('_')
	for _, r := range t.Results {
		b.WriteString(ValueTypeName(r))
	}
	if len(t.Results) == 0 {
		b.WriteByte('v')
	}
	return b.String()
}

// Limits are the size bounds of a memory (in pages) or a table (in elements).
type Limits struct {
	Min uint64
	// Max is nil when unbounded.
	Max *uint64
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits
	// Is64 is true when the memory is indexed with i64 addresses (memory64).
	Is64 bool
}

// TableType describes a table of references.
type TableType struct {
	Limits
	// ElemType is ValueTypeFuncref or ValueTypeExternref.
	ElemType ValueType
}

// GlobalType describes a global.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Extern is an opaque, typed handle to an entity (function, memory, table or global) owned by one Store.
//
// Handles are only meaningful for the Store that created them: passing a handle to another Store is an error.
// The zero value is not a valid handle.
type Extern struct {
	// Type is the kind of entity this handle addresses.
	Type ExternType
	// Store identifies the owning Store.
	Store uuid.UUID
	// Index is the position of the entity in the owning Store.
	Index uint32
}

// String implements fmt.Stringer
func (e Extern) String() string {
	return fmt.Sprintf("%s[%d]@%s", ExternTypeName(e.Type), e.Index, e.Store)
}

// Function is a WebAssembly function, either defined in a module or by the host.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#functions
type Function interface {
	// Extern returns the store handle of this function, usable as an import.
	Extern() Extern

	// Type is the signature of this function.
	Type() *FunctionType

	// Call invokes the function with parameters encoded according to Type().Params. Results are encoded according to
	// Type().Results. An error is returned for any failure invoking the function, and is a *Trap when the function
	// trapped.
	//
	// Note: When the context is nil, it defaults to context.Background.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Global is a WebAssembly global.
type Global interface {
	fmt.Stringer

	// Extern returns the store handle of this global, usable as an import.
	Extern() Extern

	// Type describes the numeric type of the global.
	Type() ValueType

	// Get returns the last known value of this global.
	Get() uint64
}

// MutableGlobal is a Global whose value can be updated at runtime (variable).
type MutableGlobal interface {
	Global

	// Set updates the value of this global.
	Set(v uint64)
}

// Memory allows restricted access to a linear memory. All values are encoded little-endian.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#memory-instances
type Memory interface {
	// Extern returns the store handle of this memory, usable as an import.
	Extern() Extern

	// Size returns the size in bytes available. Ex. If the underlying memory has 1 page: 65536
	Size() uint64

	// Pages returns the size in pages.
	Pages() uint64

	// Grow increases memory by the delta in pages (65536 bytes per page). The return val is the previous memory size
	// in pages, or false if the delta was ignored as it exceeds max memory.
	//
	// Note: This is the same as the "memory.grow" instruction, except it returns false instead of -1 on failure.
	Grow(deltaPages uint64) (previousPages uint64, ok bool)

	// ReadByte reads a single byte from the underlying buffer at the offset or returns false if out of range.
	ReadByte(offset uint64) (byte, bool)

	// ReadUint32Le reads a uint32 in little-endian encoding at the offset or returns false if out of range.
	ReadUint32Le(offset uint64) (uint32, bool)

	// ReadUint64Le reads a uint64 in little-endian encoding at the offset or returns false if out of range.
	ReadUint64Le(offset uint64) (uint64, bool)

	// Read reads byteCount bytes from the underlying buffer at the offset or returns false if out of range.
	//
	// This returns a view of the underlying memory, not a copy. The view is no longer shared after the memory grows.
	Read(offset, byteCount uint64) ([]byte, bool)

	// WriteByte writes a single byte to the underlying buffer at the offset in or returns false if out of range.
	WriteByte(offset uint64, v byte) bool

	// WriteUint32Le writes the value in little-endian encoding at the offset or returns false if out of range.
	WriteUint32Le(offset uint64, v uint32) bool

	// WriteUint64Le writes the value in little-endian encoding at the offset or returns false if out of range.
	WriteUint64Le(offset uint64, v uint64) bool

	// Write writes the slice to the underlying buffer at the offset or returns false if out of range.
	Write(offset uint64, v []byte) bool
}

// Table is a sequence of references.
type Table interface {
	// Extern returns the store handle of this table, usable as an import.
	Extern() Extern

	// ElemType is ValueTypeFuncref or ValueTypeExternref.
	ElemType() ValueType

	// Size returns the number of elements.
	Size() uint32

	// Get returns the reference at the offset or false if out of range.
	Get(offset uint32) (uint64, bool)

	// Grow appends delta elements initialized to init, returning the previous size or false if the table cannot grow.
	Grow(delta uint32, init uint64) (previousSize uint32, ok bool)
}

// Caller is the view of the calling module a host function receives.
type Caller interface {
	// ModuleName is the name of the instance whose code called the host function, or empty when invoked directly.
	ModuleName() string

	// Memory returns the memory at the given index of the calling instance or nil if it has none.
	Memory(index uint32) Memory

	// ExportedFunction returns a function exported by the calling instance or nil.
	ExportedFunction(name string) Function

	// Call re-enters the engine, invoking the function on the current call chain. Call depth and value stack limits
	// are shared with the caller.
	Call(ctx context.Context, fn Function, params ...uint64) ([]uint64, error)
}

// GoModuleFunction is a host function implemented in Go.
//
// The stack holds the parameters on input and must hold the results on return. Its length is the larger of the
// parameter and result counts. Returning an error traps the calling chain: a *Trap keeps its code, any other error
// traps with TrapCodeHost.
type GoModuleFunction func(ctx context.Context, caller Caller, stack []uint64) error

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// DecodeI32 decodes the input as a ValueTypeI32.
func DecodeI32(input uint64) int32 {
	return int32(input)
}

// EncodeU32 encodes the input as a ValueTypeI32.
func EncodeU32(input uint32) uint64 {
	return uint64(input)
}

// DecodeU32 decodes the input as a ValueTypeI32.
func DecodeU32(input uint64) uint32 {
	return uint32(input)
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 encodes the input as a ValueTypeF32.
// See DecodeF32
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
// See EncodeF32
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
// See EncodeF32
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
// See EncodeF64
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}
