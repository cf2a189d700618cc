// Package wasmruntime holds the sentinel errors raised while executing wasm functions.
package wasmruntime

import "github.com/wasmslot/wasmslot/api"

// Error is a run-time fault. Engines panic with one of the values below and recover it once at the call boundary.
type Error struct {
	code api.TrapCode
}

// New returns an error for the given trap code.
func New(code api.TrapCode) *Error {
	return &Error{code: code}
}

// Error implements error.
func (e *Error) Error() string {
	return e.code.String()
}

// Code is the trap code reported to the embedder.
func (e *Error) Code() api.TrapCode {
	return e.code
}

// All the errors are returned by the engine during the execution of Wasm functions, and they indicate that the call
// chain's state is unrecoverable.
var (
	// ErrRuntimeStackOverflow indicates that there are too many function calls or the value stack is exhausted.
	ErrRuntimeStackOverflow = New(api.TrapCodeCallStackExhausted)
	// ErrRuntimeInvalidConversionToInteger indicates the Wasm function tries to
	// convert NaN or an out of range floating point value to integers during trunc variant instructions.
	ErrRuntimeInvalidConversionToInteger = New(api.TrapCodeInvalidConversionToInteger)
	// ErrRuntimeIntegerOverflow indicates a signed division of the minimum value by -1.
	ErrRuntimeIntegerOverflow = New(api.TrapCodeIntegerOverflow)
	// ErrRuntimeIntegerDivideByZero indicates that an integer div or rem instructions
	// was executed with 0 as the divisor.
	ErrRuntimeIntegerDivideByZero = New(api.TrapCodeIntegerDivideByZero)
	// ErrRuntimeUnreachable means "unreachable" instruction was executed by the program.
	ErrRuntimeUnreachable = New(api.TrapCodeUnreachable)
	// ErrRuntimeOutOfBoundsMemoryAccess indicates that the program tried to access the
	// region beyond the linear memory.
	ErrRuntimeOutOfBoundsMemoryAccess = New(api.TrapCodeMemoryOutOfBounds)
	// ErrRuntimeInvalidTableAccess means the offset to the table was out of bounds of table.
	ErrRuntimeInvalidTableAccess = New(api.TrapCodeTableOutOfBounds)
	// ErrRuntimeUninitializedElement means call_indirect selected a null table element.
	ErrRuntimeUninitializedElement = New(api.TrapCodeIndirectCallOutOfBounds)
	// ErrRuntimeIndirectCallTypeMismatch indicates that the type check failed during call_indirect.
	ErrRuntimeIndirectCallTypeMismatch = New(api.TrapCodeIndirectCallTypeMismatch)
	// ErrRuntimeInterrupted means the context was done or the yield hook asked to stop.
	ErrRuntimeInterrupted = New(api.TrapCodeInterrupted)
	// ErrRuntimeOutOfFuel means the configured fuel was consumed.
	ErrRuntimeOutOfFuel = New(api.TrapCodeOutOfFuel)
	// ErrRuntimeNullReference means a null reference was dereferenced.
	ErrRuntimeNullReference = New(api.TrapCodeNullReference)
)

// ForCode returns the sentinel error of the trap code, used when a trap is folded at translation time.
func ForCode(code api.TrapCode) *Error {
	switch code {
	case api.TrapCodeCallStackExhausted:
		return ErrRuntimeStackOverflow
	case api.TrapCodeInvalidConversionToInteger:
		return ErrRuntimeInvalidConversionToInteger
	case api.TrapCodeIntegerOverflow:
		return ErrRuntimeIntegerOverflow
	case api.TrapCodeIntegerDivideByZero:
		return ErrRuntimeIntegerDivideByZero
	case api.TrapCodeUnreachable:
		return ErrRuntimeUnreachable
	case api.TrapCodeMemoryOutOfBounds:
		return ErrRuntimeOutOfBoundsMemoryAccess
	case api.TrapCodeTableOutOfBounds:
		return ErrRuntimeInvalidTableAccess
	case api.TrapCodeIndirectCallOutOfBounds:
		return ErrRuntimeUninitializedElement
	case api.TrapCodeIndirectCallTypeMismatch:
		return ErrRuntimeIndirectCallTypeMismatch
	case api.TrapCodeInterrupted:
		return ErrRuntimeInterrupted
	case api.TrapCodeOutOfFuel:
		return ErrRuntimeOutOfFuel
	case api.TrapCodeNullReference:
		return ErrRuntimeNullReference
	}
	return New(code)
}
