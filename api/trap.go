package api

import (
	"fmt"
	"strings"
)

// TrapCode classifies the run-time fault that unwound a call chain.
type TrapCode uint32

const (
	// TrapCodeUnreachable means an "unreachable" instruction was executed.
	TrapCodeUnreachable TrapCode = iota
	// TrapCodeMemoryOutOfBounds means a load, store or bulk memory operation addressed bytes past the memory size.
	TrapCodeMemoryOutOfBounds
	// TrapCodeTableOutOfBounds means a table access, including the index of a call_indirect, was past the table size.
	TrapCodeTableOutOfBounds
	// TrapCodeIndirectCallOutOfBounds means call_indirect selected a null table element.
	TrapCodeIndirectCallOutOfBounds
	// TrapCodeIndirectCallTypeMismatch means call_indirect selected a function whose type differs from the call site.
	TrapCodeIndirectCallTypeMismatch
	// TrapCodeIntegerDivideByZero means an integer division or remainder had a zero divisor.
	TrapCodeIntegerDivideByZero
	// TrapCodeIntegerOverflow means a signed division of the minimum value by -1.
	TrapCodeIntegerOverflow
	// TrapCodeInvalidConversionToInteger means a float to integer truncation of NaN or an out of range value.
	TrapCodeInvalidConversionToInteger
	// TrapCodeCallStackExhausted means the call depth or the value stack exceeded its configured limit.
	TrapCodeCallStackExhausted
	// TrapCodeInterrupted means the context was done or the yield hook returned an error.
	TrapCodeInterrupted
	// TrapCodeOutOfFuel means the fuel configured with the runtime was consumed.
	TrapCodeOutOfFuel
	// TrapCodeNullReference means a null reference was dereferenced.
	TrapCodeNullReference
	// TrapCodeHost means a host function returned an error that was not itself a *Trap.
	TrapCodeHost
)

var trapCodeNames = [...]string{
	TrapCodeUnreachable:                "unreachable",
	TrapCodeMemoryOutOfBounds:          "out of bounds memory access",
	TrapCodeTableOutOfBounds:           "out of bounds table access",
	TrapCodeIndirectCallOutOfBounds:    "uninitialized element",
	TrapCodeIndirectCallTypeMismatch:   "indirect call type mismatch",
	TrapCodeIntegerDivideByZero:        "integer divide by zero",
	TrapCodeIntegerOverflow:            "integer overflow",
	TrapCodeInvalidConversionToInteger: "invalid conversion to integer",
	TrapCodeCallStackExhausted:         "call stack exhausted",
	TrapCodeInterrupted:                "interrupted",
	TrapCodeOutOfFuel:                  "out of fuel",
	TrapCodeNullReference:              "null reference",
	TrapCodeHost:                       "host function error",
}

// String implements fmt.Stringer
func (c TrapCode) String() string {
	if int(c) < len(trapCodeNames) {
		return trapCodeNames[c]
	}
	return fmt.Sprintf("trap(%d)", uint32(c))
}

// Trap is the error returned when a call chain was unwound by a run-time fault.
//
// Memory, table and global writes that happened before the fault are kept.
type Trap struct {
	// Code classifies the fault.
	Code TrapCode
	// Diagnostic is an optional human-readable detail.
	Diagnostic string
	// Backtrace lists the wasm frames that were live, innermost first.
	Backtrace []string
	// Cause is the host error for TrapCodeHost, or nil.
	Cause error
}

// NewTrap returns a trap with the given code, usable by host functions to trap with a specific code.
func NewTrap(code TrapCode, diagnostic string) *Trap {
	return &Trap{Code: code, Diagnostic: diagnostic}
}

// Error implements error
func (t *Trap) Error() string {
	var b strings.Builder
	b.WriteString("wasm trap: ")
	b.WriteString(t.Code.String())
	if t.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(t.Diagnostic)
	}
	if len(t.Backtrace) > 0 {
		b.WriteString("\nwasm backtrace:")
		for i, f := range t.Backtrace {
			fmt.Fprintf(&b, "\n\t%d: %s", i, f)
		}
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to reach the host error of a TrapCodeHost trap.
func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is reports whether target is a *Trap with the same code, so callers can match with errors.Is(err, api.NewTrap(c, "")).
func (t *Trap) Is(target error) bool {
	o, ok := target.(*Trap)
	return ok && o.Code == t.Code
}
