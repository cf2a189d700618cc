package slotir

import (
	"errors"
	"fmt"
)

// The following are the causes of a TranslationError. The input is validated before translation, so each of them is
// an integrity failure of the translator or of the upstream validation, never a user error.
var (
	// ErrUnresolvedBranch is returned when a branch target is still unknown once its construct closes.
	ErrUnresolvedBranch = errors.New("unresolved branch target")
	// ErrFrameTooLarge is returned when a function needs more slots than Config.MaxFrameSlots.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrInvalidOperator is returned for unsupported operators, out of range indexes and operand stack underflow.
	ErrInvalidOperator = errors.New("invalid operator")
)

// TranslationError is returned by Compile.
type TranslationError struct {
	// FuncIndex is the index of the function in the function index namespace.
	FuncIndex uint32
	// Offset is the position of the operator in the body that failed, or -1 if the failure was found at the end.
	Offset int
	// Err is one of ErrUnresolvedBranch, ErrFrameTooLarge or ErrInvalidOperator, possibly wrapped.
	Err error
}

// Error implements error
func (e *TranslationError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("translating function[%d]: %v", e.FuncIndex, e.Err)
	}
	return fmt.Sprintf("translating function[%d] at operator %d: %v", e.FuncIndex, e.Offset, e.Err)
}

// Unwrap allows errors.Is on the cause.
func (e *TranslationError) Unwrap() error {
	return e.Err
}
