package internalwasm

import (
	"errors"
	"fmt"
)

// The following errors are returned by Store.Instantiate and the Store entity constructors. Match them with errors.Is.
var (
	// ErrImportMismatch means an import handle has the wrong kind or an incompatible type or limits.
	ErrImportMismatch = errors.New("import mismatch")
	// ErrInitializationOutOfBounds means an active element or data segment does not fit its table or memory.
	ErrInitializationOutOfBounds = errors.New("initialization out of bounds")
	// ErrInternal means the module breaks an assumption the validator should have enforced.
	ErrInternal = errors.New("internal error")
	// ErrForeignHandle means a handle was created by another Store.
	ErrForeignHandle = errors.New("handle belongs to another store")
	// ErrResourceLimit means a memory or table would exceed the limits of the Store.
	ErrResourceLimit = errors.New("resource limit exceeded")
)

// ImportMismatchError describes which import could not be satisfied.
type ImportMismatchError struct {
	// Index is the position in the import section.
	Index  uint32
	Module string
	Name   string
	Reason string
}

// Error implements error.
func (e *ImportMismatchError) Error() string {
	return fmt.Sprintf("%s: import[%d] %s.%s: %s", ErrImportMismatch, e.Index, e.Module, e.Name, e.Reason)
}

// Unwrap allows errors.Is(err, ErrImportMismatch).
func (e *ImportMismatchError) Unwrap() error {
	return ErrImportMismatch
}
