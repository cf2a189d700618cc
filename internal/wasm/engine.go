package internalwasm

import "context"

// Engine executes the functions of a Store. This is a top-level type implemented by the interpreter.
type Engine interface {
	// Call invokes the function with the parameters and returns its results.
	//
	// The error is a *api.Trap when the function trapped. Input parameters must match the function type, which is
	// checked by the caller.
	Call(ctx context.Context, s *Store, f *FunctionInstance, params []uint64) ([]uint64, error)
}
