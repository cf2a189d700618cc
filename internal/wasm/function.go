package internalwasm

import (
	"context"
	"fmt"
	"math"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/slotir"
)

// FunctionTypeID is a uniquely assigned integer for a function type. Identical types share an ID within a Store,
// which makes the signature check of an indirect call a comparison.
type FunctionTypeID uint32

// HostModuleIndex is FunctionInstance.Module of a host function, which belongs to no instance.
const HostModuleIndex = math.MaxUint32

// FunctionInstance represents a function instance in a Store.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#function-instances
type FunctionInstance struct {
	Type   *api.FunctionType
	TypeID FunctionTypeID
	// Module is the index of the owning instance in Store.Instances, or HostModuleIndex.
	Module uint32
	// Index is the position of this function in Store.Functions.
	Index uint32
	// Name is used in backtraces. Ex. "math.add"
	Name string

	// Code is the compiled body of a function defined in a module, nil for a host function.
	Code *slotir.CompiledFunction
	// Host is the implementation of a host function, nil for a function defined in a module.
	Host api.GoModuleFunction
}

// function adapts a FunctionInstance to api.Function.
type function struct {
	s *Store
	f *FunctionInstance
}

// compile-time check to ensure function is an api.Function
var _ api.Function = &function{}

// FunctionAPI returns the function as an api.Function.
func (s *Store) FunctionAPI(f *FunctionInstance) api.Function {
	return &function{s: s, f: f}
}

// Extern implements api.Function Extern
func (f *function) Extern() api.Extern {
	return api.Extern{Type: api.ExternTypeFunc, Store: f.s.ID, Index: f.f.Index}
}

// Type implements api.Function Type
func (f *function) Type() *api.FunctionType {
	return f.f.Type
}

// Call implements api.Function Call
func (f *function) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if expected := len(f.f.Type.Params); expected != len(params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", expected, len(params))
	}
	return f.s.Engine.Call(ctx, f.s, f.f, params)
}
