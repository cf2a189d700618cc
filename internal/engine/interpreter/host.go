package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasmslot/wasmslot/api"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
)

// callHost calls a host function whose parameters are in the slots starting at base, leaving its results there.
func (ce *callEngine) callHost(ctx context.Context, f *internalwasm.FunctionInstance, base int, caller *internalwasm.ModuleInstance) {
	ce.checkDepth()
	width := max(len(f.Type.Params), len(f.Type.Results))
	end := base + width
	ce.ensureStack(end)
	ce.frames = append(ce.frames, callFrame{f: f, base: base, end: end})

	// The host function gets a copy: re-entering the engine may reallocate the value stack.
	window := make([]uint64, width)
	copy(window, ce.stack[base:end])
	if err := f.Host(ctx, &callContext{ce: ce, mi: caller}, window); err != nil {
		var trap *api.Trap
		if !errors.As(err, &trap) {
			trap = &api.Trap{Code: api.TrapCodeHost, Diagnostic: err.Error(), Cause: err}
		}
		panic(trap)
	}
	copy(ce.stack[base:end], window)
	ce.frames = ce.frames[:len(ce.frames)-1]
}

// callContext is the api.Caller of a host function.
type callContext struct {
	ce *callEngine
	// mi is the calling instance, nil when the host function is invoked directly or by another host function.
	mi *internalwasm.ModuleInstance
}

// compile-time check to ensure callContext is an api.Caller
var _ api.Caller = &callContext{}

// ModuleName implements api.Caller ModuleName
func (c *callContext) ModuleName() string {
	if c.mi == nil {
		return ""
	}
	return c.mi.Name
}

// Memory implements api.Caller Memory
func (c *callContext) Memory(index uint32) api.Memory {
	if c.mi == nil || int(index) >= len(c.mi.Memories) {
		// A nil *MemoryInstance would be a non-nil api.Memory.
		return nil
	}
	return c.mi.Memories[index]
}

// ExportedFunction implements api.Caller ExportedFunction
func (c *callContext) ExportedFunction(name string) api.Function {
	if c.mi == nil {
		return nil
	}
	h, ok := c.mi.Exports[name]
	if !ok || h.Type != api.ExternTypeFunc {
		return nil
	}
	f, err := c.ce.s.Function(h)
	if err != nil {
		return nil
	}
	return c.ce.s.FunctionAPI(f)
}

// Call implements api.Caller Call
func (c *callContext) Call(ctx context.Context, fn api.Function, params ...uint64) ([]uint64, error) {
	f, err := c.ce.s.Function(fn.Extern())
	if err != nil {
		return nil, err
	}
	if expected := len(f.Type.Params); expected != len(params) {
		return nil, fmt.Errorf("expected %d params, but passed %d", expected, len(params))
	}
	return c.ce.call(ctx, f, params)
}
