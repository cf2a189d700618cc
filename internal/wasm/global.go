package internalwasm

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
)

// GlobalInstance represents a global instance in a store.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#global-instances
type GlobalInstance struct {
	Type *api.GlobalType
	// Val holds a 64-bit representation of the actual value.
	Val uint64

	extern api.Extern
}

// API returns the global as an api.Global, which is an api.MutableGlobal when the global is mutable.
func (g *GlobalInstance) API() api.Global {
	if g.Type.Mutable {
		return &mutableGlobal{constantGlobal{g}}
	}
	return constantGlobal{g}
}

type constantGlobal struct {
	g *GlobalInstance
}

// compile-time check to ensure constantGlobal is a api.Global
var _ api.Global = constantGlobal{}

// Extern implements api.Global Extern
func (g constantGlobal) Extern() api.Extern {
	return g.g.extern
}

// Type implements api.Global Type
func (g constantGlobal) Type() api.ValueType {
	return g.g.Type.ValType
}

// Get implements api.Global Get
func (g constantGlobal) Get() uint64 {
	return g.g.Val
}

// String implements fmt.Stringer
func (g constantGlobal) String() string {
	switch g.Type() {
	case api.ValueTypeI32:
		return fmt.Sprintf("global(%d)", api.DecodeI32(g.Get()))
	case api.ValueTypeI64:
		return fmt.Sprintf("global(%d)", int64(g.Get()))
	case api.ValueTypeF32:
		return fmt.Sprintf("global(%f)", api.DecodeF32(g.Get()))
	case api.ValueTypeF64:
		return fmt.Sprintf("global(%f)", api.DecodeF64(g.Get()))
	default:
		return fmt.Sprintf("global(%s %#x)", api.ValueTypeName(g.Type()), g.Get())
	}
}

type mutableGlobal struct {
	constantGlobal
}

// compile-time check to ensure mutableGlobal is a api.MutableGlobal
var _ api.MutableGlobal = &mutableGlobal{}

// Set implements api.MutableGlobal Set
func (g *mutableGlobal) Set(v uint64) {
	g.g.Val = v
}
