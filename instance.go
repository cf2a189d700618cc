package wasmslot

import (
	"github.com/wasmslot/wasmslot/api"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
)

// Instance is a module instantiated in a Store. Its exports are views on entities of the Store.
type Instance struct {
	s  *Store
	mi *internalwasm.ModuleInstance
}

// Name returns the name the instance was instantiated with.
func (i *Instance) Name() string {
	return i.mi.Name
}

// Export returns the handle of the export, or false if there is none of that name.
func (i *Instance) Export(name string) (api.Extern, bool) {
	h, ok := i.mi.Exports[name]
	return h, ok
}

// ExportedFunction returns a function exported from this instance or nil if it wasn't.
func (i *Instance) ExportedFunction(name string) api.Function {
	h, err := i.mi.Export(name, api.ExternTypeFunc)
	if err != nil {
		return nil
	}
	f, err := i.s.Function(h)
	if err != nil {
		return nil
	}
	return f
}

// ExportedMemory returns a memory exported from this instance or nil if it wasn't.
func (i *Instance) ExportedMemory(name string) api.Memory {
	h, err := i.mi.Export(name, api.ExternTypeMemory)
	if err != nil {
		return nil
	}
	m, err := i.s.Memory(h)
	if err != nil {
		return nil
	}
	return m
}

// ExportedTable returns a table exported from this instance or nil if it wasn't.
func (i *Instance) ExportedTable(name string) api.Table {
	h, err := i.mi.Export(name, api.ExternTypeTable)
	if err != nil {
		return nil
	}
	t, err := i.s.Table(h)
	if err != nil {
		return nil
	}
	return t
}

// ExportedGlobal returns a global exported from this instance or nil if it wasn't.
func (i *Instance) ExportedGlobal(name string) api.Global {
	h, err := i.mi.Export(name, api.ExternTypeGlobal)
	if err != nil {
		return nil
	}
	g, err := i.s.Global(h)
	if err != nil {
		return nil
	}
	return g
}
