package internalwasm

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/wasm"
)

// ModuleInstance represents an instantiated module. It refers to the entities it imported or defined, which live in
// the arenas of the Store, in the index spaces of the module.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#module-instances
type ModuleInstance struct {
	Name string
	// Index is the position of this instance in Store.Instances.
	Index uint32

	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
	// TypeIDs is index-correlated with the type section of the module.
	TypeIDs []FunctionTypeID

	Exports map[string]api.Extern

	// DataInstances hold the bytes of each data segment, nil once dropped.
	DataInstances [][]byte
	// ElementInstances hold the references of each element segment, nil once dropped.
	ElementInstances [][]uint64
}

// Export returns an export of the given name and type or errs if not exported or the wrong type.
func (m *ModuleInstance) Export(name string, et api.ExternType) (api.Extern, error) {
	exp, ok := m.Exports[name]
	if !ok {
		return api.Extern{}, fmt.Errorf("%q is not exported in module %q", name, m.Name)
	}
	if exp.Type != et {
		return api.Extern{}, fmt.Errorf("export %q in module %q is a %s, not a %s", name, m.Name,
			api.ExternTypeName(exp.Type), api.ExternTypeName(et))
	}
	return exp, nil
}

// ResolveImports resolves the imports of the module against the exports of the instances, by module name then export
// name, and returns the handles in import order.
func ResolveImports(imports []*wasm.Import, instances []*ModuleInstance) ([]api.Extern, error) {
	byName := make(map[string]*ModuleInstance, len(instances))
	for _, mi := range instances {
		byName[mi.Name] = mi
	}
	ret := make([]api.Extern, 0, len(imports))
	for i, imp := range imports {
		mi, ok := byName[imp.Module]
		if !ok {
			return nil, &ImportMismatchError{Index: uint32(i), Module: imp.Module, Name: imp.Name,
				Reason: "module not instantiated"}
		}
		exp, err := mi.Export(imp.Name, imp.Type)
		if err != nil {
			return nil, &ImportMismatchError{Index: uint32(i), Module: imp.Module, Name: imp.Name, Reason: err.Error()}
		}
		ret = append(ret, exp)
	}
	return ret, nil
}
