package internalwasm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/logging"
	"github.com/wasmslot/wasmslot/internal/slotir"
	"github.com/wasmslot/wasmslot/wasm"
)

// Instantiate creates an instance of the module in the Store.
//
// code is index-correlated with the code section of the module. imports are handles in import section order. On
// error, every entity added to the Store by this call is removed. Data segments written to imported memories before
// a trap in the start function are kept.
//
// When the start function fails and the module imports a function, table or global, references to its entities may
// already be held outside of it: in an imported table or global, or by a host function. Then its entities stay in
// the Store, unreachable except through those references, and no handle to the instance is returned.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/modules.html#instantiation
func (s *Store) Instantiate(
	ctx context.Context,
	m *wasm.Module,
	code []*slotir.CompiledFunction,
	name string,
	imports []api.Extern,
) (mi *ModuleInstance, err error) {
	mark := s.mark()
	shared := false
	defer func() {
		if err != nil && !shared {
			s.rollback(mark)
		}
	}()

	mi = &ModuleInstance{Name: name, Index: uint32(len(s.Instances)), Exports: map[string]api.Extern{}}
	s.Instances = append(s.Instances, mi)

	mi.TypeIDs = make([]FunctionTypeID, len(m.TypeSection))
	for i, t := range m.TypeSection {
		mi.TypeIDs[i] = s.GetFunctionTypeID(t)
	}

	if err = s.resolveImports(m, mi, imports); err != nil {
		return nil, err
	}
	if err = s.buildFunctions(m, mi, code); err != nil {
		return nil, err
	}
	if err = s.buildTables(m, mi); err != nil {
		return nil, err
	}
	if err = s.buildMemories(m, mi); err != nil {
		return nil, err
	}
	if err = s.buildGlobals(m, mi); err != nil {
		return nil, err
	}
	if err = s.buildExports(m, mi); err != nil {
		return nil, err
	}
	if err = mi.buildSegments(m); err != nil {
		return nil, err
	}

	// Every segment is checked before any is written, so a failure leaves imported tables and memories untouched.
	elemOffsets, err := mi.validateElements(m)
	if err != nil {
		return nil, err
	}
	dataOffsets, err := mi.validateData(m)
	if err != nil {
		return nil, err
	}
	mi.applyElements(m, elemOffsets)
	mi.applyData(m, dataOffsets)

	if m.StartSection != nil {
		start := *m.StartSection
		if int(start) >= len(mi.Functions) {
			return nil, fmt.Errorf("%w: unknown start function %d", ErrInternal, start)
		}
		f := mi.Functions[start]
		shared = sharesReferences(m)
		s.Logger.Debug("running start function", logging.Module(name), logging.Function(f.Index, f.Name))
		if _, err = s.Engine.Call(ctx, s, f, nil); err != nil {
			return nil, fmt.Errorf("start function %s: %w", f.Name, err)
		}
	}

	s.Logger.Debug("instantiated", logging.Module(name),
		zap.Int("functions", len(mi.Functions)),
		zap.Int("memories", len(mi.Memories)),
		zap.Int("tables", len(mi.Tables)),
		zap.Int("globals", len(mi.Globals)))
	return mi, nil
}

// sharesReferences is true when code of the module can store references outside of the instance. Imported memories
// only hold bytes.
func sharesReferences(m *wasm.Module) bool {
	for _, imp := range m.ImportSection {
		if imp.Type != api.ExternTypeMemory {
			return true
		}
	}
	return false
}

func (s *Store) resolveImports(m *wasm.Module, mi *ModuleInstance, imports []api.Extern) error {
	if len(imports) != len(m.ImportSection) {
		return fmt.Errorf("%w: %d imports required, but %d given", ErrImportMismatch, len(m.ImportSection), len(imports))
	}
	for i, imp := range m.ImportSection {
		if err := s.resolveImport(m, mi, imp, imports[i]); err != nil {
			if errors.Is(err, ErrForeignHandle) || errors.Is(err, ErrInternal) {
				return fmt.Errorf("import[%d] %s.%s: %w", i, imp.Module, imp.Name, err)
			}
			return &ImportMismatchError{Index: uint32(i), Module: imp.Module, Name: imp.Name, Reason: err.Error()}
		}
	}
	return nil
}

func (s *Store) resolveImport(m *wasm.Module, mi *ModuleInstance, imp *wasm.Import, h api.Extern) error {
	if h.Store == s.ID && h.Type != imp.Type {
		return fmt.Errorf("expected a %s, but got a %s", api.ExternTypeName(imp.Type), api.ExternTypeName(h.Type))
	}
	switch imp.Type {
	case api.ExternTypeFunc:
		f, err := s.Function(h)
		if err != nil {
			return err
		}
		if imp.DescFunc >= wasm.Index(len(m.TypeSection)) {
			return fmt.Errorf("%w: unknown type %d", ErrInternal, imp.DescFunc)
		}
		if f.TypeID != mi.TypeIDs[imp.DescFunc] {
			return fmt.Errorf("signature mismatch: %s != %s", m.TypeSection[imp.DescFunc], f.Type)
		}
		mi.Functions = append(mi.Functions, f)
	case api.ExternTypeTable:
		t, err := s.Table(h)
		if err != nil {
			return err
		}
		if t.RefType != imp.DescTable.ElemType {
			return fmt.Errorf("element type mismatch: %s != %s",
				api.ValueTypeName(imp.DescTable.ElemType), api.ValueTypeName(t.RefType))
		}
		if err = checkLimits(imp.DescTable.Limits, uint64(len(t.References)), t.Max); err != nil {
			return err
		}
		mi.Tables = append(mi.Tables, t)
	case api.ExternTypeMemory:
		mem, err := s.Memory(h)
		if err != nil {
			return err
		}
		if mem.Is64 != imp.DescMem.Is64 {
			return errors.New("address type mismatch")
		}
		if err = checkLimits(imp.DescMem.Limits, mem.Pages(), mem.Max); err != nil {
			return err
		}
		mi.Memories = append(mi.Memories, mem)
	case api.ExternTypeGlobal:
		g, err := s.Global(h)
		if err != nil {
			return err
		}
		if g.Type.ValType != imp.DescGlobal.ValType || g.Type.Mutable != imp.DescGlobal.Mutable {
			return fmt.Errorf("global type mismatch: %s != %s", globalTypeString(imp.DescGlobal), globalTypeString(g.Type))
		}
		mi.Globals = append(mi.Globals, g)
	default:
		return fmt.Errorf("%w: unknown import type %#x", ErrInternal, imp.Type)
	}
	return nil
}

// checkLimits errs unless an entity of the size and maximum satisfies the imported limits.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/valid/types.html#import-subtyping
func checkLimits(imported api.Limits, size uint64, max *uint64) error {
	if size < imported.Min {
		return fmt.Errorf("minimum size mismatch: %d > %d", imported.Min, size)
	}
	if imported.Max != nil {
		if max == nil {
			return fmt.Errorf("maximum size mismatch: %d, but actual has no max", *imported.Max)
		}
		if *max > *imported.Max {
			return fmt.Errorf("maximum size mismatch: %d < %d", *imported.Max, *max)
		}
	}
	return nil
}

func globalTypeString(gt *api.GlobalType) string {
	if gt.Mutable {
		return "mut " + api.ValueTypeName(gt.ValType)
	}
	return api.ValueTypeName(gt.ValType)
}

func (s *Store) buildFunctions(m *wasm.Module, mi *ModuleInstance, code []*slotir.CompiledFunction) error {
	if len(code) != len(m.FunctionSection) {
		return fmt.Errorf("%w: %d functions, but %d compiled", ErrInternal, len(m.FunctionSection), len(code))
	}
	imported := wasm.Index(len(mi.Functions))
	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= wasm.Index(len(m.TypeSection)) {
			return fmt.Errorf("%w: unknown type %d", ErrInternal, typeIdx)
		}
		funcIdx := imported + wasm.Index(i)
		f := &FunctionInstance{
			Type:   m.TypeSection[typeIdx],
			Module: mi.Index,
			Name:   fmt.Sprintf("%s.%s", mi.Name, m.FunctionName(funcIdx)),
			Code:   code[i],
		}
		s.addFunction(f)
		mi.Functions = append(mi.Functions, f)
	}
	return nil
}

func (s *Store) buildTables(m *wasm.Module, mi *ModuleInstance) error {
	for _, tt := range m.TableSection {
		t, err := newTableInstance(tt, 0)
		if err != nil {
			return err
		}
		s.addTable(t)
		mi.Tables = append(mi.Tables, t)
	}
	return nil
}

func (s *Store) buildMemories(m *wasm.Module, mi *ModuleInstance) error {
	for _, mt := range m.MemorySection {
		mem, err := newMemoryInstance(mt, s.memoryMaxPages)
		if err != nil {
			return err
		}
		s.addMemory(mem)
		mi.Memories = append(mi.Memories, mem)
	}
	return nil
}

func (s *Store) buildGlobals(m *wasm.Module, mi *ModuleInstance) error {
	for i, gs := range m.GlobalSection {
		v, err := mi.evalConst(gs.Init)
		if err != nil {
			return fmt.Errorf("global[%d]: %w", i, err)
		}
		g := &GlobalInstance{Type: gs.Type, Val: v}
		s.addGlobal(g)
		mi.Globals = append(mi.Globals, g)
	}
	return nil
}

func (s *Store) buildExports(m *wasm.Module, mi *ModuleInstance) error {
	for _, exp := range m.ExportSection {
		var h api.Extern
		var ok bool
		switch exp.Type {
		case api.ExternTypeFunc:
			if ok = int(exp.Index) < len(mi.Functions); ok {
				h = api.Extern{Type: api.ExternTypeFunc, Store: s.ID, Index: mi.Functions[exp.Index].Index}
			}
		case api.ExternTypeTable:
			if ok = int(exp.Index) < len(mi.Tables); ok {
				h = mi.Tables[exp.Index].extern
			}
		case api.ExternTypeMemory:
			if ok = int(exp.Index) < len(mi.Memories); ok {
				h = mi.Memories[exp.Index].extern
			}
		case api.ExternTypeGlobal:
			if ok = int(exp.Index) < len(mi.Globals); ok {
				h = mi.Globals[exp.Index].extern
			}
		}
		if !ok {
			return fmt.Errorf("%w: export %q refers to unknown %s %d", ErrInternal, exp.Name, api.ExternTypeName(exp.Type), exp.Index)
		}
		if _, dup := mi.Exports[exp.Name]; dup {
			return fmt.Errorf("%w: %q is already exported in module %q", ErrInternal, exp.Name, mi.Name)
		}
		mi.Exports[exp.Name] = h
	}
	return nil
}
