package internalwasm

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/wasm"
)

// evalConst evaluates a constant expression. Only the globals already in the instance and its functions may be
// referenced.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/valid/instructions.html#constant-expressions
func (m *ModuleInstance) evalConst(expr *wasm.ConstantExpression) (uint64, error) {
	if expr == nil {
		return 0, fmt.Errorf("%w: missing constant expression", ErrInternal)
	}
	switch expr.Opcode {
	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		return expr.Value, nil
	case wasm.OpcodeGlobalGet:
		if expr.Value >= uint64(len(m.Globals)) {
			return 0, fmt.Errorf("%w: global.get %d refers to a global not yet defined", ErrInternal, expr.Value)
		}
		return m.Globals[expr.Value].Val, nil
	case wasm.OpcodeRefNull:
		return 0, nil
	case wasm.OpcodeRefFunc:
		return m.funcRef(wasm.Index(expr.Value))
	}
	return 0, fmt.Errorf("%w: %s is not a constant operator", ErrInternal, wasm.InstructionName(expr.Opcode))
}

// funcRef returns the reference to the function at the index of the module's function index space.
func (m *ModuleInstance) funcRef(funcIdx wasm.Index) (uint64, error) {
	if int64(funcIdx) >= int64(len(m.Functions)) {
		return 0, fmt.Errorf("%w: unknown function %d", ErrInternal, funcIdx)
	}
	return uint64(m.Functions[funcIdx].Index) + 1, nil
}

// buildSegments resolves the references of element segments and keeps the bytes of data segments.
func (m *ModuleInstance) buildSegments(module *wasm.Module) error {
	m.ElementInstances = make([][]uint64, len(module.ElementSection))
	for i, elem := range module.ElementSection {
		refs := make([]uint64, len(elem.Init))
		for j, funcIdx := range elem.Init {
			if funcIdx == wasm.ElementInitNullReference {
				continue
			}
			if elem.Type != api.ValueTypeFuncref {
				return fmt.Errorf("%w: element[%d].init[%d] is a function in a %s segment",
					ErrInternal, i, j, api.ValueTypeName(elem.Type))
			}
			ref, err := m.funcRef(funcIdx)
			if err != nil {
				return fmt.Errorf("element[%d].init[%d]: %w", i, j, err)
			}
			refs[j] = ref
		}
		m.ElementInstances[i] = refs
	}

	m.DataInstances = make([][]byte, len(module.DataSection))
	for i, d := range module.DataSection {
		m.DataInstances[i] = d.Init
	}
	return nil
}

// validateElements checks every active element segment fits its table, returning the offsets.
func (m *ModuleInstance) validateElements(module *wasm.Module) ([]uint64, error) {
	offsets := make([]uint64, len(module.ElementSection))
	for i, elem := range module.ElementSection {
		if elem.Mode != wasm.SegmentModeActive {
			continue
		}
		if int(elem.TableIndex) >= len(m.Tables) {
			return nil, fmt.Errorf("%w: element[%d] refers to unknown table %d", ErrInternal, i, elem.TableIndex)
		}
		v, err := m.evalConst(elem.OffsetExpr)
		if err != nil {
			return nil, fmt.Errorf("element[%d]: %w", i, err)
		}
		offset := uint64(uint32(v))
		size := uint64(len(m.Tables[elem.TableIndex].References))
		if offset+uint64(len(elem.Init)) > size {
			return nil, fmt.Errorf("%w: element[%d] of %d references at offset %d, table size %d",
				ErrInitializationOutOfBounds, i, len(elem.Init), offset, size)
		}
		offsets[i] = offset
	}
	return offsets, nil
}

// validateData checks every active data segment fits its memory, returning the offsets.
func (m *ModuleInstance) validateData(module *wasm.Module) ([]uint64, error) {
	offsets := make([]uint64, len(module.DataSection))
	for i, d := range module.DataSection {
		if d.Passive {
			continue
		}
		if int(d.MemoryIndex) >= len(m.Memories) {
			return nil, fmt.Errorf("%w: data[%d] refers to unknown memory %d", ErrInternal, i, d.MemoryIndex)
		}
		mem := m.Memories[d.MemoryIndex]
		v, err := m.evalConst(d.OffsetExpression)
		if err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
		offset := v
		if !mem.Is64 {
			offset = uint64(uint32(v))
		}
		if !mem.hasSize(offset, uint64(len(d.Init))) {
			return nil, fmt.Errorf("%w: data[%d] of %d bytes at offset %d, memory size %d",
				ErrInitializationOutOfBounds, i, len(d.Init), offset, mem.Size())
		}
		offsets[i] = offset
	}
	return offsets, nil
}

// applyElements writes the active element segments in declaration order, then drops active and declarative ones.
func (m *ModuleInstance) applyElements(module *wasm.Module, offsets []uint64) {
	for i, elem := range module.ElementSection {
		switch elem.Mode {
		case wasm.SegmentModeActive:
			copy(m.Tables[elem.TableIndex].References[offsets[i]:], m.ElementInstances[i])
			m.ElementInstances[i] = nil
		case wasm.SegmentModeDeclarative:
			m.ElementInstances[i] = nil
		}
	}
}

// applyData writes the active data segments in declaration order, then drops them.
func (m *ModuleInstance) applyData(module *wasm.Module, offsets []uint64) {
	for i, d := range module.DataSection {
		if d.Passive {
			continue
		}
		copy(m.Memories[d.MemoryIndex].Buffer[offsets[i]:], d.Init)
		m.DataInstances[i] = nil
	}
}
