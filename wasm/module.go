// Package wasm is the decoded and validated form of a WebAssembly module consumed by the translator and the store.
//
// Decoding and validation of the binary format happen before this point: every Module given to the runtime is assumed
// to be well-typed, and every function body is a sequence of typed operators terminated by OpcodeEnd.
package wasm

import (
	"fmt"
	"math"

	"github.com/wasmslot/wasmslot/api"
)

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is
// because index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// For example, the function index namespace starts with any ExternTypeFunc in the Module.ImportSection followed by
// the Module.FunctionSection
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#indices
type Index = uint32

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#modules
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	TypeSection []*api.FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation.
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 3 is
	// defined in this module at FunctionSection[0].
	FunctionSection []Index

	// TableSection contains each table defined in this module.
	TableSection []*api.TableType

	// MemorySection contains each memory defined in this module.
	MemorySection []*api.MemoryType

	// GlobalSection contains each global defined in this module.
	GlobalSection []*Global

	// ExportSection contains each export defined in this module. Names are unique.
	ExportSection []*Export

	// StartSection is the index of a function to call before returning from instantiation, or nil.
	StartSection *Index

	// ElementSection contains table initializers.
	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []*Code

	// DataSection contains memory initializers.
	DataSection []*DataSegment

	// NameSection is set when the custom "name" section was present.
	NameSection *NameSection
}

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#binary-import
type Import struct {
	Type api.ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined TableType when Type equals ExternTypeTable
	DescTable *api.TableType
	// DescMem is the inlined MemoryType when Type equals ExternTypeMemory
	DescMem *api.MemoryType
	// DescGlobal is the inlined GlobalType when Type equals ExternTypeGlobal
	DescGlobal *api.GlobalType
}

// Global is a global defined in a module.
type Global struct {
	Type *api.GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single operator initializer evaluated at instantiation.
//
// Opcode is one of OpcodeI32Const, OpcodeI64Const, OpcodeF32Const, OpcodeF64Const, OpcodeGlobalGet,
// OpcodeRefNull or OpcodeRefFunc.
type ConstantExpression struct {
	Opcode Opcode
	// Value is the bit pattern of a constant, or the index for OpcodeGlobalGet and OpcodeRefFunc.
	Value uint64
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#binary-export
type Export struct {
	Type api.ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Type
	// Ex. If ExternTypeFunc, this is a position in the function index namespace.
	Index Index
}

// SegmentMode is how an element or data segment is used.
type SegmentMode byte

const (
	// SegmentModeActive segments are copied into their table or memory at instantiation, then dropped.
	SegmentModeActive SegmentMode = iota
	// SegmentModePassive segments are only used by table.init or memory.init.
	SegmentModePassive
	// SegmentModeDeclarative element segments only forward-declare references for ref.func and are dropped.
	SegmentModeDeclarative
)

// ElementInitNullReference is an ElementSegment.Init entry for a null reference.
const ElementInitNullReference Index = math.MaxUint32

// ElementSegment are initialization instructions for a table.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#element-segments
type ElementSegment struct {
	Mode SegmentMode
	// TableIndex is the table written when Mode is SegmentModeActive.
	TableIndex Index
	// OffsetExpr is the table offset when Mode is SegmentModeActive.
	OffsetExpr *ConstantExpression
	// Type is api.ValueTypeFuncref or api.ValueTypeExternref.
	Type api.ValueType
	// Init holds function indexes, or ElementInitNullReference.
	Init []Index
}

// DataSegment are initialization instructions for a memory.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/syntax/modules.html#data-segments
type DataSegment struct {
	// Passive is true when the segment is only used by memory.init.
	Passive bool
	// MemoryIndex is the memory written when Passive is false.
	MemoryIndex Index
	// OffsetExpression is the memory offset when Passive is false.
	OffsetExpression *ConstantExpression
	Init             []byte
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/binary/modules.html#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order. These follow the parameters.
	LocalTypes []api.ValueType

	// Body is the validated operator sequence, terminated by OpcodeEnd.
	Body []Operator
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/appendix/custom.html#name-section
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string
	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	FunctionNames map[Index]string
}

// ImportCounts returns the count of each import type.
func (m *Module) ImportCounts() (functions, tables, memories, globals Index) {
	for _, i := range m.ImportSection {
		switch i.Type {
		case api.ExternTypeFunc:
			functions++
		case api.ExternTypeTable:
			tables++
		case api.ExternTypeMemory:
			memories++
		case api.ExternTypeGlobal:
			globals++
		}
	}
	return
}

// FunctionCount returns the size of the function index namespace.
func (m *Module) FunctionCount() Index {
	f, _, _, _ := m.ImportCounts()
	return f + Index(len(m.FunctionSection))
}

// TypeOfFunction returns the type of the function at the index in the function index namespace, or nil if out of
// range.
func (m *Module) TypeOfFunction(funcIdx Index) *api.FunctionType {
	typeIdx, ok := m.typeIndexOfFunction(funcIdx)
	if !ok || typeIdx >= Index(len(m.TypeSection)) {
		return nil
	}
	return m.TypeSection[typeIdx]
}

func (m *Module) typeIndexOfFunction(funcIdx Index) (Index, bool) {
	var imported Index
	for _, i := range m.ImportSection {
		if i.Type != api.ExternTypeFunc {
			continue
		}
		if imported == funcIdx {
			return i.DescFunc, true
		}
		imported++
	}
	local := funcIdx - imported
	if local >= Index(len(m.FunctionSection)) {
		return 0, false
	}
	return m.FunctionSection[local], true
}

// GlobalTypes returns the type of every global in the global index namespace: imports first.
func (m *Module) GlobalTypes() []*api.GlobalType {
	var ret []*api.GlobalType
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeGlobal {
			ret = append(ret, i.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		ret = append(ret, g.Type)
	}
	return ret
}

// MemoryTypes returns the type of every memory in the memory index namespace: imports first.
func (m *Module) MemoryTypes() []*api.MemoryType {
	var ret []*api.MemoryType
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeMemory {
			ret = append(ret, i.DescMem)
		}
	}
	return append(ret, m.MemorySection...)
}

// TableTypes returns the type of every table in the table index namespace: imports first.
func (m *Module) TableTypes() []*api.TableType {
	var ret []*api.TableType
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeTable {
			ret = append(ret, i.DescTable)
		}
	}
	return append(ret, m.TableSection...)
}

// FunctionName returns the name of the function from the NameSection, or a placeholder including the index.
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection != nil {
		if n, ok := m.NameSection.FunctionNames[funcIdx]; ok {
			return n
		}
	}
	return fmt.Sprintf("$%d", funcIdx)
}

// ModuleName returns the name of the module from the NameSection, or empty.
func (m *Module) ModuleName() string {
	if m.NameSection != nil {
		return m.NameSection.ModuleName
	}
	return ""
}
