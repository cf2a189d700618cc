package wasm

import (
	"math"

	"github.com/wasmslot/wasmslot/api"
)

// MemArg is the immediate of a load or store.
type MemArg struct {
	// Align is the log2 of the alignment hint. It never affects semantics.
	Align uint32
	// Offset is the static offset added to the dynamic address.
	Offset uint64
	// Memory is the index of the accessed memory.
	Memory Index
}

// Operator is one decoded operator of a function body with its immediates.
//
// Immediate usage by Opcode:
//   - OpcodeBlock, OpcodeLoop, OpcodeIf: BlockType.
//   - OpcodeBr, OpcodeBrIf: Index is the label depth.
//   - OpcodeBrTable: Targets are the label depths, the last one being the default.
//   - OpcodeCall, OpcodeRefFunc: Index is the function index.
//   - OpcodeCallIndirect: Index is the type index, Index2 the table index.
//   - OpcodeLocal*, OpcodeGlobal*: Index.
//   - loads and stores: MemArg.
//   - OpcodeMemorySize, OpcodeMemoryGrow, OpcodeMemoryFill: Index is the memory.
//   - OpcodeMemoryCopy: Index is the destination memory, Index2 the source memory.
//   - OpcodeMemoryInit: Index is the data segment, Index2 the memory. OpcodeDataDrop: Index is the data segment.
//   - OpcodeTableGet, OpcodeTableSet, OpcodeTableSize, OpcodeTableGrow, OpcodeTableFill: Index is the table.
//   - OpcodeTableCopy: Index is the destination table, Index2 the source table.
//   - OpcodeTableInit: Index is the element segment, Index2 the table. OpcodeElemDrop: Index is the element segment.
//   - constants: Value holds the bit pattern.
//   - OpcodeRefNull and OpcodeTypedSelect: ValType.
type Operator struct {
	Opcode    Opcode
	BlockType *api.FunctionType
	Index     Index
	Index2    Index
	Targets   []Index
	MemArg    MemArg
	Value     uint64
	ValType   api.ValueType
}

// The following are shorthands for building operator sequences, mostly used by embedders producing bodies from their
// own decoder and by tests.

// Op returns an operator without immediates.
func Op(oc Opcode) Operator {
	return Operator{Opcode: oc}
}

// OpIndex returns an operator with a single index immediate.
func OpIndex(oc Opcode, idx Index) Operator {
	return Operator{Opcode: oc, Index: idx}
}

// OpBlock returns a block, loop or if with the given block type. A nil type is an empty block type.
func OpBlock(oc Opcode, bt *api.FunctionType) Operator {
	return Operator{Opcode: oc, BlockType: bt}
}

// OpBrTable returns a br_table whose last target is the default.
func OpBrTable(targets ...Index) Operator {
	return Operator{Opcode: OpcodeBrTable, Targets: targets}
}

// OpMem returns a load or store of memory zero with the given offset.
func OpMem(oc Opcode, offset uint64) Operator {
	return Operator{Opcode: oc, MemArg: MemArg{Offset: offset}}
}

// I32Const returns an i32.const operator.
func I32Const(v int32) Operator {
	return Operator{Opcode: OpcodeI32Const, Value: uint64(uint32(v))}
}

// I64Const returns an i64.const operator.
func I64Const(v int64) Operator {
	return Operator{Opcode: OpcodeI64Const, Value: uint64(v)}
}

// F32Const returns an f32.const operator.
func F32Const(v float32) Operator {
	return Operator{Opcode: OpcodeF32Const, Value: uint64(math.Float32bits(v))}
}

// F64Const returns an f64.const operator.
func F64Const(v float64) Operator {
	return Operator{Opcode: OpcodeF64Const, Value: math.Float64bits(v)}
}

// String implements fmt.Stringer
func (o Operator) String() string {
	return InstructionName(o.Opcode)
}
