package slotir

import (
	"fmt"
	"math"

	"github.com/wasmslot/wasmslot/api"
)

// Slot is a frame-relative index into the value stack. Parameters come first, then declared locals, then the
// operand stack: the operand at height h lives in slot NumLocals+h.
type Slot = uint32

// Instruction is the fixed-size unit of a CompiledFunction. The meaning of each field depends on Kind:
// R is usually the result slot, A and B the operand slots, U1 and U2 small immediates such as indexes and Imm a
// 64-bit immediate such as a constant, a static memory offset or an absolute branch target.
type Instruction struct {
	Kind Kind
	R    Slot
	A    Slot
	B    Slot
	U1   uint32
	U2   uint32
	Imm  uint64
}

// unresolvedTarget is the branch target of an Instruction whose label is not bound yet.
const unresolvedTarget = math.MaxUint64

// CompiledFunction is the translated form of one function body. It is immutable once returned by Compile.
type CompiledFunction struct {
	// Body is the flat instruction sequence. Every branch target is an index into Body.
	Body []Instruction
	// Type is the signature of the function.
	Type *api.FunctionType
	// NumParams is the count of parameters, which occupy slots [0, NumParams).
	NumParams uint32
	// NumLocals is the count of parameters and declared locals, which occupy slots [0, NumLocals).
	NumLocals uint32
	// NumResults is the count of results, written to slots [0, NumResults) on return.
	NumResults uint32
	// FrameSize is the count of slots the function uses, including its operand stack.
	FrameSize uint32
	// LocalTypes are the types of the declared locals, which must be zeroed on entry.
	LocalTypes []api.ValueType
}

// Kind is the closed set of operations a CompiledFunction is made of.
//
// Integer binary operations come in three shapes: Kind (R = A op B), KindImm (R = A op Imm) and, for
// non-commutative operations, KindImmRev (R = Imm op A). Integer comparisons come in Kind and KindImm shapes only, as
// a constant on the left is flipped to the right. Float operations always read slots.
//
// Loads write R from the address in A plus the static offset Imm in memory U1.
// Stores write B (or U2 for StoreImm kinds) to the address in A plus the static offset Imm in memory U1.
type Kind uint16

const (
	// KindUnreachable traps with Unreachable.
	KindUnreachable Kind = iota
	// KindTrap traps with the api.TrapCode in U1. Emitted when a constant operation is known to trap.
	KindTrap
	// KindBranch jumps to Imm.
	KindBranch
	// KindBranchEqz jumps to Imm when the i32 in A is zero.
	KindBranchEqz
	// KindBranchNez jumps to Imm when the i32 in A is not zero.
	KindBranchNez
	// KindBranchTable is followed by U1+1 Branch entries. It jumps to the entry at min(uint32(A), U1).
	KindBranchTable
	// KindReturnNone returns without results.
	KindReturnNone
	// KindReturnSlot returns the single result in A.
	KindReturnSlot
	// KindReturnImm returns the single result Imm.
	KindReturnImm
	// KindReturnSpan returns the U1 results starting at A.
	KindReturnSpan
	// KindCall calls function U1 with arguments starting at R. Results are written starting at R.
	KindCall
	// KindCallIndirect calls the function at the index in A of table U1, checked against type U2. Arguments and results start at R.
	KindCallIndirect
	// KindCopy copies A to R.
	KindCopy
	// KindCopyImm writes Imm to R.
	KindCopyImm
	// KindSelect writes A to R when the i32 in U1 is not zero, B otherwise.
	KindSelect
	// KindGlobalGet reads global U1 into R.
	KindGlobalGet
	// KindGlobalSet writes A to global U1.
	KindGlobalSet
	// KindGlobalSetImm writes Imm to global U1.
	KindGlobalSetImm
	KindI32Load
	KindI64Load
	KindF32Load
	KindF64Load
	KindI32Load8S
	KindI32Load8U
	KindI32Load16S
	KindI32Load16U
	KindI64Load8S
	KindI64Load8U
	KindI64Load16S
	KindI64Load16U
	KindI64Load32S
	KindI64Load32U
	KindI32Store
	KindI64Store
	KindF32Store
	KindF64Store
	KindI32Store8
	KindI32Store16
	KindI64Store8
	KindI64Store16
	KindI64Store32
	KindI32StoreImm
	KindI64StoreImm
	KindI32Store8Imm
	KindI32Store16Imm
	KindI64Store8Imm
	KindI64Store16Imm
	KindI64Store32Imm
	// KindMemorySize writes the page count of memory U1 to R.
	KindMemorySize
	// KindMemoryGrow grows memory U1 by A pages, writing the previous page count or -1 to R.
	KindMemoryGrow
	// KindMemoryFill fills B bytes of memory U1 at R with the byte in A.
	KindMemoryFill
	// KindMemoryCopy copies B bytes from A in memory U2 to R in memory U1.
	KindMemoryCopy
	// KindMemoryInit copies B bytes from A in data segment U1 to R in memory U2.
	KindMemoryInit
	// KindDataDrop drops data segment U1.
	KindDataDrop
	// KindTableGet reads the element at A of table U1 into R.
	KindTableGet
	// KindTableSet writes B to the element at A of table U1.
	KindTableSet
	// KindTableSize writes the size of table U1 to R.
	KindTableSize
	// KindTableGrow grows table U1 by B elements set to A, writing the previous size or -1 to R.
	KindTableGrow
	// KindTableFill sets B elements of table U1 from R to A.
	KindTableFill
	// KindTableCopy copies B elements from A in table U2 to R in table U1.
	KindTableCopy
	// KindTableInit copies B elements from A in element segment U1 to R in table U2.
	KindTableInit
	// KindElemDrop drops element segment U1.
	KindElemDrop
	// KindRefFunc writes a reference to function U1 to R.
	KindRefFunc
	KindI32Eqz
	KindI32Clz
	KindI32Ctz
	KindI32Popcnt
	KindI32Extend8S
	KindI32Extend16S
	KindI32Add
	KindI32AddImm
	KindI32Sub
	KindI32SubImm
	KindI32SubImmRev
	KindI32Mul
	KindI32MulImm
	KindI32DivS
	KindI32DivSImm
	KindI32DivSImmRev
	KindI32DivU
	KindI32DivUImm
	KindI32DivUImmRev
	KindI32RemS
	KindI32RemSImm
	KindI32RemSImmRev
	KindI32RemU
	KindI32RemUImm
	KindI32RemUImmRev
	KindI32And
	KindI32AndImm
	KindI32Or
	KindI32OrImm
	KindI32Xor
	KindI32XorImm
	KindI32Shl
	KindI32ShlImm
	KindI32ShlImmRev
	KindI32ShrS
	KindI32ShrSImm
	KindI32ShrSImmRev
	KindI32ShrU
	KindI32ShrUImm
	KindI32ShrUImmRev
	KindI32Rotl
	KindI32RotlImm
	KindI32RotlImmRev
	KindI32Rotr
	KindI32RotrImm
	KindI32RotrImmRev
	KindI32Eq
	KindI32EqImm
	KindI32Ne
	KindI32NeImm
	KindI32LtS
	KindI32LtSImm
	KindI32LtU
	KindI32LtUImm
	KindI32GtS
	KindI32GtSImm
	KindI32GtU
	KindI32GtUImm
	KindI32LeS
	KindI32LeSImm
	KindI32LeU
	KindI32LeUImm
	KindI32GeS
	KindI32GeSImm
	KindI32GeU
	KindI32GeUImm
	KindI64Eqz
	KindI64Clz
	KindI64Ctz
	KindI64Popcnt
	KindI64Extend8S
	KindI64Extend16S
	KindI64Extend32S
	KindI64Add
	KindI64AddImm
	KindI64Sub
	KindI64SubImm
	KindI64SubImmRev
	KindI64Mul
	KindI64MulImm
	KindI64DivS
	KindI64DivSImm
	KindI64DivSImmRev
	KindI64DivU
	KindI64DivUImm
	KindI64DivUImmRev
	KindI64RemS
	KindI64RemSImm
	KindI64RemSImmRev
	KindI64RemU
	KindI64RemUImm
	KindI64RemUImmRev
	KindI64And
	KindI64AndImm
	KindI64Or
	KindI64OrImm
	KindI64Xor
	KindI64XorImm
	KindI64Shl
	KindI64ShlImm
	KindI64ShlImmRev
	KindI64ShrS
	KindI64ShrSImm
	KindI64ShrSImmRev
	KindI64ShrU
	KindI64ShrUImm
	KindI64ShrUImmRev
	KindI64Rotl
	KindI64RotlImm
	KindI64RotlImmRev
	KindI64Rotr
	KindI64RotrImm
	KindI64RotrImmRev
	KindI64Eq
	KindI64EqImm
	KindI64Ne
	KindI64NeImm
	KindI64LtS
	KindI64LtSImm
	KindI64LtU
	KindI64LtUImm
	KindI64GtS
	KindI64GtSImm
	KindI64GtU
	KindI64GtUImm
	KindI64LeS
	KindI64LeSImm
	KindI64LeU
	KindI64LeUImm
	KindI64GeS
	KindI64GeSImm
	KindI64GeU
	KindI64GeUImm
	KindF32Abs
	KindF32Neg
	KindF32Ceil
	KindF32Floor
	KindF32Trunc
	KindF32Nearest
	KindF32Sqrt
	KindF32Add
	KindF32Sub
	KindF32Mul
	KindF32Div
	KindF32Min
	KindF32Max
	KindF32Copysign
	KindF32Eq
	KindF32Ne
	KindF32Lt
	KindF32Gt
	KindF32Le
	KindF32Ge
	KindF64Abs
	KindF64Neg
	KindF64Ceil
	KindF64Floor
	KindF64Trunc
	KindF64Nearest
	KindF64Sqrt
	KindF64Add
	KindF64Sub
	KindF64Mul
	KindF64Div
	KindF64Min
	KindF64Max
	KindF64Copysign
	KindF64Eq
	KindF64Ne
	KindF64Lt
	KindF64Gt
	KindF64Le
	KindF64Ge
	KindI32WrapI64
	KindI32TruncF32S
	KindI32TruncF32U
	KindI32TruncF64S
	KindI32TruncF64U
	KindI64ExtendI32S
	KindI64ExtendI32U
	KindI64TruncF32S
	KindI64TruncF32U
	KindI64TruncF64S
	KindI64TruncF64U
	KindF32ConvertI32S
	KindF32ConvertI32U
	KindF32ConvertI64S
	KindF32ConvertI64U
	KindF32DemoteF64
	KindF64ConvertI32S
	KindF64ConvertI32U
	KindF64ConvertI64S
	KindF64ConvertI64U
	KindF64PromoteF32
	KindI32TruncSatF32S
	KindI32TruncSatF32U
	KindI32TruncSatF64S
	KindI32TruncSatF64U
	KindI64TruncSatF32S
	KindI64TruncSatF32U
	KindI64TruncSatF64S
	KindI64TruncSatF64U

	kindEnd
)

var kindNames = [...]string{
	KindUnreachable:     "Unreachable",
	KindTrap:            "Trap",
	KindBranch:          "Branch",
	KindBranchEqz:       "BranchEqz",
	KindBranchNez:       "BranchNez",
	KindBranchTable:     "BranchTable",
	KindReturnNone:      "ReturnNone",
	KindReturnSlot:      "ReturnSlot",
	KindReturnImm:       "ReturnImm",
	KindReturnSpan:      "ReturnSpan",
	KindCall:            "Call",
	KindCallIndirect:    "CallIndirect",
	KindCopy:            "Copy",
	KindCopyImm:         "CopyImm",
	KindSelect:          "Select",
	KindGlobalGet:       "GlobalGet",
	KindGlobalSet:       "GlobalSet",
	KindGlobalSetImm:    "GlobalSetImm",
	KindI32Load:         "I32Load",
	KindI64Load:         "I64Load",
	KindF32Load:         "F32Load",
	KindF64Load:         "F64Load",
	KindI32Load8S:       "I32Load8S",
	KindI32Load8U:       "I32Load8U",
	KindI32Load16S:      "I32Load16S",
	KindI32Load16U:      "I32Load16U",
	KindI64Load8S:       "I64Load8S",
	KindI64Load8U:       "I64Load8U",
	KindI64Load16S:      "I64Load16S",
	KindI64Load16U:      "I64Load16U",
	KindI64Load32S:      "I64Load32S",
	KindI64Load32U:      "I64Load32U",
	KindI32Store:        "I32Store",
	KindI64Store:        "I64Store",
	KindF32Store:        "F32Store",
	KindF64Store:        "F64Store",
	KindI32Store8:       "I32Store8",
	KindI32Store16:      "I32Store16",
	KindI64Store8:       "I64Store8",
	KindI64Store16:      "I64Store16",
	KindI64Store32:      "I64Store32",
	KindI32StoreImm:     "I32StoreImm",
	KindI64StoreImm:     "I64StoreImm",
	KindI32Store8Imm:    "I32Store8Imm",
	KindI32Store16Imm:   "I32Store16Imm",
	KindI64Store8Imm:    "I64Store8Imm",
	KindI64Store16Imm:   "I64Store16Imm",
	KindI64Store32Imm:   "I64Store32Imm",
	KindMemorySize:      "MemorySize",
	KindMemoryGrow:      "MemoryGrow",
	KindMemoryFill:      "MemoryFill",
	KindMemoryCopy:      "MemoryCopy",
	KindMemoryInit:      "MemoryInit",
	KindDataDrop:        "DataDrop",
	KindTableGet:        "TableGet",
	KindTableSet:        "TableSet",
	KindTableSize:       "TableSize",
	KindTableGrow:       "TableGrow",
	KindTableFill:       "TableFill",
	KindTableCopy:       "TableCopy",
	KindTableInit:       "TableInit",
	KindElemDrop:        "ElemDrop",
	KindRefFunc:         "RefFunc",
	KindI32Eqz:          "I32Eqz",
	KindI32Clz:          "I32Clz",
	KindI32Ctz:          "I32Ctz",
	KindI32Popcnt:       "I32Popcnt",
	KindI32Extend8S:     "I32Extend8S",
	KindI32Extend16S:    "I32Extend16S",
	KindI32Add:          "I32Add",
	KindI32AddImm:       "I32AddImm",
	KindI32Sub:          "I32Sub",
	KindI32SubImm:       "I32SubImm",
	KindI32SubImmRev:    "I32SubImmRev",
	KindI32Mul:          "I32Mul",
	KindI32MulImm:       "I32MulImm",
	KindI32DivS:         "I32DivS",
	KindI32DivSImm:      "I32DivSImm",
	KindI32DivSImmRev:   "I32DivSImmRev",
	KindI32DivU:         "I32DivU",
	KindI32DivUImm:      "I32DivUImm",
	KindI32DivUImmRev:   "I32DivUImmRev",
	KindI32RemS:         "I32RemS",
	KindI32RemSImm:      "I32RemSImm",
	KindI32RemSImmRev:   "I32RemSImmRev",
	KindI32RemU:         "I32RemU",
	KindI32RemUImm:      "I32RemUImm",
	KindI32RemUImmRev:   "I32RemUImmRev",
	KindI32And:          "I32And",
	KindI32AndImm:       "I32AndImm",
	KindI32Or:           "I32Or",
	KindI32OrImm:        "I32OrImm",
	KindI32Xor:          "I32Xor",
	KindI32XorImm:       "I32XorImm",
	KindI32Shl:          "I32Shl",
	KindI32ShlImm:       "I32ShlImm",
	KindI32ShlImmRev:    "I32ShlImmRev",
	KindI32ShrS:         "I32ShrS",
	KindI32ShrSImm:      "I32ShrSImm",
	KindI32ShrSImmRev:   "I32ShrSImmRev",
	KindI32ShrU:         "I32ShrU",
	KindI32ShrUImm:      "I32ShrUImm",
	KindI32ShrUImmRev:   "I32ShrUImmRev",
	KindI32Rotl:         "I32Rotl",
	KindI32RotlImm:      "I32RotlImm",
	KindI32RotlImmRev:   "I32RotlImmRev",
	KindI32Rotr:         "I32Rotr",
	KindI32RotrImm:      "I32RotrImm",
	KindI32RotrImmRev:   "I32RotrImmRev",
	KindI32Eq:           "I32Eq",
	KindI32EqImm:        "I32EqImm",
	KindI32Ne:           "I32Ne",
	KindI32NeImm:        "I32NeImm",
	KindI32LtS:          "I32LtS",
	KindI32LtSImm:       "I32LtSImm",
	KindI32LtU:          "I32LtU",
	KindI32LtUImm:       "I32LtUImm",
	KindI32GtS:          "I32GtS",
	KindI32GtSImm:       "I32GtSImm",
	KindI32GtU:          "I32GtU",
	KindI32GtUImm:       "I32GtUImm",
	KindI32LeS:          "I32LeS",
	KindI32LeSImm:       "I32LeSImm",
	KindI32LeU:          "I32LeU",
	KindI32LeUImm:       "I32LeUImm",
	KindI32GeS:          "I32GeS",
	KindI32GeSImm:       "I32GeSImm",
	KindI32GeU:          "I32GeU",
	KindI32GeUImm:       "I32GeUImm",
	KindI64Eqz:          "I64Eqz",
	KindI64Clz:          "I64Clz",
	KindI64Ctz:          "I64Ctz",
	KindI64Popcnt:       "I64Popcnt",
	KindI64Extend8S:     "I64Extend8S",
	KindI64Extend16S:    "I64Extend16S",
	KindI64Extend32S:    "I64Extend32S",
	KindI64Add:          "I64Add",
	KindI64AddImm:       "I64AddImm",
	KindI64Sub:          "I64Sub",
	KindI64SubImm:       "I64SubImm",
	KindI64SubImmRev:    "I64SubImmRev",
	KindI64Mul:          "I64Mul",
	KindI64MulImm:       "I64MulImm",
	KindI64DivS:         "I64DivS",
	KindI64DivSImm:      "I64DivSImm",
	KindI64DivSImmRev:   "I64DivSImmRev",
	KindI64DivU:         "I64DivU",
	KindI64DivUImm:      "I64DivUImm",
	KindI64DivUImmRev:   "I64DivUImmRev",
	KindI64RemS:         "I64RemS",
	KindI64RemSImm:      "I64RemSImm",
	KindI64RemSImmRev:   "I64RemSImmRev",
	KindI64RemU:         "I64RemU",
	KindI64RemUImm:      "I64RemUImm",
	KindI64RemUImmRev:   "I64RemUImmRev",
	KindI64And:          "I64And",
	KindI64AndImm:       "I64AndImm",
	KindI64Or:           "I64Or",
	KindI64OrImm:        "I64OrImm",
	KindI64Xor:          "I64Xor",
	KindI64XorImm:       "I64XorImm",
	KindI64Shl:          "I64Shl",
	KindI64ShlImm:       "I64ShlImm",
	KindI64ShlImmRev:    "I64ShlImmRev",
	KindI64ShrS:         "I64ShrS",
	KindI64ShrSImm:      "I64ShrSImm",
	KindI64ShrSImmRev:   "I64ShrSImmRev",
	KindI64ShrU:         "I64ShrU",
	KindI64ShrUImm:      "I64ShrUImm",
	KindI64ShrUImmRev:   "I64ShrUImmRev",
	KindI64Rotl:         "I64Rotl",
	KindI64RotlImm:      "I64RotlImm",
	KindI64RotlImmRev:   "I64RotlImmRev",
	KindI64Rotr:         "I64Rotr",
	KindI64RotrImm:      "I64RotrImm",
	KindI64RotrImmRev:   "I64RotrImmRev",
	KindI64Eq:           "I64Eq",
	KindI64EqImm:        "I64EqImm",
	KindI64Ne:           "I64Ne",
	KindI64NeImm:        "I64NeImm",
	KindI64LtS:          "I64LtS",
	KindI64LtSImm:       "I64LtSImm",
	KindI64LtU:          "I64LtU",
	KindI64LtUImm:       "I64LtUImm",
	KindI64GtS:          "I64GtS",
	KindI64GtSImm:       "I64GtSImm",
	KindI64GtU:          "I64GtU",
	KindI64GtUImm:       "I64GtUImm",
	KindI64LeS:          "I64LeS",
	KindI64LeSImm:       "I64LeSImm",
	KindI64LeU:          "I64LeU",
	KindI64LeUImm:       "I64LeUImm",
	KindI64GeS:          "I64GeS",
	KindI64GeSImm:       "I64GeSImm",
	KindI64GeU:          "I64GeU",
	KindI64GeUImm:       "I64GeUImm",
	KindF32Abs:          "F32Abs",
	KindF32Neg:          "F32Neg",
	KindF32Ceil:         "F32Ceil",
	KindF32Floor:        "F32Floor",
	KindF32Trunc:        "F32Trunc",
	KindF32Nearest:      "F32Nearest",
	KindF32Sqrt:         "F32Sqrt",
	KindF32Add:          "F32Add",
	KindF32Sub:          "F32Sub",
	KindF32Mul:          "F32Mul",
	KindF32Div:          "F32Div",
	KindF32Min:          "F32Min",
	KindF32Max:          "F32Max",
	KindF32Copysign:     "F32Copysign",
	KindF32Eq:           "F32Eq",
	KindF32Ne:           "F32Ne",
	KindF32Lt:           "F32Lt",
	KindF32Gt:           "F32Gt",
	KindF32Le:           "F32Le",
	KindF32Ge:           "F32Ge",
	KindF64Abs:          "F64Abs",
	KindF64Neg:          "F64Neg",
	KindF64Ceil:         "F64Ceil",
	KindF64Floor:        "F64Floor",
	KindF64Trunc:        "F64Trunc",
	KindF64Nearest:      "F64Nearest",
	KindF64Sqrt:         "F64Sqrt",
	KindF64Add:          "F64Add",
	KindF64Sub:          "F64Sub",
	KindF64Mul:          "F64Mul",
	KindF64Div:          "F64Div",
	KindF64Min:          "F64Min",
	KindF64Max:          "F64Max",
	KindF64Copysign:     "F64Copysign",
	KindF64Eq:           "F64Eq",
	KindF64Ne:           "F64Ne",
	KindF64Lt:           "F64Lt",
	KindF64Gt:           "F64Gt",
	KindF64Le:           "F64Le",
	KindF64Ge:           "F64Ge",
	KindI32WrapI64:      "I32WrapI64",
	KindI32TruncF32S:    "I32TruncF32S",
	KindI32TruncF32U:    "I32TruncF32U",
	KindI32TruncF64S:    "I32TruncF64S",
	KindI32TruncF64U:    "I32TruncF64U",
	KindI64ExtendI32S:   "I64ExtendI32S",
	KindI64ExtendI32U:   "I64ExtendI32U",
	KindI64TruncF32S:    "I64TruncF32S",
	KindI64TruncF32U:    "I64TruncF32U",
	KindI64TruncF64S:    "I64TruncF64S",
	KindI64TruncF64U:    "I64TruncF64U",
	KindF32ConvertI32S:  "F32ConvertI32S",
	KindF32ConvertI32U:  "F32ConvertI32U",
	KindF32ConvertI64S:  "F32ConvertI64S",
	KindF32ConvertI64U:  "F32ConvertI64U",
	KindF32DemoteF64:    "F32DemoteF64",
	KindF64ConvertI32S:  "F64ConvertI32S",
	KindF64ConvertI32U:  "F64ConvertI32U",
	KindF64ConvertI64S:  "F64ConvertI64S",
	KindF64ConvertI64U:  "F64ConvertI64U",
	KindF64PromoteF32:   "F64PromoteF32",
	KindI32TruncSatF32S: "I32TruncSatF32S",
	KindI32TruncSatF32U: "I32TruncSatF32U",
	KindI32TruncSatF64S: "I32TruncSatF64S",
	KindI32TruncSatF64U: "I32TruncSatF64U",
	KindI64TruncSatF32S: "I64TruncSatF32S",
	KindI64TruncSatF32U: "I64TruncSatF32U",
	KindI64TruncSatF64S: "I64TruncSatF64S",
	KindI64TruncSatF64U: "I64TruncSatF64U",
}

// String implements fmt.Stringer
func (k Kind) String() string {
	if k < kindEnd {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// isBranch returns true if Imm of the instruction is a branch target.
func (k Kind) isBranch() bool {
	switch k {
	case KindBranch, KindBranchEqz, KindBranchNez:
		return true
	}
	return false
}
