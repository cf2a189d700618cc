package slotir

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/wasm"
)

// intBinop describes how an integer binary operator or comparison specializes.
type intBinop struct {
	// kind is the slot form. kind+1 is the form with a constant on the right.
	kind Kind
	// commutative operators swap a constant on the left to the right.
	commutative bool
	// compare is true for comparisons, which have no form with a constant on the left. Instead, a non-commutative
	// comparison is rewritten to flipped, which holds with swapped operands.
	compare bool
	flipped Kind
	is64    bool
}

// storeKind describes how a store specializes.
type storeKind struct {
	kind Kind
	// immKind embeds a constant value in U2 when hasImm is true.
	immKind Kind
	hasImm  bool
	// signExtendedImm means the value is sign-extended from U2, so only constants which fit in an int32 embed.
	signExtendedImm bool
}

var intBinops = map[wasm.Opcode]intBinop{
	wasm.OpcodeI32Add:  {kind: KindI32Add, commutative: true},
	wasm.OpcodeI32Sub:  {kind: KindI32Sub},
	wasm.OpcodeI32Mul:  {kind: KindI32Mul, commutative: true},
	wasm.OpcodeI32DivS: {kind: KindI32DivS},
	wasm.OpcodeI32DivU: {kind: KindI32DivU},
	wasm.OpcodeI32RemS: {kind: KindI32RemS},
	wasm.OpcodeI32RemU: {kind: KindI32RemU},
	wasm.OpcodeI32And:  {kind: KindI32And, commutative: true},
	wasm.OpcodeI32Or:   {kind: KindI32Or, commutative: true},
	wasm.OpcodeI32Xor:  {kind: KindI32Xor, commutative: true},
	wasm.OpcodeI32Shl:  {kind: KindI32Shl},
	wasm.OpcodeI32ShrS: {kind: KindI32ShrS},
	wasm.OpcodeI32ShrU: {kind: KindI32ShrU},
	wasm.OpcodeI32Rotl: {kind: KindI32Rotl},
	wasm.OpcodeI32Rotr: {kind: KindI32Rotr},
	wasm.OpcodeI32Eq:   {kind: KindI32Eq, commutative: true, compare: true},
	wasm.OpcodeI32Ne:   {kind: KindI32Ne, commutative: true, compare: true},
	wasm.OpcodeI32LtS:  {kind: KindI32LtS, compare: true, flipped: KindI32GtS},
	wasm.OpcodeI32LtU:  {kind: KindI32LtU, compare: true, flipped: KindI32GtU},
	wasm.OpcodeI32GtS:  {kind: KindI32GtS, compare: true, flipped: KindI32LtS},
	wasm.OpcodeI32GtU:  {kind: KindI32GtU, compare: true, flipped: KindI32LtU},
	wasm.OpcodeI32LeS:  {kind: KindI32LeS, compare: true, flipped: KindI32GeS},
	wasm.OpcodeI32LeU:  {kind: KindI32LeU, compare: true, flipped: KindI32GeU},
	wasm.OpcodeI32GeS:  {kind: KindI32GeS, compare: true, flipped: KindI32LeS},
	wasm.OpcodeI32GeU:  {kind: KindI32GeU, compare: true, flipped: KindI32LeU},
	wasm.OpcodeI64Add:  {kind: KindI64Add, commutative: true, is64: true},
	wasm.OpcodeI64Sub:  {kind: KindI64Sub, is64: true},
	wasm.OpcodeI64Mul:  {kind: KindI64Mul, commutative: true, is64: true},
	wasm.OpcodeI64DivS: {kind: KindI64DivS, is64: true},
	wasm.OpcodeI64DivU: {kind: KindI64DivU, is64: true},
	wasm.OpcodeI64RemS: {kind: KindI64RemS, is64: true},
	wasm.OpcodeI64RemU: {kind: KindI64RemU, is64: true},
	wasm.OpcodeI64And:  {kind: KindI64And, commutative: true, is64: true},
	wasm.OpcodeI64Or:   {kind: KindI64Or, commutative: true, is64: true},
	wasm.OpcodeI64Xor:  {kind: KindI64Xor, commutative: true, is64: true},
	wasm.OpcodeI64Shl:  {kind: KindI64Shl, is64: true},
	wasm.OpcodeI64ShrS: {kind: KindI64ShrS, is64: true},
	wasm.OpcodeI64ShrU: {kind: KindI64ShrU, is64: true},
	wasm.OpcodeI64Rotl: {kind: KindI64Rotl, is64: true},
	wasm.OpcodeI64Rotr: {kind: KindI64Rotr, is64: true},
	wasm.OpcodeI64Eq:   {kind: KindI64Eq, commutative: true, compare: true, is64: true},
	wasm.OpcodeI64Ne:   {kind: KindI64Ne, commutative: true, compare: true, is64: true},
	wasm.OpcodeI64LtS:  {kind: KindI64LtS, compare: true, flipped: KindI64GtS, is64: true},
	wasm.OpcodeI64LtU:  {kind: KindI64LtU, compare: true, flipped: KindI64GtU, is64: true},
	wasm.OpcodeI64GtS:  {kind: KindI64GtS, compare: true, flipped: KindI64LtS, is64: true},
	wasm.OpcodeI64GtU:  {kind: KindI64GtU, compare: true, flipped: KindI64LtU, is64: true},
	wasm.OpcodeI64LeS:  {kind: KindI64LeS, compare: true, flipped: KindI64GeS, is64: true},
	wasm.OpcodeI64LeU:  {kind: KindI64LeU, compare: true, flipped: KindI64GeU, is64: true},
	wasm.OpcodeI64GeS:  {kind: KindI64GeS, compare: true, flipped: KindI64LeS, is64: true},
	wasm.OpcodeI64GeU:  {kind: KindI64GeU, compare: true, flipped: KindI64LeU, is64: true},
}

var intUnaryKinds = map[wasm.Opcode]Kind{
	wasm.OpcodeI32Eqz:        KindI32Eqz,
	wasm.OpcodeI32Clz:        KindI32Clz,
	wasm.OpcodeI32Ctz:        KindI32Ctz,
	wasm.OpcodeI32Popcnt:     KindI32Popcnt,
	wasm.OpcodeI32Extend8S:   KindI32Extend8S,
	wasm.OpcodeI32Extend16S:  KindI32Extend16S,
	wasm.OpcodeI64Eqz:        KindI64Eqz,
	wasm.OpcodeI64Clz:        KindI64Clz,
	wasm.OpcodeI64Ctz:        KindI64Ctz,
	wasm.OpcodeI64Popcnt:     KindI64Popcnt,
	wasm.OpcodeI64Extend8S:   KindI64Extend8S,
	wasm.OpcodeI64Extend16S:  KindI64Extend16S,
	wasm.OpcodeI64Extend32S:  KindI64Extend32S,
	wasm.OpcodeI32WrapI64:    KindI32WrapI64,
	wasm.OpcodeI64ExtendI32S: KindI64ExtendI32S,
	wasm.OpcodeI64ExtendI32U: KindI64ExtendI32U,
}

var floatUnaryKinds = map[wasm.Opcode]Kind{
	wasm.OpcodeF32Abs:          KindF32Abs,
	wasm.OpcodeF32Neg:          KindF32Neg,
	wasm.OpcodeF32Ceil:         KindF32Ceil,
	wasm.OpcodeF32Floor:        KindF32Floor,
	wasm.OpcodeF32Trunc:        KindF32Trunc,
	wasm.OpcodeF32Nearest:      KindF32Nearest,
	wasm.OpcodeF32Sqrt:         KindF32Sqrt,
	wasm.OpcodeF64Abs:          KindF64Abs,
	wasm.OpcodeF64Neg:          KindF64Neg,
	wasm.OpcodeF64Ceil:         KindF64Ceil,
	wasm.OpcodeF64Floor:        KindF64Floor,
	wasm.OpcodeF64Trunc:        KindF64Trunc,
	wasm.OpcodeF64Nearest:      KindF64Nearest,
	wasm.OpcodeF64Sqrt:         KindF64Sqrt,
	wasm.OpcodeI32TruncF32S:    KindI32TruncF32S,
	wasm.OpcodeI32TruncF32U:    KindI32TruncF32U,
	wasm.OpcodeI32TruncF64S:    KindI32TruncF64S,
	wasm.OpcodeI32TruncF64U:    KindI32TruncF64U,
	wasm.OpcodeI64TruncF32S:    KindI64TruncF32S,
	wasm.OpcodeI64TruncF32U:    KindI64TruncF32U,
	wasm.OpcodeI64TruncF64S:    KindI64TruncF64S,
	wasm.OpcodeI64TruncF64U:    KindI64TruncF64U,
	wasm.OpcodeF32ConvertI32S:  KindF32ConvertI32S,
	wasm.OpcodeF32ConvertI32U:  KindF32ConvertI32U,
	wasm.OpcodeF32ConvertI64S:  KindF32ConvertI64S,
	wasm.OpcodeF32ConvertI64U:  KindF32ConvertI64U,
	wasm.OpcodeF32DemoteF64:    KindF32DemoteF64,
	wasm.OpcodeF64ConvertI32S:  KindF64ConvertI32S,
	wasm.OpcodeF64ConvertI32U:  KindF64ConvertI32U,
	wasm.OpcodeF64ConvertI64S:  KindF64ConvertI64S,
	wasm.OpcodeF64ConvertI64U:  KindF64ConvertI64U,
	wasm.OpcodeF64PromoteF32:   KindF64PromoteF32,
	wasm.OpcodeI32TruncSatF32S: KindI32TruncSatF32S,
	wasm.OpcodeI32TruncSatF32U: KindI32TruncSatF32U,
	wasm.OpcodeI32TruncSatF64S: KindI32TruncSatF64S,
	wasm.OpcodeI32TruncSatF64U: KindI32TruncSatF64U,
	wasm.OpcodeI64TruncSatF32S: KindI64TruncSatF32S,
	wasm.OpcodeI64TruncSatF32U: KindI64TruncSatF32U,
	wasm.OpcodeI64TruncSatF64S: KindI64TruncSatF64S,
	wasm.OpcodeI64TruncSatF64U: KindI64TruncSatF64U,
}

var floatBinaryKinds = map[wasm.Opcode]Kind{
	wasm.OpcodeF32Add:      KindF32Add,
	wasm.OpcodeF32Sub:      KindF32Sub,
	wasm.OpcodeF32Mul:      KindF32Mul,
	wasm.OpcodeF32Div:      KindF32Div,
	wasm.OpcodeF32Min:      KindF32Min,
	wasm.OpcodeF32Max:      KindF32Max,
	wasm.OpcodeF32Copysign: KindF32Copysign,
	wasm.OpcodeF32Eq:       KindF32Eq,
	wasm.OpcodeF32Ne:       KindF32Ne,
	wasm.OpcodeF32Lt:       KindF32Lt,
	wasm.OpcodeF32Gt:       KindF32Gt,
	wasm.OpcodeF32Le:       KindF32Le,
	wasm.OpcodeF32Ge:       KindF32Ge,
	wasm.OpcodeF64Add:      KindF64Add,
	wasm.OpcodeF64Sub:      KindF64Sub,
	wasm.OpcodeF64Mul:      KindF64Mul,
	wasm.OpcodeF64Div:      KindF64Div,
	wasm.OpcodeF64Min:      KindF64Min,
	wasm.OpcodeF64Max:      KindF64Max,
	wasm.OpcodeF64Copysign: KindF64Copysign,
	wasm.OpcodeF64Eq:       KindF64Eq,
	wasm.OpcodeF64Ne:       KindF64Ne,
	wasm.OpcodeF64Lt:       KindF64Lt,
	wasm.OpcodeF64Gt:       KindF64Gt,
	wasm.OpcodeF64Le:       KindF64Le,
	wasm.OpcodeF64Ge:       KindF64Ge,
}

var loadKinds = map[wasm.Opcode]Kind{
	wasm.OpcodeI32Load:    KindI32Load,
	wasm.OpcodeI64Load:    KindI64Load,
	wasm.OpcodeF32Load:    KindF32Load,
	wasm.OpcodeF64Load:    KindF64Load,
	wasm.OpcodeI32Load8S:  KindI32Load8S,
	wasm.OpcodeI32Load8U:  KindI32Load8U,
	wasm.OpcodeI32Load16S: KindI32Load16S,
	wasm.OpcodeI32Load16U: KindI32Load16U,
	wasm.OpcodeI64Load8S:  KindI64Load8S,
	wasm.OpcodeI64Load8U:  KindI64Load8U,
	wasm.OpcodeI64Load16S: KindI64Load16S,
	wasm.OpcodeI64Load16U: KindI64Load16U,
	wasm.OpcodeI64Load32S: KindI64Load32S,
	wasm.OpcodeI64Load32U: KindI64Load32U,
}

var storeKinds = map[wasm.Opcode]storeKind{
	wasm.OpcodeI32Store:   {kind: KindI32Store, immKind: KindI32StoreImm, hasImm: true},
	wasm.OpcodeI64Store:   {kind: KindI64Store, immKind: KindI64StoreImm, hasImm: true, signExtendedImm: true},
	wasm.OpcodeF32Store:   {kind: KindF32Store},
	wasm.OpcodeF64Store:   {kind: KindF64Store},
	wasm.OpcodeI32Store8:  {kind: KindI32Store8, immKind: KindI32Store8Imm, hasImm: true},
	wasm.OpcodeI32Store16: {kind: KindI32Store16, immKind: KindI32Store16Imm, hasImm: true},
	wasm.OpcodeI64Store8:  {kind: KindI64Store8, immKind: KindI64Store8Imm, hasImm: true},
	wasm.OpcodeI64Store16: {kind: KindI64Store16, immKind: KindI64Store16Imm, hasImm: true},
	wasm.OpcodeI64Store32: {kind: KindI64Store32, immKind: KindI64Store32Imm, hasImm: true},
}

func (c *compiler) checkMemory(index wasm.Index) error {
	if int(index) >= len(c.memoryTypes) {
		return fmt.Errorf("%w: unknown memory %d", ErrInvalidOperator, index)
	}
	return nil
}

func (c *compiler) checkTable(index wasm.Index) error {
	if int(index) >= c.numTables {
		return fmt.Errorf("%w: unknown table %d", ErrInvalidOperator, index)
	}
	return nil
}

func (c *compiler) emitLoad(k Kind, arg wasm.MemArg) error {
	if err := c.checkMemory(arg.Memory); err != nil {
		return err
	}
	addr, err := c.pop()
	if err != nil {
		return err
	}
	a := c.slotOf(addr)
	c.push(provider{})
	c.emitProducer(Instruction{Kind: k, R: c.tempSlot(addr.height), A: a, U1: arg.Memory, Imm: arg.Offset})
	return nil
}

func (c *compiler) emitStore(k storeKind, arg wasm.MemArg) error {
	if err := c.checkMemory(arg.Memory); err != nil {
		return err
	}
	v, err := c.pop()
	if err != nil {
		return err
	}
	addr, err := c.pop()
	if err != nil {
		return err
	}
	if v.kind == providerConst && k.hasImm && (!k.signExtendedImm || int64(int32(v.value)) == int64(v.value)) {
		c.emit(Instruction{Kind: k.immKind, A: c.slotOf(addr), U1: arg.Memory, U2: uint32(v.value), Imm: arg.Offset})
		return nil
	}
	c.emit(Instruction{Kind: k.kind, A: c.slotOf(addr), B: c.slotOf(v), U1: arg.Memory, Imm: arg.Offset})
	return nil
}

// emitIntBinop folds constant operands, drops operations which leave their operand unchanged and otherwise picks the
// form embedding a constant operand.
func (c *compiler) emitIntBinop(b intBinop) error {
	y, err := c.pop()
	if err != nil {
		return err
	}
	x, err := c.pop()
	if err != nil {
		return err
	}
	switch {
	case x.kind == providerConst && y.kind == providerConst:
		v, code, trapped := EvalIntBinop(b.kind, x.value, y.value)
		if trapped {
			c.emit(Instruction{Kind: KindTrap, U1: uint32(code)})
			c.unreachableState.on = true
			return nil
		}
		c.push(provider{kind: providerConst, value: v})
		return nil
	case y.kind == providerConst:
		if c.simplify(b, x, y.value) {
			return nil
		}
		a := c.slotOf(x)
		c.push(provider{})
		c.emitProducer(Instruction{Kind: b.kind + 1, R: c.tempSlot(x.height), A: a, Imm: y.value})
	case x.kind == providerConst:
		kind := b.kind + 2
		switch {
		case b.commutative:
			if c.simplify(b, y, x.value) {
				return nil
			}
			kind = b.kind + 1
		case b.compare:
			kind = b.flipped + 1
		}
		a := c.slotOf(y)
		c.push(provider{})
		c.emitProducer(Instruction{Kind: kind, R: c.tempSlot(x.height), A: a, Imm: x.value})
	default:
		a, bb := c.slotOf(x), c.slotOf(y)
		c.push(provider{})
		c.emitProducer(Instruction{Kind: b.kind, R: c.tempSlot(x.height), A: a, B: bb})
	}
	return nil
}

// simplify pushes the result of v op k without emitting an operation when it is v itself or a constant. The result is
// pushed at the height of the first operand, which is at most v's height. It returns false when nothing applies.
func (c *compiler) simplify(b intBinop, v operand, k uint64) bool {
	mask, width := uint64(math.MaxUint32), uint64(31)
	if b.is64 {
		mask, width = math.MaxUint64, 63
	}
	k &= mask
	height := v.height
	if height > len(c.providers) {
		height = len(c.providers)
	}

	identity, zero := false, false
	switch b.kind {
	case KindI32Add, KindI64Add, KindI32Sub, KindI64Sub, KindI32Or, KindI64Or, KindI32Xor, KindI64Xor:
		identity = k == 0
	case KindI32Shl, KindI64Shl, KindI32ShrS, KindI64ShrS, KindI32ShrU, KindI64ShrU,
		KindI32Rotl, KindI64Rotl, KindI32Rotr, KindI64Rotr:
		identity = k&width == 0
	case KindI32Mul, KindI64Mul:
		identity, zero = k == 1, k == 0
	case KindI32DivS, KindI64DivS, KindI32DivU, KindI64DivU:
		identity = k == 1
	case KindI32RemS, KindI64RemS, KindI32RemU, KindI64RemU:
		zero = k == 1
	case KindI32And, KindI64And:
		identity, zero = k == mask, k == 0
	}

	switch {
	case identity:
		c.pushOperandAt(v, height)
	case zero:
		c.push(provider{kind: providerConst})
	default:
		return false
	}
	return true
}

func (c *compiler) emitIntUnary(k Kind) error {
	x, err := c.pop()
	if err != nil {
		return err
	}
	if x.kind == providerConst {
		c.push(provider{kind: providerConst, value: EvalIntUnary(k, x.value)})
		return nil
	}
	a := c.slotOf(x)
	c.push(provider{})
	c.emitProducer(Instruction{Kind: k, R: c.tempSlot(x.height), A: a})
	return nil
}

// emitSlotUnary emits an operation which always reads its operand from a slot.
func (c *compiler) emitSlotUnary(k Kind) error {
	x, err := c.pop()
	if err != nil {
		return err
	}
	a := c.slotOf(x)
	c.push(provider{})
	c.emitProducer(Instruction{Kind: k, R: c.tempSlot(x.height), A: a})
	return nil
}

// emitSlotBinary emits an operation which always reads its operands from slots.
func (c *compiler) emitSlotBinary(k Kind) error {
	y, err := c.pop()
	if err != nil {
		return err
	}
	x, err := c.pop()
	if err != nil {
		return err
	}
	a, b := c.slotOf(x), c.slotOf(y)
	c.push(provider{})
	c.emitProducer(Instruction{Kind: k, R: c.tempSlot(x.height), A: a, B: b})
	return nil
}

// popSlots pops n operands and returns their slots, bottom first.
func (c *compiler) popSlots(n int) (slots []Slot, height int, err error) {
	ops := make([]operand, n)
	for i := n - 1; i >= 0; i-- {
		if ops[i], err = c.pop(); err != nil {
			return nil, 0, err
		}
	}
	slots = make([]Slot, n)
	for i, op := range ops {
		slots[i] = c.slotOf(op)
	}
	return slots, ops[0].height, nil
}

// handleMemoryOrTable translates the bulk memory, table and reference operators.
func (c *compiler) handleMemoryOrTable(op wasm.Operator) error {
	switch op.Opcode {
	case wasm.OpcodeMemorySize:
		if err := c.checkMemory(op.Index); err != nil {
			return err
		}
		c.emitProducer(Instruction{Kind: KindMemorySize, R: c.pushTemp(), U1: op.Index})
	case wasm.OpcodeMemoryGrow:
		if err := c.checkMemory(op.Index); err != nil {
			return err
		}
		s, h, err := c.popSlots(1)
		if err != nil {
			return err
		}
		c.push(provider{})
		c.emit(Instruction{Kind: KindMemoryGrow, R: c.tempSlot(h), A: s[0], U1: op.Index})
	case wasm.OpcodeMemoryFill:
		if err := c.checkMemory(op.Index); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindMemoryFill, R: s[0], A: s[1], B: s[2], U1: op.Index})
	case wasm.OpcodeMemoryCopy:
		if err := c.checkMemory(op.Index); err != nil {
			return err
		}
		if err := c.checkMemory(op.Index2); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindMemoryCopy, R: s[0], A: s[1], B: s[2], U1: op.Index, U2: op.Index2})
	case wasm.OpcodeMemoryInit:
		if err := c.checkData(op.Index); err != nil {
			return err
		}
		if err := c.checkMemory(op.Index2); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindMemoryInit, R: s[0], A: s[1], B: s[2], U1: op.Index, U2: op.Index2})
	case wasm.OpcodeDataDrop:
		if err := c.checkData(op.Index); err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindDataDrop, U1: op.Index})

	case wasm.OpcodeTableGet:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		s, h, err := c.popSlots(1)
		if err != nil {
			return err
		}
		c.push(provider{})
		c.emitProducer(Instruction{Kind: KindTableGet, R: c.tempSlot(h), A: s[0], U1: op.Index})
	case wasm.OpcodeTableSet:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		s, _, err := c.popSlots(2)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindTableSet, A: s[0], B: s[1], U1: op.Index})
	case wasm.OpcodeTableSize:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		c.emitProducer(Instruction{Kind: KindTableSize, R: c.pushTemp(), U1: op.Index})
	case wasm.OpcodeTableGrow:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		s, h, err := c.popSlots(2)
		if err != nil {
			return err
		}
		c.push(provider{})
		c.emit(Instruction{Kind: KindTableGrow, R: c.tempSlot(h), A: s[0], B: s[1], U1: op.Index})
	case wasm.OpcodeTableFill:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindTableFill, R: s[0], A: s[1], B: s[2], U1: op.Index})
	case wasm.OpcodeTableCopy:
		if err := c.checkTable(op.Index); err != nil {
			return err
		}
		if err := c.checkTable(op.Index2); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindTableCopy, R: s[0], A: s[1], B: s[2], U1: op.Index, U2: op.Index2})
	case wasm.OpcodeTableInit:
		if err := c.checkElem(op.Index); err != nil {
			return err
		}
		if err := c.checkTable(op.Index2); err != nil {
			return err
		}
		s, _, err := c.popSlots(3)
		if err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindTableInit, R: s[0], A: s[1], B: s[2], U1: op.Index, U2: op.Index2})
	case wasm.OpcodeElemDrop:
		if err := c.checkElem(op.Index); err != nil {
			return err
		}
		c.emit(Instruction{Kind: KindElemDrop, U1: op.Index})
	default:
		return fmt.Errorf("%w: unsupported operator %s", ErrInvalidOperator, op)
	}
	return nil
}

func (c *compiler) checkData(index wasm.Index) error {
	if int(index) >= len(c.m.DataSection) {
		return fmt.Errorf("%w: unknown data segment %d", ErrInvalidOperator, index)
	}
	return nil
}

func (c *compiler) checkElem(index wasm.Index) error {
	if int(index) >= len(c.m.ElementSection) {
		return fmt.Errorf("%w: unknown element segment %d", ErrInvalidOperator, index)
	}
	return nil
}

// EvalIntBinop evaluates the integer binary operation or comparison k, given in its slot form. When the operation
// traps, the trap code is returned with trapped set. Both constant folding and execution go through it.
func EvalIntBinop(k Kind, x, y uint64) (v uint64, code api.TrapCode, trapped bool) {
	x32, y32 := uint32(x), uint32(y)
	switch k {
	case KindI32Add:
		return uint64(x32 + y32), 0, false
	case KindI32Sub:
		return uint64(x32 - y32), 0, false
	case KindI32Mul:
		return uint64(x32 * y32), 0, false
	case KindI32DivS:
		if y32 == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		if int32(x32) == math.MinInt32 && int32(y32) == -1 {
			return 0, api.TrapCodeIntegerOverflow, true
		}
		return uint64(uint32(int32(x32) / int32(y32))), 0, false
	case KindI32DivU:
		if y32 == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		return uint64(x32 / y32), 0, false
	case KindI32RemS:
		if y32 == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		if int32(y32) == -1 {
			return 0, 0, false
		}
		return uint64(uint32(int32(x32) % int32(y32))), 0, false
	case KindI32RemU:
		if y32 == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		return uint64(x32 % y32), 0, false
	case KindI32And:
		return uint64(x32 & y32), 0, false
	case KindI32Or:
		return uint64(x32 | y32), 0, false
	case KindI32Xor:
		return uint64(x32 ^ y32), 0, false
	case KindI32Shl:
		return uint64(x32 << (y32 & 31)), 0, false
	case KindI32ShrS:
		return uint64(uint32(int32(x32) >> (y32 & 31))), 0, false
	case KindI32ShrU:
		return uint64(x32 >> (y32 & 31)), 0, false
	case KindI32Rotl:
		return uint64(bits.RotateLeft32(x32, int(y32&31))), 0, false
	case KindI32Rotr:
		return uint64(bits.RotateLeft32(x32, -int(y32&31))), 0, false
	case KindI32Eq:
		return b2u(x32 == y32), 0, false
	case KindI32Ne:
		return b2u(x32 != y32), 0, false
	case KindI32LtS:
		return b2u(int32(x32) < int32(y32)), 0, false
	case KindI32LtU:
		return b2u(x32 < y32), 0, false
	case KindI32GtS:
		return b2u(int32(x32) > int32(y32)), 0, false
	case KindI32GtU:
		return b2u(x32 > y32), 0, false
	case KindI32LeS:
		return b2u(int32(x32) <= int32(y32)), 0, false
	case KindI32LeU:
		return b2u(x32 <= y32), 0, false
	case KindI32GeS:
		return b2u(int32(x32) >= int32(y32)), 0, false
	case KindI32GeU:
		return b2u(x32 >= y32), 0, false

	case KindI64Add:
		return x + y, 0, false
	case KindI64Sub:
		return x - y, 0, false
	case KindI64Mul:
		return x * y, 0, false
	case KindI64DivS:
		if y == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		if int64(x) == math.MinInt64 && int64(y) == -1 {
			return 0, api.TrapCodeIntegerOverflow, true
		}
		return uint64(int64(x) / int64(y)), 0, false
	case KindI64DivU:
		if y == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		return x / y, 0, false
	case KindI64RemS:
		if y == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		if int64(y) == -1 {
			return 0, 0, false
		}
		return uint64(int64(x) % int64(y)), 0, false
	case KindI64RemU:
		if y == 0 {
			return 0, api.TrapCodeIntegerDivideByZero, true
		}
		return x % y, 0, false
	case KindI64And:
		return x & y, 0, false
	case KindI64Or:
		return x | y, 0, false
	case KindI64Xor:
		return x ^ y, 0, false
	case KindI64Shl:
		return x << (y & 63), 0, false
	case KindI64ShrS:
		return uint64(int64(x) >> (y & 63)), 0, false
	case KindI64ShrU:
		return x >> (y & 63), 0, false
	case KindI64Rotl:
		return bits.RotateLeft64(x, int(y&63)), 0, false
	case KindI64Rotr:
		return bits.RotateLeft64(x, -int(y&63)), 0, false
	case KindI64Eq:
		return b2u(x == y), 0, false
	case KindI64Ne:
		return b2u(x != y), 0, false
	case KindI64LtS:
		return b2u(int64(x) < int64(y)), 0, false
	case KindI64LtU:
		return b2u(x < y), 0, false
	case KindI64GtS:
		return b2u(int64(x) > int64(y)), 0, false
	case KindI64GtU:
		return b2u(x > y), 0, false
	case KindI64LeS:
		return b2u(int64(x) <= int64(y)), 0, false
	case KindI64LeU:
		return b2u(x <= y), 0, false
	case KindI64GeS:
		return b2u(int64(x) >= int64(y)), 0, false
	case KindI64GeU:
		return b2u(x >= y), 0, false
	}
	panic(fmt.Sprintf("BUG: %s is not an integer binary operation", k))
}

// EvalIntUnary evaluates an integer unary operation or integer conversion. None of them trap.
func EvalIntUnary(k Kind, x uint64) uint64 {
	x32 := uint32(x)
	switch k {
	case KindI32Eqz:
		return b2u(x32 == 0)
	case KindI32Clz:
		return uint64(bits.LeadingZeros32(x32))
	case KindI32Ctz:
		return uint64(bits.TrailingZeros32(x32))
	case KindI32Popcnt:
		return uint64(bits.OnesCount32(x32))
	case KindI32Extend8S:
		return uint64(uint32(int32(int8(x32))))
	case KindI32Extend16S:
		return uint64(uint32(int32(int16(x32))))
	case KindI64Eqz:
		return b2u(x == 0)
	case KindI64Clz:
		return uint64(bits.LeadingZeros64(x))
	case KindI64Ctz:
		return uint64(bits.TrailingZeros64(x))
	case KindI64Popcnt:
		return uint64(bits.OnesCount64(x))
	case KindI64Extend8S:
		return uint64(int64(int8(x)))
	case KindI64Extend16S:
		return uint64(int64(int16(x)))
	case KindI64Extend32S, KindI64ExtendI32S:
		return uint64(int64(int32(x)))
	case KindI32WrapI64, KindI64ExtendI32U:
		return uint64(x32)
	}
	panic(fmt.Sprintf("BUG: %s is not an integer unary operation", k))
}

// IntBinopForm is where an integer binary Kind reads its operands from.
type IntBinopForm byte

const (
	// IntBinopFormSlots computes R = A op B.
	IntBinopFormSlots IntBinopForm = iota + 1
	// IntBinopFormImm computes R = A op Imm.
	IntBinopFormImm
	// IntBinopFormImmRev computes R = Imm op A.
	IntBinopFormImmRev
)

type intBinopShape struct {
	base Kind
	form IntBinopForm
}

var (
	intBinopShapes [kindEnd]intBinopShape
	intUnarySet    [kindEnd]bool
)

func init() {
	for _, b := range intBinops {
		intBinopShapes[b.kind] = intBinopShape{b.kind, IntBinopFormSlots}
		intBinopShapes[b.kind+1] = intBinopShape{b.kind, IntBinopFormImm}
		if !b.commutative && !b.compare {
			intBinopShapes[b.kind+2] = intBinopShape{b.kind, IntBinopFormImmRev}
		}
	}
	for _, k := range intUnaryKinds {
		intUnarySet[k] = true
	}
}

// IntBinop returns the slot form of an integer binary Kind and where it reads its operands from. ok is false for any
// other Kind.
func (k Kind) IntBinop() (base Kind, form IntBinopForm, ok bool) {
	if k >= kindEnd {
		return 0, 0, false
	}
	s := intBinopShapes[k]
	return s.base, s.form, s.form != 0
}

// IsIntUnary returns true if k is evaluated by EvalIntUnary.
func (k Kind) IsIntUnary() bool {
	return k < kindEnd && intUnarySet[k]
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
