// Package slotir translates validated WebAssembly function bodies into slot-addressed instruction sequences.
//
// The translator mirrors the operand stack of the source with a stack of providers. Reads of locals and constants
// emit nothing: the operator that consumes them reads the local slot or embeds the constant instead. Every other
// value lives in the slot of its operand stack height.
package slotir

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/wasm"
)

// Config bounds the translation.
type Config struct {
	// MaxFrameSlots is the maximum FrameSize of a function. Zero means unbounded.
	MaxFrameSlots uint32
}

type providerKind byte

const (
	// providerTemp is a value in the slot of its operand stack height.
	providerTemp providerKind = iota
	// providerLocal is a value still held by a local slot.
	providerLocal
	// providerConst is a value known at translation time.
	providerConst
)

// provider is where the value of an operand stack entry can be read from.
type provider struct {
	kind  providerKind
	local Slot
	value uint64
}

// operand is a provider popped from the operand stack with the height it had.
type operand struct {
	provider
	height int
}

type compiler struct {
	cfg       Config
	m         *wasm.Module
	funcIndex wasm.Index
	sig       *api.FunctionType
	// numLocals is the count of parameters and declared locals.
	numLocals int
	providers []provider
	// maxHeight is one past the highest operand height whose temporary slot an instruction uses. Locals and constants
	// on the operand stack take no slot until materialized.
	maxHeight int
	frames    controlFrames

	unreachableState struct {
		on    bool
		depth int
	}

	body []Instruction
	// lastProducer is the index of the last instruction when it only wrote R, or -1.
	lastProducer int

	memoryTypes []*api.MemoryType
	numTables   int
	numGlobals  int
	numFuncs    wasm.Index
}

// Compile translates the body of the function at the index in the function index namespace of the module.
// The function must be defined in the module, not imported.
func Compile(m *wasm.Module, funcIndex wasm.Index, cfg Config) (*CompiledFunction, error) {
	importedFuncs, _, _, _ := m.ImportCounts()
	if funcIndex < importedFuncs || funcIndex-importedFuncs >= wasm.Index(len(m.CodeSection)) {
		return nil, &TranslationError{FuncIndex: funcIndex, Offset: -1,
			Err: fmt.Errorf("%w: function %d has no code", ErrInvalidOperator, funcIndex)}
	}
	code := m.CodeSection[funcIndex-importedFuncs]
	sig := m.TypeOfFunction(funcIndex)
	if sig == nil {
		return nil, &TranslationError{FuncIndex: funcIndex, Offset: -1,
			Err: fmt.Errorf("%w: function %d has no type", ErrInvalidOperator, funcIndex)}
	}

	c := &compiler{
		cfg:          cfg,
		m:            m,
		funcIndex:    funcIndex,
		sig:          sig,
		numLocals:    len(sig.Params) + len(code.LocalTypes),
		lastProducer: -1,
		memoryTypes:  m.MemoryTypes(),
		numTables:    len(m.TableTypes()),
		numGlobals:   len(m.GlobalTypes()),
		numFuncs:     m.FunctionCount(),
	}
	c.frames.push(&controlFrame{kind: controlFrameKindFunction, blockType: sig, elseFixup: -1})

	for offset, op := range code.Body {
		if c.frames.empty() {
			return nil, &TranslationError{FuncIndex: funcIndex, Offset: offset,
				Err: fmt.Errorf("%w: %s after the end of the function", ErrInvalidOperator, op)}
		}
		if err := c.handleOperator(op); err != nil {
			return nil, &TranslationError{FuncIndex: funcIndex, Offset: offset,
				Err: fmt.Errorf("%s: %w\ndisassemble:\n%s", op, err, Disassemble(c.result()))}
		}
	}
	if !c.frames.empty() {
		return nil, &TranslationError{FuncIndex: funcIndex, Offset: -1,
			Err: fmt.Errorf("%w: %d constructs are not closed", ErrUnresolvedBranch, len(c.frames.frames))}
	}

	ret := c.result()
	for pc, in := range ret.Body {
		if in.Kind.isBranch() && in.Imm >= uint64(len(ret.Body)) {
			return nil, &TranslationError{FuncIndex: funcIndex, Offset: -1,
				Err: fmt.Errorf("%w: %s at %d", ErrUnresolvedBranch, in.Kind, pc)}
		}
	}
	if c.cfg.MaxFrameSlots != 0 && ret.FrameSize > c.cfg.MaxFrameSlots {
		return nil, &TranslationError{FuncIndex: funcIndex, Offset: -1,
			Err: fmt.Errorf("%w: %d slots exceed the limit of %d", ErrFrameTooLarge, ret.FrameSize, c.cfg.MaxFrameSlots)}
	}
	return ret, nil
}

func (c *compiler) result() *CompiledFunction {
	importedFuncs, _, _, _ := c.m.ImportCounts()
	return &CompiledFunction{
		Body:       c.body,
		Type:       c.sig,
		NumParams:  uint32(len(c.sig.Params)),
		NumLocals:  uint32(c.numLocals),
		NumResults: uint32(len(c.sig.Results)),
		FrameSize:  uint32(max(c.numLocals+c.maxHeight, len(c.sig.Results))),
		LocalTypes: c.m.CodeSection[c.funcIndex-importedFuncs].LocalTypes,
	}
}

// handleOperator translates one operator, emitting into c.body.
func (c *compiler) handleOperator(op wasm.Operator) error {
	if c.unreachableState.on {
		switch op.Opcode {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			c.unreachableState.depth++
			return nil
		case wasm.OpcodeElse:
			if c.unreachableState.depth > 0 {
				return nil
			}
			c.unreachableState.on = false
			return c.handleElse(false)
		case wasm.OpcodeEnd:
			if c.unreachableState.depth > 0 {
				c.unreachableState.depth--
				return nil
			}
			reachable, err := c.handleEnd(false)
			c.unreachableState.on = !reachable
			return err
		default:
			return nil
		}
	}

	switch oc := op.Opcode; oc {
	case wasm.OpcodeUnreachable:
		c.emit(Instruction{Kind: KindUnreachable})
		c.unreachableState.on = true
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock:
		return c.enterConstruct(controlFrameKindBlock, op.BlockType, condition{})
	case wasm.OpcodeLoop:
		return c.enterConstruct(controlFrameKindLoop, op.BlockType, condition{})
	case wasm.OpcodeIf:
		cond, err := c.popCondition(true)
		if err != nil {
			return err
		}
		return c.enterConstruct(controlFrameKindIfWithoutElse, op.BlockType, cond)
	case wasm.OpcodeElse:
		return c.handleElse(true)
	case wasm.OpcodeEnd:
		reachable, err := c.handleEnd(true)
		c.unreachableState.on = !reachable
		return err
	case wasm.OpcodeBr:
		if err := c.branchTo(op.Index); err != nil {
			return err
		}
		c.unreachableState.on = true
	case wasm.OpcodeBrIf:
		cond, err := c.popCondition(false)
		if err != nil {
			return err
		}
		if cond.known {
			if !cond.taken {
				return nil
			}
			if err = c.branchTo(op.Index); err == nil {
				c.unreachableState.on = true
			}
			return err
		}
		return c.branchIf(op.Index, cond)
	case wasm.OpcodeBrTable:
		if len(op.Targets) == 0 {
			return fmt.Errorf("%w: br_table without default", ErrInvalidOperator)
		}
		index, err := c.pop()
		if err != nil {
			return err
		}
		if index.kind == providerConst {
			last := uint64(len(op.Targets) - 1)
			i := uint64(uint32(index.value))
			if i > last {
				i = last
			}
			err = c.branchTo(op.Targets[i])
		} else {
			err = c.branchTable(op.Targets, c.slotOf(index))
		}
		c.unreachableState.on = true
		return err
	case wasm.OpcodeReturn:
		if err := c.emitReturn(); err != nil {
			return err
		}
		c.unreachableState.on = true
	case wasm.OpcodeCall:
		ft := c.m.TypeOfFunction(op.Index)
		if ft == nil {
			return fmt.Errorf("%w: unknown function %d", ErrInvalidOperator, op.Index)
		}
		return c.emitCall(Instruction{Kind: KindCall, U1: op.Index}, ft)
	case wasm.OpcodeCallIndirect:
		if op.Index >= wasm.Index(len(c.m.TypeSection)) {
			return fmt.Errorf("%w: unknown type %d", ErrInvalidOperator, op.Index)
		}
		if int(op.Index2) >= c.numTables {
			return fmt.Errorf("%w: unknown table %d", ErrInvalidOperator, op.Index2)
		}
		offset, err := c.pop()
		if err != nil {
			return err
		}
		in := Instruction{Kind: KindCallIndirect, A: c.slotOf(offset), U1: op.Index2, U2: op.Index}
		return c.emitCall(in, c.m.TypeSection[op.Index])

	case wasm.OpcodeDrop:
		_, err := c.pop()
		return err
	case wasm.OpcodeSelect, wasm.OpcodeTypedSelect:
		return c.emitSelect()

	case wasm.OpcodeLocalGet:
		if int(op.Index) >= c.numLocals {
			return fmt.Errorf("%w: unknown local %d", ErrInvalidOperator, op.Index)
		}
		c.push(provider{kind: providerLocal, local: op.Index})
	case wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		if int(op.Index) >= c.numLocals {
			return fmt.Errorf("%w: unknown local %d", ErrInvalidOperator, op.Index)
		}
		v, err := c.pop()
		if err != nil {
			return err
		}
		c.setLocal(op.Index, v)
		if oc == wasm.OpcodeLocalTee {
			if v.kind == providerConst {
				c.push(v.provider)
			} else {
				c.push(provider{kind: providerLocal, local: op.Index})
			}
		}
	case wasm.OpcodeGlobalGet:
		if int(op.Index) >= c.numGlobals {
			return fmt.Errorf("%w: unknown global %d", ErrInvalidOperator, op.Index)
		}
		c.emitProducer(Instruction{Kind: KindGlobalGet, R: c.pushTemp(), U1: op.Index})
	case wasm.OpcodeGlobalSet:
		if int(op.Index) >= c.numGlobals {
			return fmt.Errorf("%w: unknown global %d", ErrInvalidOperator, op.Index)
		}
		v, err := c.pop()
		if err != nil {
			return err
		}
		if v.kind == providerConst {
			c.emit(Instruction{Kind: KindGlobalSetImm, U1: op.Index, Imm: v.value})
		} else {
			c.emit(Instruction{Kind: KindGlobalSet, A: c.slotOf(v), U1: op.Index})
		}

	case wasm.OpcodeI32Const, wasm.OpcodeI64Const, wasm.OpcodeF32Const, wasm.OpcodeF64Const:
		c.push(provider{kind: providerConst, value: op.Value})
	case wasm.OpcodeRefNull:
		c.push(provider{kind: providerConst})
	case wasm.OpcodeRefIsNull:
		return c.emitIntUnary(KindI64Eqz)
	case wasm.OpcodeRefFunc:
		if op.Index >= c.numFuncs {
			return fmt.Errorf("%w: unknown function %d", ErrInvalidOperator, op.Index)
		}
		c.emitProducer(Instruction{Kind: KindRefFunc, R: c.pushTemp(), U1: op.Index})

	case wasm.OpcodeI32ReinterpretF32, wasm.OpcodeI64ReinterpretF64,
		wasm.OpcodeF32ReinterpretI32, wasm.OpcodeF64ReinterpretI64:
		// Values are untyped 64-bit words, so reinterpretation leaves the provider as is.
		if len(c.providers) == 0 {
			return fmt.Errorf("%w: operand stack underflow", ErrInvalidOperator)
		}

	default:
		if oc>>8 == wasm.OpcodeVecPrefix {
			return fmt.Errorf("%w: vector operators are not supported", ErrInvalidOperator)
		}
		if k, ok := loadKinds[oc]; ok {
			return c.emitLoad(k, op.MemArg)
		}
		if k, ok := storeKinds[oc]; ok {
			return c.emitStore(k, op.MemArg)
		}
		if b, ok := intBinops[oc]; ok {
			return c.emitIntBinop(b)
		}
		if k, ok := intUnaryKinds[oc]; ok {
			return c.emitIntUnary(k)
		}
		if k, ok := floatBinaryKinds[oc]; ok {
			return c.emitSlotBinary(k)
		}
		if k, ok := floatUnaryKinds[oc]; ok {
			return c.emitSlotUnary(k)
		}
		return c.handleMemoryOrTable(op)
	}
	return nil
}

// emitCall materializes the arguments in consecutive slots and emits the call. The callee frame starts at the first
// argument, so the results come back in place.
func (c *compiler) emitCall(in Instruction, ft *api.FunctionType) error {
	p := len(ft.Params)
	if p > len(c.providers) {
		return fmt.Errorf("%w: call arguments underflow the operand stack", ErrInvalidOperator)
	}
	base := len(c.providers) - p
	for h := base; h < len(c.providers); h++ {
		c.materialize(h)
	}
	in.R = c.tempSlot(base)
	if n := len(ft.Results); n > 0 {
		c.tempSlot(base + n - 1)
	}
	c.emit(in)
	c.resetProviders(base, make([]provider, len(ft.Results)))
	return nil
}

func (c *compiler) emitSelect() error {
	cond, err := c.pop()
	if err != nil {
		return err
	}
	v2, err := c.pop()
	if err != nil {
		return err
	}
	v1, err := c.pop()
	if err != nil {
		return err
	}
	if cond.kind == providerConst {
		chosen := v2
		if uint32(cond.value) != 0 {
			chosen = v1
		}
		c.pushOperandAt(chosen, v1.height)
		return nil
	}
	r := c.tempSlot(v1.height)
	in := Instruction{Kind: KindSelect, R: r, A: c.slotOf(v1), B: c.slotOf(v2), U1: c.slotOf(cond)}
	c.push(provider{})
	c.emitProducer(in)
	return nil
}

// setLocal writes the operand to the local. When the operand was just produced into its temporary slot, the producing
// instruction is retargeted to write the local directly.
func (c *compiler) setLocal(local Slot, v operand) {
	c.preserveLocal(local)
	switch v.kind {
	case providerConst:
		c.emit(Instruction{Kind: KindCopyImm, R: local, Imm: v.value})
	case providerLocal:
		if v.local != local {
			c.emit(Instruction{Kind: KindCopy, R: local, A: v.local})
		}
	case providerTemp:
		src := c.tempSlot(v.height)
		if last := c.lastProducer; last >= 0 && last == len(c.body)-1 && c.body[last].R == src {
			c.body[last].R = local
			c.lastProducer = -1
			return
		}
		c.emit(Instruction{Kind: KindCopy, R: local, A: src})
	}
}

// preserveLocal copies every pending read of the local into its temporary slot before the local is overwritten.
func (c *compiler) preserveLocal(local Slot) {
	for h, p := range c.providers {
		if p.kind == providerLocal && p.local == local {
			c.materialize(h)
		}
	}
}

// materializeLocals copies every pending read of a local into its temporary slot.
func (c *compiler) materializeLocals() {
	for h, p := range c.providers {
		if p.kind == providerLocal {
			c.materialize(h)
		}
	}
}

// materialize writes the operand at the height into its slot, turning it into a temporary.
func (c *compiler) materialize(h int) {
	switch p := c.providers[h]; p.kind {
	case providerLocal:
		c.emit(Instruction{Kind: KindCopy, R: c.tempSlot(h), A: p.local})
	case providerConst:
		c.emit(Instruction{Kind: KindCopyImm, R: c.tempSlot(h), Imm: p.value})
	default:
		return
	}
	c.providers[h] = provider{}
}

// slotOf returns the slot to read a popped operand from, writing a constant into its temporary slot first.
func (c *compiler) slotOf(v operand) Slot {
	switch v.kind {
	case providerLocal:
		return v.local
	case providerConst:
		slot := c.tempSlot(v.height)
		c.emit(Instruction{Kind: KindCopyImm, R: slot, Imm: v.value})
		return slot
	}
	return c.tempSlot(v.height)
}

func (c *compiler) tempSlot(height int) Slot {
	if height >= c.maxHeight {
		c.maxHeight = height + 1
	}
	return Slot(c.numLocals + height)
}

func (c *compiler) push(p provider) {
	c.providers = append(c.providers, p)
}

// pushTemp pushes a temporary and returns its slot.
func (c *compiler) pushTemp() Slot {
	c.push(provider{})
	return c.tempSlot(len(c.providers) - 1)
}

// pushOperandAt pushes a popped operand at the height, moving it if it is a temporary of another height.
func (c *compiler) pushOperandAt(v operand, height int) {
	if v.kind == providerTemp && v.height != height {
		c.emit(Instruction{Kind: KindCopy, R: c.tempSlot(height), A: c.tempSlot(v.height)})
	}
	c.push(v.provider)
}

func (c *compiler) pop() (operand, error) {
	n := len(c.providers)
	if n == 0 || n <= c.frames.top().height && c.frames.top().kind != controlFrameKindFunction {
		return operand{}, fmt.Errorf("%w: operand stack underflow", ErrInvalidOperator)
	}
	p := c.providers[n-1]
	c.providers = c.providers[:n-1]
	return operand{provider: p, height: n - 1}, nil
}

// emit appends the instruction and returns its index.
func (c *compiler) emit(in Instruction) int {
	c.body = append(c.body, in)
	c.lastProducer = -1
	return len(c.body) - 1
}

// emitProducer emits an instruction whose only effect is writing R.
func (c *compiler) emitProducer(in Instruction) {
	c.lastProducer = c.emit(in)
}

// bindLabel marks the next instruction as a branch target and returns its index.
func (c *compiler) bindLabel() int {
	c.lastProducer = -1
	return len(c.body)
}

// condition is how a branch tests an i32 condition.
type condition struct {
	// kind is KindBranchNez or KindBranchEqz: the branch taken when the condition holds.
	kind Kind
	slot Slot
	// known is true when the condition is a constant, then taken is its value.
	known, taken bool
}

// inverted returns the branch kind taken when the condition does not hold.
func (c condition) inverted() Kind {
	if c.kind == KindBranchEqz {
		return KindBranchNez
	}
	return KindBranchEqz
}

// popCondition pops an i32 condition. An i32.eqz which produced it is fused into the branch. A constant condition is
// only written to a slot when materializeConst is true.
func (c *compiler) popCondition(materializeConst bool) (condition, error) {
	v, err := c.pop()
	if err != nil {
		return condition{}, err
	}
	switch v.kind {
	case providerConst:
		if materializeConst {
			return condition{kind: KindBranchNez, slot: c.slotOf(v)}, nil
		}
		return condition{kind: KindBranchNez, known: true, taken: uint32(v.value) != 0}, nil
	case providerTemp:
		if last := c.lastProducer; last >= 0 && last == len(c.body)-1 &&
			c.body[last].Kind == KindI32Eqz && c.body[last].R == c.tempSlot(v.height) {
			operandSlot := c.body[last].A
			c.body = c.body[:last]
			c.lastProducer = -1
			return condition{kind: KindBranchEqz, slot: operandSlot}, nil
		}
	}
	return condition{kind: KindBranchNez, slot: c.slotOf(v)}, nil
}
