package slotir

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
)

type controlFrameKind byte

const (
	controlFrameKindFunction controlFrameKind = iota
	controlFrameKindBlock
	controlFrameKindLoop
	controlFrameKindIfWithoutElse
	controlFrameKindIfWithElse
)

type (
	controlFrame struct {
		kind      controlFrameKind
		blockType *api.FunctionType
		// height is the operand stack height below the parameters of the construct.
		height int
		// params are the providers of the parameters at entry, restored on else.
		params []provider
		// header is the first instruction of a loop.
		header int
		// fixups are the instructions which jump to the end of this construct.
		fixups []int
		// elseFixup is the conditional branch of an if which jumps to its else, or -1.
		elseFixup int
	}
	controlFrames struct{ frames []*controlFrame }
)

// labelArity is the count of values a branch to this frame carries.
func (f *controlFrame) labelArity() int {
	if f.kind == controlFrameKindLoop {
		return len(f.blockType.Params)
	}
	return len(f.blockType.Results)
}

func (c *controlFrames) functionFrame() *controlFrame {
	return c.frames[0]
}

// get returns the frame at the label depth or nil if out of range.
func (c *controlFrames) get(depth uint32) *controlFrame {
	if int(depth) >= len(c.frames) {
		return nil
	}
	return c.frames[len(c.frames)-int(depth)-1]
}

func (c *controlFrames) top() *controlFrame {
	return c.frames[len(c.frames)-1]
}

func (c *controlFrames) empty() bool {
	return len(c.frames) == 0
}

func (c *controlFrames) pop() (frame *controlFrame) {
	frame = c.top()
	c.frames = c.frames[:len(c.frames)-1]
	return
}

func (c *controlFrames) push(frame *controlFrame) {
	c.frames = append(c.frames, frame)
}

var emptyBlockType = &api.FunctionType{}

// enterConstruct handles block, loop and if. The condition of an if was already consumed into cond.
func (c *compiler) enterConstruct(kind controlFrameKind, bt *api.FunctionType, cond condition) error {
	if bt == nil {
		bt = emptyBlockType
	}
	p := len(bt.Params)
	if p > len(c.providers) {
		return fmt.Errorf("%w: block parameters underflow the operand stack", ErrInvalidOperator)
	}

	// Pending local reads never cross a construct boundary, so a local.set inside never needs to preserve them.
	c.materializeLocals()

	frame := &controlFrame{kind: kind, blockType: bt, height: len(c.providers) - p, elseFixup: -1}
	switch kind {
	case controlFrameKindLoop:
		// Back edges write the parameters into their slots, so they must live there.
		for h := frame.height; h < len(c.providers); h++ {
			c.materialize(h)
		}
		frame.header = c.bindLabel()
	case controlFrameKindIfWithoutElse:
		frame.elseFixup = c.emit(Instruction{Kind: cond.inverted(), A: cond.slot, Imm: unresolvedTarget})
	}
	frame.params = append([]provider(nil), c.providers[frame.height:]...)
	c.frames.push(frame)
	return nil
}

// handleElse closes the then-arm of the innermost if.
func (c *compiler) handleElse(reachable bool) error {
	frame := c.frames.top()
	if frame.kind != controlFrameKindIfWithoutElse {
		return fmt.Errorf("%w: else without if", ErrInvalidOperator)
	}
	if reachable {
		if err := c.fallthroughResults(frame); err != nil {
			return err
		}
		frame.fixups = append(frame.fixups, c.emit(Instruction{Kind: KindBranch, Imm: unresolvedTarget}))
	}
	c.patch(frame.elseFixup, c.bindLabel())
	frame.elseFixup = -1
	frame.kind = controlFrameKindIfWithElse
	c.resetProviders(frame.height, frame.params)
	return nil
}

// handleEnd closes the innermost construct. It returns true when the code after it is reachable.
func (c *compiler) handleEnd(reachable bool) (bool, error) {
	frame := c.frames.top()
	if frame.kind == controlFrameKindFunction {
		c.frames.pop()
		if reachable {
			return false, c.emitReturn()
		}
		return false, nil
	}

	if frame.kind == controlFrameKindIfWithoutElse && frame.elseFixup >= 0 {
		// The implicit else passes the parameters through as results. Only constants need to be written.
		needsElse := false
		for _, p := range frame.params {
			if p.kind != providerTemp {
				needsElse = true
			}
		}
		if needsElse {
			if err := c.handleElse(reachable); err != nil {
				return false, err
			}
			reachable = true
		} else {
			if reachable {
				if err := c.fallthroughResults(frame); err != nil {
					return false, err
				}
			}
			frame.fixups = append(frame.fixups, frame.elseFixup)
			frame.elseFixup = -1
			c.resetProviders(frame.height, frame.params)
			reachable = true
		}
	}

	c.frames.pop()
	if reachable {
		if err := c.fallthroughResults(frame); err != nil {
			return false, err
		}
	}
	if len(frame.fixups) > 0 {
		end := c.bindLabel()
		for _, pc := range frame.fixups {
			c.patch(pc, end)
		}
		reachable = true
	}

	results := make([]provider, len(frame.blockType.Results))
	c.resetProviders(frame.height, results)
	return reachable, nil
}

// fallthroughResults places the results of the frame in their slots at the end of a reachable arm.
func (c *compiler) fallthroughResults(frame *controlFrame) error {
	n := len(frame.blockType.Results)
	if len(c.providers) != frame.height+n {
		return fmt.Errorf("%w: operand stack height %d at the end of a construct expecting %d",
			ErrInvalidOperator, len(c.providers), frame.height+n)
	}
	for h := frame.height; h < len(c.providers); h++ {
		c.materialize(h)
	}
	return nil
}

// resetProviders truncates the operand stack to height and pushes the given providers.
func (c *compiler) resetProviders(height int, ps []provider) {
	c.providers = append(c.providers[:height], ps...)
}

// branchTo emits an unconditional branch to the label at the depth, carrying the values it expects.
func (c *compiler) branchTo(depth uint32) error {
	frame := c.frames.get(depth)
	if frame == nil {
		return fmt.Errorf("%w: label depth %d out of range", ErrInvalidOperator, depth)
	}
	if frame.kind == controlFrameKindFunction {
		return c.emitReturn()
	}
	arity := frame.labelArity()
	if arity > len(c.providers) {
		return fmt.Errorf("%w: branch values underflow the operand stack", ErrInvalidOperator)
	}
	c.emitTransfer(frame.height, arity)
	c.emitJump(KindBranch, 0, frame)
	return nil
}

// branchIf emits a branch to the label at the depth taken on the condition.
func (c *compiler) branchIf(depth uint32, cond condition) error {
	frame := c.frames.get(depth)
	if frame == nil {
		return fmt.Errorf("%w: label depth %d out of range", ErrInvalidOperator, depth)
	}
	if frame.kind != controlFrameKindFunction && !c.needsTransfer(frame.height, frame.labelArity()) {
		c.emitJump(cond.kind, cond.slot, frame)
		return nil
	}

	// Values have to be moved on the taken path only, so jump over the moves when not taken.
	skip := c.emit(Instruction{Kind: cond.inverted(), A: cond.slot, Imm: unresolvedTarget})
	if err := c.branchTo(depth); err != nil {
		return err
	}
	c.patch(skip, c.bindLabel())
	return nil
}

// branchTable emits a BranchTable followed by its jump table. Arms which need to move values go through a
// trampoline emitted after the table.
func (c *compiler) branchTable(targets []uint32, index Slot) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: br_table without default", ErrInvalidOperator)
	}
	c.emit(Instruction{Kind: KindBranchTable, A: index, U1: uint32(len(targets) - 1)})

	var trampolineDepths []uint32
	pending := map[uint32][]int{}
	for _, depth := range targets {
		frame := c.frames.get(depth)
		if frame == nil {
			return fmt.Errorf("%w: label depth %d out of range", ErrInvalidOperator, depth)
		}
		if frame.kind != controlFrameKindFunction && !c.needsTransfer(frame.height, frame.labelArity()) {
			c.emitJump(KindBranch, 0, frame)
			continue
		}
		if _, ok := pending[depth]; !ok {
			trampolineDepths = append(trampolineDepths, depth)
		}
		pending[depth] = append(pending[depth], c.emit(Instruction{Kind: KindBranch, Imm: unresolvedTarget}))
	}

	for _, depth := range trampolineDepths {
		pc := c.bindLabel()
		for _, entry := range pending[depth] {
			c.patch(entry, pc)
		}
		if err := c.branchTo(depth); err != nil {
			return err
		}
	}
	return nil
}

// emitJump emits a branch to the frame's label: loops resolve immediately, other frames record a fix-up.
func (c *compiler) emitJump(kind Kind, cond Slot, frame *controlFrame) {
	if frame.kind == controlFrameKindLoop {
		c.emit(Instruction{Kind: kind, A: cond, Imm: uint64(frame.header)})
		return
	}
	frame.fixups = append(frame.fixups, c.emit(Instruction{Kind: kind, A: cond, Imm: unresolvedTarget}))
}

// emitTransfer copies the top n operands into the slots starting at the height. Copies run in ascending order, which
// is safe as a destination is never above its source.
func (c *compiler) emitTransfer(height, n int) {
	base := len(c.providers) - n
	for i := 0; i < n; i++ {
		src, dst := base+i, c.tempSlot(height+i)
		switch p := c.providers[src]; p.kind {
		case providerTemp:
			if src != height+i {
				c.emit(Instruction{Kind: KindCopy, R: dst, A: c.tempSlot(src)})
			}
		case providerLocal:
			c.emit(Instruction{Kind: KindCopy, R: dst, A: p.local})
		case providerConst:
			c.emit(Instruction{Kind: KindCopyImm, R: dst, Imm: p.value})
		}
	}
}

// needsTransfer returns true if emitTransfer(height, n) would emit anything.
func (c *compiler) needsTransfer(height, n int) bool {
	base := len(c.providers) - n
	for i := 0; i < n; i++ {
		if p := c.providers[base+i]; p.kind != providerTemp || base+i != height+i {
			return true
		}
	}
	return false
}

// emitReturn returns the top operands as the function results. The operand stack is left untouched as the return may
// be conditional.
func (c *compiler) emitReturn() error {
	n := len(c.sig.Results)
	if n > len(c.providers) {
		return fmt.Errorf("%w: results underflow the operand stack", ErrInvalidOperator)
	}
	switch n {
	case 0:
		c.emit(Instruction{Kind: KindReturnNone})
	case 1:
		top := len(c.providers) - 1
		switch p := c.providers[top]; p.kind {
		case providerTemp:
			c.emit(Instruction{Kind: KindReturnSlot, A: c.tempSlot(top)})
		case providerLocal:
			c.emit(Instruction{Kind: KindReturnSlot, A: p.local})
		case providerConst:
			c.emit(Instruction{Kind: KindReturnImm, Imm: p.value})
		}
	default:
		base := len(c.providers) - n
		c.emitTransfer(base, n)
		c.emit(Instruction{Kind: KindReturnSpan, A: c.tempSlot(base), U1: uint32(n)})
	}
	return nil
}

// patch resolves the branch at pc to the target.
func (c *compiler) patch(pc, target int) {
	c.body[pc].Imm = uint64(target)
}
