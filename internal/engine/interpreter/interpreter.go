// Package interpreter executes slotir.CompiledFunction bodies against an internalwasm.Store.
package interpreter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/logging"
	"github.com/wasmslot/wasmslot/internal/metrics"
	"github.com/wasmslot/wasmslot/internal/moremath"
	"github.com/wasmslot/wasmslot/internal/slotir"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
	"github.com/wasmslot/wasmslot/internal/wasmruntime"
)

const (
	// DefaultMaxCallDepth is the call depth over which a call chain traps with api.TrapCodeCallStackExhausted.
	DefaultMaxCallDepth = 2000
	// DefaultMaxValueStackSlots is the count of value stack slots over which a call chain traps with
	// api.TrapCodeCallStackExhausted.
	DefaultMaxValueStackSlots = 1 << 22

	initialValueStackSlots = 256
)

// Config are the limits and hooks of an engine. Zero values select the defaults.
type Config struct {
	MaxCallDepth       int
	MaxValueStackSlots int
	// YieldInterval is the count of instructions between two checks of the context and YieldHook. Zero disables the
	// checks.
	YieldInterval uint64
	// YieldHook is called at each check. Returning an error unwinds the call chain with api.TrapCodeInterrupted.
	YieldHook func(ctx context.Context) error
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// engine implements internalwasm.Engine. It holds no state of its own besides its configuration: each call chain
// gets a callEngine.
type engine struct {
	maxCallDepth       int
	maxValueStackSlots int
	yieldInterval      uint64
	yieldHook          func(ctx context.Context) error
	logger             *zap.Logger
	metrics            *metrics.Metrics
}

// NewEngine returns an interpreter honoring the limits of the config.
func NewEngine(cfg Config) internalwasm.Engine {
	e := &engine{
		maxCallDepth:       cfg.MaxCallDepth,
		maxValueStackSlots: cfg.MaxValueStackSlots,
		yieldInterval:      cfg.YieldInterval,
		yieldHook:          cfg.YieldHook,
		logger:             logging.OrNop(cfg.Logger),
		metrics:            cfg.Metrics,
	}
	if e.maxCallDepth <= 0 {
		e.maxCallDepth = DefaultMaxCallDepth
	}
	if e.maxValueStackSlots <= 0 {
		e.maxValueStackSlots = DefaultMaxValueStackSlots
	}
	return e
}

// Call implements internalwasm.Engine.
func (e *engine) Call(ctx context.Context, s *internalwasm.Store, f *internalwasm.FunctionInstance, params []uint64) ([]uint64, error) {
	e.metrics.Invoked()
	ce := &callEngine{e: e, s: s}
	results, err := ce.call(ctx, f, params)
	if err != nil {
		var trap *api.Trap
		if errors.As(err, &trap) {
			e.metrics.Trapped(trap.Code)
			e.logger.Debug("trap", logging.Function(f.Index, f.Name), logging.TrapCode(trap.Code),
				logging.Backtrace(trap.Backtrace))
		}
		return nil, err
	}
	return results, nil
}

// callEngine holds the state of one call chain. Host functions re-entering the engine through api.Caller share it,
// so the call depth and value stack limits apply to the whole chain.
type callEngine struct {
	e *engine
	s *internalwasm.Store

	// stack is the value stack. Each frame addresses its slots relative to its base.
	stack  []uint64
	frames []callFrame

	// sinceYield counts the instructions executed since the last yield check.
	sinceYield uint64
}

type callFrame struct {
	f *internalwasm.FunctionInstance
	// mi is the instance of f, or nil for a host function.
	mi *internalwasm.ModuleInstance
	// pc is the index in f.Code.Body to resume at once the callee of this frame returns.
	pc int
	// base is the index of slot 0 of this frame in the value stack, end the index past its last slot.
	base, end int
}

// call runs f on top of the live frames of the chain and returns its results. A trap unwinds only the frames pushed by
// this call and is returned as an *api.Trap.
func (ce *callEngine) call(ctx context.Context, f *internalwasm.FunctionInstance, params []uint64) (results []uint64, err error) {
	entry := len(ce.frames)
	base := 0
	if entry > 0 {
		base = ce.frames[entry-1].end
	}

	defer func() {
		if v := recover(); v != nil {
			err = ce.unwind(v, entry)
		}
	}()

	ce.ensureStack(base + len(params))
	copy(ce.stack[base:], params)
	if f.Host != nil {
		var caller *internalwasm.ModuleInstance
		if entry > 0 {
			caller = ce.frames[entry-1].mi
		}
		ce.callHost(ctx, f, base, caller)
	} else {
		ce.pushFrame(f, base)
		ce.run(ctx, entry)
	}

	results = make([]uint64, len(f.Type.Results))
	copy(results, ce.stack[base:])
	return results, nil
}

// unwind turns the recovered panic value into a trap, dropping the frames pushed since entry.
func (ce *callEngine) unwind(v any, entry int) error {
	backtrace := make([]string, 0, len(ce.frames)-entry)
	for i := len(ce.frames) - 1; i >= entry; i-- {
		backtrace = append(backtrace, ce.frames[i].f.Name)
	}
	ce.frames = ce.frames[:entry]

	var trap *api.Trap
	switch v := v.(type) {
	case *wasmruntime.Error:
		trap = &api.Trap{Code: v.Code()}
	case *api.Trap:
		// A host may return the same trap from every call.
		cp := *v
		cp.Backtrace = slices.Clone(v.Backtrace)
		trap = &cp
	default:
		// Anything else is a defect of the engine or a panicking host function, not a trap.
		panic(v)
	}
	trap.Backtrace = append(trap.Backtrace, backtrace...)
	return trap
}

// ensureStack grows the value stack to at least n slots, doubling its size.
func (ce *callEngine) ensureStack(n int) {
	if n <= len(ce.stack) {
		return
	}
	limit := ce.e.maxValueStackSlots
	if n > limit {
		panic(wasmruntime.ErrRuntimeStackOverflow)
	}
	size := max(2*len(ce.stack), n, initialValueStackSlots)
	stack := make([]uint64, min(size, limit))
	copy(stack, ce.stack)
	ce.stack = stack
}

func (ce *callEngine) checkDepth() {
	if len(ce.frames) >= ce.e.maxCallDepth {
		panic(wasmruntime.ErrRuntimeStackOverflow)
	}
}

// pushFrame enters a function defined in a module, whose parameters are already in the slots starting at base.
func (ce *callEngine) pushFrame(f *internalwasm.FunctionInstance, base int) {
	ce.checkDepth()
	code := f.Code
	end := base + int(code.FrameSize)
	ce.ensureStack(end)
	clear(ce.stack[base+int(code.NumParams) : base+int(code.NumLocals)])
	ce.frames = append(ce.frames, callFrame{f: f, mi: ce.s.Instances[f.Module], base: base, end: end})
}

// yield checks the context and calls the yield hook.
func (ce *callEngine) yield(ctx context.Context) {
	select {
	case <-ctx.Done():
		cause := context.Cause(ctx)
		panic(&api.Trap{Code: api.TrapCodeInterrupted, Diagnostic: cause.Error(), Cause: cause})
	default:
	}
	if hook := ce.e.yieldHook; hook != nil {
		if err := hook(ctx); err != nil {
			panic(&api.Trap{Code: api.TrapCodeInterrupted, Diagnostic: err.Error(), Cause: err})
		}
	}
}

// run executes the top frame until the frame at depth entry returns.
func (ce *callEngine) run(ctx context.Context, entry int) {
	s := ce.s
	var (
		fr   *callFrame
		body []slotir.Instruction
		regs []uint64
		mi   *internalwasm.ModuleInstance
		pc   int
	)
	// reload switches to the top frame, after a call or a return.
	reload := func() {
		fr = &ce.frames[len(ce.frames)-1]
		body = fr.f.Code.Body
		regs = ce.stack[fr.base:]
		mi = fr.mi
		pc = fr.pc
	}
	// enter calls the function with its arguments starting at slot r of the current frame.
	enter := func(callee *internalwasm.FunctionInstance, r slotir.Slot) {
		fr.pc = pc + 1
		if callee.Host != nil {
			ce.callHost(ctx, callee, fr.base+int(r), mi)
		} else {
			ce.pushFrame(callee, fr.base+int(r))
		}
		reload()
	}
	reload()

	for {
		if s.FuelEnabled {
			if s.Fuel == 0 {
				panic(wasmruntime.ErrRuntimeOutOfFuel)
			}
			s.Fuel--
		}
		if ce.e.yieldInterval != 0 {
			if ce.sinceYield++; ce.sinceYield >= ce.e.yieldInterval {
				ce.sinceYield = 0
				ce.yield(ctx)
			}
		}

		in := &body[pc]
		switch in.Kind {
		case slotir.KindUnreachable:
			panic(wasmruntime.ErrRuntimeUnreachable)
		case slotir.KindTrap:
			panic(wasmruntime.ForCode(api.TrapCode(in.U1)))
		case slotir.KindBranch:
			pc = int(in.Imm)
			continue
		case slotir.KindBranchEqz:
			if uint32(regs[in.A]) == 0 {
				pc = int(in.Imm)
				continue
			}
		case slotir.KindBranchNez:
			if uint32(regs[in.A]) != 0 {
				pc = int(in.Imm)
				continue
			}
		case slotir.KindBranchTable:
			// The jump table follows: its entry i is the Branch at pc+1+i.
			pc += 1 + int(min(uint32(regs[in.A]), in.U1))
			continue

		case slotir.KindReturnNone, slotir.KindReturnSlot, slotir.KindReturnImm, slotir.KindReturnSpan:
			switch in.Kind {
			case slotir.KindReturnSlot:
				regs[0] = regs[in.A]
			case slotir.KindReturnImm:
				regs[0] = in.Imm
			case slotir.KindReturnSpan:
				copy(regs[:in.U1], regs[in.A:in.A+in.U1])
			}
			ce.frames = ce.frames[:len(ce.frames)-1]
			if len(ce.frames) == entry {
				return
			}
			reload()
			continue
		case slotir.KindCall:
			enter(mi.Functions[in.U1], in.R)
			continue
		case slotir.KindCallIndirect:
			refs := mi.Tables[in.U1].References
			offset := uint32(regs[in.A])
			if uint64(offset) >= uint64(len(refs)) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			ref := refs[offset]
			if ref == 0 {
				panic(wasmruntime.ErrRuntimeUninitializedElement)
			}
			callee := s.Functions[ref-1]
			if callee.TypeID != mi.TypeIDs[in.U2] {
				panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
			}
			enter(callee, in.R)
			continue

		case slotir.KindCopy:
			regs[in.R] = regs[in.A]
		case slotir.KindCopyImm:
			regs[in.R] = in.Imm
		case slotir.KindSelect:
			if uint32(regs[in.U1]) != 0 {
				regs[in.R] = regs[in.A]
			} else {
				regs[in.R] = regs[in.B]
			}
		case slotir.KindGlobalGet:
			regs[in.R] = mi.Globals[in.U1].Val
		case slotir.KindGlobalSet:
			mi.Globals[in.U1].Val = regs[in.A]
		case slotir.KindGlobalSetImm:
			mi.Globals[in.U1].Val = in.Imm

		case slotir.KindI32Load, slotir.KindF32Load, slotir.KindI64Load32U:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 4)
			regs[in.R] = uint64(binary.LittleEndian.Uint32(buf))
		case slotir.KindI64Load, slotir.KindF64Load:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 8)
			regs[in.R] = binary.LittleEndian.Uint64(buf)
		case slotir.KindI32Load8S:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 1)
			regs[in.R] = uint64(uint32(int32(int8(buf[0]))))
		case slotir.KindI32Load8U, slotir.KindI64Load8U:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 1)
			regs[in.R] = uint64(buf[0])
		case slotir.KindI32Load16S:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 2)
			regs[in.R] = uint64(uint32(int32(int16(binary.LittleEndian.Uint16(buf)))))
		case slotir.KindI32Load16U, slotir.KindI64Load16U:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 2)
			regs[in.R] = uint64(binary.LittleEndian.Uint16(buf))
		case slotir.KindI64Load8S:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 1)
			regs[in.R] = uint64(int64(int8(buf[0])))
		case slotir.KindI64Load16S:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 2)
			regs[in.R] = uint64(int64(int16(binary.LittleEndian.Uint16(buf))))
		case slotir.KindI64Load32S:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 4)
			regs[in.R] = uint64(int64(int32(binary.LittleEndian.Uint32(buf))))

		case slotir.KindI32Store, slotir.KindF32Store, slotir.KindI64Store32:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 4)
			binary.LittleEndian.PutUint32(buf, uint32(regs[in.B]))
		case slotir.KindI32StoreImm, slotir.KindI64Store32Imm:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 4)
			binary.LittleEndian.PutUint32(buf, in.U2)
		case slotir.KindI64Store, slotir.KindF64Store:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 8)
			binary.LittleEndian.PutUint64(buf, regs[in.B])
		case slotir.KindI64StoreImm:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 8)
			binary.LittleEndian.PutUint64(buf, uint64(int64(int32(in.U2))))
		case slotir.KindI32Store8, slotir.KindI64Store8:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 1)
			buf[0] = byte(regs[in.B])
		case slotir.KindI32Store8Imm, slotir.KindI64Store8Imm:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 1)
			buf[0] = byte(in.U2)
		case slotir.KindI32Store16, slotir.KindI64Store16:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 2)
			binary.LittleEndian.PutUint16(buf, uint16(regs[in.B]))
		case slotir.KindI32Store16Imm, slotir.KindI64Store16Imm:
			buf := load(mi.Memories[in.U1], regs[in.A], in.Imm, 2)
			binary.LittleEndian.PutUint16(buf, uint16(in.U2))

		case slotir.KindMemorySize:
			regs[in.R] = mi.Memories[in.U1].Pages()
		case slotir.KindMemoryGrow:
			mem := mi.Memories[in.U1]
			regs[in.R] = mem.GrowResult(address(mem, regs[in.A]))
		case slotir.KindMemoryFill:
			mem := mi.Memories[in.U1]
			buf := load(mem, regs[in.R], 0, address(mem, regs[in.B]))
			value := byte(regs[in.A])
			for i := range buf {
				buf[i] = value
			}
		case slotir.KindMemoryCopy:
			dst, src := mi.Memories[in.U1], mi.Memories[in.U2]
			n := regs[in.B]
			if !dst.Is64 || !src.Is64 {
				n = uint64(uint32(n))
			}
			to := load(dst, regs[in.R], 0, n)
			from := load(src, regs[in.A], 0, n)
			copy(to, from)
		case slotir.KindMemoryInit:
			data := mi.DataInstances[in.U1]
			from, n := uint64(uint32(regs[in.A])), uint64(uint32(regs[in.B]))
			to := load(mi.Memories[in.U2], regs[in.R], 0, n)
			if from+n > uint64(len(data)) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			copy(to, data[from:])
		case slotir.KindDataDrop:
			mi.DataInstances[in.U1] = nil

		case slotir.KindTableGet:
			regs[in.R] = tableRange(mi.Tables[in.U1].References, regs[in.A], 1)[0]
		case slotir.KindTableSet:
			tableRange(mi.Tables[in.U1].References, regs[in.A], 1)[0] = regs[in.B]
		case slotir.KindTableSize:
			regs[in.R] = uint64(len(mi.Tables[in.U1].References))
		case slotir.KindTableGrow:
			if prev, ok := mi.Tables[in.U1].Grow(uint32(regs[in.B]), regs[in.A]); ok {
				regs[in.R] = uint64(prev)
			} else {
				regs[in.R] = math.MaxUint32
			}
		case slotir.KindTableFill:
			refs := tableRange(mi.Tables[in.U1].References, regs[in.R], regs[in.B])
			value := regs[in.A]
			for i := range refs {
				refs[i] = value
			}
		case slotir.KindTableCopy:
			n := regs[in.B]
			to := tableRange(mi.Tables[in.U1].References, regs[in.R], n)
			from := tableRange(mi.Tables[in.U2].References, regs[in.A], n)
			copy(to, from)
		case slotir.KindTableInit:
			n := regs[in.B]
			to := tableRange(mi.Tables[in.U2].References, regs[in.R], n)
			from := tableRange(mi.ElementInstances[in.U1], regs[in.A], n)
			copy(to, from)
		case slotir.KindElemDrop:
			mi.ElementInstances[in.U1] = nil
		case slotir.KindRefFunc:
			regs[in.R] = uint64(mi.Functions[in.U1].Index) + 1

		default:
			if base, form, ok := in.Kind.IntBinop(); ok {
				var x, y uint64
				switch form {
				case slotir.IntBinopFormSlots:
					x, y = regs[in.A], regs[in.B]
				case slotir.IntBinopFormImm:
					x, y = regs[in.A], in.Imm
				default:
					x, y = in.Imm, regs[in.A]
				}
				v, code, trapped := slotir.EvalIntBinop(base, x, y)
				if trapped {
					panic(wasmruntime.ForCode(code))
				}
				regs[in.R] = v
			} else if in.Kind.IsIntUnary() {
				regs[in.R] = slotir.EvalIntUnary(in.Kind, regs[in.A])
			} else {
				regs[in.R] = evalFloat(in.Kind, regs[in.A], regs[in.B])
			}
		}
		pc++
	}
}

// address reads an address or a length of the memory's index type.
func address(mem *internalwasm.MemoryInstance, v uint64) uint64 {
	if mem.Is64 {
		return v
	}
	return uint64(uint32(v))
}

// load returns the size bytes of the memory at the effective address base+offset, computed without wrapping, or
// traps with api.TrapCodeMemoryOutOfBounds.
func load(mem *internalwasm.MemoryInstance, base, offset, size uint64) []byte {
	ea := address(mem, base) + offset
	memSize := uint64(len(mem.Buffer))
	if ea < offset || size > memSize || ea > memSize-size {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return mem.Buffer[ea : ea+size : ea+size]
}

// tableRange returns the n references starting at the i32 offset, or traps with api.TrapCodeTableOutOfBounds.
func tableRange(refs []uint64, offset, n uint64) []uint64 {
	start, length := uint64(uint32(offset)), uint64(uint32(n))
	if start+length > uint64(len(refs)) {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	return refs[start : start+length]
}

// evalFloat evaluates a float operation or a conversion involving floats. Unary operations ignore y.
func evalFloat(k slotir.Kind, x, y uint64) uint64 {
	switch k {
	case slotir.KindF32Abs:
		return x & 0x7fff_ffff
	case slotir.KindF32Neg:
		return uint64(uint32(x) ^ 0x8000_0000)
	case slotir.KindF32Copysign:
		return uint64(uint32(x)&0x7fff_ffff | uint32(y)&0x8000_0000)
	case slotir.KindF32Ceil:
		return moremath.F32Bits(float32(math.Ceil(float64(f32(x)))))
	case slotir.KindF32Floor:
		return moremath.F32Bits(float32(math.Floor(float64(f32(x)))))
	case slotir.KindF32Trunc:
		return moremath.F32Bits(float32(math.Trunc(float64(f32(x)))))
	case slotir.KindF32Nearest:
		return moremath.F32Bits(moremath.WasmCompatNearestF32(f32(x)))
	case slotir.KindF32Sqrt:
		return moremath.F32Bits(float32(math.Sqrt(float64(f32(x)))))
	case slotir.KindF32Add:
		return moremath.F32Bits(f32(x) + f32(y))
	case slotir.KindF32Sub:
		return moremath.F32Bits(f32(x) - f32(y))
	case slotir.KindF32Mul:
		return moremath.F32Bits(f32(x) * f32(y))
	case slotir.KindF32Div:
		return moremath.F32Bits(f32(x) / f32(y))
	case slotir.KindF32Min:
		return moremath.F32Bits(float32(moremath.WasmCompatMin(float64(f32(x)), float64(f32(y)))))
	case slotir.KindF32Max:
		return moremath.F32Bits(float32(moremath.WasmCompatMax(float64(f32(x)), float64(f32(y)))))
	case slotir.KindF32Eq:
		return b2u(f32(x) == f32(y))
	case slotir.KindF32Ne:
		return b2u(f32(x) != f32(y))
	case slotir.KindF32Lt:
		return b2u(f32(x) < f32(y))
	case slotir.KindF32Gt:
		return b2u(f32(x) > f32(y))
	case slotir.KindF32Le:
		return b2u(f32(x) <= f32(y))
	case slotir.KindF32Ge:
		return b2u(f32(x) >= f32(y))

	case slotir.KindF64Abs:
		return x & 0x7fff_ffff_ffff_ffff
	case slotir.KindF64Neg:
		return x ^ 0x8000_0000_0000_0000
	case slotir.KindF64Copysign:
		return x&0x7fff_ffff_ffff_ffff | y&0x8000_0000_0000_0000
	case slotir.KindF64Ceil:
		return moremath.F64Bits(math.Ceil(f64(x)))
	case slotir.KindF64Floor:
		return moremath.F64Bits(math.Floor(f64(x)))
	case slotir.KindF64Trunc:
		return moremath.F64Bits(math.Trunc(f64(x)))
	case slotir.KindF64Nearest:
		return moremath.F64Bits(moremath.WasmCompatNearestF64(f64(x)))
	case slotir.KindF64Sqrt:
		return moremath.F64Bits(math.Sqrt(f64(x)))
	case slotir.KindF64Add:
		return moremath.F64Bits(f64(x) + f64(y))
	case slotir.KindF64Sub:
		return moremath.F64Bits(f64(x) - f64(y))
	case slotir.KindF64Mul:
		return moremath.F64Bits(f64(x) * f64(y))
	case slotir.KindF64Div:
		return moremath.F64Bits(f64(x) / f64(y))
	case slotir.KindF64Min:
		return moremath.F64Bits(moremath.WasmCompatMin(f64(x), f64(y)))
	case slotir.KindF64Max:
		return moremath.F64Bits(moremath.WasmCompatMax(f64(x), f64(y)))
	case slotir.KindF64Eq:
		return b2u(f64(x) == f64(y))
	case slotir.KindF64Ne:
		return b2u(f64(x) != f64(y))
	case slotir.KindF64Lt:
		return b2u(f64(x) < f64(y))
	case slotir.KindF64Gt:
		return b2u(f64(x) > f64(y))
	case slotir.KindF64Le:
		return b2u(f64(x) <= f64(y))
	case slotir.KindF64Ge:
		return b2u(f64(x) >= f64(y))

	case slotir.KindI32TruncF32S:
		return uint64(uint32(trunc(moremath.TruncI32, float64(f32(x)))))
	case slotir.KindI32TruncF64S:
		return uint64(uint32(trunc(moremath.TruncI32, f64(x))))
	case slotir.KindI32TruncF32U:
		return uint64(trunc(moremath.TruncU32, float64(f32(x))))
	case slotir.KindI32TruncF64U:
		return uint64(trunc(moremath.TruncU32, f64(x)))
	case slotir.KindI64TruncF32S:
		return uint64(trunc(moremath.TruncI64, float64(f32(x))))
	case slotir.KindI64TruncF64S:
		return uint64(trunc(moremath.TruncI64, f64(x)))
	case slotir.KindI64TruncF32U:
		return trunc(moremath.TruncU64, float64(f32(x)))
	case slotir.KindI64TruncF64U:
		return trunc(moremath.TruncU64, f64(x))
	case slotir.KindI32TruncSatF32S:
		return uint64(uint32(moremath.TruncSatI32(float64(f32(x)))))
	case slotir.KindI32TruncSatF64S:
		return uint64(uint32(moremath.TruncSatI32(f64(x))))
	case slotir.KindI32TruncSatF32U:
		return uint64(moremath.TruncSatU32(float64(f32(x))))
	case slotir.KindI32TruncSatF64U:
		return uint64(moremath.TruncSatU32(f64(x)))
	case slotir.KindI64TruncSatF32S:
		return uint64(moremath.TruncSatI64(float64(f32(x))))
	case slotir.KindI64TruncSatF64S:
		return uint64(moremath.TruncSatI64(f64(x)))
	case slotir.KindI64TruncSatF32U:
		return moremath.TruncSatU64(float64(f32(x)))
	case slotir.KindI64TruncSatF64U:
		return moremath.TruncSatU64(f64(x))

	case slotir.KindF32ConvertI32S:
		return uint64(math.Float32bits(float32(int32(x))))
	case slotir.KindF32ConvertI32U:
		return uint64(math.Float32bits(float32(uint32(x))))
	case slotir.KindF32ConvertI64S:
		return uint64(math.Float32bits(float32(int64(x))))
	case slotir.KindF32ConvertI64U:
		return uint64(math.Float32bits(float32(x)))
	case slotir.KindF64ConvertI32S:
		return math.Float64bits(float64(int32(x)))
	case slotir.KindF64ConvertI32U:
		return math.Float64bits(float64(uint32(x)))
	case slotir.KindF64ConvertI64S:
		return math.Float64bits(float64(int64(x)))
	case slotir.KindF64ConvertI64U:
		return math.Float64bits(float64(x))
	case slotir.KindF32DemoteF64:
		return moremath.F32Bits(float32(f64(x)))
	case slotir.KindF64PromoteF32:
		return moremath.F64Bits(float64(f32(x)))
	}
	panic(fmt.Sprintf("BUG: %s is not supported by the interpreter", k))
}

func f32(v uint64) float32 {
	return math.Float32frombits(uint32(v))
}

func f64(v uint64) float64 {
	return math.Float64frombits(v)
}

// trunc converts with the checked truncation, or traps with api.TrapCodeInvalidConversionToInteger.
func trunc[T int32 | uint32 | int64 | uint64](fn func(float64) (T, bool), v float64) T {
	ret, ok := fn(v)
	if !ok {
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	return ret
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
