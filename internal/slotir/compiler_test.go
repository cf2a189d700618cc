package slotir

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/wasm"
)

var (
	v_v         = &api.FunctionType{}
	i32_v       = &api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	i32_i32     = &api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	i32i32_i32  = &api.FunctionType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	v_i32       = &api.FunctionType{Results: []api.ValueType{api.ValueTypeI32}}
	i32_i32i32  = &api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}
	oneMemory   = []*api.MemoryType{{Limits: api.Limits{Min: 1}}}
	endOperator = wasm.Op(wasm.OpcodeEnd)
)

// singleFunction returns a module defining one function of the type with the body, terminated by end.
func singleFunction(ft *api.FunctionType, locals []api.ValueType, body ...wasm.Operator) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []*api.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		MemorySection:   oneMemory,
		CodeSection:     []*wasm.Code{{LocalTypes: locals, Body: append(body, endOperator)}},
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		module   *wasm.Module
		expected []Instruction
	}{
		{
			name: "constants fold",
			module: singleFunction(v_i32, nil,
				wasm.I32Const(3), wasm.I32Const(4), wasm.Op(wasm.OpcodeI32Add),
				wasm.I32Const(2), wasm.Op(wasm.OpcodeI32Mul),
			),
			expected: []Instruction{{Kind: KindReturnImm, Imm: 14}},
		},
		{
			name: "slots",
			module: singleFunction(i32i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpIndex(wasm.OpcodeLocalGet, 1), wasm.Op(wasm.OpcodeI32Add),
			),
			expected: []Instruction{
				{Kind: KindI32Add, R: 2, A: 0, B: 1},
				{Kind: KindReturnSlot, A: 2},
			},
		},
		{
			name: "constant on the right",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(5), wasm.Op(wasm.OpcodeI32Sub),
			),
			expected: []Instruction{
				{Kind: KindI32SubImm, R: 1, A: 0, Imm: 5},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "constant on the left",
			module: singleFunction(i32_i32, nil,
				wasm.I32Const(5), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32Sub),
			),
			expected: []Instruction{
				{Kind: KindI32SubImmRev, R: 1, A: 0, Imm: 5},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "commutative constant on the left",
			module: singleFunction(i32_i32, nil,
				wasm.I32Const(5), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32Mul),
			),
			expected: []Instruction{
				{Kind: KindI32MulImm, R: 1, A: 0, Imm: 5},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "comparison flips",
			module: singleFunction(i32_i32, nil,
				wasm.I32Const(5), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32LtS),
			),
			expected: []Instruction{
				{Kind: KindI32GtSImm, R: 1, A: 0, Imm: 5},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "adding zero",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(0), wasm.Op(wasm.OpcodeI32Add),
			),
			expected: []Instruction{{Kind: KindReturnSlot, A: 0}},
		},
		{
			name: "multiplying by zero",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(0), wasm.Op(wasm.OpcodeI32Mul),
			),
			expected: []Instruction{{Kind: KindReturnImm, Imm: 0}},
		},
		{
			name: "and with all ones",
			module: singleFunction(i32_i32, nil,
				wasm.I32Const(-1), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32And),
			),
			expected: []Instruction{{Kind: KindReturnSlot, A: 0}},
		},
		{
			name: "folded division by zero traps",
			module: singleFunction(v_i32, nil,
				wasm.I32Const(10), wasm.I32Const(0), wasm.Op(wasm.OpcodeI32DivS),
				wasm.I32Const(1), wasm.Op(wasm.OpcodeI32Add),
			),
			expected: []Instruction{{Kind: KindTrap, U1: uint32(api.TrapCodeIntegerDivideByZero)}},
		},
		{
			name: "result written to the local",
			module: singleFunction(i32i32_i32, []api.ValueType{api.ValueTypeI32},
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpIndex(wasm.OpcodeLocalGet, 1), wasm.Op(wasm.OpcodeI32Add),
				wasm.OpIndex(wasm.OpcodeLocalSet, 2), wasm.OpIndex(wasm.OpcodeLocalGet, 2),
			),
			expected: []Instruction{
				{Kind: KindI32Add, R: 2, A: 0, B: 1},
				{Kind: KindReturnSlot, A: 2},
			},
		},
		{
			name: "pending read preserved",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(1), wasm.OpIndex(wasm.OpcodeLocalSet, 0),
			),
			expected: []Instruction{
				{Kind: KindCopy, R: 1, A: 0},
				{Kind: KindCopyImm, R: 0, Imm: 1},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "eqz fused into br_if",
			module: singleFunction(i32_v, nil,
				wasm.OpBlock(wasm.OpcodeBlock, nil),
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32Eqz), wasm.OpIndex(wasm.OpcodeBrIf, 0),
				endOperator,
			),
			expected: []Instruction{
				{Kind: KindBranchEqz, A: 0, Imm: 1},
				{Kind: KindReturnNone},
			},
		},
		{
			name: "constant br_if not taken",
			module: singleFunction(v_v, nil,
				wasm.OpBlock(wasm.OpcodeBlock, nil), wasm.I32Const(0), wasm.OpIndex(wasm.OpcodeBrIf, 0), endOperator,
			),
			expected: []Instruction{{Kind: KindReturnNone}},
		},
		{
			name: "loop",
			module: singleFunction(i32_i32, nil,
				wasm.OpBlock(wasm.OpcodeLoop, nil),
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(1), wasm.Op(wasm.OpcodeI32Sub),
				wasm.OpIndex(wasm.OpcodeLocalTee, 0), wasm.OpIndex(wasm.OpcodeBrIf, 0),
				endOperator,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0),
			),
			expected: []Instruction{
				{Kind: KindI32SubImm, R: 0, A: 0, Imm: 1},
				{Kind: KindBranchNez, A: 0, Imm: 0},
				{Kind: KindReturnSlot, A: 0},
			},
		},
		{
			name: "if else",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0),
				wasm.OpBlock(wasm.OpcodeIf, v_i32), wasm.I32Const(1),
				wasm.Op(wasm.OpcodeElse), wasm.I32Const(2),
				endOperator,
			),
			expected: []Instruction{
				{Kind: KindBranchEqz, A: 0, Imm: 3},
				{Kind: KindCopyImm, R: 1, Imm: 1},
				{Kind: KindBranch, Imm: 4},
				{Kind: KindCopyImm, R: 1, Imm: 2},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "br_table",
			module: singleFunction(i32_v, nil,
				wasm.OpBlock(wasm.OpcodeBlock, nil), wasm.OpBlock(wasm.OpcodeBlock, nil),
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpBrTable(1, 0, 1),
				endOperator, endOperator,
			),
			expected: []Instruction{
				{Kind: KindBranchTable, A: 0, U1: 2},
				{Kind: KindBranch, Imm: 4},
				{Kind: KindBranch, Imm: 4},
				{Kind: KindBranch, Imm: 4},
				{Kind: KindReturnNone},
			},
		},
		{
			name: "br_table returning through a trampoline",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpBrTable(0, 0),
			),
			expected: []Instruction{
				{Kind: KindBranchTable, A: 0, U1: 1},
				{Kind: KindBranch, Imm: 3},
				{Kind: KindBranch, Imm: 3},
				{Kind: KindReturnSlot, A: 0},
			},
		},
		{
			name: "constant br_table index",
			module: singleFunction(v_v, nil,
				wasm.OpBlock(wasm.OpcodeBlock, nil), wasm.I32Const(7), wasm.OpBrTable(1, 0), endOperator,
			),
			expected: []Instruction{
				{Kind: KindBranch, Imm: 1},
				{Kind: KindReturnNone},
			},
		},
		{
			name: "multiple results",
			module: singleFunction(i32_i32i32, nil,
				wasm.I32Const(1), wasm.OpIndex(wasm.OpcodeLocalGet, 0),
			),
			expected: []Instruction{
				{Kind: KindCopyImm, R: 1, Imm: 1},
				{Kind: KindCopy, R: 2, A: 0},
				{Kind: KindReturnSpan, A: 1, U1: 2},
			},
		},
		{
			name: "select",
			module: singleFunction(i32_i32, nil,
				wasm.I32Const(1), wasm.I32Const(2), wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeSelect),
			),
			expected: []Instruction{
				{Kind: KindCopyImm, R: 1, Imm: 1},
				{Kind: KindCopyImm, R: 2, Imm: 2},
				{Kind: KindSelect, R: 1, A: 1, B: 2, U1: 0},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "constant select",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(2), wasm.I32Const(0), wasm.Op(wasm.OpcodeSelect),
			),
			expected: []Instruction{{Kind: KindReturnImm, Imm: 2}},
		},
		{
			name: "load",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpMem(wasm.OpcodeI32Load, 16),
			),
			expected: []Instruction{
				{Kind: KindI32Load, R: 1, A: 0, Imm: 16},
				{Kind: KindReturnSlot, A: 1},
			},
		},
		{
			name: "store of a small constant",
			module: singleFunction(i32_v, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I64Const(-1), wasm.OpMem(wasm.OpcodeI64Store, 8),
			),
			expected: []Instruction{
				{Kind: KindI64StoreImm, A: 0, U2: 0xffffffff, Imm: 8},
				{Kind: KindReturnNone},
			},
		},
		{
			name: "store of a wide constant",
			module: singleFunction(i32_v, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I64Const(1<<40), wasm.OpMem(wasm.OpcodeI64Store, 0),
			),
			expected: []Instruction{
				{Kind: KindCopyImm, R: 2, Imm: 1 << 40},
				{Kind: KindI64Store, A: 0, B: 2},
				{Kind: KindReturnNone},
			},
		},
		{
			name: "float constants are written to slots",
			module: singleFunction(&api.FunctionType{Results: []api.ValueType{api.ValueTypeF32}}, nil,
				wasm.F32Const(1), wasm.F32Const(2), wasm.Op(wasm.OpcodeF32Add),
			),
			expected: []Instruction{
				{Kind: KindCopyImm, R: 0, Imm: 0x3f800000},
				{Kind: KindCopyImm, R: 1, Imm: 0x40000000},
				{Kind: KindF32Add, R: 0, A: 0, B: 1},
				{Kind: KindReturnSlot, A: 0},
			},
		},
		{
			name: "reinterpret is free",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeF32ReinterpretI32),
				wasm.Op(wasm.OpcodeI32ReinterpretF32),
			),
			expected: []Instruction{{Kind: KindReturnSlot, A: 0}},
		},
		{
			name: "memory.grow",
			module: singleFunction(i32_i32, nil,
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpIndex(wasm.OpcodeMemoryGrow, 0),
			),
			expected: []Instruction{
				{Kind: KindMemoryGrow, R: 1, A: 0},
				{Kind: KindReturnSlot, A: 1},
			},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(tc.module, 0, Config{})
			require.NoError(t, err)
			require.Equal(t, tc.expected, f.Body, Disassemble(f))
		})
	}
}

func TestCompile_Call(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*api.FunctionType{i32i32_i32, i32_i32},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{Body: []wasm.Operator{wasm.OpIndex(wasm.OpcodeLocalGet, 0), endOperator}},
			{Body: []wasm.Operator{
				wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(3), wasm.OpIndex(wasm.OpcodeCall, 0), endOperator,
			}},
		},
	}
	f, err := Compile(m, 1, Config{})
	require.NoError(t, err)
	require.Equal(t, []Instruction{
		{Kind: KindCopy, R: 1, A: 0},
		{Kind: KindCopyImm, R: 2, Imm: 3},
		{Kind: KindCall, R: 1, U1: 0},
		{Kind: KindReturnSlot, A: 1},
	}, f.Body)
	require.Equal(t, uint32(3), f.FrameSize)
	require.Equal(t, uint32(1), f.NumParams)
	require.Equal(t, uint32(1), f.NumResults)
}

func TestCompile_FrameSize(t *testing.T) {
	v_i32i32 := &api.FunctionType{Results: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}
	tests := []struct {
		name     string
		module   *wasm.Module
		funcIdx  wasm.Index
		expected uint32
	}{
		{
			name:     "constants take no slot",
			module:   singleFunction(i32_i32, nil, wasm.I32Const(1), wasm.I32Const(2), wasm.Op(wasm.OpcodeDrop), wasm.Op(wasm.OpcodeDrop), wasm.OpIndex(wasm.OpcodeLocalGet, 0)),
			expected: 1,
		},
		{
			name:     "folded operands",
			module:   singleFunction(v_i32, nil, wasm.I32Const(1), wasm.I32Const(2), wasm.Op(wasm.OpcodeI32Add)),
			expected: 1,
		},
		{
			name:     "results need slots",
			module:   singleFunction(v_i32, nil, wasm.I32Const(7)),
			expected: 1,
		},
		{
			name:     "temporary",
			module:   singleFunction(i32_i32, nil, wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(5), wasm.Op(wasm.OpcodeI32Add)),
			expected: 2,
		},
		{
			name: "call results past the arguments",
			module: &wasm.Module{
				TypeSection:     []*api.FunctionType{v_i32i32, v_v},
				FunctionSection: []wasm.Index{0, 1},
				CodeSection: []*wasm.Code{
					{Body: []wasm.Operator{wasm.I32Const(1), wasm.I32Const(2), endOperator}},
					{Body: []wasm.Operator{wasm.OpIndex(wasm.OpcodeCall, 0), wasm.Op(wasm.OpcodeDrop), wasm.Op(wasm.OpcodeDrop), endOperator}},
				},
			},
			funcIdx:  1,
			expected: 2,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			f, err := Compile(tc.module, tc.funcIdx, Config{})
			require.NoError(t, err)
			require.Equal(t, tc.expected, f.FrameSize, Disassemble(f))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name        string
		module      *wasm.Module
		cfg         Config
		expectedErr error
	}{
		{
			name:        "unknown local",
			module:      singleFunction(v_v, nil, wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeDrop)),
			expectedErr: ErrInvalidOperator,
		},
		{
			name:        "operand stack underflow",
			module:      singleFunction(v_v, nil, wasm.Op(wasm.OpcodeDrop)),
			expectedErr: ErrInvalidOperator,
		},
		{
			name:        "block underflow",
			module:      singleFunction(i32_v, nil, wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpBlock(wasm.OpcodeBlock, nil), wasm.Op(wasm.OpcodeDrop), endOperator),
			expectedErr: ErrInvalidOperator,
		},
		{
			name:        "unknown memory",
			module:      singleFunction(i32_v, nil, wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Operator{Opcode: wasm.OpcodeI32Load, MemArg: wasm.MemArg{Memory: 1}}, wasm.Op(wasm.OpcodeDrop)),
			expectedErr: ErrInvalidOperator,
		},
		{
			name:        "vector operator",
			module:      singleFunction(v_v, nil, wasm.Op(wasm.OpcodeVecPrefix<<8|0x0c)),
			expectedErr: ErrInvalidOperator,
		},
		{
			name:        "unclosed block",
			module:      &wasm.Module{TypeSection: []*api.FunctionType{v_v}, FunctionSection: []wasm.Index{0}, CodeSection: []*wasm.Code{{Body: []wasm.Operator{wasm.OpBlock(wasm.OpcodeBlock, nil), endOperator}}}},
			expectedErr: ErrUnresolvedBranch,
		},
		{
			name:        "frame too large",
			module:      singleFunction(v_v, []api.ValueType{api.ValueTypeI64, api.ValueTypeI64, api.ValueTypeI64}),
			cfg:         Config{MaxFrameSlots: 2},
			expectedErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.module, 0, tc.cfg)
			require.ErrorIs(t, err, tc.expectedErr)
			var te *TranslationError
			require.True(t, errors.As(err, &te))
			require.Equal(t, wasm.Index(0), te.FuncIndex)
		})
	}
}

func TestCompile_Imported(t *testing.T) {
	m := &wasm.Module{
		TypeSection:   []*api.FunctionType{v_v},
		ImportSection: []*wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f"}},
	}
	_, err := Compile(m, 0, Config{})
	require.ErrorIs(t, err, ErrInvalidOperator)
}

func TestCompile_Deterministic(t *testing.T) {
	m := singleFunction(i32_i32, []api.ValueType{api.ValueTypeI64},
		wasm.OpBlock(wasm.OpcodeBlock, v_i32),
		wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(3), wasm.Op(wasm.OpcodeI32RemU),
		wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.OpBrTable(0, 0, 0),
		endOperator,
		wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.Op(wasm.OpcodeI32Clz), wasm.Op(wasm.OpcodeI32Add),
	)
	first, err := Compile(m, 0, Config{})
	require.NoError(t, err)
	second, err := Compile(m, 0, Config{})
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("unexpected difference (-first +second):\n%s", diff)
	}
	for pc, in := range first.Body {
		if in.Kind.isBranch() {
			require.Less(t, in.Imm, uint64(len(first.Body)), "branch at %d", pc)
		}
	}
}

func TestDisassemble(t *testing.T) {
	m := singleFunction(i32_i32, nil, wasm.OpIndex(wasm.OpcodeLocalGet, 0), wasm.I32Const(5), wasm.Op(wasm.OpcodeI32Add))
	f, err := Compile(m, 0, Config{})
	require.NoError(t, err)
	require.Equal(t, ".type i32_i32\n.locals 1 .frame 2\n0000\tI32AddImm s1 = s0 0x5\n0001\tReturnSlot s1\n", Disassemble(f))
}
