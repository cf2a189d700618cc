package internalwasm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/slotir"
	"github.com/wasmslot/wasmslot/wasm"
)

var (
	v_v     = &api.FunctionType{}
	i32_i32 = &api.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
)

// mockEngine records the functions called and fails with err.
type mockEngine struct {
	calls []string
	err   error
}

func (e *mockEngine) Call(_ context.Context, _ *Store, f *FunctionInstance, _ []uint64) ([]uint64, error) {
	e.calls = append(e.calls, f.Name)
	return nil, e.err
}

func newStore() (*Store, *mockEngine) {
	e := &mockEngine{}
	return NewStore(e, StoreConfig{MemoryMaxPages: MemoryLimitPages}), e
}

func compiled(n int) []*slotir.CompiledFunction {
	ret := make([]*slotir.CompiledFunction, n)
	for i := range ret {
		ret[i] = &slotir.CompiledFunction{}
	}
	return ret
}

func i32Const(v int32) *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Value: uint64(uint32(v))}
}

func TestStore_GetFunctionTypeID(t *testing.T) {
	s, _ := newStore()
	id := s.GetFunctionTypeID(i32_i32)
	require.Equal(t, id, s.GetFunctionTypeID(&api.FunctionType{
		Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32},
	}))
	require.NotEqual(t, id, s.GetFunctionTypeID(v_v))
}

func TestStore_Instantiate(t *testing.T) {
	s, e := newStore()
	hostFn := s.NewHostFunction(i32_i32, func(context.Context, api.Caller, []uint64) error { return nil }, "env.inc")
	mem, err := s.NewMemory(&api.MemoryType{Limits: api.Limits{Min: 1}})
	require.NoError(t, err)
	base := s.NewGlobal(&api.GlobalType{ValType: api.ValueTypeI32}, 2)

	start := wasm.Index(1)
	m := &wasm.Module{
		TypeSection: []*api.FunctionType{i32_i32, v_v},
		ImportSection: []*wasm.Import{
			{Type: api.ExternTypeFunc, Module: "env", Name: "inc", DescFunc: 0},
			{Type: api.ExternTypeMemory, Module: "env", Name: "mem", DescMem: &api.MemoryType{Limits: api.Limits{Min: 1}}},
			{Type: api.ExternTypeGlobal, Module: "env", Name: "base", DescGlobal: &api.GlobalType{ValType: api.ValueTypeI32}},
		},
		FunctionSection: []wasm.Index{1},
		TableSection:    []*api.TableType{{Limits: api.Limits{Min: 5}, ElemType: api.ValueTypeFuncref}},
		GlobalSection: []*wasm.Global{
			{
				Type: &api.GlobalType{ValType: api.ValueTypeI32, Mutable: true},
				Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Value: 0},
			},
			{
				Type: &api.GlobalType{ValType: api.ValueTypeFuncref},
				Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeRefFunc, Value: 1},
			},
		},
		ExportSection: []*wasm.Export{
			{Type: api.ExternTypeFunc, Name: "start", Index: 1},
			{Type: api.ExternTypeFunc, Name: "inc", Index: 0},
			{Type: api.ExternTypeMemory, Name: "mem", Index: 0},
			{Type: api.ExternTypeTable, Name: "table", Index: 0},
			{Type: api.ExternTypeGlobal, Name: "g", Index: 1},
		},
		StartSection: &start,
		ElementSection: []*wasm.ElementSegment{
			{
				Mode:       wasm.SegmentModeActive,
				OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Value: 0},
				Type:       api.ValueTypeFuncref,
				Init:       []wasm.Index{1, wasm.ElementInitNullReference, 0},
			},
			{Mode: wasm.SegmentModePassive, Type: api.ValueTypeFuncref, Init: []wasm.Index{0}},
			{Mode: wasm.SegmentModeDeclarative, Type: api.ValueTypeFuncref, Init: []wasm.Index{1}},
		},
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: i32Const(8), Init: []byte{1, 2, 3}},
			{Passive: true, Init: []byte{4}},
		},
		NameSection: &wasm.NameSection{FunctionNames: map[wasm.Index]string{1: "init"}},
	}

	mi, err := s.Instantiate(context.Background(), m, compiled(1), "test", []api.Extern{hostFn, mem, base})
	require.NoError(t, err)
	require.Equal(t, []string{"test.init"}, e.calls)
	require.Equal(t, []*ModuleInstance{mi}, s.Instances)

	// Functions: imported first, then defined.
	require.Len(t, mi.Functions, 2)
	require.Equal(t, hostFn.Index, mi.Functions[0].Index)
	defined := mi.Functions[1]
	require.Equal(t, mi.Index, defined.Module)
	require.Equal(t, s.GetFunctionTypeID(v_v), defined.TypeID)

	// Globals: the defined one is initialized from the imported one.
	require.Len(t, mi.Globals, 3)
	require.Equal(t, uint64(2), mi.Globals[1].Val)
	require.Equal(t, uint64(defined.Index)+1, mi.Globals[2].Val)

	// Element segment at offset global 0 = 2.
	require.Equal(t, []uint64{0, 0, uint64(defined.Index) + 1, 0, uint64(hostFn.Index) + 1}, mi.Tables[0].References)
	require.Nil(t, mi.ElementInstances[0])
	require.Equal(t, []uint64{uint64(hostFn.Index) + 1}, mi.ElementInstances[1])
	require.Nil(t, mi.ElementInstances[2])

	// Data segment written to the imported memory.
	memory, err := s.Memory(mem)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, memory.Buffer[8:11])
	require.Nil(t, mi.DataInstances[0])
	require.Equal(t, []byte{4}, mi.DataInstances[1])

	// Exports.
	exp, err := mi.Export("start", api.ExternTypeFunc)
	require.NoError(t, err)
	require.Equal(t, defined.Index, exp.Index)
	exp, err = mi.Export("inc", api.ExternTypeFunc)
	require.NoError(t, err)
	require.Equal(t, hostFn, exp)
	exp, err = mi.Export("mem", api.ExternTypeMemory)
	require.NoError(t, err)
	require.Equal(t, mem, exp)
	_, err = mi.Export("mem", api.ExternTypeTable)
	require.EqualError(t, err, `export "mem" in module "test" is a memory, not a table`)
	_, err = mi.Export("missing", api.ExternTypeFunc)
	require.EqualError(t, err, `"missing" is not exported in module "test"`)
}

func TestStore_Instantiate_ImportMismatch(t *testing.T) {
	one, two := uint64(1), uint64(2)
	tests := []struct {
		name     string
		imp      *wasm.Import
		extern   string
		expected string
	}{
		{
			name:     "kind",
			imp:      &wasm.Import{Type: api.ExternTypeFunc, DescFunc: 0},
			extern:   "memory",
			expected: "expected a func, but got a memory",
		},
		{
			name:     "signature",
			imp:      &wasm.Import{Type: api.ExternTypeFunc, DescFunc: 1},
			extern:   "func",
			expected: "signature mismatch: v_v != i32_i32",
		},
		{
			name:     "memory minimum",
			imp:      &wasm.Import{Type: api.ExternTypeMemory, DescMem: &api.MemoryType{Limits: api.Limits{Min: 2}}},
			extern:   "memory",
			expected: "minimum size mismatch: 2 > 1",
		},
		{
			name:     "memory maximum",
			imp:      &wasm.Import{Type: api.ExternTypeMemory, DescMem: &api.MemoryType{Limits: api.Limits{Min: 1, Max: &one}}},
			extern:   "memory",
			expected: "maximum size mismatch: 1 < 2",
		},
		{
			name:     "table maximum missing",
			imp:      &wasm.Import{Type: api.ExternTypeTable, DescTable: &api.TableType{Limits: api.Limits{Max: &two}, ElemType: api.ValueTypeFuncref}},
			extern:   "table",
			expected: "maximum size mismatch: 2, but actual has no max",
		},
		{
			name:     "table element type",
			imp:      &wasm.Import{Type: api.ExternTypeTable, DescTable: &api.TableType{ElemType: api.ValueTypeExternref}},
			extern:   "table",
			expected: "element type mismatch: externref != funcref",
		},
		{
			name:     "global mutability",
			imp:      &wasm.Import{Type: api.ExternTypeGlobal, DescGlobal: &api.GlobalType{ValType: api.ValueTypeI32, Mutable: true}},
			extern:   "global",
			expected: "global type mismatch: mut i32 != i32",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			s, _ := newStore()
			fn := s.NewHostFunction(i32_i32, func(context.Context, api.Caller, []uint64) error { return nil }, "env.f")
			mem, err := s.NewMemory(&api.MemoryType{Limits: api.Limits{Min: 1, Max: &two}})
			require.NoError(t, err)
			table, err := s.NewTable(&api.TableType{Limits: api.Limits{Min: 2}, ElemType: api.ValueTypeFuncref}, 0)
			require.NoError(t, err)
			externs := map[string]api.Extern{
				"func":   fn,
				"memory": mem,
				"table":  table,
				"global": s.NewGlobal(&api.GlobalType{ValType: api.ValueTypeI32}, 0),
			}

			tc.imp.Module, tc.imp.Name = "env", "x"
			m := &wasm.Module{TypeSection: []*api.FunctionType{i32_i32, v_v}, ImportSection: []*wasm.Import{tc.imp}}
			_, err = s.Instantiate(context.Background(), m, nil, "test", []api.Extern{externs[tc.extern]})
			require.ErrorIs(t, err, ErrImportMismatch)
			var mismatch *ImportMismatchError
			require.True(t, errors.As(err, &mismatch))
			require.Equal(t, tc.expected, mismatch.Reason)
			require.Empty(t, s.Instances)
		})
	}
}

func TestStore_Instantiate_ImportCount(t *testing.T) {
	s, _ := newStore()
	m := &wasm.Module{
		TypeSection:   []*api.FunctionType{v_v},
		ImportSection: []*wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f"}},
	}
	_, err := s.Instantiate(context.Background(), m, nil, "test", nil)
	require.ErrorIs(t, err, ErrImportMismatch)
	require.EqualError(t, err, "import mismatch: 1 imports required, but 0 given")
}

func TestStore_Instantiate_ForeignHandle(t *testing.T) {
	s, _ := newStore()
	other, _ := newStore()
	fn := other.NewHostFunction(v_v, func(context.Context, api.Caller, []uint64) error { return nil }, "env.f")

	m := &wasm.Module{
		TypeSection:   []*api.FunctionType{v_v},
		ImportSection: []*wasm.Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f"}},
	}
	_, err := s.Instantiate(context.Background(), m, nil, "test", []api.Extern{fn})
	require.ErrorIs(t, err, ErrForeignHandle)
	require.NotErrorIs(t, err, ErrImportMismatch)
}

func TestStore_Instantiate_OutOfBoundsRollsBack(t *testing.T) {
	s, e := newStore()
	table, err := s.NewTable(&api.TableType{Limits: api.Limits{Min: 2}, ElemType: api.ValueTypeFuncref}, 0)
	require.NoError(t, err)
	before := s.mark()

	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*api.FunctionType{v_v},
		ImportSection:   []*wasm.Import{{Type: api.ExternTypeTable, Module: "env", Name: "t", DescTable: &api.TableType{ElemType: api.ValueTypeFuncref}}},
		FunctionSection: []wasm.Index{0},
		MemorySection:   []*api.MemoryType{{Limits: api.Limits{Min: 1}}},
		GlobalSection:   []*wasm.Global{{Type: &api.GlobalType{ValType: api.ValueTypeI64}, Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const}}},
		StartSection:    &start,
		ElementSection: []*wasm.ElementSegment{
			{Mode: wasm.SegmentModeActive, OffsetExpr: i32Const(0), Type: api.ValueTypeFuncref, Init: []wasm.Index{0, 0}},
		},
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: i32Const(0), Init: []byte{1}},
			{OffsetExpression: i32Const(65535), Init: []byte{1, 2}},
		},
	}
	_, err = s.Instantiate(context.Background(), m, compiled(1), "test", []api.Extern{table})
	require.ErrorIs(t, err, ErrInitializationOutOfBounds)
	require.EqualError(t, err, "initialization out of bounds: data[1] of 2 bytes at offset 65535, memory size 65536")

	require.Equal(t, before, s.mark())
	imported, err := s.Table(table)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 0}, imported.References)
	require.Empty(t, e.calls)
}

func TestStore_Instantiate_ElementOutOfBounds(t *testing.T) {
	s, _ := newStore()
	m := &wasm.Module{
		TypeSection:     []*api.FunctionType{v_v},
		FunctionSection: []wasm.Index{0},
		TableSection:    []*api.TableType{{Limits: api.Limits{Min: 1}, ElemType: api.ValueTypeFuncref}},
		ElementSection: []*wasm.ElementSegment{
			// Offsets are unsigned: -1 is far out of bounds.
			{Mode: wasm.SegmentModeActive, OffsetExpr: i32Const(-1), Type: api.ValueTypeFuncref, Init: []wasm.Index{0}},
		},
	}
	_, err := s.Instantiate(context.Background(), m, compiled(1), "test", nil)
	require.ErrorIs(t, err, ErrInitializationOutOfBounds)
	require.Empty(t, s.Functions)
	require.Empty(t, s.Tables)
}

func TestStore_Instantiate_GlobalForwardReference(t *testing.T) {
	s, _ := newStore()
	m := &wasm.Module{
		GlobalSection: []*wasm.Global{
			{Type: &api.GlobalType{ValType: api.ValueTypeI32}, Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Value: 1}},
			{Type: &api.GlobalType{ValType: api.ValueTypeI32}, Init: i32Const(1)},
		},
	}
	_, err := s.Instantiate(context.Background(), m, nil, "test", nil)
	require.ErrorIs(t, err, ErrInternal)
	require.Empty(t, s.Globals)
}

func TestStore_Instantiate_DuplicateExport(t *testing.T) {
	s, _ := newStore()
	m := &wasm.Module{
		MemorySection: []*api.MemoryType{{}},
		ExportSection: []*wasm.Export{
			{Type: api.ExternTypeMemory, Name: "mem"},
			{Type: api.ExternTypeMemory, Name: "mem"},
		},
	}
	_, err := s.Instantiate(context.Background(), m, nil, "test", nil)
	require.ErrorIs(t, err, ErrInternal)
	require.Empty(t, s.Memories)
}

func TestStore_Instantiate_StartFails(t *testing.T) {
	s, e := newStore()
	e.err = errors.New("boom")
	mem, err := s.NewMemory(&api.MemoryType{Limits: api.Limits{Min: 1}})
	require.NoError(t, err)

	start := wasm.Index(0)
	m := &wasm.Module{
		TypeSection:     []*api.FunctionType{v_v},
		ImportSection:   []*wasm.Import{{Type: api.ExternTypeMemory, Module: "env", Name: "mem", DescMem: &api.MemoryType{}}},
		FunctionSection: []wasm.Index{0},
		StartSection:    &start,
		DataSection:     []*wasm.DataSegment{{OffsetExpression: i32Const(0), Init: []byte{7}}},
	}
	_, err = s.Instantiate(context.Background(), m, compiled(1), "test", []api.Extern{mem})
	require.EqualError(t, err, "start function test.$0: boom")
	require.Equal(t, []string{"test.$0"}, e.calls)
	require.Empty(t, s.Instances)
	require.Len(t, s.Functions, 0)

	// The write to the imported memory happened before the start function and stays.
	memory, err := s.Memory(mem)
	require.NoError(t, err)
	require.Equal(t, byte(7), memory.Buffer[0])
}

func TestStore_Instantiate_StartFailsKeepsSharedReferences(t *testing.T) {
	tableImport := &wasm.Import{Type: api.ExternTypeTable, Module: "env", Name: "t", DescTable: &api.TableType{ElemType: api.ValueTypeFuncref}}
	globalImport := &wasm.Import{Type: api.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &api.GlobalType{ValType: api.ValueTypeI32, Mutable: true}}
	funcImport := &wasm.Import{Type: api.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}

	tests := []struct {
		name   string
		newImport func(s *Store) (*wasm.Import, api.Extern)
	}{
		{
			name: "table",
			newImport: func(s *Store) (*wasm.Import, api.Extern) {
				h, err := s.NewTable(&api.TableType{Limits: api.Limits{Min: 1}, ElemType: api.ValueTypeFuncref}, 0)
				require.NoError(t, err)
				return tableImport, h
			},
		},
		{
			name: "global",
			newImport: func(s *Store) (*wasm.Import, api.Extern) {
				return globalImport, s.NewGlobal(globalImport.DescGlobal, 0)
			},
		},
		{
			name: "function",
			newImport: func(s *Store) (*wasm.Import, api.Extern) {
				return funcImport, s.NewHostFunction(v_v, func(context.Context, api.Caller, []uint64) error { return nil }, "env.f")
			},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			s, e := newStore()
			e.err = errors.New("boom")
			imp, h := tc.newImport(s)
			before := len(s.Functions)

			start := wasm.Index(0)
			if imp.Type == api.ExternTypeFunc {
				start = 1
			}
			m := &wasm.Module{
				TypeSection:     []*api.FunctionType{v_v},
				ImportSection:   []*wasm.Import{imp},
				FunctionSection: []wasm.Index{0},
				StartSection:    &start,
			}
			_, err := s.Instantiate(context.Background(), m, compiled(1), "bad", []api.Extern{h})
			require.Error(t, err)

			// The function of the failed instance keeps its arena slot.
			require.Len(t, s.Functions, before+1)
			require.Equal(t, "bad.$"+fmt.Sprint(start), s.Functions[before].Name)
			require.Len(t, s.Instances, 1)

			// Later entities never reuse it.
			e.err = nil
			next, err := s.Instantiate(context.Background(), &wasm.Module{
				TypeSection:     []*api.FunctionType{v_v},
				FunctionSection: []wasm.Index{0},
			}, compiled(1), "next", nil)
			require.NoError(t, err)
			require.Equal(t, uint32(before+1), next.Functions[0].Index)
			require.Equal(t, "bad.$"+fmt.Sprint(start), s.Functions[before].Name)
		})
	}
}

func TestStore_Instantiate_StartFailsImportedTable(t *testing.T) {
	s, e := newStore()
	e.err = errors.New("boom")
	table, err := s.NewTable(&api.TableType{Limits: api.Limits{Min: 1}, ElemType: api.ValueTypeFuncref}, 0)
	require.NoError(t, err)

	start := wasm.Index(1)
	m := &wasm.Module{
		TypeSection:     []*api.FunctionType{v_v},
		ImportSection:   []*wasm.Import{{Type: api.ExternTypeTable, Module: "env", Name: "t", DescTable: &api.TableType{ElemType: api.ValueTypeFuncref}}},
		FunctionSection: []wasm.Index{0, 0},
		StartSection:    &start,
		ElementSection: []*wasm.ElementSegment{
			{Mode: wasm.SegmentModeActive, OffsetExpr: i32Const(0), Type: api.ValueTypeFuncref, Init: []wasm.Index{0}},
		},
	}
	_, err = s.Instantiate(context.Background(), m, compiled(2), "bad", []api.Extern{table})
	require.EqualError(t, err, "start function bad.$1: boom")

	imported, err := s.Table(table)
	require.NoError(t, err)
	ref := imported.References[0]
	require.NotZero(t, ref)
	// The element written before the trap still addresses the function it was written for.
	require.Less(t, int(ref-1), len(s.Functions))
	require.Equal(t, "bad.$0", s.Functions[ref-1].Name)
}

func TestResolveImports(t *testing.T) {
	s, _ := newStore()
	m := &wasm.Module{
		MemorySection: []*api.MemoryType{{}},
		ExportSection: []*wasm.Export{{Type: api.ExternTypeMemory, Name: "mem"}},
	}
	mi, err := s.Instantiate(context.Background(), m, nil, "env", nil)
	require.NoError(t, err)

	externs, err := ResolveImports([]*wasm.Import{{Type: api.ExternTypeMemory, Module: "env", Name: "mem"}}, s.Instances)
	require.NoError(t, err)
	require.Equal(t, []api.Extern{mi.Memories[0].extern}, externs)

	_, err = ResolveImports([]*wasm.Import{{Type: api.ExternTypeMemory, Module: "other", Name: "mem"}}, s.Instances)
	require.EqualError(t, err, "import mismatch: import[0] other.mem: module not instantiated")

	_, err = ResolveImports([]*wasm.Import{{Type: api.ExternTypeGlobal, Module: "env", Name: "mem"}}, s.Instances)
	require.ErrorIs(t, err, ErrImportMismatch)
}

func TestStore_Handles(t *testing.T) {
	s, e := newStore()
	fn := s.NewHostFunction(i32_i32, func(context.Context, api.Caller, []uint64) error { return nil }, "env.f")

	_, err := s.Memory(fn)
	require.EqualError(t, err, fmt.Sprintf("handle %s is a func, not a memory", fn))

	missing := fn
	missing.Index = 10
	_, err = s.Function(missing)
	require.EqualError(t, err, fmt.Sprintf("handle %s is out of range", missing))

	_, err = s.Invoke(context.Background(), fn)
	require.EqualError(t, err, "expected 1 params, but passed 0")
	require.Empty(t, e.calls)

	_, err = s.Invoke(context.Background(), fn, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"env.f"}, e.calls)
}

func TestStore_ExternRef(t *testing.T) {
	s, _ := newStore()
	ref := s.NewExternRef("hello")
	require.Equal(t, uint64(1), ref)

	v, ok := s.ExternRef(ref)
	require.True(t, ok)
	require.Equal(t, "hello", v)

	_, ok = s.ExternRef(0)
	require.False(t, ok)
	_, ok = s.ExternRef(2)
	require.False(t, ok)
}
