package wasmslot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmslot/wasmslot/api"
)

func TestStore_NewMemory(t *testing.T) {
	s := NewRuntimeWithConfig(NewRuntimeConfig().WithMemoryMaxPages(2)).NewStore()

	h, err := s.NewMemory(&api.MemoryType{Limits: api.Limits{Min: 1}})
	require.NoError(t, err)
	require.Equal(t, api.ExternTypeMemory, h.Type)

	m, err := s.Memory(h)
	require.NoError(t, err)
	require.Equal(t, uint64(65536), m.Size())
	require.True(t, m.WriteUint32Le(8, 0xdeadbeef))
	v, ok := m.ReadUint32Le(8)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), v)

	// The store limit caps growth below the address limit.
	prev, ok := m.Grow(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), prev)
	_, ok = m.Grow(1)
	require.False(t, ok)

	_, err = s.NewMemory(&api.MemoryType{Limits: api.Limits{Min: 3}})
	require.Error(t, err)
}

func TestStore_NewTable(t *testing.T) {
	s := NewRuntime().NewStore()
	ref := s.NewExternRef("x")

	h, err := s.NewTable(&api.TableType{Limits: api.Limits{Min: 2}, ElemType: api.ValueTypeExternref}, ref)
	require.NoError(t, err)

	tbl, err := s.Table(h)
	require.NoError(t, err)
	require.Equal(t, api.ValueTypeExternref, tbl.ElemType())
	require.Equal(t, uint32(2), tbl.Size())

	v, ok := tbl.Get(1)
	require.True(t, ok)
	x, ok := s.ExternRef(v)
	require.True(t, ok)
	require.Equal(t, "x", x)

	_, ok = tbl.Get(2)
	require.False(t, ok)

	_, ok = s.ExternRef(0)
	require.False(t, ok)
}

func TestStore_NewGlobal(t *testing.T) {
	s := NewRuntime().NewStore()

	c, err := s.Global(s.NewGlobal(&api.GlobalType{ValType: api.ValueTypeI32}, api.EncodeI32(-1)))
	require.NoError(t, err)
	require.Equal(t, api.EncodeI32(-1), c.Get())
	_, mutable := c.(api.MutableGlobal)
	require.False(t, mutable)

	g, err := s.Global(s.NewGlobal(&api.GlobalType{ValType: api.ValueTypeI64, Mutable: true}, 1))
	require.NoError(t, err)
	mg, ok := g.(api.MutableGlobal)
	require.True(t, ok)
	mg.Set(2)
	require.Equal(t, uint64(2), g.Get())
}

func TestStore_ForeignHandle(t *testing.T) {
	r := NewRuntime()
	s1, s2 := r.NewStore(), r.NewStore()

	h := s1.NewGlobal(&api.GlobalType{ValType: api.ValueTypeI32}, 0)
	_, err := s2.Global(h)
	require.ErrorIs(t, err, ErrForeignHandle)

	_, err = s2.Invoke(testCtx, h)
	require.ErrorIs(t, err, ErrForeignHandle)
}
