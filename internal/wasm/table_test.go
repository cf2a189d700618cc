package internalwasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmslot/wasmslot/api"
)

func TestTableInstance(t *testing.T) {
	table, err := newTableInstance(&api.TableType{Limits: api.Limits{Min: 2, Max: uint64Ptr(4)}, ElemType: api.ValueTypeFuncref}, 7)
	require.NoError(t, err)
	require.Equal(t, api.ValueTypeFuncref, table.ElemType())
	require.Equal(t, uint32(2), table.Size())

	ref, ok := table.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(7), ref)
	_, ok = table.Get(2)
	require.False(t, ok)

	_, ok = table.Grow(3, 0)
	require.False(t, ok)
	require.Equal(t, uint32(2), table.Size())

	prev, ok := table.Grow(2, 9)
	require.True(t, ok)
	require.Equal(t, uint32(2), prev)
	require.Equal(t, []uint64{7, 7, 9, 9}, table.References)

	_, err = newTableInstance(&api.TableType{Limits: api.Limits{Min: MaximumTableSize + 1}}, 0)
	require.ErrorIs(t, err, ErrResourceLimit)
}
