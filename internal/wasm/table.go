package internalwasm

import (
	"fmt"

	"github.com/wasmslot/wasmslot/api"
)

// MaximumTableSize is the element count a table never grows over, regardless of its declared maximum.
const MaximumTableSize = uint64(1) << 27

// TableInstance represents a table instance in a store, and implements api.Table.
//
// A reference is zero when null. Otherwise, a funcref is the function's index in the Store plus one and an externref
// the host value's index in the Store plus one.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#table-instances
type TableInstance struct {
	References []uint64
	Min        uint64
	// Max is the declared maximum, or nil.
	Max *uint64
	// RefType is api.ValueTypeFuncref or api.ValueTypeExternref.
	RefType api.ValueType

	extern api.Extern
}

// compile-time check to ensure TableInstance is an api.Table
var _ api.Table = &TableInstance{}

func newTableInstance(tt *api.TableType, init uint64) (*TableInstance, error) {
	if tt.Min > MaximumTableSize {
		return nil, fmt.Errorf("%w: table minimum of %d elements is over the limit of %d", ErrResourceLimit, tt.Min, MaximumTableSize)
	}
	refs := make([]uint64, tt.Min)
	if init != 0 {
		for i := range refs {
			refs[i] = init
		}
	}
	return &TableInstance{References: refs, Min: tt.Min, Max: tt.Max, RefType: tt.ElemType}, nil
}

// Extern implements api.Table Extern
func (t *TableInstance) Extern() api.Extern {
	return t.extern
}

// ElemType implements api.Table ElemType
func (t *TableInstance) ElemType() api.ValueType {
	return t.RefType
}

// Size implements api.Table Size
func (t *TableInstance) Size() uint32 {
	return uint32(len(t.References))
}

// Get implements api.Table Get
func (t *TableInstance) Get(offset uint32) (uint64, bool) {
	if uint64(offset) >= uint64(len(t.References)) {
		return 0, false
	}
	return t.References[offset], true
}

// Grow implements api.Table Grow
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/modules.html#grow-table
func (t *TableInstance) Grow(delta uint32, init uint64) (previousSize uint32, ok bool) {
	current := uint64(len(t.References))
	ceiling := MaximumTableSize
	if t.Max != nil && *t.Max < ceiling {
		ceiling = *t.Max
	}
	if current+uint64(delta) > ceiling {
		return 0, false
	}
	for i := uint32(0); i < delta; i++ {
		t.References = append(t.References, init)
	}
	return uint32(current), true
}
