package internalwasm

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmslot/wasmslot/api"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#memory-instances
	MemoryPageSize = uint64(65536)
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
	// MemoryLimitPages is the page count a memory with 32-bit addresses can never exceed (4GiB).
	MemoryLimitPages = uint64(65536)
	// Memory64LimitPages is the page count a memory with 64-bit addresses can never exceed.
	Memory64LimitPages = uint64(1) << 48
)

// MemoryInstance represents a memory instance in a store, and implements api.Memory.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#memory-instances
type MemoryInstance struct {
	Buffer []byte
	Min    uint64
	// Max is the declared maximum in pages, or nil.
	Max  *uint64
	Is64 bool

	// ceiling is the page count Grow never exceeds: the smallest of Max, the Store limit and the address limit.
	ceiling uint64
	extern  api.Extern
}

// compile-time check to ensure MemoryInstance is an api.Memory
var _ api.Memory = &MemoryInstance{}

// newMemoryInstance allocates the minimum pages of the type. storeLimit is the page ceiling of the Store.
func newMemoryInstance(mt *api.MemoryType, storeLimit uint64) (*MemoryInstance, error) {
	ceiling := MemoryLimitPages
	if mt.Is64 {
		ceiling = Memory64LimitPages
	}
	if storeLimit < ceiling {
		ceiling = storeLimit
	}
	if mt.Max != nil && *mt.Max < ceiling {
		ceiling = *mt.Max
	}
	if mt.Min > ceiling {
		return nil, fmt.Errorf("%w: memory minimum of %d pages is over the limit of %d", ErrResourceLimit, mt.Min, ceiling)
	}
	return &MemoryInstance{
		Buffer:  make([]byte, MemoryPagesToBytesNum(mt.Min)),
		Min:     mt.Min,
		Max:     mt.Max,
		Is64:    mt.Is64,
		ceiling: ceiling,
	}, nil
}

// Extern implements api.Memory Extern
func (m *MemoryInstance) Extern() api.Extern {
	return m.extern
}

// Size implements api.Memory Size
func (m *MemoryInstance) Size() uint64 {
	return uint64(len(m.Buffer))
}

// Pages implements api.Memory Pages
func (m *MemoryInstance) Pages() uint64 {
	return memoryBytesNumToPages(uint64(len(m.Buffer)))
}

// hasSize returns true if Len is sufficient for sizeInBytes at the given offset.
func (m *MemoryInstance) hasSize(offset uint64, sizeInBytes uint64) bool {
	size := m.Size()
	return sizeInBytes <= size && offset <= size-sizeInBytes // subtraction prevents overflow on add
}

// ReadByte implements api.Memory ReadByte
func (m *MemoryInstance) ReadByte(offset uint64) (byte, bool) {
	if offset >= m.Size() {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint32Le implements api.Memory ReadUint32Le
func (m *MemoryInstance) ReadUint32Le(offset uint64) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset : offset+4]), true
}

// ReadUint64Le implements api.Memory ReadUint64Le
func (m *MemoryInstance) ReadUint64Le(offset uint64) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset : offset+8]), true
}

// Read implements api.Memory Read
func (m *MemoryInstance) Read(offset, byteCount uint64) ([]byte, bool) {
	if !m.hasSize(offset, byteCount) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

// WriteByte implements api.Memory WriteByte
func (m *MemoryInstance) WriteByte(offset uint64, v byte) bool {
	if offset >= m.Size() {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint32Le implements api.Memory WriteUint32Le
func (m *MemoryInstance) WriteUint32Le(offset uint64, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le implements api.Memory WriteUint64Le
func (m *MemoryInstance) WriteUint64Le(offset uint64, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// Write implements api.Memory Write
func (m *MemoryInstance) Write(offset uint64, val []byte) bool {
	if !m.hasSize(offset, uint64(len(val))) {
		return false
	}
	copy(m.Buffer[offset:], val)
	return true
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint64) (bytesNum uint64) {
	return pages << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint64) {
	return bytesNum >> MemoryPageSizeInBits
}

// Grow implements api.Memory Grow. The buffer is replaced as a whole or left untouched.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/modules.html#grow-mem
func (m *MemoryInstance) Grow(delta uint64) (previousPages uint64, ok bool) {
	currentPages := m.Pages()
	if delta > m.ceiling || currentPages+delta > m.ceiling {
		return 0, false
	}
	if delta > 0 {
		m.Buffer = append(m.Buffer, make([]byte, MemoryPagesToBytesNum(delta))...)
	}
	return currentPages, true
}

// GrowResult performs memory.grow: the previous page count, or -1 in the width of the address type on failure.
func (m *MemoryInstance) GrowResult(delta uint64) uint64 {
	if prev, ok := m.Grow(delta); ok {
		return prev
	}
	if m.Is64 {
		return 0xffffffffffffffff
	}
	return 0xffffffff // = -1 in signed 32-bit integer.
}

// PagesToUnitOfBytes converts the pages to a human-readable form similar to what's specified. Ex. 1 -> "64 Ki"
func PagesToUnitOfBytes(pages uint64) string {
	k := pages * 64
	if k < 1024 {
		return fmt.Sprintf("%d Ki", k)
	}
	m := k / 1024
	if m < 1024 {
		return fmt.Sprintf("%d Mi", m)
	}
	g := m / 1024
	if g < 1024 {
		return fmt.Sprintf("%d Gi", g)
	}
	return fmt.Sprintf("%d Ti", g/1024)
}
