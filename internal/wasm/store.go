package internalwasm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/logging"
)

// StoreConfig are the limits and collaborators of a Store.
type StoreConfig struct {
	// MemoryMaxPages is the page count no memory of the Store grows over.
	MemoryMaxPages uint64
	Logger         *zap.Logger
}

// Store is the runtime representation of "instantiated" Wasm modules and objects.
// Multiple modules can be instantiated within a single store, and each entity (e.g. a function instance) can be
// imported by other module instances in the Store.
//
// Entities live in append-only arenas and are addressed by their index. A function refers to its module instance by
// index too, so no entity holds a pointer back to the Store.
//
// Note: Store is not safe for concurrent use. Guard all invocations and accesses with a mutex when a Store is shared
// between goroutines.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/runtime.html#store
type Store struct {
	// ID distinguishes the handles of this Store from those of others.
	ID     uuid.UUID
	Engine Engine
	Logger *zap.Logger

	Functions []*FunctionInstance
	Memories  []*MemoryInstance
	Tables    []*TableInstance
	Globals   []*GlobalInstance
	Instances []*ModuleInstance
	// Externs are the host values behind externref references.
	Externs []any

	// FuelEnabled is true when execution is metered, then Fuel is the count of instructions left to execute.
	FuelEnabled bool
	Fuel        uint64

	// typeIDs maps each FunctionType.String() to a unique FunctionTypeID.
	typeIDs        map[string]FunctionTypeID
	memoryMaxPages uint64
}

// NewStore returns an empty Store executing functions with the engine.
func NewStore(engine Engine, cfg StoreConfig) *Store {
	maxPages := cfg.MemoryMaxPages
	if maxPages == 0 {
		maxPages = Memory64LimitPages
	}
	return &Store{
		ID:             uuid.New(),
		Engine:         engine,
		Logger:         logging.OrNop(cfg.Logger),
		typeIDs:        map[string]FunctionTypeID{},
		memoryMaxPages: maxPages,
	}
}

// GetFunctionTypeID returns the ID of the type, assigning one if it is the first time the Store sees the type.
func (s *Store) GetFunctionTypeID(t *api.FunctionType) FunctionTypeID {
	key := t.String()
	id, ok := s.typeIDs[key]
	if !ok {
		id = FunctionTypeID(len(s.typeIDs))
		s.typeIDs[key] = id
	}
	return id
}

// storeMark is the length of every arena at a point in time.
type storeMark struct {
	functions, memories, tables, globals, instances, externs int
}

func (s *Store) mark() storeMark {
	return storeMark{
		functions: len(s.Functions),
		memories:  len(s.Memories),
		tables:    len(s.Tables),
		globals:   len(s.Globals),
		instances: len(s.Instances),
		externs:   len(s.Externs),
	}
}

// rollback removes every entity appended since the mark.
func (s *Store) rollback(m storeMark) {
	clear(s.Functions[m.functions:])
	s.Functions = s.Functions[:m.functions]
	clear(s.Memories[m.memories:])
	s.Memories = s.Memories[:m.memories]
	clear(s.Tables[m.tables:])
	s.Tables = s.Tables[:m.tables]
	clear(s.Globals[m.globals:])
	s.Globals = s.Globals[:m.globals]
	clear(s.Instances[m.instances:])
	s.Instances = s.Instances[:m.instances]
	clear(s.Externs[m.externs:])
	s.Externs = s.Externs[:m.externs]
}

// checkHandle errs unless the handle was made by this Store for an entity of the type within the arena length.
func (s *Store) checkHandle(h api.Extern, et api.ExternType, arenaLen int) error {
	if h.Store != s.ID {
		return fmt.Errorf("%w: %s", ErrForeignHandle, h)
	}
	if h.Type != et {
		return fmt.Errorf("handle %s is a %s, not a %s", h, api.ExternTypeName(h.Type), api.ExternTypeName(et))
	}
	if int(h.Index) >= arenaLen {
		return fmt.Errorf("handle %s is out of range", h)
	}
	return nil
}

// Function returns the function the handle addresses.
func (s *Store) Function(h api.Extern) (*FunctionInstance, error) {
	if err := s.checkHandle(h, api.ExternTypeFunc, len(s.Functions)); err != nil {
		return nil, err
	}
	return s.Functions[h.Index], nil
}

// Memory returns the memory the handle addresses.
func (s *Store) Memory(h api.Extern) (*MemoryInstance, error) {
	if err := s.checkHandle(h, api.ExternTypeMemory, len(s.Memories)); err != nil {
		return nil, err
	}
	return s.Memories[h.Index], nil
}

// Table returns the table the handle addresses.
func (s *Store) Table(h api.Extern) (*TableInstance, error) {
	if err := s.checkHandle(h, api.ExternTypeTable, len(s.Tables)); err != nil {
		return nil, err
	}
	return s.Tables[h.Index], nil
}

// Global returns the global the handle addresses.
func (s *Store) Global(h api.Extern) (*GlobalInstance, error) {
	if err := s.checkHandle(h, api.ExternTypeGlobal, len(s.Globals)); err != nil {
		return nil, err
	}
	return s.Globals[h.Index], nil
}

func (s *Store) addFunction(f *FunctionInstance) {
	f.Index = uint32(len(s.Functions))
	f.TypeID = s.GetFunctionTypeID(f.Type)
	s.Functions = append(s.Functions, f)
}

func (s *Store) addMemory(m *MemoryInstance) {
	m.extern = api.Extern{Type: api.ExternTypeMemory, Store: s.ID, Index: uint32(len(s.Memories))}
	s.Memories = append(s.Memories, m)
}

func (s *Store) addTable(t *TableInstance) {
	t.extern = api.Extern{Type: api.ExternTypeTable, Store: s.ID, Index: uint32(len(s.Tables))}
	s.Tables = append(s.Tables, t)
}

func (s *Store) addGlobal(g *GlobalInstance) {
	g.extern = api.Extern{Type: api.ExternTypeGlobal, Store: s.ID, Index: uint32(len(s.Globals))}
	s.Globals = append(s.Globals, g)
}

// NewHostFunction adds a function implemented in Go. The name is only used in backtraces.
func (s *Store) NewHostFunction(ft *api.FunctionType, fn api.GoModuleFunction, name string) api.Extern {
	f := &FunctionInstance{Type: ft, Module: HostModuleIndex, Name: name, Host: fn}
	s.addFunction(f)
	return api.Extern{Type: api.ExternTypeFunc, Store: s.ID, Index: f.Index}
}

// NewMemory adds a memory of the type, allocating its minimum size.
func (s *Store) NewMemory(mt *api.MemoryType) (api.Extern, error) {
	m, err := newMemoryInstance(mt, s.memoryMaxPages)
	if err != nil {
		return api.Extern{}, err
	}
	s.addMemory(m)
	return m.extern, nil
}

// NewTable adds a table of the type with every element set to init.
func (s *Store) NewTable(tt *api.TableType, init uint64) (api.Extern, error) {
	t, err := newTableInstance(tt, init)
	if err != nil {
		return api.Extern{}, err
	}
	s.addTable(t)
	return t.extern, nil
}

// NewGlobal adds a global of the type holding the value.
func (s *Store) NewGlobal(gt *api.GlobalType, v uint64) api.Extern {
	g := &GlobalInstance{Type: gt, Val: v}
	s.addGlobal(g)
	return g.extern
}

// NewExternRef returns a non-null externref for the host value.
func (s *Store) NewExternRef(v any) uint64 {
	s.Externs = append(s.Externs, v)
	return uint64(len(s.Externs))
}

// ExternRef returns the host value behind the externref, or false if the reference is null or unknown.
func (s *Store) ExternRef(ref uint64) (any, bool) {
	if ref == 0 || ref > uint64(len(s.Externs)) {
		return nil, false
	}
	return s.Externs[ref-1], true
}

// Invoke calls the function the handle addresses.
func (s *Store) Invoke(ctx context.Context, h api.Extern, params ...uint64) ([]uint64, error) {
	f, err := s.Function(h)
	if err != nil {
		return nil, err
	}
	return s.FunctionAPI(f).Call(ctx, params...)
}
