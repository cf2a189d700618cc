package wasmslot

import (
	"context"
	"errors"

	"github.com/wasmslot/wasmslot/api"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
)

// Store holds the functions, memories, tables, globals and instances that modules instantiated in it share. Entities
// are addressed by api.Extern handles, which are only valid in the Store that created them.
//
// Note: Store is not safe for concurrent use. Guard all invocations and accesses with a mutex when a Store is shared
// between goroutines.
type Store struct {
	s   *internalwasm.Store
	ctx context.Context
}

// NewHostFunction adds a function implemented in Go. The name is only used in trap backtraces. Ex. "env.log"
func (s *Store) NewHostFunction(ft *api.FunctionType, fn api.GoModuleFunction, name string) api.Extern {
	return s.s.NewHostFunction(ft, fn, name)
}

// NewMemory adds a memory of the type, allocating its minimum size.
func (s *Store) NewMemory(mt *api.MemoryType) (api.Extern, error) {
	return s.s.NewMemory(mt)
}

// NewTable adds a table of the type with every element set to init.
func (s *Store) NewTable(tt *api.TableType, init uint64) (api.Extern, error) {
	return s.s.NewTable(tt, init)
}

// NewGlobal adds a global of the type holding the value.
func (s *Store) NewGlobal(gt *api.GlobalType, v uint64) api.Extern {
	return s.s.NewGlobal(gt, v)
}

// NewExternRef returns a non-null externref for the host value, to pass to functions as a parameter or to store in
// an externref table.
func (s *Store) NewExternRef(v any) uint64 {
	return s.s.NewExternRef(v)
}

// ExternRef returns the host value behind the externref, or false if the reference is null or unknown.
func (s *Store) ExternRef(ref uint64) (any, bool) {
	return s.s.ExternRef(ref)
}

// Invoke calls the function the handle addresses. The error is a *api.Trap when the function trapped.
func (s *Store) Invoke(ctx context.Context, h api.Extern, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = s.ctx
	}
	return s.s.Invoke(ctx, h, params...)
}

// Function returns the function the handle addresses.
func (s *Store) Function(h api.Extern) (api.Function, error) {
	f, err := s.s.Function(h)
	if err != nil {
		return nil, err
	}
	return s.s.FunctionAPI(f), nil
}

// Memory returns the memory the handle addresses.
func (s *Store) Memory(h api.Extern) (api.Memory, error) {
	m, err := s.s.Memory(h)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Table returns the table the handle addresses.
func (s *Store) Table(h api.Extern) (api.Table, error) {
	t, err := s.s.Table(h)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Global returns the global the handle addresses. It is an api.MutableGlobal when the global is mutable.
func (s *Store) Global(h api.Extern) (api.Global, error) {
	g, err := s.s.Global(h)
	if err != nil {
		return nil, err
	}
	return g.API(), nil
}

// errNotMetered is returned by AddFuel when the runtime was not configured with fuel.
var errNotMetered = errors.New("fuel is not enabled: see RuntimeConfig.WithFuel")

// Fuel returns the count of instructions left to execute, or false if execution is not metered.
func (s *Store) Fuel() (uint64, bool) {
	return s.s.Fuel, s.s.FuelEnabled
}

// AddFuel refills the fuel of a metered Store.
func (s *Store) AddFuel(fuel uint64) error {
	if !s.s.FuelEnabled {
		return errNotMetered
	}
	s.s.Fuel += fuel
	return nil
}
