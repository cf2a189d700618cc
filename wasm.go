package wasmslot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wasmslot/wasmslot/api"
	"github.com/wasmslot/wasmslot/internal/engine/interpreter"
	"github.com/wasmslot/wasmslot/internal/logging"
	"github.com/wasmslot/wasmslot/internal/metrics"
	"github.com/wasmslot/wasmslot/internal/slotir"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
	"github.com/wasmslot/wasmslot/wasm"
)

var (
	// ErrImportMismatch means an import handle has the wrong kind, or an incompatible type or limits.
	ErrImportMismatch = internalwasm.ErrImportMismatch
	// ErrInitializationOutOfBounds means an active element or data segment does not fit its table or memory.
	ErrInitializationOutOfBounds = internalwasm.ErrInitializationOutOfBounds
	// ErrInternal means the module breaks an assumption a validator should have enforced.
	ErrInternal = internalwasm.ErrInternal
	// ErrForeignHandle means a handle was created by another Store.
	ErrForeignHandle = internalwasm.ErrForeignHandle
)

// Runtime translates validated WebAssembly modules and instantiates them in stores.
//
// Ex.
//
//	r := wasmslot.NewRuntime()
//	compiled, _ := r.CompileModule(ctx, module)
//	s := r.NewStore()
//	instance, _ := r.Instantiate(ctx, s, compiled, "math")
//	results, _ := instance.ExportedFunction("add").Call(ctx, 1, 2)
//
// A Runtime is safe for concurrent use. The Stores it creates are not.
type Runtime interface {
	// NewStore returns an empty Store executing with the interpreter of this runtime.
	NewStore() *Store

	// CompileModule translates every function body of the module, which must have been validated, into the form the
	// interpreter executes. The first translation error fails the whole module.
	CompileModule(ctx context.Context, module *wasm.Module) (*CompiledModule, error)

	// Instantiate creates an instance of the compiled module in the Store, with imports in import section order.
	//
	// The name defaults to the module name of the name section. On error, nothing is left in the Store, except data
	// and element segments written to imported memories and tables before the start function trapped. When the module
	// imports a function, table or global, a start function trap also leaves the entities of the failed instance in
	// the Store, so that references already stored outside of it stay valid.
	Instantiate(ctx context.Context, s *Store, compiled *CompiledModule, name string, imports ...api.Extern) (*Instance, error)

	// ResolveImports returns the imports of the compiled module, found by module name then export name in the
	// instances.
	ResolveImports(compiled *CompiledModule, instances ...*Instance) ([]api.Extern, error)
}

// NewRuntime returns a runtime with the default configuration.
func NewRuntime() Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a runtime with the given configuration.
func NewRuntimeWithConfig(config *RuntimeConfig) Runtime {
	logger := logging.OrNop(config.logger)
	var m *metrics.Metrics
	if config.registerer != nil {
		var err error
		if m, err = metrics.New(config.registerer); err != nil {
			logger.Warn("metrics disabled", zap.Error(err))
			m = nil
		}
	}
	return &runtime{
		config:  config.clone(),
		logger:  logger,
		metrics: m,
		engine: interpreter.NewEngine(interpreter.Config{
			MaxCallDepth:       config.maxCallDepth,
			MaxValueStackSlots: config.maxValueStackSlots,
			YieldInterval:      config.yieldInterval,
			YieldHook:          config.yieldHook,
			Logger:             logger,
			Metrics:            m,
		}),
	}
}

// runtime allows decoupling of public interfaces from internal representation.
type runtime struct {
	config  *RuntimeConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	engine  internalwasm.Engine
}

// CompiledModule is a module whose function bodies are translated, ready to be instantiated any number of times in
// any Store of the runtime that compiled it.
type CompiledModule struct {
	module *wasm.Module
	code   []*slotir.CompiledFunction
}

// Name returns the module name of the name section, or empty.
func (c *CompiledModule) Name() string {
	return c.module.ModuleName()
}

// Imports returns the imports the module requires, in the order Runtime.Instantiate expects them.
func (c *CompiledModule) Imports() []*wasm.Import {
	return c.module.ImportSection
}

// Exports returns the exports the module defines.
func (c *CompiledModule) Exports() []*wasm.Export {
	return c.module.ExportSection
}

// NewStore implements Runtime.NewStore
func (r *runtime) NewStore() *Store {
	s := internalwasm.NewStore(r.engine, internalwasm.StoreConfig{
		MemoryMaxPages: r.config.memoryMaxPages,
		Logger:         r.logger,
	})
	if fuel := r.config.fuel; fuel > 0 {
		s.FuelEnabled = true
		s.Fuel = fuel
	}
	return &Store{s: s, ctx: r.config.ctx}
}

// CompileModule implements Runtime.CompileModule
func (r *runtime) CompileModule(ctx context.Context, module *wasm.Module) (*CompiledModule, error) {
	if module == nil {
		return nil, errors.New("module == nil")
	}
	if ctx == nil {
		ctx = r.config.ctx
	}
	start := time.Now()
	importedFuncs, _, _, _ := module.ImportCounts()
	cfg := slotir.Config{MaxFrameSlots: r.config.maxFrameSlots}

	code := make([]*slotir.CompiledFunction, len(module.CodeSection))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.concurrency())
	for i := range module.CodeSection {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			funcIdx := importedFuncs + wasm.Index(i)
			c, err := slotir.Compile(module, funcIdx, cfg)
			if err != nil {
				r.logger.Error("translation failed", logging.Function(funcIdx, module.FunctionName(funcIdx)), zap.Error(err))
				return err
			}
			code[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	instructions := 0
	for _, c := range code {
		instructions += len(c.Body)
	}
	elapsed := time.Since(start)
	r.metrics.ModuleTranslated(len(code), instructions, elapsed)
	r.logger.Debug("module compiled", logging.Module(module.ModuleName()),
		zap.Int("functions", len(code)),
		zap.Int("instructions", instructions),
		zap.Duration("duration", elapsed))
	return &CompiledModule{module: module, code: code}, nil
}

// Instantiate implements Runtime.Instantiate
func (r *runtime) Instantiate(ctx context.Context, s *Store, compiled *CompiledModule, name string, imports ...api.Extern) (*Instance, error) {
	if ctx == nil {
		ctx = s.ctx
	}
	if name == "" {
		name = compiled.Name()
	}
	mi, err := s.s.Instantiate(ctx, compiled.module, compiled.code, name, imports)
	r.metrics.Instantiated(err)
	if err != nil {
		r.logger.Warn("instantiation failed", logging.Module(name), zap.Error(err))
		return nil, err
	}
	return &Instance{s: s, mi: mi}, nil
}

// ResolveImports implements Runtime.ResolveImports
func (r *runtime) ResolveImports(compiled *CompiledModule, instances ...*Instance) ([]api.Extern, error) {
	mis := make([]*internalwasm.ModuleInstance, 0, len(instances))
	for _, i := range instances {
		mis = append(mis, i.mi)
	}
	return internalwasm.ResolveImports(compiled.module.ImportSection, mis)
}
