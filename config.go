package wasmslot

import (
	"context"
	"fmt"
	"math"
	"os"
	goruntime "runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmslot/wasmslot/internal/engine/interpreter"
	internalwasm "github.com/wasmslot/wasmslot/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig
//
// Every With method returns a copy, so a RuntimeConfig can be shared and derived from safely.
type RuntimeConfig struct {
	ctx                    context.Context
	maxCallDepth           int
	maxValueStackSlots     int
	maxFrameSlots          uint32
	memoryMaxPages         uint64
	yieldInterval          uint64
	yieldHook              func(context.Context) error
	fuel                   uint64
	compilationConcurrency int
	logger                 *zap.Logger
	registerer             prometheus.Registerer
}

// DefaultMaxFrameSlots is the default limit of the slots a single function may use.
const DefaultMaxFrameSlots = 1 << 15

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &RuntimeConfig{
	ctx:                context.Background(),
	maxCallDepth:       interpreter.DefaultMaxCallDepth,
	maxValueStackSlots: interpreter.DefaultMaxValueStackSlots,
	maxFrameSlots:      DefaultMaxFrameSlots,
	memoryMaxPages:     internalwasm.MemoryLimitPages,
}

// NewRuntimeConfig returns the default configuration.
func NewRuntimeConfig() *RuntimeConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are coped even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithContext sets the default context used to run start functions and invocations given a nil context. Defaults to
// context.Background if nil.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMaxCallDepth sets the count of nested calls over which a call chain traps with api.TrapCodeCallStackExhausted.
// Defaults to 2000.
func (c *RuntimeConfig) WithMaxCallDepth(depth int) *RuntimeConfig {
	ret := c.clone()
	ret.maxCallDepth = depth
	return ret
}

// WithMaxValueStackSlots sets the count of value stack slots over which a call chain traps with
// api.TrapCodeCallStackExhausted. Defaults to 1<<22.
func (c *RuntimeConfig) WithMaxValueStackSlots(slots int) *RuntimeConfig {
	ret := c.clone()
	ret.maxValueStackSlots = slots
	return ret
}

// WithMaxFrameSlots sets the count of slots over which a function fails to compile. Defaults to 1<<15.
func (c *RuntimeConfig) WithMaxFrameSlots(slots uint32) *RuntimeConfig {
	ret := c.clone()
	ret.maxFrameSlots = slots
	return ret
}

// WithMemoryMaxPages reduces the maximum number of pages a memory can grow to from 65536 pages (4GiB) to a lower
// value.
//
// Notes:
//   - A memory whose minimum is larger fails to instantiate.
//   - Any "memory.grow" instruction that results in a larger value returns -1.
//
// See https://www.w3.org/TR/2022/WD-wasm-core-2-20220419/exec/instructions.html#xref-syntax-instructions-syntax-instr-memory-mathsf-memory-grow
func (c *RuntimeConfig) WithMemoryMaxPages(pages uint64) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = pages
	return ret
}

// WithYieldInterval sets the count of executed instructions between two checks of the context and the yield hook.
// Zero, the default, disables the checks, so a done context does not stop a running function.
func (c *RuntimeConfig) WithYieldInterval(instructions uint64) *RuntimeConfig {
	ret := c.clone()
	ret.yieldInterval = instructions
	return ret
}

// WithYieldHook sets a function called at every yield check. Returning an error unwinds the call chain with
// api.TrapCodeInterrupted.
func (c *RuntimeConfig) WithYieldHook(hook func(context.Context) error) *RuntimeConfig {
	ret := c.clone()
	ret.yieldHook = hook
	return ret
}

// WithFuel meters execution: each Store starts with the fuel and every executed instruction consumes one unit. Running
// out traps with api.TrapCodeOutOfFuel. Zero, the default, disables metering.
func (c *RuntimeConfig) WithFuel(fuel uint64) *RuntimeConfig {
	ret := c.clone()
	ret.fuel = fuel
	return ret
}

// WithCompilationConcurrency sets how many functions of a module are translated in parallel. Defaults to
// runtime.GOMAXPROCS(0) when zero.
func (c *RuntimeConfig) WithCompilationConcurrency(n int) *RuntimeConfig {
	ret := c.clone()
	ret.compilationConcurrency = n
	return ret
}

// WithLogger sets the logger of the runtime. Defaults to a no-op logger.
func (c *RuntimeConfig) WithLogger(logger *zap.Logger) *RuntimeConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithMetricsRegisterer registers the metrics of the runtime. No metrics are collected when nil, the default.
func (c *RuntimeConfig) WithMetricsRegisterer(reg prometheus.Registerer) *RuntimeConfig {
	ret := c.clone()
	ret.registerer = reg
	return ret
}

func (c *RuntimeConfig) concurrency() int {
	if c.compilationConcurrency > 0 {
		return c.compilationConcurrency
	}
	return goruntime.GOMAXPROCS(0)
}

// fileConfig is the TOML document read by ParseRuntimeConfig. Absent keys keep their default.
type fileConfig struct {
	Limits struct {
		MaxCallDepth       *int    `toml:"max_call_depth"`
		MaxValueStackSlots *int    `toml:"max_value_stack_slots"`
		MaxFrameSlots      *int64 `toml:"max_frame_slots"`
		MemoryMaxPages     *int64 `toml:"memory_max_pages"`
	} `toml:"limits"`
	Execution struct {
		YieldInterval *int64 `toml:"yield_interval"`
		Fuel          *int64 `toml:"fuel"`
	} `toml:"execution"`
	Translation struct {
		Concurrency *int `toml:"concurrency"`
	} `toml:"translation"`
}

// LoadRuntimeConfig reads the TOML file at the path. See ParseRuntimeConfig.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := ParseRuntimeConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

// ParseRuntimeConfig returns the default configuration overridden by the TOML document. Unknown keys are an error.
//
// Ex.
//
//	[limits]
//	max_call_depth = 2000
//	max_value_stack_slots = 4194304
//	max_frame_slots = 32768
//	memory_max_pages = 65536
//	[execution]
//	yield_interval = 100000
//	fuel = 0
//	[translation]
//	concurrency = 4
func ParseRuntimeConfig(data []byte) (*RuntimeConfig, error) {
	var fc fileConfig
	md, err := toml.Decode(string(data), &fc)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	c := NewRuntimeConfig()
	if v := fc.Limits.MaxCallDepth; v != nil {
		if *v <= 0 {
			return nil, fmt.Errorf("limits.max_call_depth must be positive, but was %d", *v)
		}
		c.maxCallDepth = *v
	}
	if v := fc.Limits.MaxValueStackSlots; v != nil {
		if *v <= 0 {
			return nil, fmt.Errorf("limits.max_value_stack_slots must be positive, but was %d", *v)
		}
		c.maxValueStackSlots = *v
	}
	if v := fc.Limits.MaxFrameSlots; v != nil {
		if *v <= 0 || *v > math.MaxUint32 {
			return nil, fmt.Errorf("limits.max_frame_slots must be in [1, %d], but was %d", uint32(math.MaxUint32), *v)
		}
		c.maxFrameSlots = uint32(*v)
	}
	if v := fc.Limits.MemoryMaxPages; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("limits.memory_max_pages must not be negative, but was %d", *v)
		}
		if uint64(*v) > internalwasm.Memory64LimitPages {
			return nil, fmt.Errorf("limits.memory_max_pages %d is over the limit of %d", *v, internalwasm.Memory64LimitPages)
		}
		c.memoryMaxPages = uint64(*v)
	}
	if v := fc.Execution.YieldInterval; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("execution.yield_interval must not be negative, but was %d", *v)
		}
		c.yieldInterval = uint64(*v)
	}
	if v := fc.Execution.Fuel; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("execution.fuel must not be negative, but was %d", *v)
		}
		c.fuel = uint64(*v)
	}
	if v := fc.Translation.Concurrency; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("translation.concurrency must not be negative, but was %d", *v)
		}
		c.compilationConcurrency = *v
	}
	return c, nil
}
