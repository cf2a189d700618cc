// Package logging holds the zap conventions shared by the runtime packages. This is in an independent package to
// avoid dependency cycles.
package logging

import (
	"go.uber.org/zap"

	"github.com/wasmslot/wasmslot/api"
)

// OrNop returns the logger, or a no-op logger when nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Module is the field naming a module instance.
func Module(name string) zap.Field {
	return zap.String("module", name)
}

// Function is the field naming a function by index and debug name.
func Function(index uint32, name string) zap.Field {
	return zap.Dict("function", zap.Uint32("index", index), zap.String("name", name))
}

// TrapCode is the field naming a trap code.
func TrapCode(code api.TrapCode) zap.Field {
	return zap.Stringer("trap", code)
}

// Backtrace is the field holding a wasm backtrace, innermost frame first.
func Backtrace(frames []string) zap.Field {
	return zap.Strings("backtrace", frames)
}
