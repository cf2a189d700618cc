package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrapCode_String(t *testing.T) {
	require.Equal(t, "integer divide by zero", TrapCodeIntegerDivideByZero.String())
	require.Equal(t, "host function error", TrapCodeHost.String())
	require.Equal(t, "trap(99)", TrapCode(99).String())
}

func TestTrap_Error(t *testing.T) {
	tests := []struct {
		name     string
		trap     *Trap
		expected string
	}{
		{
			name:     "code only",
			trap:     &Trap{Code: TrapCodeUnreachable},
			expected: "wasm trap: unreachable",
		},
		{
			name:     "diagnostic",
			trap:     &Trap{Code: TrapCodeHost, Diagnostic: "boom"},
			expected: "wasm trap: host function error: boom",
		},
		{
			name: "backtrace",
			trap: &Trap{Code: TrapCodeIntegerOverflow, Backtrace: []string{"inner", "outer"}},
			expected: `wasm trap: integer overflow
wasm backtrace:
	0: inner
	1: outer`,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.trap.Error())
		})
	}
}

func TestTrap_ErrorsIsAs(t *testing.T) {
	cause := errors.New("boom")
	var err error = fmt.Errorf("invoke: %w", &Trap{Code: TrapCodeHost, Cause: cause})

	var trap *Trap
	require.True(t, errors.As(err, &trap))
	require.Equal(t, TrapCodeHost, trap.Code)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, NewTrap(TrapCodeHost, ""))
	require.False(t, errors.Is(err, NewTrap(TrapCodeUnreachable, "")))
}
