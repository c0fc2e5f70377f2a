package trace_test

import (
	"testing"

	"github.com/cuemby/ledgerdb/internal/trace"
	"github.com/stretchr/testify/require"
)

func TestTimedAlwaysRunsBlock(t *testing.T) {
	ran := false
	trace.Timed("test", func() { ran = true })
	require.True(t, ran)
}

func TestTimedValueReturnsResult(t *testing.T) {
	result := trace.TimedValue("test", func() int { return 42 })
	require.Equal(t, 42, result)
}

func TestDebugOnlyRespectsEnabled(t *testing.T) {
	defer func() { trace.Enabled = false }()

	trace.Enabled = false
	ran := false
	trace.DebugOnly(func() { ran = true })
	require.False(t, ran)

	trace.Enabled = true
	trace.DebugOnly(func() { ran = true })
	require.True(t, ran)
}
