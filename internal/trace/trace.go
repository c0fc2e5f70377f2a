// Package trace provides optional timing instrumentation for hot paths.
// Go has no macros and no conditional compilation idiom as convenient as a
// build tag for this kind of toggle, so the gate is a package-level flag
// instead: Timed and DebugOnly are compiled unconditionally and check
// Enabled at call time.
package trace

import (
	"time"

	"github.com/cuemby/ledgerdb/pkg/log"
)

// Enabled gates every function in this package. False by default; the CLI
// flips it on via --trace.
var Enabled = false

// Timed runs fn and, if Enabled, logs label and fn's duration at debug
// level. It always runs fn regardless of Enabled.
func Timed(label string, fn func()) {
	if !Enabled {
		fn()
		return
	}
	start := time.Now()
	fn()
	log.WithComponent("trace").Debug().Str("label", label).Dur("elapsed", time.Since(start)).Msg("timed block")
}

// TimedValue is Timed's generic counterpart for functions that return a
// value, mirroring the reference's timed! macro accepting an arbitrary
// expression block.
func TimedValue[T any](label string, fn func() T) T {
	if !Enabled {
		return fn()
	}
	start := time.Now()
	result := fn()
	log.WithComponent("trace").Debug().Str("label", label).Dur("elapsed", time.Since(start)).Msg("timed block")
	return result
}

// DebugOnly runs fn only when Enabled, the equivalent of the reference's
// debug_only! macro (which compiles to nothing in release builds).
func DebugOnly(fn func()) {
	if Enabled {
		fn()
	}
}
