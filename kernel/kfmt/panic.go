package kfmt

import (
	"lumenos/kernel"
	"lumenos/kernel/cpu"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn           = cpu.Halt
	disableInterruptsFn = cpu.DisableInterrupts

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic masks interrupts, outputs the supplied error (if not nil) to the
// console and halts the CPU. Calls to Panic never return. Panic also works as
// a redirection target for calls to panic() (resolved via runtime.gopanic).
//
// Interrupts are masked first so that a device interrupt cannot wake the CPU
// from the final halt once bring-up has enabled them.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	disableInterruptsFn()

	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	switch {
	case err == nil:
	case err.Kind != kernel.KindUnspecified:
		Printf("[%s] unrecoverable error (%s): %s\n", err.Module, err.Kind.String(), err.Message)
	default:
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
