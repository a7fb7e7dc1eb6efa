// Package irq keeps the per-vector interrupt handler table that the
// assembly entry trampolines dispatch into.
package irq

import "lumenos/kernel"

// Vector identifies an entry in the interrupt descriptor table.
type Vector uint8

// NumVectors is the number of entries in the interrupt descriptor table.
const NumVectors = 256

// CPU exception vectors referenced by the kernel.
const (
	// DivideError is raised on a division by zero.
	DivideError = Vector(0)

	// NMI is the non-maskable interrupt vector.
	NMI = Vector(2)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler.
	DoubleFault = Vector(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = Vector(13)

	// PageFaultException is raised when a PDT or PDT-entry is not present
	// or when a privilege and/or RW protection check fails.
	PageFaultException = Vector(14)

	// FirstExternal is the first vector available to external interrupt
	// sources; vectors below it are reserved for CPU exceptions.
	FirstExternal = Vector(32)
)

// Handler processes an interrupt. The error code is zero for vectors that
// do not push one. Any modifications to frame and regs are propagated back
// to the interrupted context when the handler returns.
type Handler func(vec Vector, errorCode uint64, frame *Frame, regs *Regs)

var (
	handlers [NumVectors]Handler

	errUnhandledInterrupt = &kernel.Error{Module: "irq", Message: "received interrupt with no registered handler"}
)

// HandleInterrupt installs h as the handler for vec replacing any
// previously registered handler. Passing a nil handler uninstalls it.
func HandleInterrupt(vec Vector, h Handler) {
	handlers[vec] = h
}

// HandleAll installs h for every vector.
func HandleAll(h Handler) {
	for i := range handlers {
		handlers[i] = h
	}
}

// Dispatch invokes the handler registered for vec. It is called by the entry
// trampolines with interrupts disabled, so handlers never nest.
func Dispatch(vec Vector, errorCode uint64, frame *Frame, regs *Regs) {
	h := handlers[vec]
	if h == nil {
		panic(errUnhandledInterrupt)
	}

	h(vec, errorCode, frame, regs)
}

// HasErrorCode returns true if the CPU pushes an error code to the stack
// before entering the handler for vec.
func HasErrorCode(vec Vector) bool {
	switch vec {
	case DoubleFault, 10, 11, 12, GPFException, PageFaultException, 17, 21, 29, 30:
		return true
	}
	return false
}
