// Package kmain brings up memory management and interrupt delivery on the
// bootstrap processor.
package kmain

import (
	"io"
	"lumenos/device/apic"
	"lumenos/device/ioapic"
	"lumenos/device/mptable"
	"lumenos/device/pic"
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/driver/serial"
	"lumenos/kernel/hal/e820"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem/mmap"
	"lumenos/kernel/mem/pmm/allocator"
	"lumenos/kernel/mem/vmm"
)

// consoleBaud is the baud rate of the serial console.
const consoleBaud = 115200

// topology is the subset of the MP topology used during bring-up.
type topology interface {
	IOAPICs() []mptable.IOAPICEntry
	Print(io.Writer)
}

var (
	// The following functions are used by tests to mock the bring-up
	// steps that require ring 0 or access hardware.
	disableInterruptsFn    = cpu.DisableInterrupts
	enableInterruptsFn     = cpu.EnableInterrupts
	attachConsoleFn        = attachSerialConsole
	memoryMapSource        = e820.Source(e820.VisitEntries)
	bootstrapIdentityMapFn = vmm.BootstrapIdentityMap
	allocatorInitFn        = allocator.Init
	picRemapFn             = pic.Remap
	apicInitFn             = func() uint8 { return apic.Init().ID() }
	findTopologyFn         = func() (topology, *kernel.Error) {
		topo, err := mptable.Find()
		if err != nil {
			return nil, err
		}
		return topo, nil
	}
	ioapicInitFn = func(entries []mptable.IOAPICEntry, below uintptr, destAPICID uint8) {
		ioapic.Init(entries, below, destAPICID)
	}

	errKmainReturned  = &kernel.Error{Module: "kmain", Message: "Kmain returned", Kind: kernel.KindInvariantViolation}
	errUnhandledFault = &kernel.Error{Module: "kmain", Message: "unhandled CPU exception"}

	com1          serial.Port
	memMap        mmap.Map
	topologyFound bool
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT, the interrupt entry trampolines and a minimal g0
// struct that allows Go code using the 4K stack allocated by the assembly
// code. Interrupts are disabled on entry.
//
// The rt0 code passes the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(kernelStart, kernelEnd uintptr) {
	bringUp(kernelStart, kernelEnd)
	idle()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// bringUp initializes, in order, the console, the fault handlers, the
// memory map, the page tables, the frame allocator and the interrupt
// controllers. Interrupts are enabled as the very last step.
func bringUp(kernelStart, kernelEnd uintptr) {
	var err *kernel.Error

	disableInterruptsFn()
	attachConsoleFn()
	irq.HandleAll(genericHandler)

	kfmt.Printf("[kmain] kernel image at [0x%x - 0x%x)\n", kernelStart, kernelEnd)

	if memMap, err = mmap.Sanitize(memoryMapSource, uint64(kernelStart), uint64(kernelEnd)); err != nil {
		panic(err)
	}
	memMap.Print(nil)

	bootstrapIdentityMapFn(&memMap)
	allocatorInitFn(&memMap)

	picRemapFn(pic.DefaultBase)
	bspID := apicInitFn()

	topo, err := findTopologyFn()
	if topologyFound = err == nil; topologyFound {
		topo.Print(nil)
		ioapicInitFn(topo.IOAPICs(), apic.VirtAddr, bspID)
	} else {
		kfmt.Printf("[kmain] MP topology unavailable (%s); I/O APIC not initialized\n", err.Message)
	}

	enableInterruptsFn()
	kfmt.Printf("[kmain] interrupts enabled\n")
}

// idle halts the CPU until the next interrupt, forever.
func idle() {
	for {
		cpu.WaitForInterrupt()
	}
}

// attachSerialConsole routes kernel output to COM1.
func attachSerialConsole() {
	// Port values are kept in a package variable as there is no heap
	com1 = *serial.New(serial.COM1)
	com1.Init(consoleBaud)
	kfmt.SetOutputSink(&com1)
}

// genericHandler is installed for every vector before any other handler.
// Page faults, general protection faults and double faults are reported and
// halt the CPU. Other CPU exceptions are logged. All other vectors are
// acknowledged at both the legacy PIC and the local APIC.
func genericHandler(vec irq.Vector, errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	switch {
	case vec == irq.PageFaultException:
		vmm.PageFaultHandler(vec, errorCode, frame, regs)
	case vec == irq.GPFException:
		vmm.GeneralProtectionFaultHandler(vec, errorCode, frame, regs)
	case vec == irq.DoubleFault:
		kfmt.Printf("\n[kmain] double fault\nRegisters:\n")
		regs.Print(nil)
		frame.Print(nil)
		panic(errUnhandledFault)
	case vec < irq.FirstExternal:
		kfmt.Printf("[kmain] CPU exception %d (error code: 0x%x)\n", uint8(vec), errorCode)
		return
	}

	pic.Acknowledge(vec)
	apic.EndOfInterrupt()
}
