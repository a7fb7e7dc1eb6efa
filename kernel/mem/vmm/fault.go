package vmm

import (
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
)

var (
	// readCR2Fn is used by tests to override calls to cpu.ReadCR2 which
	// will cause a fault if called in user-mode.
	readCR2Fn = cpu.ReadCR2

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// PageFaultHandler reports a page fault and halts. Demand paging is not
// supported during bring-up so every page fault is fatal.
func PageFaultHandler(_ irq.Vector, errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(readCR2Fn())

	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case errorCode == 2:
		kfmt.Printf("write to non-present page")
	case errorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case errorCode&4 != 0:
		kfmt.Printf("page-fault in user-mode")
	case errorCode&8 != 0:
		kfmt.Printf("page table has reserved bit set")
	case errorCode&16 != 0:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	if phys, ok := KernelPDT().Translate(faultAddress); ok {
		kfmt.Printf(" (mapped to 0x%x)", phys)
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print(nil)
	frame.Print(nil)

	panic(errUnrecoverableFault)
}

// GeneralProtectionFaultHandler reports a general protection fault and halts.
func GeneralProtectionFaultHandler(_ irq.Vector, errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nGeneral protection fault (error code: 0x%x)\n", errorCode)
	kfmt.Printf("Registers:\n")
	regs.Print(nil)
	frame.Print(nil)

	panic(errUnrecoverableFault)
}
