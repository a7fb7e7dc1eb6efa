// Package apic drives the local APIC of the bootstrap processor.
package apic

import (
	"io"
	"lumenos/device"
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem/pmm"
	"lumenos/kernel/mem/vmm"
	"lumenos/kernel/mmio"
)

// State tracks the progress of the local APIC initialization.
type State uint8

// The initialization states in the order they are reached.
const (
	Unchecked State = iota
	Detected
	BaseKnown
	Mapped
	LVTProgrammed
	Enabled
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Detected:
		return "detected"
	case BaseKnown:
		return "base known"
	case Mapped:
		return "mapped"
	case LVTProgrammed:
		return "LVT programmed"
	case Enabled:
		return "enabled"
	default:
		return "invalid"
	}
}

const (
	// VirtAddr is the virtual address where the register page is mapped.
	VirtAddr = uintptr(0xfffffffffffff000)

	// SpuriousVector is delivered when an interrupt is withdrawn before
	// the processor accepts it. The low four bits of the spurious vector
	// are hardwired to 1 on P6 family processors.
	SpuriousVector = irq.Vector(0xff)

	msrAPICBase      = 0x1b
	apicBasePhysMask = uintptr(0x000ffffffffff000)

	regID    = 0x20
	regVer   = 0x30
	regTPR   = 0x80
	regEOI   = 0xb0
	regSVR   = 0xf0
	regTimer = 0x320
	regPerf  = 0x340
	regLINT0 = 0x350
	regLINT1 = 0x360
	regError = 0x370

	lvtMasked      = 1 << 16
	lvtLevel       = 1 << 15
	deliveryNMI    = 0x4 << 8
	deliveryExtINT = 0x7 << 8
	svrEnable      = 1 << 8
)

var (
	// The following functions are used by tests to mock calls that
	// require ring 0 or access hardware.
	cpuHasAPICFn      = cpu.HasLocalAPIC
	readMSRFn         = cpu.ReadMSR
	handleInterruptFn = irq.HandleInterrupt
	readRegFn         = mmio.Read32
	writeRegFn        = mmio.Write32
	mapFn             = func(vaddr, paddr uintptr) *kernel.Error {
		return vmm.KernelPDT().Map(vaddr, paddr, vmm.FlagsMMIO, pmm.Size4K)
	}
	unmapFn = func(vaddr uintptr) bool {
		return vmm.KernelPDT().Unmap(vaddr)
	}

	errNoLocalAPIC     = &kernel.Error{Module: "apic", Message: "CPU does not provide a local APIC", Kind: kernel.KindHardwareAbsent}
	errNoLocalAPICBase = &kernel.Error{Module: "apic", Message: "local APIC base address is not set", Kind: kernel.KindHardwareAbsent}

	localAPIC     LocalAPIC
	spuriousCount uint64
)

// LocalAPIC is a handle to the memory-mapped registers of a local APIC.
type LocalAPIC struct {
	physBase uintptr
	regs     uintptr
	state    State
}

// Init brings up the local APIC of the bootstrap processor and returns a
// handle to it. Any failure causes a kernel panic; no register is accessed
// unless the APIC has been detected and mapped.
func Init() *LocalAPIC {
	localAPIC = LocalAPIC{}
	device.Init(&localAPIC)
	return &localAPIC
}

// DriverName returns the name of this driver.
func (*LocalAPIC) DriverName() string {
	return "local_apic"
}

// DriverVersion returns the version of this driver.
func (*LocalAPIC) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit detects, maps and enables the local APIC.
func (l *LocalAPIC) DriverInit(w io.Writer) *kernel.Error {
	if !cpuHasAPICFn() {
		return errNoLocalAPIC
	}
	l.state = Detected

	if l.physBase = uintptr(readMSRFn(msrAPICBase)) & apicBasePhysMask; l.physBase == 0 {
		return errNoLocalAPICBase
	}
	l.state = BaseKnown

	// Drop any cacheable mapping of the register page
	unmapFn(l.physBase)
	unmapFn(VirtAddr)
	if err := mapFn(VirtAddr, l.physBase); err != nil {
		return err
	}
	l.regs = VirtAddr
	l.state = Mapped

	l.programLVT()
	l.state = LVTProgrammed

	handleInterruptFn(SpuriousVector, spuriousHandler)
	l.state = Enabled

	kfmt.Fprintf(w, "id %d, version 0x%x, registers at 0x%x mapped to 0x%16x\n", l.ID(), l.Version(), l.physBase, l.regs)
	return nil
}

// programLVT quiesces the local vector table and enables the APIC. The
// order of the writes must be preserved.
func (l *LocalAPIC) programLVT() {
	l.write(regTimer, lvtMasked)
	l.write(regLINT0, lvtLevel|deliveryExtINT)
	l.write(regLINT1, deliveryNMI)
	l.write(regPerf, lvtMasked)
	l.write(regError, lvtMasked)
	l.write(regSVR, uint32(SpuriousVector)|svrEnable)
	l.write(regLINT0, lvtLevel|deliveryExtINT)
	l.write(regLINT1, deliveryNMI)
	l.write(regTPR, 0)
}

func (l *LocalAPIC) read(reg uintptr) uint32 {
	return readRegFn(l.regs + reg)
}

func (l *LocalAPIC) write(reg uintptr, val uint32) {
	writeRegFn(l.regs+reg, val)
}

// State returns the initialization state reached by the APIC.
func (l *LocalAPIC) State() State {
	return l.state
}

// Base returns the physical address of the APIC registers.
func (l *LocalAPIC) Base() uintptr {
	return l.physBase
}

// ID returns the local APIC ID.
func (l *LocalAPIC) ID() uint8 {
	return uint8(l.read(regID) >> 24)
}

// Version returns the contents of the APIC version register.
func (l *LocalAPIC) Version() uint32 {
	return l.read(regVer)
}

// EndOfInterrupt signals the completion of the interrupt that is currently
// being serviced. It must not be called for the spurious vector.
func (l *LocalAPIC) EndOfInterrupt() {
	l.write(regEOI, 0)
}

// EndOfInterrupt signals the completion of the current interrupt to the
// local APIC of the bootstrap processor. It is a no-op until Init has
// enabled the APIC.
func EndOfInterrupt() {
	if localAPIC.state == Enabled {
		localAPIC.EndOfInterrupt()
	}
}

// SpuriousCount returns the number of spurious interrupts received.
func SpuriousCount() uint64 {
	return spuriousCount
}

// spuriousHandler records a spurious interrupt. Spurious interrupts are not
// in service so no EOI is sent.
func spuriousHandler(_ irq.Vector, _ uint64, _ *irq.Frame, _ *irq.Regs) {
	spuriousCount++
}
