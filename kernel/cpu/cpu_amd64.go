package cpu

const (
	// featureAPIC is the CPUID leaf 1 EDX bit that reports an on-chip
	// local APIC.
	featureAPIC = 1 << 9
)

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// WaitForInterrupt stops instruction execution until the next interrupt
// arrives. Unlike Halt, it leaves the interrupt flag untouched.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadMSR returns the contents of the model specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR stores val into the model specific register msr.
func WriteMSR(msr uint32, val uint64)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasLocalAPIC returns true if CPUID reports an on-chip local APIC.
func HasLocalAPIC() bool {
	_, _, _, edx := cpuidFn(1)
	return edx&featureAPIC != 0
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
