// Package ioapic drives the I/O APICs that route external interrupt lines to
// processor vectors.
package ioapic

import (
	"io"
	"lumenos/device"
	"lumenos/device/mptable"
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem/pmm"
	"lumenos/kernel/mem/vmm"
	"lumenos/kernel/mmio"
)

const (
	// WindowSize is the size of the register window of each I/O APIC.
	// Multiple I/O APICs are expected to be located at consecutive
	// windows.
	WindowSize = 0x1000

	// MaxControllers is the maximum number of supported I/O APICs.
	MaxControllers = 8

	// offsets of the indirect access registers
	regSelect = 0x00
	regWindow = 0x10

	// RegID is the index of the I/O APIC ID register.
	RegID = uint8(0x00)

	// RegVersion is the index of the version register. Bits 16-23
	// contain the index of the last redirection table entry.
	RegVersion = uint8(0x01)

	// RegRedirection is the index of the low half of the first
	// redirection table entry. Each entry occupies two registers.
	RegRedirection = uint8(0x10)

	// RedirectionMasked is set in a redirection entry to mask the line.
	RedirectionMasked = uint64(1 << 16)

	// destShift is the position of the destination APIC ID.
	destShift = 56

	// minRedirectionEntries is the number of lines routed at init.
	minRedirectionEntries = 24

	// legacyLines is the number of ISA interrupt lines.
	legacyLines = 16
)

var (
	// The following functions are used by tests to mock calls that
	// access hardware.
	readRegFn  = mmio.Read32
	writeRegFn = mmio.Write32
	mapFn      = func(vaddr, paddr uintptr) *kernel.Error {
		return vmm.KernelPDT().Map(vaddr, paddr, vmm.FlagsMMIO, pmm.Size4K)
	}

	// legacyRoutes assigns vectors to the ISA lines of the first I/O
	// APIC. The vector value determines the priority of each line; from
	// highest to lowest the order is 0, 1, 8-15, 3-7. Line 2 is the
	// cascade line of the legacy PICs and is never raised.
	legacyRoutes = [legacyLines]uint64{
		0:  0xfc,
		1:  0xf4,
		2:  RedirectionMasked,
		3:  0xa4,
		4:  0x9c,
		5:  0x94,
		6:  0x8c,
		7:  0x84,
		8:  0xe4,
		9:  0xdc,
		10: 0xd4,
		11: 0xcc,
		12: 0xc4,
		13: 0xbc,
		14: 0xb4,
		15: 0xac,
	}

	errNoIOAPIC                 = &kernel.Error{Module: "ioapic", Message: "no I/O APIC found", Kind: kernel.KindHardwareAbsent}
	errTooManyIOAPICs           = &kernel.Error{Module: "ioapic", Message: "too many I/O APICs", Kind: kernel.KindResourceExhausted}
	errNonContiguousIOAPICs     = &kernel.Error{Module: "ioapic", Message: "I/O APIC register windows are not contiguous", Kind: kernel.KindMalformedFirmwareData}
	errTooFewRedirectionEntries = &kernel.Error{Module: "ioapic", Message: "I/O APIC does not support enough redirection entries", Kind: kernel.KindMalformedFirmwareData}

	ioapics Set
)

// Controller is a handle to the register window of an I/O APIC.
type Controller struct {
	id       uint8
	physBase uintptr
	regs     uintptr
}

// ID returns the I/O APIC ID reported by the firmware.
func (c *Controller) ID() uint8 { return c.id }

// Base returns the physical address of the register window.
func (c *Controller) Base() uintptr { return c.physBase }

// Read32 returns the value of register reg.
func (c *Controller) Read32(reg uint8) uint32 {
	writeRegFn(c.regs+regSelect, uint32(reg))
	return readRegFn(c.regs + regWindow)
}

// Write32 sets register reg to val.
func (c *Controller) Write32(reg uint8, val uint32) {
	writeRegFn(c.regs+regSelect, uint32(reg))
	writeRegFn(c.regs+regWindow, val)
}

// Read64 returns the 64-bit value stored in registers reg (low half) and
// reg+1 (high half).
func (c *Controller) Read64(reg uint8) uint64 {
	hi := c.Read32(reg + 1)
	return uint64(hi)<<32 | uint64(c.Read32(reg))
}

// Write64 stores val to registers reg (low half) and reg+1 (high half). The
// high half is written first so the low half, which contains the mask bit,
// takes effect last.
func (c *Controller) Write64(reg uint8, val uint64) {
	c.Write32(reg+1, uint32(val>>32))
	c.Write32(reg, uint32(val))
}

// Version returns the I/O APIC version.
func (c *Controller) Version() uint8 {
	return uint8(c.Read32(RegVersion))
}

// RedirectionEntries returns the number of lines supported by the I/O APIC.
func (c *Controller) RedirectionEntries() int {
	return int((c.Read32(RegVersion)>>16)&0xff) + 1
}

// Redirection returns the redirection table entry for line.
func (c *Controller) Redirection(line uint8) uint64 {
	return c.Read64(RegRedirection + 2*line)
}

// SetRedirection replaces the redirection table entry for line.
func (c *Controller) SetRedirection(line uint8, val uint64) {
	c.Write64(RegRedirection+2*line, val)
}

// MaskLine prevents line from raising interrupts.
func (c *Controller) MaskLine(line uint8) {
	c.SetRedirection(line, c.Redirection(line)|RedirectionMasked)
}

// UnmaskLine allows line to raise interrupts.
func (c *Controller) UnmaskLine(line uint8) {
	c.SetRedirection(line, c.Redirection(line)&^RedirectionMasked)
}

// Set is the group of I/O APICs of the system. Their register windows are
// mapped at consecutive virtual pages.
type Set struct {
	entries    []mptable.IOAPICEntry
	below      uintptr
	destAPICID uint8

	controllers [MaxControllers]Controller
	count       int
}

// Init maps the register windows of the I/O APICs described by entries to
// the pages right below address below and routes the legacy ISA lines of the
// first I/O APIC to the local APIC with ID destAPICID. All other lines are
// masked. Any failure causes a kernel panic.
func Init(entries []mptable.IOAPICEntry, below uintptr, destAPICID uint8) *Set {
	ioapics = Set{entries: entries, below: below, destAPICID: destAPICID}
	device.Init(&ioapics)
	return &ioapics
}

// DriverName returns the name of this driver.
func (*Set) DriverName() string {
	return "ioapic"
}

// DriverVersion returns the version of this driver.
func (*Set) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit maps and programs the I/O APICs.
func (s *Set) DriverInit(w io.Writer) *kernel.Error {
	switch {
	case len(s.entries) == 0:
		return errNoIOAPIC
	case len(s.entries) > MaxControllers:
		return errTooManyIOAPICs
	}

	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].Address <= s.entries[i-1].Address || s.entries[i].Address-s.entries[i-1].Address != WindowSize {
			return errNonContiguousIOAPICs
		}
	}

	virtAddr := s.below - uintptr(len(s.entries))*WindowSize
	for i := range s.entries {
		physAddr := uintptr(s.entries[i].Address)
		if err := mapFn(virtAddr, physAddr); err != nil {
			return err
		}

		c := &s.controllers[i]
		*c = Controller{id: s.entries[i].ID, physBase: physAddr, regs: virtAddr}
		s.count++
		kfmt.Fprintf(w, "id %d at 0x%x mapped to 0x%16x, version 0x%x, %d redirection entries\n",
			c.id, c.physBase, c.regs, c.Version(), c.RedirectionEntries(),
		)

		virtAddr += WindowSize
	}

	c := &s.controllers[0]
	if c.RedirectionEntries() < minRedirectionEntries {
		return errTooFewRedirectionEntries
	}

	dest := uint64(s.destAPICID) << destShift
	for line := uint8(0); line < minRedirectionEntries; line++ {
		route := RedirectionMasked
		if line < legacyLines {
			route = legacyRoutes[line]
		}

		if route&RedirectionMasked == 0 {
			route |= dest
		}

		c.SetRedirection(line, route)
	}

	kfmt.Fprintf(w, "routed ISA lines to local APIC %d\n", s.destAPICID)
	return nil
}

// Len returns the number of I/O APICs.
func (s *Set) Len() int {
	return s.count
}

// Controller returns the I/O APIC at index i.
func (s *Set) Controller(i int) *Controller {
	return &s.controllers[i]
}
