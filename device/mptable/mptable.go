// Package mptable locates the MP floating pointer provided by the firmware
// and indexes the records of the MP configuration table that describe the
// processors, buses and interrupt routing of the system.
package mptable

import (
	"io"
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"unsafe"
)

// PhysMapper returns an address through which the size bytes of physical
// memory starting at physAddr can be accessed.
type PhysMapper func(physAddr, size uintptr) (uintptr, *kernel.Error)

var (
	// physMapFn is used to access firmware memory. The BIOS areas and the
	// configuration table live in the identity mapped part of the
	// address space so the kernel uses a no-op mapper.
	physMapFn PhysMapper = identityMap

	// The EBDA segment and the base memory size (in KiB) are stored in
	// the BIOS data area.
	ebdaSegmentAddr uintptr = 0x40e
	baseMemSizeAddr uintptr = 0x413
	ebdaScanSize    uintptr = 1024

	// The floating pointer may also be located in the BIOS ROM.
	biosROMLo uintptr = 0xe0000
	biosROMHi uintptr = 0x100000

	floatingPointerSignature = [4]byte{'_', 'M', 'P', '_'}
	configTableSignature     = [4]byte{'P', 'C', 'M', 'P'}

	sizeofFloatingPointer = unsafe.Sizeof(FloatingPointer{})
	sizeofConfigTable     = unsafe.Sizeof(ConfigTable{})

	entrySizes = [numEntryTypes]uintptr{
		TypeProcessor:      unsafe.Sizeof(ProcessorEntry{}),
		TypeBus:            unsafe.Sizeof(BusEntry{}),
		TypeIOAPIC:         unsafe.Sizeof(IOAPICEntry{}),
		TypeIOInterrupt:    unsafe.Sizeof(IOInterruptEntry{}),
		TypeLocalInterrupt: unsafe.Sizeof(LocalInterruptEntry{}),
	}

	errNotFound            = &kernel.Error{Module: "mptable", Message: "could not locate MP floating pointer", Kind: kernel.KindHardwareAbsent}
	errNoConfigTable       = &kernel.Error{Module: "mptable", Message: "MP default configurations are not supported", Kind: kernel.KindHardwareAbsent}
	errBadConfigSignature  = &kernel.Error{Module: "mptable", Message: "MP configuration table signature mismatch", Kind: kernel.KindMalformedFirmwareData}
	errConfigTableChecksum = &kernel.Error{Module: "mptable", Message: "detected checksum mismatch while parsing MP configuration table", Kind: kernel.KindMalformedFirmwareData}
	errTruncatedTable      = &kernel.Error{Module: "mptable", Message: "MP configuration table records exceed the table length", Kind: kernel.KindMalformedFirmwareData}
	errUnknownEntryType    = &kernel.Error{Module: "mptable", Message: "unknown MP configuration table record type", Kind: kernel.KindMalformedFirmwareData}
	errEntriesNotGrouped   = &kernel.Error{Module: "mptable", Message: "MP configuration table records are not grouped by type", Kind: kernel.KindMalformedFirmwareData}

	topology Topology
)

func identityMap(physAddr, _ uintptr) (uintptr, *kernel.Error) {
	return physAddr, nil
}

// SetPhysMapper overrides the function used to access firmware memory.
// Passing nil restores the identity mapper.
func SetPhysMapper(fn PhysMapper) {
	if fn == nil {
		fn = identityMap
	}
	physMapFn = fn
}

// Topology provides access to the records of the MP configuration table.
// Records are not copied; each accessor returns a view over firmware memory.
type Topology struct {
	floatingPointer *FloatingPointer
	configTable     *ConfigTable

	processors      []ProcessorEntry
	buses           []BusEntry
	ioAPICs         []IOAPICEntry
	ioInterrupts    []IOInterruptEntry
	localInterrupts []LocalInterruptEntry

	// recordBytes is the number of bytes consumed while walking the
	// records that follow the table header.
	recordBytes uintptr
}

// Find scans the BIOS memory areas for the MP floating pointer and indexes
// the records of the configuration table it points to. Areas are scanned in
// the following order, and the first match is used:
//   - the first KiB of the extended BIOS data area (EBDA).
//   - the BIOS ROM between 0xe0000 and 0xfffff.
//
// Find returns an error if no floating pointer is found or if the
// configuration table is missing or fails validation. Malformed table
// records cause a kernel panic as their length cannot be determined.
// Records must be grouped by type, as tables sorted by entry type are; a
// table that interleaves record types also causes a kernel panic.
func Find() (*Topology, *kernel.Error) {
	fp, err := findFloatingPointer()
	if err != nil {
		return nil, err
	}

	if fp.ConfigTableAddr == 0 {
		return nil, errNoConfigTable
	}

	topology = Topology{floatingPointer: fp}
	if err = topology.parse(uintptr(fp.ConfigTableAddr)); err != nil {
		return nil, err
	}

	return &topology, nil
}

// findFloatingPointer returns a pointer to the first valid floating pointer
// structure found in the BIOS memory areas.
func findFloatingPointer() (*FloatingPointer, *kernel.Error) {
	bdaAddr, err := physMapFn(ebdaSegmentAddr, 2)
	if err != nil {
		return nil, err
	}

	if ebdaSegment := *(*uint16)(unsafe.Pointer(bdaAddr)); ebdaSegment != 0 {
		ebdaAddr := uintptr(ebdaSegment) << 4
		kfmt.Printf("[mptable] scanning EBDA at 0x%x\n", ebdaAddr)

		fp, err := scan(ebdaAddr, ebdaScanSize)
		if fp != nil || err != nil {
			return fp, err
		}
	} else {
		// Without an EBDA the floating pointer may be located in the
		// last KiB of base memory; this is not supported.
		baseMemAddr, err := physMapFn(baseMemSizeAddr, 2)
		if err != nil {
			return nil, err
		}
		kfmt.Printf("[mptable] no EBDA; base memory size: %dK\n", *(*uint16)(unsafe.Pointer(baseMemAddr)))
	}

	fp, err := scan(biosROMLo, biosROMHi-biosROMLo)
	if fp == nil && err == nil {
		err = errNotFound
	}

	return fp, err
}

// scan looks for a valid floating pointer structure in the size bytes of
// physical memory starting at physAddr. The structure is always aligned to a
// 4-byte boundary. Candidates with an invalid checksum are skipped.
func scan(physAddr, size uintptr) (*FloatingPointer, *kernel.Error) {
	regionAddr, err := physMapFn(physAddr, size)
	if err != nil {
		return nil, err
	}

	for offset := uintptr(0); offset+sizeofFloatingPointer <= size; offset += 4 {
		fp := (*FloatingPointer)(unsafe.Pointer(regionAddr + offset))
		if fp.Signature != floatingPointerSignature {
			continue
		}

		if checksum(regionAddr+offset, sizeofFloatingPointer) != 0 {
			kfmt.Printf("[mptable] ignoring floating pointer at 0x%x: checksum mismatch\n", physAddr+offset)
			continue
		}

		return fp, nil
	}

	return nil, nil
}

// parse validates the configuration table at physical address tableAddr and
// indexes its records by type.
func (t *Topology) parse(tableAddr uintptr) *kernel.Error {
	headerAddr, err := physMapFn(tableAddr, sizeofConfigTable)
	if err != nil {
		return err
	}

	header := (*ConfigTable)(unsafe.Pointer(headerAddr))
	switch {
	case header.Signature != configTableSignature:
		return errBadConfigSignature
	case uintptr(header.BaseLength) < sizeofConfigTable:
		return errTruncatedTable
	}

	// Expand mapping to cover the records
	if headerAddr, err = physMapFn(tableAddr, uintptr(header.BaseLength)); err != nil {
		return err
	}

	t.configTable = (*ConfigTable)(unsafe.Pointer(headerAddr))
	if checksum(headerAddr, uintptr(t.configTable.BaseLength)) != 0 {
		return errConfigTableChecksum
	}

	var (
		first    [numEntryTypes]uintptr
		count    [numEntryTypes]int
		lastType = numEntryTypes
		start    = headerAddr + sizeofConfigTable
		end      = headerAddr + uintptr(t.configTable.BaseLength)
		cursor   = start
	)

	for i := 0; i < int(t.configTable.EntryCount); i++ {
		if cursor >= end {
			panic(errTruncatedTable)
		}

		entryType := *(*EntryType)(unsafe.Pointer(cursor))
		if entryType >= numEntryTypes {
			panic(errUnknownEntryType)
		}

		if cursor+entrySizes[entryType] > end {
			panic(errTruncatedTable)
		}

		// Each record type is tracked as a single run of records
		if entryType != lastType {
			if count[entryType] != 0 {
				panic(errEntriesNotGrouped)
			}
			first[entryType] = cursor
			lastType = entryType
		}

		count[entryType]++
		cursor += entrySizes[entryType]
	}

	t.recordBytes = cursor - start
	t.processors = unsafe.Slice((*ProcessorEntry)(unsafe.Pointer(first[TypeProcessor])), count[TypeProcessor])
	t.buses = unsafe.Slice((*BusEntry)(unsafe.Pointer(first[TypeBus])), count[TypeBus])
	t.ioAPICs = unsafe.Slice((*IOAPICEntry)(unsafe.Pointer(first[TypeIOAPIC])), count[TypeIOAPIC])
	t.ioInterrupts = unsafe.Slice((*IOInterruptEntry)(unsafe.Pointer(first[TypeIOInterrupt])), count[TypeIOInterrupt])
	t.localInterrupts = unsafe.Slice((*LocalInterruptEntry)(unsafe.Pointer(first[TypeLocalInterrupt])), count[TypeLocalInterrupt])

	return nil
}

// checksum returns the sum of length bytes starting at addr.
func checksum(addr, length uintptr) uint8 {
	var sum uint8
	for i := uintptr(0); i < length; i++ {
		sum += *(*uint8)(unsafe.Pointer(addr + i))
	}
	return sum
}

// FloatingPointer returns the floating pointer structure that was used to
// locate the configuration table.
func (t *Topology) FloatingPointer() *FloatingPointer { return t.floatingPointer }

// ConfigTable returns the configuration table header.
func (t *Topology) ConfigTable() *ConfigTable { return t.configTable }

// Processors returns the processor records.
func (t *Topology) Processors() []ProcessorEntry { return t.processors }

// Buses returns the bus records.
func (t *Topology) Buses() []BusEntry { return t.buses }

// IOAPICs returns the I/O APIC records.
func (t *Topology) IOAPICs() []IOAPICEntry { return t.ioAPICs }

// IOInterrupts returns the I/O interrupt assignment records.
func (t *Topology) IOInterrupts() []IOInterruptEntry { return t.ioInterrupts }

// LocalInterrupts returns the local interrupt assignment records.
func (t *Topology) LocalInterrupts() []LocalInterruptEntry { return t.localInterrupts }

// LocalAPICAddress returns the physical address of the local APIC registers
// as reported by the configuration table.
func (t *Topology) LocalAPICAddress() uintptr {
	return uintptr(t.configTable.LocalAPICAddr)
}

// BootProcessor returns the record of the bootstrap processor.
func (t *Topology) BootProcessor() (*ProcessorEntry, bool) {
	for i := range t.processors {
		if t.processors[i].Flags&ProcessorBSP != 0 {
			return &t.processors[i], true
		}
	}
	return nil, false
}

// Count returns the total number of indexed records.
func (t *Topology) Count() int {
	return len(t.processors) + len(t.buses) + len(t.ioAPICs) + len(t.ioInterrupts) + len(t.localInterrupts)
}

// Print outputs a summary of the topology to w.
func (t *Topology) Print(w io.Writer) {
	kfmt.Fprintf(w, "[mptable] %s %s: %d processors, %d buses, %d I/O APICs, %d I/O interrupts, %d local interrupts\n",
		t.configTable.OEMID[:], t.configTable.ProductID[:],
		len(t.processors), len(t.buses), len(t.ioAPICs), len(t.ioInterrupts), len(t.localInterrupts),
	)

	for i := range t.processors {
		p := &t.processors[i]
		kfmt.Fprintf(w, "[mptable] cpu: local APIC id %d, version 0x%x, enabled: %t, bsp: %t\n",
			p.LocalAPICID, p.LocalAPICVersion, p.Flags&ProcessorEnabled != 0, p.Flags&ProcessorBSP != 0,
		)
	}

	for i := range t.buses {
		kfmt.Fprintf(w, "[mptable] bus %d: %s\n", t.buses[i].BusID, t.buses[i].BusType[:])
	}

	for i := range t.ioAPICs {
		a := &t.ioAPICs[i]
		kfmt.Fprintf(w, "[mptable] I/O APIC id %d at 0x%8x, version 0x%x, enabled: %t\n",
			a.ID, a.Address, a.Version, a.Flags&IOAPICEnabled != 0,
		)
	}
}
