// Package e820 provides access to the BIOS memory map that the boot sector
// collects via INT 0x15, EAX=0xE820 and stores at a fixed low-memory
// location before switching to long mode.
package e820

import "unsafe"

// Type defines the type of a memory map Entry.
type Type uint32

const (
	// Usable indicates that the memory region is available for use.
	Usable Type = iota + 1

	// Reserved indicates that the memory region is not available for use.
	Reserved

	// ACPIReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	ACPIReclaimable

	// ACPINVS indicates memory that must be preserved when hibernating.
	ACPINVS

	// BadMemory indicates a memory region that contains defective RAM.
	BadMemory

	// NotUsable indicates a memory region that the OS must not touch.
	NotUsable
)

// String implements fmt.Stringer for Type.
func (t Type) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case ACPIReclaimable:
		return "ACPI (reclaimable)"
	case ACPINVS:
		return "ACPI NVS"
	case BadMemory:
		return "bad memory"
	case NotUsable:
		return "not usable"
	default:
		return "unknown"
	}
}

// Entry describes a memory region as reported by the BIOS. The layout
// matches the 24-byte record returned by the E820 call.
type Entry struct {
	// The physical address for this memory region.
	Base uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type Type

	// ACPI 3.0 extended attributes.
	ACPI uint32
}

// End returns the first physical address past the region.
func (e *Entry) End() uint64 {
	return e.Base + e.Length
}

// Visitor defines a visitor function that gets invoked by VisitEntries for
// each memory map entry. The visitor must return true to continue or false
// to abort the scan.
type Visitor func(*Entry) bool

// Source is a function that feeds memory map entries to a Visitor.
// VisitEntries is the Source for the BIOS-provided map.
type Source func(Visitor)

const (
	// entrySize is the size of a raw memory map record.
	entrySize = 24

	// mapLimit is the address where the boot sector is loaded; the entry
	// array never extends past it.
	mapLimit = 0x7c00
)

var (
	// countAddr and entriesAddr point to the entry count and the entry
	// array written by the boot sector. Tests point them to Go buffers.
	countAddr   uintptr = 0x2d00
	entriesAddr uintptr = 0x2d04
)

// MaxEntries returns the maximum number of entries that fit between the
// entry array and the boot sector.
func MaxEntries() uint32 {
	return uint32((mapLimit - 0x2d04) / entrySize)
}

// VisitEntries invokes visitor for each memory map entry reported by the
// BIOS. Entries with an unknown type are reported as Reserved.
func VisitEntries(visitor Visitor) {
	count := *(*uint32)(unsafe.Pointer(countAddr))
	if max := MaxEntries(); count > max {
		count = max
	}

	var entry *Entry
	for i := uint32(0); i < count; i++ {
		entry = (*Entry)(unsafe.Pointer(entriesAddr + uintptr(i)*entrySize))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type > NotUsable {
			entry.Type = Reserved
		}

		if !visitor(entry) {
			return
		}
	}
}
