package mptable

// FloatingPointer is the MP floating pointer structure that firmware places
// in one of the well-known BIOS memory areas.
type FloatingPointer struct {
	// Signature contains the string "_MP_".
	Signature [4]byte

	// ConfigTableAddr is the physical address of the configuration
	// table. It is zero if the system uses one of the MP default
	// configurations.
	ConfigTableAddr uint32

	// Length is the size of this structure in 16-byte units.
	Length   uint8
	Revision uint8

	// Checksum is chosen so that all bytes of the structure sum to zero.
	Checksum uint8

	Features [5]uint8
}

// ConfigTable is the header of the MP configuration table. It is followed by
// EntryCount records whose size depends on their type.
type ConfigTable struct {
	// Signature contains the string "PCMP".
	Signature [4]byte

	// BaseLength is the size of the header and the base table records.
	BaseLength uint16
	Revision   uint8

	// Checksum is chosen so that all BaseLength bytes sum to zero.
	Checksum uint8

	OEMID        [8]byte
	ProductID    [12]byte
	OEMTableAddr uint32
	OEMTableSize uint16
	EntryCount   uint16

	// LocalAPICAddr is the physical address at which each processor
	// accesses its local APIC.
	LocalAPICAddr uint32

	ExtTableLength   uint16
	ExtTableChecksum uint8
	_                uint8
}

// EntryType identifies the kind of a configuration table record. It is
// stored in the first byte of each record.
type EntryType uint8

// The supported configuration table record types.
const (
	TypeProcessor EntryType = iota
	TypeBus
	TypeIOAPIC
	TypeIOInterrupt
	TypeLocalInterrupt

	numEntryTypes
)

// String implements fmt.Stringer for EntryType.
func (t EntryType) String() string {
	switch t {
	case TypeProcessor:
		return "processor"
	case TypeBus:
		return "bus"
	case TypeIOAPIC:
		return "I/O APIC"
	case TypeIOInterrupt:
		return "I/O interrupt"
	case TypeLocalInterrupt:
		return "local interrupt"
	default:
		return "unknown"
	}
}

// Processor flag bits.
const (
	ProcessorEnabled = 1 << 0
	ProcessorBSP     = 1 << 1
)

// ProcessorEntry describes a processor and its local APIC.
type ProcessorEntry struct {
	Type             EntryType
	LocalAPICID      uint8
	LocalAPICVersion uint8
	Flags            uint8
	Signature        uint32
	FeatureFlags     uint32
	_                [2]uint32
}

// BusEntry describes a bus of the system.
type BusEntry struct {
	Type  EntryType
	BusID uint8

	// BusType is a space padded bus name such as "ISA   " or "PCI   ".
	BusType [6]byte
}

// IOAPICEnabled is set in IOAPICEntry.Flags when the I/O APIC is usable.
const IOAPICEnabled = 1 << 0

// IOAPICEntry describes an I/O APIC.
type IOAPICEntry struct {
	Type    EntryType
	ID      uint8
	Version uint8
	Flags   uint8

	// Address is the physical base address of the I/O APIC registers.
	Address uint32
}

// IOInterruptEntry describes how an interrupt source is connected to an I/O
// APIC input.
type IOInterruptEntry struct {
	Type          EntryType
	InterruptType uint8
	Flags         uint16
	SourceBusID   uint8
	SourceBusIRQ  uint8
	DestIOAPICID  uint8
	DestIOAPICPin uint8
}

// LocalInterruptEntry describes how an interrupt source is connected to a
// local APIC LINTIN pin.
type LocalInterruptEntry struct {
	Type             EntryType
	InterruptType    uint8
	Flags            uint16
	SourceBusID      uint8
	SourceBusIRQ     uint8
	DestLocalAPICID  uint8
	DestLocalAPICPin uint8
}
