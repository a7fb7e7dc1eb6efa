package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a page table at any level.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// earlyIdentityMapSize is the size of the identity mapping set up by
	// the boot stage before the kernel gains control.
	earlyIdentityMapSize = uint64(1 << 30)
)

// level identifies a tier of the page table hierarchy.
type level uint8

const (
	levelPML4 level = iota
	levelPDPT
	levelPD
	levelPT
)

var (
	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

// index returns the entry index selected by vaddr at this level.
func (l level) index(vaddr uintptr) uintptr {
	return (vaddr >> pageLevelShifts[l]) & (entriesPerTable - 1)
}

// span returns the number of bytes mapped by a single entry at this level.
func (l level) span() uintptr {
	return uintptr(1) << pageLevelShifts[l]
}

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when a page directory entry maps a 2M page
	// instead of pointing to a page table.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// mappingFlagMask selects the flags that callers may request for a mapping.
// The remaining bits are either owned by the CPU or managed by this package.
const mappingFlagMask = FlagRW | FlagUserAccessible | FlagWriteThroughCaching | FlagDoNotCache | FlagNoExecute

// FlagsMMIO is the flag set used for memory-mapped device registers.
const FlagsMMIO = FlagRW | FlagWriteThroughCaching | FlagDoNotCache
