// Package vmm manages the 4-level amd64 page table hierarchy.
package vmm

import (
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem"
	"lumenos/kernel/mem/pmm"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// allocFrameFn and freeFrameFn are used by tests and are automatically
	// inlined by the compiler.
	allocFrameFn = pmm.AllocFrame
	freeFrameFn  = pmm.FreeFrame

	errAlreadyMapped    = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped", Kind: kernel.KindInvariantViolation}
	errUnalignedAddress = &kernel.Error{Module: "vmm", Message: "address is not aligned to the requested page size", Kind: kernel.KindInvariantViolation}
)

// frameAllocFn allocates the frames backing new page tables.
type frameAllocFn func(pmm.FrameSize) (pmm.Frame, *kernel.Error)

// PageDirectoryTable is a reference to the top-most (PML4) table of a page
// table hierarchy.
type PageDirectoryTable struct {
	pdtFrame pmm.Frame
}

// NewPageDirectoryTable returns a reference to the hierarchy whose top-most
// table is stored in pdtFrame.
func NewPageDirectoryTable(pdtFrame pmm.Frame) PageDirectoryTable {
	return PageDirectoryTable{pdtFrame: pdtFrame}
}

// KernelPDT returns a reference to the currently active hierarchy which,
// during boot, is the kernel address space.
func KernelPDT() PageDirectoryTable {
	return PageDirectoryTable{pdtFrame: pmm.FrameFromAddress(activePDTFn())}
}

// Frame returns the physical frame that stores the top-most table.
func (pdt PageDirectoryTable) Frame() pmm.Frame {
	return pdt.pdtFrame
}

// leafLevel returns the level that holds the leaf entry for a page of the
// given size.
func leafLevel(size pmm.FrameSize) level {
	if size == pmm.Size2M {
		return levelPD
	}
	return levelPT
}

// Map establishes a mapping between the virtual page at vaddr and the
// physical frame at paddr. Both addresses must be aligned to size. Missing
// intermediate tables are allocated from the pmm allocator and cleared; an
// allocation failure is returned to the caller. Only the flags in
// mappingFlagMask are honored.
//
// Mapping an address that is already mapped is a programming error that
// causes a kernel panic. A 2M mapping may replace a page table that has no
// present entries; that table is detached and leaked.
func (pdt PageDirectoryTable) Map(vaddr, paddr uintptr, flags PageTableEntryFlag, size pmm.FrameSize) *kernel.Error {
	return pdt.mapWith(vaddr, paddr, flags, size, allocFrameFn)
}

func (pdt PageDirectoryTable) mapWith(vaddr, paddr uintptr, flags PageTableEntryFlag, size pmm.FrameSize, allocFn frameAllocFn) *kernel.Error {
	if mask := uintptr(size.Bytes() - 1); vaddr&mask != 0 || paddr&mask != 0 {
		return errUnalignedAddress
	}

	var (
		err       *kernel.Error
		target    = leafLevel(size)
		leafFlags = (flags & mappingFlagMask) | FlagPresent
		// intermediate tables must not restrict the access rights of
		// the pages below them
		tableFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	if size == pmm.Size2M {
		leafFlags |= FlagHugePage
	}

	walk(pdt.pdtFrame, vaddr, func(lvl level, pte *pageTableEntry) bool {
		if lvl == target {
			if pte.HasFlags(FlagPresent) && (pte.isLeaf(lvl) || !tableAt(pte.Frame()).isEmpty()) {
				panic(errAlreadyMapped)
			}

			*pte = 0
			pte.SetFrame(pmm.FrameFromAddress(paddr))
			pte.SetFlags(leafFlags)
			flushTLBEntryFn(vaddr)
			return false
		}

		if pte.HasFlags(FlagPresent) {
			if pte.isLeaf(lvl) {
				panic(errAlreadyMapped)
			}
			pte.SetFlags(tableFlags)
			return true
		}

		// Next table does not yet exist; allocate a physical frame for
		// it and make sure that it is properly cleared
		var tableFrame pmm.Frame
		if tableFrame, err = allocFn(pmm.Size4K); err != nil {
			return false
		}

		mem.Memset(tableAddrFn(tableFrame.Address()), 0, mem.PageSize)
		*pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(tableFlags)
		return true
	})

	return err
}

// MapAuto maps the virtual page at vaddr to a frame obtained from the pmm
// allocator. Any failure causes a kernel panic.
func (pdt PageDirectoryTable) MapAuto(vaddr uintptr, flags PageTableEntryFlag, size pmm.FrameSize) {
	frame, err := allocFrameFn(size)
	if err != nil {
		panic(err)
	}

	if err = pdt.Map(vaddr, frame.Address(), flags, size); err != nil {
		panic(err)
	}
}

// MapRange maps count contiguous pages of the given size starting at vaddr
// to the physical range starting at paddr. It stops at the first page that
// cannot be mapped and returns the error. Pages mapped before the failure
// remain mapped.
func (pdt PageDirectoryTable) MapRange(vaddr, paddr uintptr, flags PageTableEntryFlag, size pmm.FrameSize, count uintptr) *kernel.Error {
	return pdt.mapRangeWith(vaddr, paddr, flags, size, count, allocFrameFn)
}

func (pdt PageDirectoryTable) mapRangeWith(vaddr, paddr uintptr, flags PageTableEntryFlag, size pmm.FrameSize, count uintptr, allocFn frameAllocFn) *kernel.Error {
	step := uintptr(size.Bytes())
	for ; count > 0; count, vaddr, paddr = count-1, vaddr+step, paddr+step {
		if err := pdt.mapWith(vaddr, paddr, flags, size, allocFn); err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes the mapping for the page containing vaddr and returns true
// if a mapping was present. Neither the backing frame nor any page table
// that becomes empty is released.
func (pdt PageDirectoryTable) Unmap(vaddr uintptr) bool {
	_, _, ok := pdt.unmap(vaddr)
	return ok
}

// UnmapAuto removes the mapping for the page containing vaddr and returns
// its backing frame to the pmm allocator. It is a no-op if vaddr is not
// mapped. The pmm allocator has no 1G frame size so the frames of 1G pages
// are only logged.
func (pdt PageDirectoryTable) UnmapAuto(vaddr uintptr) {
	frame, lvl, ok := pdt.unmap(vaddr)
	if !ok {
		return
	}

	switch lvl {
	case levelPT:
		freeFrameFn(frame, pmm.Size4K)
	case levelPD:
		freeFrameFn(frame, pmm.Size2M)
	default:
		kfmt.Printf("[vmm] unmapped 1G page at 0x%x; frame 0x%x not returned to the allocator\n", vaddr, frame.Address())
	}
}

// unmap clears the leaf entry for vaddr and returns the frame it pointed to
// and the level it was found at.
func (pdt PageDirectoryTable) unmap(vaddr uintptr) (pmm.Frame, level, bool) {
	var (
		frame   = pmm.InvalidFrame
		leafLvl level
		found   bool
	)

	walk(pdt.pdtFrame, vaddr, func(lvl level, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if !pte.isLeaf(lvl) {
			return true
		}

		frame, leafLvl, found = pte.Frame(), lvl, true
		*pte = 0
		flushTLBEntryFn(vaddr)
		return false
	})

	return frame, leafLvl, found
}
