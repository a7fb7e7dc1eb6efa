package vmm

import (
	"lumenos/kernel/mem/pmm"
	"unsafe"
)

var (
	// tableAddrFn translates the physical address of a page table to an
	// address the kernel can dereference. Page tables always live in the
	// identity-mapped part of physical memory so the kernel version is a
	// no-op that gets inlined by the compiler. Tests point it to Go buffers.
	tableAddrFn = func(physAddr uintptr) uintptr {
		return physAddr
	}
)

// pageTable is a single table at any level of the hierarchy.
type pageTable [entriesPerTable]pageTableEntry

// tableAt returns the page table stored in frame. All page table accesses go
// through this function.
func tableAt(frame pmm.Frame) *pageTable {
	return (*pageTable)(unsafe.Pointer(tableAddrFn(frame.Address())))
}

// isEmpty returns true if no entry of the table is present.
func (t *pageTable) isEmpty() bool {
	for _, pte := range t {
		if pte.HasFlags(FlagPresent) {
			return false
		}
	}
	return true
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(lvl level, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the top-level table stored in root. It calls walkFn with the entry that
// corresponds to each level. The walk descends into the table pointed to by
// the visited entry, so walkFn must only return true for non-leaf entries
// that are present.
func walk(root pmm.Frame, vaddr uintptr, walkFn pageTableWalker) {
	table := tableAt(root)
	for lvl := levelPML4; lvl < pageLevels; lvl++ {
		pte := &table[lvl.index(vaddr)]
		if !walkFn(lvl, pte) || lvl == levelPT {
			return
		}

		table = tableAt(pte.Frame())
	}
}
