package vmm

// Translate returns the physical address that corresponds to vaddr and true,
// or false if vaddr is not mapped. It never modifies the page tables.
func (pdt PageDirectoryTable) Translate(vaddr uintptr) (uintptr, bool) {
	var (
		physAddr uintptr
		mapped   bool
	)

	walk(pdt.pdtFrame, vaddr, func(lvl level, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if !pte.isLeaf(lvl) {
			return true
		}

		// Large pages keep their frame address in the upper bits of the
		// physical address field; the offset covers the rest
		offsetMask := lvl.span() - 1
		physAddr = (uintptr(*pte) & ptePhysPageMask &^ offsetMask) + (vaddr & offsetMask)
		mapped = true
		return false
	})

	return physAddr, mapped
}

// PageOffset returns the offset within the 4K page specified by a virtual
// address.
func PageOffset(vaddr uintptr) uintptr {
	return vaddr & (levelPT.span() - 1)
}
