package vmm

import (
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem"
	"lumenos/kernel/mem/mmap"
	"lumenos/kernel/mem/pmm"
)

var (
	bootstrapped bool

	errBootstrapTwice     = &kernel.Error{Module: "vmm", Message: "identity map has already been bootstrapped", Kind: kernel.KindInvariantViolation}
	errCarveOutOfSpace    = &kernel.Error{Module: "vmm", Message: "not enough memory after the kernel image for the identity map tables", Kind: kernel.KindResourceExhausted}
	errCarveNotIdentified = &kernel.Error{Module: "vmm", Message: "identity map tables would be carved outside the early identity mapping", Kind: kernel.KindInvariantViolation}
)

// carveAllocator hands out consecutive 4K frames from a fixed span.
type carveAllocator struct {
	next, end uint64
}

func (c *carveAllocator) alloc(_ pmm.FrameSize) (pmm.Frame, *kernel.Error) {
	if c.next+uint64(mem.PageSize) > c.end {
		return pmm.InvalidFrame, errCarveOutOfSpace
	}

	frame := pmm.FrameFromAddress(uintptr(c.next))
	c.next += uint64(mem.PageSize)
	return frame, nil
}

// BootstrapIdentityMap extends the identity mapping set up by the boot stage
// so that it covers all memory reported by m, using 2M pages.
//
// The frame allocator is not available yet so any page tables required for
// the new mappings are carved from the memory immediately following the
// kernel image, which is the lowest address in m. The carved span is then
// removed from m. If m covers less than the early 1G mapping, the 2M pages
// past the end of memory are unmapped instead.
//
// BootstrapIdentityMap must be called exactly once, before the frame
// allocator is initialized. All failures cause a kernel panic.
func BootstrapIdentityMap(m *mmap.Map) {
	if bootstrapped {
		panic(errBootstrapTwice)
	}
	bootstrapped = true

	var (
		pdt = KernelPDT()
		top = mem.AlignUp(m.Highest(), mem.HugePageSize)
	)

	if top <= earlyIdentityMapSize {
		var unmapped int
		for addr := top; addr < earlyIdentityMapSize; addr += uint64(mem.HugePageSize) {
			if pdt.Unmap(uintptr(addr)) {
				unmapped++
			}
		}

		kfmt.Printf("[vmm] memory ends at 0x%x; removed %d identity mapped 2M pages\n", top, unmapped)
		return
	}

	tableCount := pdt.missingTables(earlyIdentityMapSize, top)
	carve := carveAllocator{next: mem.AlignUp(m.Lowest(), mem.PageSize)}
	carve.end = carve.next + tableCount*uint64(mem.PageSize)

	switch {
	case carve.end > earlyIdentityMapSize:
		panic(errCarveNotIdentified)
	case !spanInMap(m, carve.next, carve.end):
		panic(errCarveOutOfSpace)
	}

	if err := m.Reserve(carve.next, carve.end); err != nil {
		panic(err)
	}

	pageCount := uintptr((top - earlyIdentityMapSize) / uint64(mem.HugePageSize))
	if err := pdt.mapRangeWith(uintptr(earlyIdentityMapSize), uintptr(earlyIdentityMapSize), FlagRW, pmm.Size2M, pageCount, carve.alloc); err != nil {
		panic(err)
	}

	kfmt.Printf("[vmm] identity mapped [0x%x - 0x%x) using %d tables carved at 0x%x\n",
		earlyIdentityMapSize, top, tableCount, carve.end-tableCount*uint64(mem.PageSize),
	)
}

// missingTables returns the number of PDPT and PD tables that must be
// created to map [from, to) with 2M pages.
func (pdt PageDirectoryTable) missingTables(from, to uint64) uint64 {
	var (
		count    uint64
		pml4     = tableAt(pdt.pdtFrame)
		gb       = uint64(levelPDPT.span())
		pml4Span = uint64(levelPML4.span())
	)

	for addr := mem.AlignDown(from, mem.Size(gb)); addr < to; {
		next := mem.AlignDown(addr, mem.Size(pml4Span)) + pml4Span
		if next > to {
			next = to
		}

		pml4e := pml4[levelPML4.index(uintptr(addr))]
		if !pml4e.HasFlags(FlagPresent) {
			// one PDPT plus one PD per 1G slot
			count += 1 + (next-addr+gb-1)/gb
			addr = next
			continue
		}

		pdpt := tableAt(pml4e.Frame())
		for ; addr < next; addr += gb {
			if !pdpt[levelPDPT.index(uintptr(addr))].HasFlags(FlagPresent) {
				count++
			}
		}
	}

	return count
}

// spanInMap returns true if [lo, hi) lies within a single region of m.
func spanInMap(m *mmap.Map, lo, hi uint64) bool {
	for _, r := range m.Regions() {
		if lo >= r.Base && hi <= r.End() {
			return true
		}
	}
	return false
}
