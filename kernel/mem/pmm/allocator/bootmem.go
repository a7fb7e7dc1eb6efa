// Package allocator provides the physical frame allocator used while the
// kernel boots.
package allocator

import (
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem"
	"lumenos/kernel/mem/mmap"
	"lumenos/kernel/mem/pmm"
)

// freeStackSize is the number of freed frames of each size that the boot
// allocator can keep for reuse.
const freeStackSize = 64

var (
	// earlyAllocator is a boot mem allocator instance used for page
	// allocations before switching to a more advanced allocator.
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory", Kind: kernel.KindResourceExhausted}
)

// frameStack is a fixed-capacity LIFO of frames.
type frameStack struct {
	frames [freeStackSize]pmm.Frame
	count  int
}

func (s *frameStack) push(f pmm.Frame) bool {
	if s.count == freeStackSize {
		return false
	}
	s.frames[s.count] = f
	s.count++
	return true
}

func (s *frameStack) pop() (pmm.Frame, bool) {
	if s.count == 0 {
		return pmm.InvalidFrame, false
	}
	s.count--
	return s.frames[s.count], true
}

// bootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator hands out frames from the regions of a sanitized memory map,
// keeping a bump cursor per region. Large frames are naturally aligned; the
// small frames skipped while aligning them are kept on the small frame stack.
// Freed frames are pushed to a per-size stack and handed out first. Once a
// stack fills up, further freed frames of that size are leaked until a more
// advanced allocator takes over.
type bootMemAllocator struct {
	memMap *mmap.Map

	// cursors tracks the next unallocated address for each region.
	cursors [mmap.MaxRegions]uint64

	// free holds freed frames per frame size.
	free [2]frameStack

	// allocCount tracks the number of allocated frames per size.
	allocCount [2]uint64

	// leakedCount tracks the number of 4K frames that could not be
	// kept for reuse.
	leakedCount uint64
}

// init sets up the boot memory allocator internal state. The memory map
// must not be modified while the allocator is in use.
func (alloc *bootMemAllocator) init(m *mmap.Map) {
	*alloc = bootMemAllocator{memMap: m}
}

// AllocFrame reserves the next available frame of the requested size
// returning an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame(size pmm.FrameSize) (pmm.Frame, *kernel.Error) {
	if frame, ok := alloc.free[size].pop(); ok {
		alloc.allocCount[size]++
		return frame, nil
	}

	var (
		frameBytes = uint64(size.Bytes())
		pageBytes  = uint64(mem.PageSize)
	)

	for i, region := range alloc.memMap.Regions() {
		next := alloc.cursors[i]
		if next < region.Base {
			next = region.Base
		}

		start := mem.AlignUp(next, size.Bytes())
		if start < next || start+frameBytes > region.End() {
			continue
		}

		// Keep the pages skipped due to alignment
		for gap := mem.AlignUp(next, mem.PageSize); gap+pageBytes <= start; gap += pageBytes {
			if !alloc.free[pmm.Size4K].push(pmm.FrameFromAddress(uintptr(gap))) {
				alloc.leakedCount++
			}
		}

		alloc.cursors[i] = start + frameBytes
		alloc.allocCount[size]++
		return pmm.FrameFromAddress(uintptr(start)), nil
	}

	return pmm.InvalidFrame, errBootAllocOutOfMemory
}

// FreeFrame returns frame to the allocator.
func (alloc *bootMemAllocator) FreeFrame(frame pmm.Frame, size pmm.FrameSize) {
	if !alloc.free[size].push(frame) {
		alloc.leakedCount += uint64(size.Bytes() / mem.PageSize)
	}
}

// printStats outputs the allocator state to the console.
func (alloc *bootMemAllocator) printStats() {
	kfmt.Printf("[boot_mem_alloc] managing %d regions, available memory: %dKb\n",
		alloc.memMap.Len(), uint64(alloc.memMap.TotalSize()/mem.Kb),
	)
	kfmt.Printf("[boot_mem_alloc] allocated frames: 4K: %d, 2M: %d, leaked 4K frames: %d\n",
		alloc.allocCount[pmm.Size4K], alloc.allocCount[pmm.Size2M], alloc.leakedCount,
	)
}

// Init sets up the boot memory allocator on top of the sanitized memory map
// and registers it as the active pmm allocator.
func Init(m *mmap.Map) {
	earlyAllocator.init(m)
	earlyAllocator.printStats()
	pmm.SetAllocator(&earlyAllocator)
}
